// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and PostgreSQL, tracing, and schema migrations.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/aisha-bot/aisha-backend/internal/domain"
)

// Open connects to the configured driver ("sqlite" or "postgres"), tunes the
// pool, and installs the OpenTelemetry GORM plugin.
func Open(driver, dsn string) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(driver) {
	case "sqlite", "":
		db, err = OpenSQLite(dsn)
	case "postgres", "postgresql":
		db, err = OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("install gorm tracing: %w", err)
	}
	return db, nil
}

// sqlitePragmas run on every fresh SQLite connection. WAL plus busy_timeout
// lets the bot, serve and worker processes share one file on a dev box.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA foreign_keys=ON;",
	"PRAGMA busy_timeout=5000;",
}

// OpenSQLite opens (or creates) a SQLite database and applies sqlitePragmas.
// A missing parent directory fails fast instead of surfacing as the driver's
// opaque "out of memory (14)".
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, err
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("sqlite %s: %w", strings.TrimSuffix(p, ";"), err)
		}
	}
	tunePool(db, 10)
	return db, nil
}

// OpenPostgres connects with a libpq-style or URL DSN.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	tunePool(db, 25)
	return db, nil
}

// gormConfig translates driver errors so unique violations surface as
// gorm.ErrDuplicatedKey on both drivers.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}
}

func tunePool(db *gorm.DB, maxOpen int) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
}

// AutoMigrate creates or updates the users and jobs tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Job{},
	)
}
