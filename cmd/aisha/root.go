package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/aisha-bot/aisha-backend/internal/config"
	"github.com/aisha-bot/aisha-backend/internal/http/handlers"
	"github.com/aisha-bot/aisha-backend/internal/observability"
	"github.com/aisha-bot/aisha-backend/internal/repo"
	"github.com/aisha-bot/aisha-backend/internal/sysutil"
)

const shutdownTimeout = 10 * time.Second

// app is the state shared by all subcommands once the root has loaded the
// configuration.
type app struct {
	cfg     config.Config
	version string
}

func newRootCmd(version string) *cobra.Command {
	a := &app{version: sysutil.FirstNonEmpty(version, "dev")}

	root := &cobra.Command{
		Use:           "aisha",
		Short:         "Aisha Telegram bot backend",
		Version:       a.version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return errors.Wrap(err, "load config")
			}
			a.cfg = cfg
			sysutil.SetupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogPretty, cmd.Name())
			gin.SetMode(cfg.GinMode)
			return nil
		},
	}
	root.AddCommand(
		newServeCmd(a),
		newWorkerCmd(a),
		newBotCmd(a),
		newMigrateCmd(a),
		newReconcileCmd(a),
	)
	return root
}

// tracing installs the tracer for component and returns its shutdown.
func (a *app) tracing(ctx context.Context, component string) (func(), error) {
	shutdown, err := observability.SetupOTel(ctx, a.cfg.OTEL, component, a.version)
	if err != nil {
		return nil, errors.Wrap(err, "setup tracing")
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}, nil
}

// openDB opens the configured database and returns a closer.
func (a *app) openDB() (*gorm.DB, func(), error) {
	db, err := repo.Open(a.cfg.DB.Driver, a.cfg.DB.DSN)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s database", a.cfg.DB.Driver)
	}
	return db, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}, nil
}

// dbCheck pings the database for GET /ready.
func dbCheck(db *gorm.DB) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

// newServer applies the configured timeouts to an http.Server on port.
func (a *app) newServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           h,
		ReadTimeout:       a.cfg.ReadTimeout,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}
}

// serveHTTP runs srv in g until ctx is done, then drains it.
func serveHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server) {
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", srv.Addr)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return errors.Wrap(err, "http shutdown")
		}
		log.Info().Str("addr", srv.Addr).Msg("http server stopped")
		return nil
	})
}
