// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database and Redis connectivity, session
// TTLs, Telegram delivery, event streaming and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Event delivery modes for the job-status webhook.
const (
	EventsModeInline = "inline"
	EventsModeStream = "stream"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "aisha-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the relational store holding users and jobs.
type DBConfig struct {
	Driver string // sqlite|postgres
	DSN    string // file path for sqlite, connection string for postgres
}

// RedisConfig holds connection parameters for the shared Redis instance.
// URL takes precedence over the discrete host/port fields when set.
type RedisConfig struct {
	URL       string
	Host      string
	Port      int
	DB        int
	Username  string
	Password  string
	PoolSize  int
	OpTimeout time.Duration // per-command deadline
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

// SessionConfig controls conversational state storage.
type SessionConfig struct {
	KeyPrefix     string
	StateTTL      time.Duration
	DataTTL       time.Duration
	AtomicUpdates bool // merge under WATCH/MULTI instead of plain read-modify-write
}

// TelegramConfig configures the outbound Bot API client.
type TelegramConfig struct {
	Token   string
	APIURL  string
	Timeout time.Duration
	BotID   int64 // namespace for session keys; derived from the token when zero
}

// EventsConfig configures the Redis Streams event transport.
type EventsConfig struct {
	Mode           string // inline|stream
	JobStatusTopic string
	AvatarTopic    string
	ConsumerGroup  string
	Consumer       string
}

// NotifierConfig bounds webhook processing and reconciliation.
type NotifierConfig struct {
	Timeout              time.Duration
	ReconcileGrace       time.Duration
	ReconcileBatch       int
	ReconcileLease       time.Duration // claim held by one worker per owed job
	ReconcileMaxAttempts int
	DefaultLocale        string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	OpsPort           string        // probes and metrics of the worker and bot processes
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS          CORSConfig
	Security      SecurityConfig
	WebhookSecret string // optional shared secret for the provider webhook

	// Backends
	DB       DBConfig
	Redis    RedisConfig
	Session  SessionConfig
	Telegram TelegramConfig
	Events   EventsConfig
	Notifier NotifierConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		OpsPort:           getenv("OPS_PORT", "9090"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		WebhookSecret: getenv("WEBHOOK_SECRET", ""),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DSN:    getenv("DB_DSN", "aisha.db"),
		},
		Redis: RedisConfig{
			URL:       getenv("REDIS_URL", ""),
			Host:      getenv("REDIS_HOST", "localhost"),
			Port:      getint("REDIS_PORT", 6379),
			DB:        getint("REDIS_DB", 0),
			Username:  getenv("REDIS_USERNAME", ""),
			Password:  getenv("REDIS_PASSWORD", ""),
			PoolSize:  getint("REDIS_POOL_SIZE", 20),
			OpTimeout: getdur("REDIS_OP_TIMEOUT", 2*time.Second),
		},
		Session: SessionConfig{
			KeyPrefix:     getenv("SESSION_KEY_PREFIX", "fsm"),
			StateTTL:      getdur("SESSION_STATE_TTL", 24*time.Hour),
			DataTTL:       getdur("SESSION_DATA_TTL", 24*time.Hour),
			AtomicUpdates: getbool("SESSION_ATOMIC_UPDATES", false),
		},
		Telegram: TelegramConfig{
			Token:   getenv("TELEGRAM_TOKEN", ""),
			APIURL:  getenv("TELEGRAM_API_URL", "https://api.telegram.org"),
			Timeout: getdur("TELEGRAM_TIMEOUT", 10*time.Second),
			BotID:   getint64("BOT_ID", 0),
		},
		Events: EventsConfig{
			Mode:           strings.ToLower(getenv("EVENTS_MODE", EventsModeInline)),
			JobStatusTopic: getenv("EVENTS_JOB_STATUS_TOPIC", "job-status"),
			AvatarTopic:    getenv("EVENTS_AVATAR_TOPIC", "avatar.requested"),
			ConsumerGroup:  getenv("EVENTS_CONSUMER_GROUP", "notifier"),
			Consumer:       getenv("EVENTS_CONSUMER", hostnameOr("notifier-1")),
		},
		Notifier: NotifierConfig{
			Timeout:              getdur("NOTIFIER_TIMEOUT", 15*time.Second),
			ReconcileGrace:       getdur("RECONCILE_GRACE", 5*time.Minute),
			ReconcileBatch:       getint("RECONCILE_BATCH", 100),
			ReconcileLease:       getdur("RECONCILE_LEASE", 2*time.Minute),
			ReconcileMaxAttempts: getint("RECONCILE_MAX_ATTEMPTS", 10),
			DefaultLocale:        strings.ToLower(getenv("DEFAULT_LOCALE", "ru")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "aisha-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if !oneOf(cfg.GinMode, "debug", "release", "test") {
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.Telegram.BotID == 0 {
		cfg.Telegram.BotID = botIDFromToken(cfg.Telegram.Token)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validate reports the first rule the config breaks, in declaration order.
func (c Config) validate() error {
	rules := []struct {
		bad bool
		msg string
	}{
		{!oneOf(c.LogLevel, "trace", "debug", "info", "warn", "error", "fatal", "panic"), "LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic"},
		{strings.TrimSpace(c.Port) == "", "PORT must not be empty"},
		{strings.TrimSpace(c.OpsPort) == "", "OPS_PORT must not be empty"},
		{c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0, "timeouts must be positive durations"},
		{c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{c.RateRPS < 0, "RATE_RPS must be >= 0"},
		{c.RateBurst < 1, "RATE_BURST must be >= 1"},
		{c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{!oneOf(c.DB.Driver, "sqlite", "postgres"), "DB_DRIVER must be one of: sqlite, postgres"},
		{strings.TrimSpace(c.DB.DSN) == "", "DB_DSN must not be empty"},
		{c.Redis.URL == "" && strings.TrimSpace(c.Redis.Host) == "", "REDIS_HOST must not be empty when REDIS_URL is unset"},
		{c.Redis.Port <= 0 || c.Redis.Port > 65535, "REDIS_PORT must be in 1..65535"},
		{c.Redis.DB < 0, "REDIS_DB must be >= 0"},
		{c.Redis.OpTimeout <= 0, "REDIS_OP_TIMEOUT must be > 0"},
		{c.Session.StateTTL <= 0 || c.Session.DataTTL <= 0, "SESSION_STATE_TTL and SESSION_DATA_TTL must be > 0"},
		{c.Session.KeyPrefix == "" || strings.Contains(c.Session.KeyPrefix, " "), "SESSION_KEY_PREFIX must be a non-empty token"},
		{c.Telegram.Timeout <= 0, "TELEGRAM_TIMEOUT must be > 0"},
		{!oneOf(c.Events.Mode, EventsModeInline, EventsModeStream), "EVENTS_MODE must be one of: inline, stream"},
		{c.Notifier.Timeout <= 0, "NOTIFIER_TIMEOUT must be > 0"},
		{c.Notifier.ReconcileGrace < 0, "RECONCILE_GRACE must be >= 0"},
		{c.Notifier.ReconcileBatch < 1, "RECONCILE_BATCH must be >= 1"},
		{c.Notifier.ReconcileLease <= c.Notifier.Timeout, "RECONCILE_LEASE must exceed NOTIFIER_TIMEOUT"},
		{c.Notifier.ReconcileMaxAttempts < 1, "RECONCILE_MAX_ATTEMPTS must be >= 1"},
		{c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	for _, r := range rules {
		if r.bad {
			return errors.New(r.msg)
		}
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// ---- env helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// botIDFromToken extracts the numeric bot id that prefixes every Bot API
// token ("123456:ABC..."). Returns 0 when the token is empty or malformed.
func botIDFromToken(token string) int64 {
	head, _, found := strings.Cut(token, ":")
	if !found {
		return 0
	}
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func hostnameOr(def string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return def
}
