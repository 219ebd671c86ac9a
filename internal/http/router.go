// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, webhook authentication, and rate
// limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/aisha-bot/aisha-backend/docs"
	"github.com/aisha-bot/aisha-backend/internal/config"
	"github.com/aisha-bot/aisha-backend/internal/http/handlers"
	"github.com/aisha-bot/aisha-backend/internal/http/middleware"
	"github.com/aisha-bot/aisha-backend/internal/repo"
	"github.com/aisha-bot/aisha-backend/internal/services"
	"github.com/aisha-bot/aisha-backend/internal/session"
)

// Deps are the backends the public API is built on.
type Deps struct {
	DB        *gorm.DB
	Sessions  session.Store
	Messenger services.Messenger

	// Queue switches the webhook to stream mode; nil processes inline.
	Queue handlers.EventQueue

	// Checks are the named readiness probes served on GET /ready.
	Checks map[string]handlers.ReadinessCheck
}

// probePaths are exempt from rate limiting.
var probePaths = []string{"/health", "/ready", "/metrics"}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression, rate
// limiting, CORS and security headers, probe and metrics endpoints, the
// provider webhook, and then mounts the versioned API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip response compression
//  7. Metrics
//  8. Rate limiter (per bot namespace or IP; probes exempt)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Compress responses; the metrics scrape does its own negotiation
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Token-bucket rate limiter per bot/IP
	rl := middleware.NewRateLimiter(middleware.Limits{RPS: cfg.RateRPS, Burst: cfg.RateBurst}, middleware.KeyByBotOrIP())
	r.Use(rl.Handler(probePaths...))

	// 9) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderWebhookSecret}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
		DocsPrefix:   "/swagger",
	}))

	registerFallbacks(r)

	// Dependency injection: services ← repo/db/messenger
	notifier := services.NewNotifierService(deps.DB, repo.JobShim{}, repo.UserShim{}, deps.Messenger,
		services.NewMessages(cfg.Notifier.DefaultLocale))
	jobSvc := services.NewJobService(deps.DB, repo.JobShim{}, repo.UserShim{})

	opts := []handlers.Option{handlers.WithNotifyTimeout(cfg.Notifier.Timeout)}
	if deps.Queue != nil {
		opts = append(opts, handlers.WithQueue(deps.Queue))
	}
	for name, check := range deps.Checks {
		opts = append(opts, handlers.WithReadinessCheck(name, check))
	}
	h := handlers.New(notifier, jobSvc, deps.Sessions, opts...)

	// Probes
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Provider callback, outside the versioned API so its URL never moves
	r.POST("/webhook/job-status", middleware.WebhookSecret(cfg.WebhookSecret), h.JobStatusWebhook)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Sessions
		s := api.Group("/sessions/:bot/:chat/:user")
		s.GET("/state", h.GetState)
		s.PUT("/state", h.SetState)
		s.DELETE("/state", h.DeleteState)
		s.GET("/data", h.GetData)
		s.PUT("/data", h.SetData)
		s.PATCH("/data", h.UpdateData)

		// Jobs
		api.POST("/jobs", h.CreateJob)
		api.GET("/users/:id/jobs", h.ListUserJobs)
	}
}

// RegisterOpsRoutes mounts only probes and /metrics. The worker and bot
// processes serve it on their ops port so they can be scraped and probed
// like the API.
func RegisterOpsRoutes(r *gin.Engine, checks map[string]handlers.ReadinessCheck) {
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())

	registerFallbacks(r)

	opts := make([]handlers.Option, 0, len(checks))
	for name, check := range checks {
		opts = append(opts, handlers.WithReadinessCheck(name, check))
	}
	h := handlers.New(nil, nil, nil, opts...)

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func registerFallbacks(r *gin.Engine) {
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
