// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the correlation and access-log plumbing every route shares:
//
//   - RequestID assigns or propagates X-Request-ID.
//   - Logger emits one access line per request and attaches a request-scoped
//     zerolog.Logger to both the Gin context and the request context, so
//     services reached from a handler log through zerolog.Ctx(ctx) with the
//     same request_id.
//   - Recovery turns panics into the standard JSON error envelope.
//
// Handlers record the stable error code they answered with via SetErrorCode;
// both access loggers pick it up, which lets provider-side failures
// (invalid_event, session_unavailable) be counted from logs alone.
//
// Order: RequestID, then Logger (or RedactingLogger), then Recovery.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	loggerKey       = "logger"
	errorCodeKey    = "errorCode"
	requestIDHeader = "X-Request-ID"

	// maxQueryLogLength caps the raw query bytes written to a log line.
	maxQueryLogLength = 2048
)

// RequestID reuses an incoming X-Request-ID or mints a UUIDv4, echoes it on
// the response and stores it for RequestIDFrom.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes a structured access log for each request.
//
// The request-scoped logger carries request_id, method, route, client IP and
// user agent. After the handler runs the line is emitted with status, latency,
// bytes_out and error_code (when a handler set one), at error level for 5xx or
// collected gin errors, warn for 4xx and info otherwise.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		l := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength).
			Logger()
		attachLogger(c, &l)

		c.Next()

		ev := levelFor(&l, c).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size())
		if code := ErrorCodeFrom(c); code != "" {
			ev = ev.Str("error_code", code)
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Msg("request")
	}
}

// Recovery logs a recovered panic with its stack and, if nothing was written
// yet, answers with the internal_error envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			SetErrorCode(c, "internal_error")
			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when no
// access-log middleware ran.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// RequestIDFrom returns the correlation id assigned by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// SetErrorCode records the stable error code a handler answered with.
func SetErrorCode(c *gin.Context, code string) {
	c.Set(errorCodeKey, code)
}

// ErrorCodeFrom returns the code recorded by SetErrorCode, or "".
func ErrorCodeFrom(c *gin.Context) string {
	return c.GetString(errorCodeKey)
}

func attachLogger(c *gin.Context, l *zerolog.Logger) {
	c.Set(loggerKey, l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
}

// routePath prefers the matched route pattern so chat and user ids in
// /sessions/:bot/:chat/:user stay out of log cardinality.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func levelFor(l *zerolog.Logger, c *gin.Context) *zerolog.Event {
	status := c.Writer.Status()
	switch {
	case status >= http.StatusInternalServerError || len(c.Errors) > 0:
		return l.Error()
	case status >= http.StatusBadRequest:
		return l.Warn()
	default:
		return l.Info()
	}
}

// truncate cuts s to max bytes plus an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
