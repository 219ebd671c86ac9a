// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger used on the public
// router. Provider callbacks and bot replicas send headers and queries that
// can carry secrets or personal data, so nothing reaches the log unscrubbed:
// bodies are never logged, sensitive headers are masked outright, and the
// remaining header values and the raw query go through a pattern scrubber
// (Telegram bot tokens, UUIDs, emails, phone numbers).
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const redactedValue = "[REDACTED]"

// defaultMaskedHeaders are always masked, case-insensitively.
var defaultMaskedHeaders = []string{
	"Authorization",
	"Cookie",
	"Set-Cookie",
	HeaderWebhookSecret,
	"X-Telegram-Bot-Api-Secret-Token",
}

// Scrub patterns in application order: a bot token contains a digit run the
// phone pattern would claim, and UUID segments look like phone fragments, so
// both go before the looser patterns.
var scrubbers = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\d{6,12}:[A-Za-z0-9_-]{30,}`), "[REDACTED:token]"},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

// RedactOptions configures RedactingLogger. MaskHeaders extends
// defaultMaskedHeaders.
type RedactOptions struct {
	MaskHeaders []string
}

// scrub applies every pattern in scrubbers to s.
func scrub(s string) string {
	if s == "" {
		return s
	}
	for _, p := range scrubbers {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

// RedactingLogger logs one access line per request with scrubbed query and
// headers. Like Logger it attaches a request-scoped logger carrying
// request_id and records error_code when a handler set one.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := make(map[string]struct{}, len(defaultMaskedHeaders)+len(opts.MaskHeaders))
	for _, h := range append(append([]string{}, defaultMaskedHeaders...), opts.MaskHeaders...) {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid := RequestIDFrom(c)
		if rid == "" {
			rid = c.GetHeader(requestIDHeader)
		}
		scoped := log.With().Str("request_id", rid).Logger()
		attachLogger(c, &scoped)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = redactedValue
				continue
			}
			headers[k] = scrub(strings.Join(vv, ", "))
		}
		query := scrub(truncate(c.Request.URL.RawQuery, maxQueryLogLength))

		c.Next()

		// An upstream middleware may only have set the response header.
		if v := c.Writer.Header().Get(requestIDHeader); v != "" {
			rid = v
		}

		ev := levelFor(&log.Logger, c).
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers)
		if code := ErrorCodeFrom(c); code != "" {
			ev = ev.Str("error_code", code)
		}
		ev.Msg("http_request")
	}
}
