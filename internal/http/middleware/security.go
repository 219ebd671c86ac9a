// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders. Every route of this service answers
// JSON to machines (the image provider, bot replicas, ops tooling), so the
// defaults lock browsers out entirely: no framing, no sniffing, no caching
// and a deny-all Content-Security-Policy. The Swagger UI is the one HTML
// surface; paths under DocsPrefix keep the baseline but skip CSP and
// no-store so the UI can load its assets.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS   bool          // set true only when traffic is HTTPS end-to-end
	HSTSMaxAge   time.Duration // defaults to 180 days
	NoStore      bool          // Cache-Control: no-store on API responses
	EnablePolicy bool          // Permissions-Policy and X-Permitted-Cross-Domain-Policies
	DocsPrefix   string        // e.g. "/swagger"; empty treats every path as API
}

// SecurityHeaders returns a middleware that sets, before the handler runs:
//
//	X-Content-Type-Options: nosniff
//	X-Frame-Options: DENY
//	Referrer-Policy: no-referrer
//	Content-Security-Policy: default-src 'none'; frame-ancestors 'none'  (API paths)
//	Cache-Control: no-store                                              (API paths, NoStore)
//	Permissions-Policy: ...                                              (EnablePolicy)
//	Strict-Transport-Security: max-age=N; includeSubDomains               (EnableHSTS, HTTPS only)
//
// X-Request-ID is added to Access-Control-Expose-Headers when present.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 180 * 24 * time.Hour
	}
	hsts := "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		docs := opt.DocsPrefix != "" && strings.HasPrefix(c.Request.URL.Path, opt.DocsPrefix)
		if !docs {
			h.Set("Content-Security-Policy", apiCSP)
			if opt.NoStore {
				h.Set("Cache-Control", "no-store")
			}
		}
		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get("X-Request-ID") != "" {
			exposeHeader(h, "X-Request-ID")
		}
		c.Next()
	}
}

// exposeHeader appends name to Access-Control-Expose-Headers once.
func exposeHeader(h http.Header, name string) {
	const key = "Access-Control-Expose-Headers"
	cur := h.Get(key)
	switch {
	case cur == "":
		h.Set(key, name)
	case !strings.Contains(strings.ToLower(cur), strings.ToLower(name)):
		h.Set(key, cur+", "+name)
	}
}

// isHTTPS reports whether the request arrived over TLS, directly or through
// a proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
