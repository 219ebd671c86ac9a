// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements WebhookSecret, which authenticates provider callbacks
// with a shared secret header. Comparison is constant-time; an empty secret
// disables the check so local setups work without configuration.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderWebhookSecret carries the shared secret on provider callbacks.
const HeaderWebhookSecret = "X-Webhook-Secret"

// WebhookSecret rejects requests whose X-Webhook-Secret header does not
// equal secret with 401 and the standard error envelope:
//
//	{ "request_id": "...", "code": "unauthorized", "message": "invalid webhook secret" }
func WebhookSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(HeaderWebhookSecret))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			LoggerFrom(c).Warn().Str("remote_ip", c.ClientIP()).Msg("webhook secret mismatch")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "invalid webhook secret",
			})
			return
		}
		c.Next()
	}
}
