// Package handlers provides the HTTP handlers of the Aisha API.
//
// Every failure is answered with ErrorResponse carrying one of the codes in
// errors.go. Callers (the image provider, bot replicas) branch on code; the
// message is for humans. Internal errors never reach the client verbatim:
// failInternal answers with a generic message and hands the cause to gin's
// error list, where the access logger records it under the request id.
//
//	HTTP/1.1 503 Service Unavailable
//	{"request_id":"7f0c…","code":"session_unavailable","message":"session store unavailable"}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aisha-bot/aisha-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"user not found"`
}

const internalMessage = "internal error"

// fail aborts with status and the envelope for code, and records code for
// the access log and the http_errors_total counter.
func fail(c *gin.Context, status int, code, msg string) {
	rid := middleware.RequestIDFrom(c)
	if rid == "" {
		rid = c.Writer.Header().Get("X-Request-ID")
	}
	middleware.SetErrorCode(c, code)
	c.AbortWithStatusJSON(status, ErrorResponse{RequestID: rid, Code: code, Message: msg})
}

// failInternal answers 500 with a generic message. err is logged with the
// request-scoped logger and attached to the gin context.
func failInternal(c *gin.Context, code string, err error) {
	_ = c.Error(err)
	middleware.LoggerFrom(c).Error().Err(err).Str("code", code).Msg("api error")
	fail(c, http.StatusInternalServerError, code, internalMessage)
}

// Fail lets the router answer NoRoute/NoMethod with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
