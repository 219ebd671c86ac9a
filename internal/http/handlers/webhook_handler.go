// Webhook HTTP handler.
//
// The image provider calls POST /webhook/job-status when a job changes
// status. The endpoint acknowledges receipt; delivery to the user happens
// either inline (bounded by the notifier timeout) or on a worker replica.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aisha-bot/aisha-backend/internal/events"
	"github.com/aisha-bot/aisha-backend/internal/http/middleware"
	"github.com/aisha-bot/aisha-backend/internal/services"
)

// Webhook acknowledgement statuses.
const (
	WebhookReceived = "received"
	WebhookError    = "error"
)

// JobStatusRequest is the provider's job-status callback.
type JobStatusRequest struct {
	// Status is the provider status (completed, failed, cancelled, in_progress…).
	Status string `json:"status" example:"completed"`
	// RequestID is the provider's correlation id of the job.
	RequestID string `json:"request_id" example:"job-123"`
}

// JobStatusResponse acknowledges a webhook.
type JobStatusResponse struct {
	Status    string `json:"status" example:"received"`
	RequestID string `json:"request_id" example:"job-123"`
	// Outcome is the notification result; only set in inline mode.
	Outcome *services.Outcome `json:"outcome,omitempty"`
}

// JobStatusWebhook godoc
// @ID          jobStatusWebhook
// @Summary     Receive a job-status webhook
// @Description Resolves the job by request_id and sends its owner at most one Telegram message.
// @Description Domain outcomes (unknown id, no chat binding, duplicate) still answer 200.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Webhook-Secret  header  string  false "Shared secret (when configured)"
// @Param       body              body    handlers.JobStatusRequest  true  "Webhook payload"
//
// @Success     200  {object}  handlers.JobStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed payload"
// @Failure     401  {object}  handlers.ErrorResponse  "Bad secret"
// @Failure     503  {object}  handlers.ErrorResponse  "Queue unavailable"
// @Router      /webhook/job-status [post]
func (h *Handlers) JobStatusWebhook(c *gin.Context) {
	var req JobStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ev := services.WebhookEvent{Status: req.Status, RequestID: req.RequestID}
	if _, _, err := ev.Validate(); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidEvent, "request_id and a known status are required")
		return
	}

	lg := middleware.LoggerFrom(c).With().
		Str("job_request_id", ev.RequestID).
		Str("job_status", ev.Status).
		Logger()

	// The provider hanging up must not abort a delivery half way.
	ctx := context.WithoutCancel(c.Request.Context())
	ctx = events.WithCorrelationID(ctx, middleware.RequestIDFrom(c))

	ctx, cancel := context.WithTimeout(ctx, h.notifyTimeout)
	defer cancel()

	if h.queue != nil {
		if err := h.queue.Enqueue(ctx, ev); err != nil {
			lg.Error().Err(err).Msg("enqueue job-status event")
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "event queue unavailable")
			return
		}
		ok(c, http.StatusOK, JobStatusResponse{Status: WebhookReceived, RequestID: ev.RequestID})
		return
	}

	out, err := h.notifier.HandleEvent(lg.WithContext(ctx), ev)
	switch {
	case errors.Is(err, services.ErrInvalidEvent):
		fail(c, http.StatusBadRequest, ErrCodeInvalidEvent, "request_id and a known status are required")
		return
	case err != nil:
		lg.Error().Err(err).Msg("job-status event failed")
		ok(c, http.StatusOK, JobStatusResponse{Status: WebhookError, RequestID: ev.RequestID})
		return
	}
	lg.Info().Str("reason", string(out.Reason)).Bool("delivered", out.Delivered).Msg("job-status event handled")
	ok(c, http.StatusOK, JobStatusResponse{Status: WebhookReceived, RequestID: ev.RequestID, Outcome: &out})
}
