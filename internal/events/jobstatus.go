package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/aisha-bot/aisha-backend/internal/services"
)

// EventHandler processes a job-status webhook; implemented by
// services.NotifierService.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev services.WebhookEvent) (services.Outcome, error)
}

// JobStatusQueue enqueues validated webhooks for the worker replicas.
type JobStatusQueue struct {
	Publisher message.Publisher
	Topic     string
}

// Enqueue publishes ev on the job-status topic.
func (q *JobStatusQueue) Enqueue(ctx context.Context, ev services.WebhookEvent) error {
	return PublishJSON(ctx, q.Publisher, q.Topic, ev)
}

// JobStatusHandler returns the consumer for the job-status topic.
//
// Undecodable and invalid payloads are logged and acknowledged, as are all
// domain outcomes. Infrastructure errors, including running past timeout,
// are returned so the router retries and, when retries run out, the message
// is not lost. A timeout of zero leaves the message context unbounded.
func JobStatusHandler(h EventHandler, timeout time.Duration) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		lg := log.With().
			Str("message_uuid", msg.UUID).
			Str("correlation_id", msg.Metadata.Get("correlation_id")).
			Logger()

		var ev services.WebhookEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			lg.Warn().Err(err).Msg("dropping undecodable job-status message")
			return nil
		}

		// Continue the webhook's trace when the publisher attached one.
		ctx := otel.GetTextMapPropagator().Extract(msg.Context(), propagation.MapCarrier(msg.Metadata))
		ctx = lg.WithContext(ctx)
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		out, err := h.HandleEvent(ctx, ev)
		if errors.Is(err, services.ErrInvalidEvent) {
			lg.Warn().Str("request_id", ev.RequestID).Str("status", ev.Status).Msg("dropping invalid job-status event")
			return nil
		}
		if err != nil {
			return err
		}
		logOutcome(lg, ev, out)
		return nil
	}
}

func logOutcome(lg zerolog.Logger, ev services.WebhookEvent, out services.Outcome) {
	e := lg.Info()
	if out.Reason == services.ReasonDeliveryFailed {
		e = lg.Warn()
	}
	e.Str("request_id", ev.RequestID).
		Str("reason", string(out.Reason)).
		Bool("delivered", out.Delivered).
		Msg("job-status event handled")
}
