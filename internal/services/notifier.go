// Package services – NotifierService
//
// This file implements NotifierService, which turns a provider's "job
// finished" webhook into at most one Telegram message. Exactly-once delivery
// rests on a conditional status transition in the job store: among any number
// of concurrent or repeated deliveries of the same webhook, only the caller
// whose compare-and-set succeeds sends the message.
//
// Domain outcomes (unknown correlation id, unbound user, duplicate delivery,
// failed send) are reported through Outcome and never as errors. Errors are
// reserved for infrastructure failures the caller may retry.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aisha-bot/aisha-backend/internal/domain"
	"github.com/aisha-bot/aisha-backend/internal/repo"
)

// JobRepository is the job persistence contract used by the services.
type JobRepository interface {
	FindJobByRequestID(ctx context.Context, db *gorm.DB, requestID string) (*domain.Job, error)
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, requestID string, from, to domain.JobStatus) (bool, error)
	MarkNotified(ctx context.Context, db *gorm.DB, requestID string) error
	ListUnnotified(ctx context.Context, db *gorm.DB, finishedBefore, claimedBefore time.Time, limit int) ([]domain.Job, error)
	ClaimForReconcile(ctx context.Context, db *gorm.DB, requestID string, now time.Time, lease time.Duration) (bool, error)
	CreateJob(ctx context.Context, db *gorm.DB, userID uint64, requestID, resourceName string, kind domain.JobKind) (*domain.Job, error)
	CountJobsByUser(ctx context.Context, db *gorm.DB, userID uint64) (int64, error)
	ListJobsByUser(ctx context.Context, db *gorm.DB, userID uint64, offset, limit int) ([]domain.Job, error)
}

// UserRepository is the user persistence contract used by the services.
type UserRepository interface {
	GetUserByID(ctx context.Context, db *gorm.DB, id uint64) (*domain.User, error)
	// GetChatBinding returns the chat to message and the user's language code.
	GetChatBinding(ctx context.Context, db *gorm.DB, userID uint64) (chatID int64, lang string, err error)
}

// Messenger delivers a text message to a chat.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// WebhookEvent is the provider's job-status callback.
type WebhookEvent struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

// Reason explains a notification outcome.
type Reason string

const (
	ReasonSent           Reason = "resolved_and_sent"
	ReasonUnresolved     Reason = "unresolved_correlation_id"
	ReasonNoChatBinding  Reason = "user_has_no_chat_binding"
	ReasonDeliveryFailed Reason = "delivery_failed"
	ReasonDuplicate      Reason = "duplicate"
	ReasonCancelled      Reason = "cancelled"
	ReasonNotTerminal    Reason = "not_terminal"
)

// Outcome is the result of handling one webhook.
type Outcome struct {
	Delivered bool   `json:"delivered"`
	Reason    Reason `json:"reason"`
}

var notifierOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifier_outcomes_total",
		Help: "Webhook notification outcomes by reason.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(notifierOutcomes)
}

// ParseProviderStatus maps a provider status string to a job status.
// terminal is false for in-flight statuses; ok is false for unknown ones.
func ParseProviderStatus(s string) (status domain.JobStatus, terminal, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "succeeded", "ok":
		return domain.JobCompleted, true, true
	case "failed", "error":
		return domain.JobFailed, true, true
	case "cancelled", "canceled":
		return domain.JobCancelled, true, true
	case "in_progress", "in_queue", "queued", "pending":
		return domain.JobPending, false, true
	}
	return "", false, false
}

// Validate checks the event shape and returns the mapped status.
func (e WebhookEvent) Validate() (domain.JobStatus, bool, error) {
	if strings.TrimSpace(e.RequestID) == "" {
		return "", false, ErrInvalidEvent
	}
	status, terminal, ok := ParseProviderStatus(e.Status)
	if !ok {
		return "", false, ErrInvalidEvent
	}
	return status, terminal, nil
}

// NotifierService dispatches job-status webhooks to users.
type NotifierService struct {
	DB        *gorm.DB
	Jobs      JobRepository
	Users     UserRepository
	Messenger Messenger
	Messages  *Messages
}

// NewNotifierService wires a notifier with the default message catalog.
func NewNotifierService(db *gorm.DB, jobs JobRepository, users UserRepository, m Messenger, msgs *Messages) *NotifierService {
	if msgs == nil {
		msgs = NewMessages("ru")
	}
	return &NotifierService{DB: db, Jobs: jobs, Users: users, Messenger: m, Messages: msgs}
}

// HandleEvent processes one webhook. It is safe to call concurrently and
// repeatedly for the same event; at most one call sends a message.
func (s *NotifierService) HandleEvent(ctx context.Context, ev WebhookEvent) (out Outcome, err error) {
	tr := otel.Tracer("services/NotifierService")
	ctx, span := tr.Start(ctx, "HandleEvent",
		trace.WithAttributes(
			attribute.String("job.request_id", ev.RequestID),
			attribute.String("job.provider_status", ev.Status),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("notifier.reason", string(out.Reason)))
			notifierOutcomes.WithLabelValues(string(out.Reason)).Inc()
		}
		span.End()
	}()

	next, terminal, err := ev.Validate()
	if err != nil {
		return Outcome{}, err
	}
	lg := zerolog.Ctx(ctx).With().Str("request_id", ev.RequestID).Str("status", string(next)).Logger()

	if !terminal {
		lg.Debug().Msg("non-terminal status ignored")
		return Outcome{Reason: ReasonNotTerminal}, nil
	}

	job, err := s.Jobs.FindJobByRequestID(ctx, s.DB, ev.RequestID)
	if errors.Is(err, repo.ErrNotFound) {
		lg.Warn().Msg("webhook for unknown request id")
		return Outcome{Reason: ReasonUnresolved}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if job.Status.Terminal() {
		lg.Info().Str("current", string(job.Status)).Msg("job already finished, ignoring duplicate webhook")
		return Outcome{Reason: ReasonDuplicate}, nil
	}

	if !next.Notifies() {
		// Nothing to send, so the owner's chat binding is irrelevant.
		won, err := s.Jobs.CompareAndSetStatus(ctx, s.DB, job.RequestID, job.Status, next)
		if err != nil {
			return Outcome{}, err
		}
		if !won {
			return Outcome{Reason: ReasonDuplicate}, nil
		}
		lg.Info().Msg("job cancelled, no notification")
		return Outcome{Reason: ReasonCancelled}, nil
	}

	chatID, lang, err := s.Users.GetChatBinding(ctx, s.DB, job.UserID)
	if isMissingBinding(err) {
		lg.Warn().Uint64("user_id", job.UserID).Msg("user has no chat binding")
		return Outcome{Reason: ReasonNoChatBinding}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	won, err := s.Jobs.CompareAndSetStatus(ctx, s.DB, job.RequestID, job.Status, next)
	if err != nil {
		return Outcome{}, err
	}
	if !won {
		lg.Info().Msg("lost status transition race, another delivery owns the notification")
		return Outcome{Reason: ReasonDuplicate}, nil
	}

	job.Status = next
	return s.deliver(ctx, lg, job, chatID, lang), nil
}

// deliver sends the rendered message for a job that already reached its
// terminal status and records the notified marker.
func (s *NotifierService) deliver(ctx context.Context, lg zerolog.Logger, job *domain.Job, chatID int64, lang string) Outcome {
	text, ok := s.Messages.Render(job.Kind, job.Status, lang, job.ResourceName)
	if !ok {
		lg.Error().Str("kind", string(job.Kind)).Msg("no notification copy for job")
		return Outcome{Reason: ReasonDeliveryFailed}
	}
	if err := s.Messenger.SendMessage(ctx, chatID, text); err != nil {
		lg.Error().Err(err).Int64("chat_id", chatID).Msg("notification delivery failed")
		return Outcome{Reason: ReasonDeliveryFailed}
	}
	if err := s.Jobs.MarkNotified(ctx, s.DB, job.RequestID); err != nil {
		// The user has the message; a missing marker only risks a
		// reconciliation resend.
		lg.Error().Err(err).Msg("mark notified failed")
	}
	return Outcome{Delivered: true, Reason: ReasonSent}
}

// isMissingBinding treats an unknown owner like an unbound one: either way
// there is nobody to message.
func isMissingBinding(err error) bool {
	return errors.Is(err, repo.ErrNoChatBinding) || errors.Is(err, repo.ErrNotFound)
}
