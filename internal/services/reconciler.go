package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aisha-bot/aisha-backend/internal/domain"
	"github.com/aisha-bot/aisha-backend/internal/repo"
)

// Reconciler resends notifications for jobs that reached COMPLETED or FAILED
// but were never marked notified, e.g. because the process died between the
// status transition and the send, or because the send failed.
//
// Every worker replica may run a Reconciler against the same database. A job
// is only sent by the replica whose ClaimForReconcile succeeds, and the claim
// is a lease: a replica that dies mid-send releases the job once Lease runs
// out.
type Reconciler struct {
	DB        *gorm.DB
	Jobs      JobRepository
	Users     UserRepository
	Messenger Messenger
	Messages  *Messages

	// Grace is how long after finishing a job is left to the webhook path.
	Grace time.Duration
	// Batch caps the jobs handled per run.
	Batch int
	// Lease is how long a claim keeps other replicas off a job. It must
	// exceed Timeout.
	Lease time.Duration
	// MaxAttempts is the number of claims after which a job that still
	// cannot be delivered stops being owed.
	MaxAttempts int
	// Timeout bounds the listing and each job's claim, lookup and send.
	Timeout time.Duration

	now func() time.Time
}

// ReconcileReport summarizes one run.
type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Contended int `json:"contended"`
	Abandoned int `json:"abandoned"`
	Failed    int `json:"failed"`
}

// Reconciler defaults, overridden from NotifierConfig by the commands.
const (
	defaultReconcileLease       = 5 * time.Minute
	defaultReconcileMaxAttempts = 5
	defaultReconcileTimeout     = 30 * time.Second
)

// NewReconciler builds a Reconciler that shares the notifier's collaborators.
func NewReconciler(n *NotifierService, grace time.Duration, batch int) *Reconciler {
	return &Reconciler{
		DB:          n.DB,
		Jobs:        n.Jobs,
		Users:       n.Users,
		Messenger:   n.Messenger,
		Messages:    n.Messages,
		Grace:       grace,
		Batch:       batch,
		Lease:       defaultReconcileLease,
		MaxAttempts: defaultReconcileMaxAttempts,
		Timeout:     defaultReconcileTimeout,
		now:         time.Now,
	}
}

type reconcileResult int

const (
	resultSent reconcileResult = iota
	resultSkipped
	resultContended
	resultAbandoned
	resultFailed
)

// Run processes one batch of owed notifications. Only listing errors abort
// the run; per-job failures are counted and left for a later run.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	tr := otel.Tracer("services/Reconciler")
	ctx, span := tr.Start(ctx, "Run", trace.WithAttributes(attribute.Int("reconcile.batch", r.Batch)))
	defer span.End()

	var rep ReconcileReport
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	start := now().UTC()

	listCtx, cancel := r.withTimeout(ctx)
	jobs, err := r.Jobs.ListUnnotified(listCtx, r.DB, start.Add(-r.Grace), start.Add(-r.Lease), r.Batch)
	cancel()
	if err != nil {
		span.RecordError(err)
		return rep, err
	}
	rep.Scanned = len(jobs)

	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		switch r.reconcile(ctx, &jobs[i], now().UTC()) {
		case resultSent:
			rep.Sent++
		case resultSkipped:
			rep.Skipped++
		case resultContended:
			rep.Contended++
		case resultAbandoned:
			rep.Abandoned++
		case resultFailed:
			rep.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("reconcile.scanned", rep.Scanned),
		attribute.Int("reconcile.sent", rep.Sent),
		attribute.Int("reconcile.contended", rep.Contended),
	)
	return rep, nil
}

// reconcile claims one job and, if the claim is won, tries to deliver it.
func (r *Reconciler) reconcile(ctx context.Context, job *domain.Job, now time.Time) reconcileResult {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	lg := zerolog.Ctx(ctx).With().Str("request_id", job.RequestID).Str("status", string(job.Status)).Logger()

	won, err := r.Jobs.ClaimForReconcile(ctx, r.DB, job.RequestID, now, r.Lease)
	if err != nil {
		lg.Error().Err(err).Msg("reconcile: claim job")
		return resultFailed
	}
	if !won {
		return resultContended
	}
	// The claim counted this attempt.
	lastTry := r.MaxAttempts > 0 && job.ReconcileAttempts+1 >= r.MaxAttempts

	chatID, lang, err := r.Users.GetChatBinding(ctx, r.DB, job.UserID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return r.abandon(ctx, lg, job, "owner no longer exists")
	case errors.Is(err, repo.ErrNoChatBinding):
		if lastTry {
			return r.abandon(ctx, lg, job, "user never bound a chat")
		}
		return resultSkipped
	case err != nil:
		lg.Error().Err(err).Msg("reconcile: resolve chat binding")
		return resultFailed
	}

	text, ok := r.Messages.Render(job.Kind, job.Status, lang, job.ResourceName)
	if !ok {
		return r.abandon(ctx, lg, job, "no notification copy for job")
	}
	if err := r.Messenger.SendMessage(ctx, chatID, text); err != nil {
		if errors.Is(err, ErrUndeliverable) {
			lg.Warn().Err(err).Msg("reconcile: recipient unreachable")
			return r.abandon(ctx, lg, job, "recipient unreachable")
		}
		lg.Error().Err(err).Msg("reconcile: send failed")
		if lastTry {
			return r.abandon(ctx, lg, job, "send kept failing")
		}
		return resultFailed
	}
	if err := r.Jobs.MarkNotified(ctx, r.DB, job.RequestID); err != nil {
		lg.Error().Err(err).Msg("reconcile: mark notified")
	}
	return resultSent
}

// abandon stops owing the message for job; retrying would never succeed.
func (r *Reconciler) abandon(ctx context.Context, lg zerolog.Logger, job *domain.Job, why string) reconcileResult {
	lg.Warn().Str("why", why).Int("attempts", job.ReconcileAttempts+1).Msg("reconcile: giving up on notification")
	if err := r.Jobs.MarkNotified(ctx, r.DB, job.RequestID); err != nil {
		lg.Error().Err(err).Msg("reconcile: mark notified")
		return resultFailed
	}
	return resultAbandoned
}

func (r *Reconciler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}
