// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses using the envelope in
// response.go.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aisha-bot/aisha-backend/internal/domain"
	"github.com/aisha-bot/aisha-backend/internal/services"
	"github.com/aisha-bot/aisha-backend/internal/session"
	"github.com/aisha-bot/aisha-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// EventHandler resolves a job-status webhook and notifies the job owner.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev services.WebhookEvent) (services.Outcome, error)
}

// EventQueue hands a validated webhook to the worker replicas instead of
// processing it in the request.
type EventQueue interface {
	Enqueue(ctx context.Context, ev services.WebhookEvent) error
}

// JobService registers provider jobs and lists a user's jobs.
type JobService interface {
	// Register records a PENDING job for userID.
	Register(ctx context.Context, userID uint64, requestID, resourceName, kind string) (*domain.Job, error)
	// ListByUserPage returns a page of the user's jobs and the total count.
	ListByUserPage(ctx context.Context, userID uint64, page, pageSize int) ([]domain.Job, int64, error)
}

// ReadinessCheck reports whether one backend is reachable.
type ReadinessCheck func(ctx context.Context) error

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for webhooks, sessions, jobs and probes.
type Handlers struct {
	notifier EventHandler
	queue    EventQueue
	jobs     JobService
	sessions session.Store

	notifyTimeout time.Duration
	checks        map[string]ReadinessCheck
	now           func() time.Time
}

// Option customizes Handlers.
type Option func(*Handlers)

// WithQueue switches the webhook endpoint to stream mode: events are
// enqueued and acknowledged without waiting for delivery.
func WithQueue(q EventQueue) Option { return func(h *Handlers) { h.queue = q } }

// WithNotifyTimeout bounds inline webhook processing.
func WithNotifyTimeout(d time.Duration) Option {
	return func(h *Handlers) {
		if d > 0 {
			h.notifyTimeout = d
		}
	}
}

// WithReadinessCheck registers a named check for GET /ready.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(h *Handlers) { h.checks[name] = check }
}

// New constructs and returns a Handlers instance bound to the given services.
func New(notifier EventHandler, jobs JobService, sessions session.Store, opts ...Option) *Handlers {
	h := &Handlers{
		notifier:      notifier,
		jobs:          jobs,
		sessions:      sessions,
		notifyTimeout: 15 * time.Second,
		checks:        map[string]ReadinessCheck{},
		now:           time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}
