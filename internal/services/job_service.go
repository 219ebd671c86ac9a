// Package services – JobService
//
// JobService registers provider jobs on behalf of the external submission
// worker and lists a user's jobs. Registration is what makes a later webhook
// resolvable: the request id returned by the provider becomes the job's
// correlation id.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aisha-bot/aisha-backend/internal/domain"
	"github.com/aisha-bot/aisha-backend/internal/repo"
)

const maxRequestIDLen = 128

// JobService provides job registration and listing.
type JobService struct {
	DB    *gorm.DB
	Jobs  JobRepository
	Users UserRepository
}

// NewJobService constructs a JobService.
func NewJobService(db *gorm.DB, jobs JobRepository, users UserRepository) *JobService {
	return &JobService{DB: db, Jobs: jobs, Users: users}
}

// Register records a PENDING job for userID.
func (s *JobService) Register(ctx context.Context, userID uint64, requestID, resourceName, kind string) (*domain.Job, error) {
	tr := otel.Tracer("services/JobService")
	ctx, span := tr.Start(ctx, "Register",
		trace.WithAttributes(
			attribute.String("job.request_id", requestID),
			attribute.Int64("user.id", int64(userID)),
		),
	)
	defer span.End()

	requestID = strings.TrimSpace(requestID)
	if requestID == "" || len(requestID) > maxRequestIDLen {
		return nil, ErrInvalidJob
	}
	k, ok := domain.ParseJobKind(kind)
	if !ok {
		return nil, ErrInvalidJob
	}
	if _, err := s.Users.GetUserByID(ctx, s.DB, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	job, err := s.Jobs.CreateJob(ctx, s.DB, userID, requestID, strings.TrimSpace(resourceName), k)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrDuplicateJob
	}
	return job, err
}

// ListByUserPage returns one page of the user's jobs plus the total count.
// page is 1-based; pageSize is clamped to [1, 100].
func (s *JobService) ListByUserPage(ctx context.Context, userID uint64, page, pageSize int) ([]domain.Job, int64, error) {
	tr := otel.Tracer("services/JobService")
	ctx, span := tr.Start(ctx, "ListByUserPage",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(userID)),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	if _, err := s.Users.GetUserByID(ctx, s.DB, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrUserNotFound
		}
		return nil, 0, err
	}

	total, err := s.Jobs.CountJobsByUser(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	items, err := s.Jobs.ListJobsByUser(ctx, s.DB, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
