package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/aisha-bot/aisha-backend/internal/domain"
)

// JobShim adapts the job free functions to the method set the services
// depend on, so services stay decoupled from this package.
type JobShim struct{}

// CreateJob proxies CreateJob.
func (JobShim) CreateJob(ctx context.Context, db *gorm.DB, userID uint64, requestID, resourceName string, kind domain.JobKind) (*domain.Job, error) {
	return CreateJob(ctx, db, userID, requestID, resourceName, kind)
}

// FindJobByRequestID proxies FindJobByRequestID.
func (JobShim) FindJobByRequestID(ctx context.Context, db *gorm.DB, requestID string) (*domain.Job, error) {
	return FindJobByRequestID(ctx, db, requestID)
}

// CompareAndSetStatus proxies CompareAndSetStatus.
func (JobShim) CompareAndSetStatus(ctx context.Context, db *gorm.DB, requestID string, from, to domain.JobStatus) (bool, error) {
	return CompareAndSetStatus(ctx, db, requestID, from, to)
}

// MarkNotified proxies MarkNotified.
func (JobShim) MarkNotified(ctx context.Context, db *gorm.DB, requestID string) error {
	return MarkNotified(ctx, db, requestID)
}

// ListUnnotified proxies ListUnnotified.
func (JobShim) ListUnnotified(ctx context.Context, db *gorm.DB, finishedBefore, claimedBefore time.Time, limit int) ([]domain.Job, error) {
	return ListUnnotified(ctx, db, finishedBefore, claimedBefore, limit)
}

// ClaimForReconcile proxies ClaimForReconcile.
func (JobShim) ClaimForReconcile(ctx context.Context, db *gorm.DB, requestID string, now time.Time, lease time.Duration) (bool, error) {
	return ClaimForReconcile(ctx, db, requestID, now, lease)
}

// CountJobsByUser proxies CountJobsByUser (pagination support).
func (JobShim) CountJobsByUser(ctx context.Context, db *gorm.DB, userID uint64) (int64, error) {
	return CountJobsByUser(ctx, db, userID)
}

// ListJobsByUser proxies ListJobsByUser (pagination support).
func (JobShim) ListJobsByUser(ctx context.Context, db *gorm.DB, userID uint64, offset, limit int) ([]domain.Job, error) {
	return ListJobsByUser(ctx, db, userID, offset, limit)
}

// UserShim adapts the user free functions.
type UserShim struct{}

// UpsertUser proxies UpsertUser.
func (UserShim) UpsertUser(ctx context.Context, db *gorm.DB, telegramID int64, chatID *int64, username, lang string) (*domain.User, error) {
	return UpsertUser(ctx, db, telegramID, chatID, username, lang)
}

// GetUserByID proxies GetUserByID.
func (UserShim) GetUserByID(ctx context.Context, db *gorm.DB, id uint64) (*domain.User, error) {
	return GetUserByID(ctx, db, id)
}

// GetChatBinding proxies GetChatBinding.
func (UserShim) GetChatBinding(ctx context.Context, db *gorm.DB, userID uint64) (int64, string, error) {
	return GetChatBinding(ctx, db, userID)
}
