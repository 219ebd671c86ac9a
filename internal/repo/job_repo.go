// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Job model,
// including the conditional status transition that makes webhook delivery
// exactly-once.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aisha-bot/aisha-backend/internal/domain"
)

// ErrDuplicate indicates that a job with the same request_id already exists.
var ErrDuplicate = errors.New("duplicate")

// CreateJob inserts a PENDING job for userID correlated by requestID.
// It returns ErrDuplicate when requestID is already taken.
func CreateJob(ctx context.Context, db *gorm.DB, userID uint64, requestID, resourceName string, kind domain.JobKind) (*domain.Job, error) {
	now := time.Now().UTC()
	j := &domain.Job{
		ID:           uuid.NewString(),
		RequestID:    requestID,
		UserID:       userID,
		ResourceName: resourceName,
		Kind:         kind,
		Status:       domain.JobPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.WithContext(ctx).Create(j).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return j, nil
}

// isUniqueViolation recognizes unique-key failures from both drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}

// FindJobByRequestID looks a job up by its provider correlation id.
// It returns ErrNotFound when no job matches.
func FindJobByRequestID(ctx context.Context, db *gorm.DB, requestID string) (*domain.Job, error) {
	var j domain.Job
	if err := db.WithContext(ctx).Where("request_id = ?", requestID).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// CompareAndSetStatus moves the job from `from` to `to` in a single
// conditional UPDATE and stamps finished_at when `to` is terminal.
// It reports whether this call performed the transition; false means another
// writer got there first (or the job is not in `from`).
func CompareAndSetStatus(ctx context.Context, db *gorm.DB, requestID string, from, to domain.JobStatus) (bool, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	if to.Terminal() {
		updates["finished_at"] = now
	}
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("request_id = ? AND status = ?", requestID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkNotified records that the user has been told about the job's terminal
// status. It is a no-op for jobs already marked.
func MarkNotified(ctx context.Context, db *gorm.DB, requestID string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("request_id = ? AND notified_at IS NULL", requestID).
		Updates(map[string]any{"notified_at": now, "updated_at": now}).Error
}

// ListUnnotified returns terminal, notifying jobs (COMPLETED/FAILED) that
// finished before finishedBefore, were never marked notified and hold no
// reconcile claim taken at or after claimedBefore. Jobs with fewer reconcile
// attempts come first, then oldest first, so a backlog of jobs that keep
// failing cannot shadow newer ones.
func ListUnnotified(ctx context.Context, db *gorm.DB, finishedBefore, claimedBefore time.Time, limit int) ([]domain.Job, error) {
	var out []domain.Job
	q := db.WithContext(ctx).
		Where("status IN ? AND notified_at IS NULL AND finished_at < ?",
			[]domain.JobStatus{domain.JobCompleted, domain.JobFailed}, finishedBefore).
		Where("reconcile_claimed_at IS NULL OR reconcile_claimed_at < ?", claimedBefore).
		Order("reconcile_attempts ASC, finished_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ClaimForReconcile leases an owed job to one reconciler for lease, counting
// the attempt. It reports whether this call took the claim; false means the
// job was notified meanwhile or another replica holds an unexpired lease.
func ClaimForReconcile(ctx context.Context, db *gorm.DB, requestID string, now time.Time, lease time.Duration) (bool, error) {
	now = now.UTC()
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("request_id = ? AND notified_at IS NULL", requestID).
		Where("reconcile_claimed_at IS NULL OR reconcile_claimed_at < ?", now.Add(-lease)).
		Updates(map[string]any{
			"reconcile_claimed_at": now,
			"reconcile_attempts":   gorm.Expr("reconcile_attempts + 1"),
			"updated_at":           now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountJobsByUser uses a raw COUNT so a missing table surfaces as an error.
func CountJobsByUser(ctx context.Context, db *gorm.DB, userID uint64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM jobs WHERE user_id = ?", userID).Scan(&total).Error
	return total, err
}

// ListJobsByUser returns a page of the user's jobs, newest first
// (CreatedAt DESC, ID DESC).
func ListJobsByUser(ctx context.Context, db *gorm.DB, userID uint64, offset, limit int) ([]domain.Job, error) {
	var out []domain.Job
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
