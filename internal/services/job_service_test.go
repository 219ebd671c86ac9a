package services

import (
	"context"
	"errors"
	"testing"

	"github.com/aisha-bot/aisha-backend/internal/domain"
	"github.com/aisha-bot/aisha-backend/internal/repo"
)

// The repository shims must keep satisfying the service contracts.
var (
	_ JobRepository  = repo.JobShim{}
	_ UserRepository = repo.UserShim{}
	_ UserWriter     = repo.UserShim{}
)

func newTestJobService(jobs *fakeJobRepo) *JobService {
	users := &fakeUserRepo{users: map[uint64]domain.User{1: {ID: 1}}}
	return NewJobService(nil, jobs, users)
}

func TestJobService_Register(t *testing.T) {
	jobs := newFakeJobRepo()
	s := newTestJobService(jobs)
	ctx := context.Background()

	j, err := s.Register(ctx, 1, "  req-1 ", " Anna ", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if j.RequestID != "req-1" || j.ResourceName != "Anna" || j.Kind != domain.KindAvatar || j.Status != domain.JobPending {
		t.Fatalf("unexpected job: %+v", j)
	}

	if _, err := s.Register(ctx, 1, "req-1", "x", "avatar"); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
	if _, err := s.Register(ctx, 2, "req-2", "x", "avatar"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	for _, bad := range []struct{ rid, kind string }{
		{"", "avatar"},
		{"r", "video"},
		{string(make([]byte, 200)), "avatar"},
	} {
		if _, err := s.Register(ctx, 1, bad.rid, "x", bad.kind); !errors.Is(err, ErrInvalidJob) {
			t.Fatalf("%q/%q: expected ErrInvalidJob, got %v", bad.rid, bad.kind, err)
		}
	}
}

func TestJobService_ListByUserPage(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("a", 1), pendingJob("b", 1), pendingJob("c", 1), pendingJob("z", 9))
	s := newTestJobService(jobs)
	ctx := context.Background()

	items, total, err := s.ListByUserPage(ctx, 1, 2, 2)
	if err != nil {
		t.Fatalf("ListByUserPage: %v", err)
	}
	if total != 3 || len(items) != 1 || items[0].RequestID != "c" {
		t.Fatalf("unexpected page: total=%d items=%+v", total, items)
	}

	// Defaults for invalid paging.
	items, _, err = s.ListByUserPage(ctx, 1, 0, 0)
	if err != nil || len(items) != 3 {
		t.Fatalf("defaults: items=%d err=%v", len(items), err)
	}

	if _, _, err := s.ListByUserPage(ctx, 5, 1, 10); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
