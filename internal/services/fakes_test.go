package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/aisha-bot/aisha-backend/internal/domain"
	"github.com/aisha-bot/aisha-backend/internal/repo"
)

// ----- Fake job repo -----

// fakeJobRepo is a goroutine-safe in-memory JobRepository whose
// CompareAndSetStatus has the same atomicity as the SQL version.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job

	findErr    error
	casErr     error
	markErr    error
	listErr    error
	claimErr   error
	casCalls   int
	markCalls  int
	claimCalls int
	// findBlocks makes FindJobByRequestID wait for ctx like a hung database.
	findBlocks bool
}

func newFakeJobRepo(jobs ...domain.Job) *fakeJobRepo {
	r := &fakeJobRepo{jobs: map[string]*domain.Job{}}
	for i := range jobs {
		j := jobs[i]
		r.jobs[j.RequestID] = &j
	}
	return r
}

func (r *fakeJobRepo) get(requestID string) domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.jobs[requestID]
}

func (r *fakeJobRepo) FindJobByRequestID(ctx context.Context, _ *gorm.DB, requestID string) (*domain.Job, error) {
	if r.findBlocks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	j, ok := r.jobs[requestID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *fakeJobRepo) CompareAndSetStatus(_ context.Context, _ *gorm.DB, requestID string, from, to domain.JobStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	if r.casErr != nil {
		return false, r.casErr
	}
	j, ok := r.jobs[requestID]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	now := time.Now().UTC()
	j.FinishedAt = &now
	return true, nil
}

func (r *fakeJobRepo) MarkNotified(_ context.Context, _ *gorm.DB, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markCalls++
	if r.markErr != nil {
		return r.markErr
	}
	if j, ok := r.jobs[requestID]; ok && j.NotifiedAt == nil {
		now := time.Now().UTC()
		j.NotifiedAt = &now
	}
	return nil
}

func (r *fakeJobRepo) ListUnnotified(_ context.Context, _ *gorm.DB, finishedBefore, claimedBefore time.Time, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.Job
	for _, j := range r.jobs {
		owed := j.Status.Notifies() && j.NotifiedAt == nil && j.FinishedAt != nil && j.FinishedAt.Before(finishedBefore)
		free := j.ReconcileClaimedAt == nil || j.ReconcileClaimedAt.Before(claimedBefore)
		if owed && free {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		x, y := out[a], out[b]
		if x.ReconcileAttempts != y.ReconcileAttempts {
			return x.ReconcileAttempts < y.ReconcileAttempts
		}
		if !x.FinishedAt.Equal(*y.FinishedAt) {
			return x.FinishedAt.Before(*y.FinishedAt)
		}
		return x.RequestID < y.RequestID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeJobRepo) ClaimForReconcile(_ context.Context, _ *gorm.DB, requestID string, now time.Time, lease time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimCalls++
	if r.claimErr != nil {
		return false, r.claimErr
	}
	j, ok := r.jobs[requestID]
	if !ok || j.NotifiedAt != nil {
		return false, nil
	}
	if j.ReconcileClaimedAt != nil && !j.ReconcileClaimedAt.Before(now.Add(-lease)) {
		return false, nil
	}
	at := now
	j.ReconcileClaimedAt = &at
	j.ReconcileAttempts++
	return true, nil
}

func (r *fakeJobRepo) CreateJob(_ context.Context, _ *gorm.DB, userID uint64, requestID, resourceName string, kind domain.JobKind) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[requestID]; ok {
		return nil, repo.ErrDuplicate
	}
	j := &domain.Job{ID: "id-" + requestID, RequestID: requestID, UserID: userID, ResourceName: resourceName, Kind: kind, Status: domain.JobPending}
	r.jobs[requestID] = j
	cp := *j
	return &cp, nil
}

func (r *fakeJobRepo) CountJobsByUser(_ context.Context, _ *gorm.DB, userID uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, j := range r.jobs {
		if j.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *fakeJobRepo) ListJobsByUser(_ context.Context, _ *gorm.DB, userID uint64, offset, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, j := range r.jobs {
		if j.UserID == userID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RequestID < out[b].RequestID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ----- Fake user repo -----

type fakeUserRepo struct {
	users map[uint64]domain.User
	err   error
}

func (r *fakeUserRepo) GetUserByID(_ context.Context, _ *gorm.DB, id uint64) (*domain.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &u, nil
}

func (r *fakeUserRepo) GetChatBinding(ctx context.Context, db *gorm.DB, userID uint64) (int64, string, error) {
	u, err := r.GetUserByID(ctx, db, userID)
	if err != nil {
		return 0, "", err
	}
	if u.ChatID == nil {
		return 0, u.LanguageCode, repo.ErrNoChatBinding
	}
	return *u.ChatID, u.LanguageCode, nil
}

// ----- Fake messenger -----

type sentMessage struct {
	ChatID int64
	Text   string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
	// delay widens the race window in concurrency tests.
	delay time.Duration
	// blocks makes SendMessage wait for ctx like a hung Bot API call.
	blocks bool
}

func (m *fakeMessenger) SendMessage(ctx context.Context, chatID int64, text string) error {
	if m.blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *fakeMessenger) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func i64(v int64) *int64 { return &v }
