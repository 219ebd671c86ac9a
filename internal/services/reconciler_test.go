package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aisha-bot/aisha-backend/internal/domain"
)

func finishedJob(requestID string, userID uint64, status domain.JobStatus, finished time.Time) domain.Job {
	j := pendingJob(requestID, userID)
	j.Status = status
	j.FinishedAt = &finished
	return j
}

// testClock is a settable clock shared by reconcilers under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestReconciler(jobs *fakeJobRepo, m *fakeMessenger, clk *testClock, batch int) *Reconciler {
	r := NewReconciler(newTestNotifier(jobs, m), 5*time.Minute, batch)
	r.Lease = time.Minute
	r.now = clk.now
	return r
}

func TestReconciler_ResendsOwedNotifications(t *testing.T) {
	clk := &testClock{t: time.Now().UTC()}
	old := clk.now().Add(-time.Hour)
	notified := old

	owed := finishedJob("owed", 42, domain.JobCompleted, old)
	done := finishedJob("done", 42, domain.JobFailed, old)
	done.NotifiedAt = &notified
	young := finishedJob("young", 42, domain.JobCompleted, clk.now())
	unbound := finishedJob("unbound", 7, domain.JobFailed, old)
	cancelled := finishedJob("cancelled", 42, domain.JobCancelled, old)

	jobs := newFakeJobRepo(owed, done, young, unbound, cancelled)
	m := &fakeMessenger{}
	r := newTestReconciler(jobs, m, clk, 10)

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Scanned != 2 || rep.Sent != 1 || rep.Skipped != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if sent := m.Sent(); len(sent) != 1 || sent[0].ChatID != testChat {
		t.Fatalf("expected one resend to %d, got %+v", testChat, sent)
	}
	if jobs.get("owed").NotifiedAt == nil {
		t.Fatalf("owed job should now be marked notified")
	}
	if j := jobs.get("unbound"); j.NotifiedAt != nil || j.ReconcileAttempts != 1 {
		t.Fatalf("unbound job should stay owed with one attempt, got %+v", j)
	}

	// Within the lease nothing is eligible again.
	rep, err = r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run #2: %v", err)
	}
	if rep.Scanned != 0 || len(m.Sent()) != 1 {
		t.Fatalf("second run must not resend: %+v", rep)
	}
}

func TestReconciler_ConcurrentReplicasSendOnce(t *testing.T) {
	clk := &testClock{t: time.Now().UTC()}
	jobs := newFakeJobRepo(finishedJob("owed", 42, domain.JobCompleted, clk.now().Add(-time.Hour)))
	m := &fakeMessenger{delay: 50 * time.Millisecond}

	const replicas = 4
	reports := make([]ReconcileReport, replicas)
	var wg sync.WaitGroup
	for i := 0; i < replicas; i++ {
		r := newTestReconciler(jobs, m, clk, 10)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rep, err := r.Run(context.Background())
			if err != nil {
				t.Errorf("replica %d: %v", i, err)
			}
			reports[i] = rep
		}(i)
	}
	wg.Wait()

	if sent := m.Sent(); len(sent) != 1 {
		t.Fatalf("expected exactly one message across replicas, got %d", len(sent))
	}
	var sentTotal, contended int
	for _, rep := range reports {
		sentTotal += rep.Sent
		contended += rep.Contended
	}
	if sentTotal != 1 || sentTotal+contended != jobs.claimCalls {
		t.Fatalf("sent=%d contended=%d claims=%d", sentTotal, contended, jobs.claimCalls)
	}
}

func TestReconciler_StuckJobsDoNotStarveNewerOnes(t *testing.T) {
	clk := &testClock{t: time.Now().UTC()}
	base := clk.now().Add(-time.Hour)
	jobs := newFakeJobRepo(
		finishedJob("a-unbound", 7, domain.JobCompleted, base),
		finishedJob("b-owed", 42, domain.JobCompleted, base.Add(time.Minute)),
	)
	m := &fakeMessenger{}
	r := newTestReconciler(jobs, m, clk, 1)

	for i := 0; i < 3 && len(m.Sent()) == 0; i++ {
		if _, err := r.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		clk.advance(2 * time.Minute) // past the lease
	}
	if sent := m.Sent(); len(sent) != 1 || jobs.get("b-owed").NotifiedAt == nil {
		t.Fatalf("newer owed job was never delivered: sent=%+v", sent)
	}
}

func TestReconciler_GivesUpAfterMaxAttempts(t *testing.T) {
	clk := &testClock{t: time.Now().UTC()}
	old := clk.now().Add(-time.Hour)
	jobs := newFakeJobRepo(
		finishedJob("unbound", 7, domain.JobFailed, old),
		finishedJob("flaky", 42, domain.JobCompleted, old),
	)
	m := &fakeMessenger{err: errors.New("timeout")}
	r := newTestReconciler(jobs, m, clk, 10)
	r.MaxAttempts = 3

	var last ReconcileReport
	for i := 0; i < 3; i++ {
		rep, err := r.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		last = rep
		clk.advance(2 * time.Minute)
	}
	if last.Abandoned != 2 {
		t.Fatalf("expected both jobs abandoned on the last attempt: %+v", last)
	}
	for _, rid := range []string{"unbound", "flaky"} {
		if j := jobs.get(rid); j.NotifiedAt == nil || j.ReconcileAttempts != 3 {
			t.Fatalf("%s: %+v", rid, j)
		}
	}
	if rep, _ := r.Run(context.Background()); rep.Scanned != 0 {
		t.Fatalf("abandoned jobs are no longer owed: %+v", rep)
	}
}

func TestReconciler_MissingOwnerAbandonedAtOnce(t *testing.T) {
	clk := &testClock{t: time.Now().UTC()}
	jobs := newFakeJobRepo(finishedJob("orphan", 999, domain.JobCompleted, clk.now().Add(-time.Hour)))
	r := newTestReconciler(jobs, &fakeMessenger{}, clk, 10)

	rep, err := r.Run(context.Background())
	if err != nil || rep.Abandoned != 1 {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
	if jobs.get("orphan").NotifiedAt == nil {
		t.Fatalf("job of a deleted user should no longer be owed")
	}
}

func TestReconciler_SendFailureRetriedAfterLease(t *testing.T) {
	clk := &testClock{t: time.Now().UTC()}
	jobs := newFakeJobRepo(finishedJob("r", 42, domain.JobCompleted, clk.now().Add(-time.Hour)))
	m := &fakeMessenger{err: errors.New("timeout")}
	r := newTestReconciler(jobs, m, clk, 10)

	rep, err := r.Run(context.Background())
	if err != nil || rep.Failed != 1 {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
	if jobs.get("r").NotifiedAt != nil {
		t.Fatalf("transient failure must leave the job owed")
	}

	m.err = nil
	if rep, _ = r.Run(context.Background()); rep.Scanned != 0 {
		t.Fatalf("claimed job must wait for its lease: %+v", rep)
	}
	clk.advance(2 * time.Minute)
	rep, err = r.Run(context.Background())
	if err != nil || rep.Sent != 1 {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
}

func TestReconciler_UndeliverableIsAbandoned(t *testing.T) {
	clk := &testClock{t: time.Now().UTC()}
	jobs := newFakeJobRepo(finishedJob("r", 42, domain.JobCompleted, clk.now().Add(-time.Hour)))
	m := &fakeMessenger{err: fmt.Errorf("telegram: bot was blocked: %w", ErrUndeliverable)}
	r := newTestReconciler(jobs, m, clk, 10)

	rep, err := r.Run(context.Background())
	if err != nil || rep.Abandoned != 1 {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
	if jobs.get("r").NotifiedAt == nil {
		t.Fatalf("undeliverable job should no longer be owed")
	}
}

func TestReconciler_ClaimErrorCountsAsFailed(t *testing.T) {
	clk := &testClock{t: time.Now().UTC()}
	jobs := newFakeJobRepo(finishedJob("r", 42, domain.JobCompleted, clk.now().Add(-time.Hour)))
	jobs.claimErr = errors.New("db down")
	m := &fakeMessenger{}
	r := newTestReconciler(jobs, m, clk, 10)

	rep, err := r.Run(context.Background())
	if err != nil || rep.Failed != 1 || len(m.Sent()) != 0 {
		t.Fatalf("rep=%+v err=%v sent=%d", rep, err, len(m.Sent()))
	}
}

func TestReconciler_HungSendHitsDeadline(t *testing.T) {
	clk := &testClock{t: time.Now().UTC()}
	jobs := newFakeJobRepo(finishedJob("r", 42, domain.JobCompleted, clk.now().Add(-time.Hour)))
	r := newTestReconciler(jobs, &fakeMessenger{blocks: true}, clk, 10)
	r.Timeout = 20 * time.Millisecond

	done := make(chan ReconcileReport, 1)
	go func() {
		rep, _ := r.Run(context.Background())
		done <- rep
	}()
	select {
	case rep := <-done:
		if rep.Failed != 1 {
			t.Fatalf("expected the hung send to fail, got %+v", rep)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconcile run ignored its per-job deadline")
	}
	if jobs.get("r").NotifiedAt != nil {
		t.Fatalf("timed out job must stay owed")
	}
}

func TestReconciler_BatchAndListError(t *testing.T) {
	clk := &testClock{t: time.Now().UTC()}
	old := clk.now().Add(-time.Hour)
	jobs := newFakeJobRepo(
		finishedJob("a", 42, domain.JobCompleted, old),
		finishedJob("b", 42, domain.JobCompleted, old),
		finishedJob("c", 42, domain.JobCompleted, old),
	)
	r := newTestReconciler(jobs, &fakeMessenger{}, clk, 2)
	rep, err := r.Run(context.Background())
	if err != nil || rep.Scanned != 2 || rep.Sent != 2 {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}

	jobs.listErr = errors.New("db down")
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected list error to abort the run")
	}
}

func TestReconciler_StopsOnCancelledContext(t *testing.T) {
	clk := &testClock{t: time.Now().UTC()}
	jobs := newFakeJobRepo(finishedJob("a", 42, domain.JobCompleted, clk.now().Add(-time.Hour)))
	r := newTestReconciler(jobs, &fakeMessenger{}, clk, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
