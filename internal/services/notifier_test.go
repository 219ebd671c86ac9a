package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aisha-bot/aisha-backend/internal/domain"
)

const testChat int64 = 555666

func newTestNotifier(jobs *fakeJobRepo, m *fakeMessenger) *NotifierService {
	users := &fakeUserRepo{users: map[uint64]domain.User{
		42: {ID: 42, TelegramID: 4242, ChatID: i64(testChat), LanguageCode: "en"},
		7:  {ID: 7, TelegramID: 77, LanguageCode: "ru"}, // no chat binding
		8:  {ID: 8, TelegramID: 88, ChatID: i64(888), LanguageCode: "ru"},
	}}
	return NewNotifierService(nil, jobs, users, m, NewMessages("ru"))
}

func pendingJob(requestID string, userID uint64) domain.Job {
	return domain.Job{ID: "id-" + requestID, RequestID: requestID, UserID: userID, ResourceName: "Anna", Kind: domain.KindAvatar, Status: domain.JobPending}
}

func TestHandleEvent_CompletedSendsOnce(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-123", 42))
	m := &fakeMessenger{}
	s := newTestNotifier(jobs, m)

	out, err := s.HandleEvent(context.Background(), WebhookEvent{Status: "completed", RequestID: "job-123"})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if !out.Delivered || out.Reason != ReasonSent {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	sent := m.Sent()
	if len(sent) != 1 || sent[0].ChatID != testChat {
		t.Fatalf("expected one message to %d, got %+v", testChat, sent)
	}
	if !strings.Contains(sent[0].Text, "Anna") || !strings.Contains(sent[0].Text, "ready") {
		t.Fatalf("expected english completion copy, got %q", sent[0].Text)
	}
	j := jobs.get("job-123")
	if j.Status != domain.JobCompleted || j.NotifiedAt == nil {
		t.Fatalf("expected COMPLETED and notified, got %+v", j)
	}

	// Second delivery of the same webhook is a no-op.
	out, err = s.HandleEvent(context.Background(), WebhookEvent{Status: "completed", RequestID: "job-123"})
	if err != nil {
		t.Fatalf("HandleEvent #2: %v", err)
	}
	if out.Delivered || out.Reason != ReasonDuplicate {
		t.Fatalf("expected duplicate, got %+v", out)
	}
	if n := len(m.Sent()); n != 1 {
		t.Fatalf("expected still one message, got %d", n)
	}
}

func TestHandleEvent_UnknownRequestID(t *testing.T) {
	jobs := newFakeJobRepo()
	m := &fakeMessenger{}
	s := newTestNotifier(jobs, m)

	out, err := s.HandleEvent(context.Background(), WebhookEvent{Status: "completed", RequestID: "ghost"})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if out.Delivered || out.Reason != ReasonUnresolved {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if jobs.casCalls != 0 || jobs.markCalls != 0 || len(m.Sent()) != 0 {
		t.Fatalf("expected no writes and no messages: cas=%d mark=%d sent=%d", jobs.casCalls, jobs.markCalls, len(m.Sent()))
	}
}

func TestHandleEvent_InvalidEvents(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("r", 42))
	s := newTestNotifier(jobs, &fakeMessenger{})

	for _, ev := range []WebhookEvent{
		{Status: "completed", RequestID: ""},
		{Status: "completed", RequestID: "   "},
		{Status: "exploded", RequestID: "r"},
		{Status: "", RequestID: "r"},
	} {
		if _, err := s.HandleEvent(context.Background(), ev); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("%+v: expected ErrInvalidEvent, got %v", ev, err)
		}
	}
	if jobs.casCalls != 0 {
		t.Fatalf("invalid events must not reach the store")
	}
}

func TestHandleEvent_NonTerminalIgnored(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("r", 42))
	m := &fakeMessenger{}
	s := newTestNotifier(jobs, m)

	for _, st := range []string{"in_progress", "IN_QUEUE", "queued", "pending"} {
		out, err := s.HandleEvent(context.Background(), WebhookEvent{Status: st, RequestID: "r"})
		if err != nil || out.Reason != ReasonNotTerminal {
			t.Fatalf("%s: out=%+v err=%v", st, out, err)
		}
	}
	if jobs.get("r").Status != domain.JobPending || len(m.Sent()) != 0 {
		t.Fatalf("non-terminal statuses must not change anything")
	}
}

func TestHandleEvent_NoChatBindingLeavesJobPending(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("r", 7))
	m := &fakeMessenger{}
	s := newTestNotifier(jobs, m)

	out, err := s.HandleEvent(context.Background(), WebhookEvent{Status: "completed", RequestID: "r"})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if out.Delivered || out.Reason != ReasonNoChatBinding {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if jobs.get("r").Status != domain.JobPending || len(m.Sent()) != 0 {
		t.Fatalf("job should stay PENDING with no message")
	}
}

func TestHandleEvent_OwnerMissingCountsAsNoBinding(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("r", 999))
	s := newTestNotifier(jobs, &fakeMessenger{})
	out, err := s.HandleEvent(context.Background(), WebhookEvent{Status: "failed", RequestID: "r"})
	if err != nil || out.Reason != ReasonNoChatBinding {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestHandleEvent_FailedUsesUserLanguage(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("r", 8))
	m := &fakeMessenger{}
	s := newTestNotifier(jobs, m)

	out, err := s.HandleEvent(context.Background(), WebhookEvent{Status: "ERROR", RequestID: "r"})
	if err != nil || out.Reason != ReasonSent {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if jobs.get("r").Status != domain.JobFailed {
		t.Fatalf("expected FAILED")
	}
	sent := m.Sent()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "не удалось") {
		t.Fatalf("expected russian failure copy, got %+v", sent)
	}
}

func TestHandleEvent_CancelledNoMessage(t *testing.T) {
	// User 7 has no binding; cancellation must still be recorded.
	jobs := newFakeJobRepo(pendingJob("r", 7))
	m := &fakeMessenger{}
	s := newTestNotifier(jobs, m)

	out, err := s.HandleEvent(context.Background(), WebhookEvent{Status: "canceled", RequestID: "r"})
	if err != nil || out.Reason != ReasonCancelled || out.Delivered {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if jobs.get("r").Status != domain.JobCancelled || len(m.Sent()) != 0 {
		t.Fatalf("expected CANCELLED and no message")
	}
}

func TestHandleEvent_DeliveryFailureKeepsTransition(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("r", 42))
	m := &fakeMessenger{err: errors.New("telegram down")}
	s := newTestNotifier(jobs, m)

	out, err := s.HandleEvent(context.Background(), WebhookEvent{Status: "completed", RequestID: "r"})
	if err != nil {
		t.Fatalf("delivery failure is a domain outcome, got err %v", err)
	}
	if out.Delivered || out.Reason != ReasonDeliveryFailed {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	j := jobs.get("r")
	if j.Status != domain.JobCompleted || j.NotifiedAt != nil {
		t.Fatalf("transition must stay, marker must not be set: %+v", j)
	}
}

func TestDeliver_MissingCopyIsDeliveryFailure(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-x", 42))
	m := &fakeMessenger{}
	s := newTestNotifier(jobs, m)

	// No copy exists for a status that never notifies.
	job := jobs.get("job-x")
	job.Status = domain.JobCancelled
	out := s.deliver(context.Background(), zerolog.Nop(), &job, testChat, "en")

	if out.Reason != ReasonDeliveryFailed || out.Delivered {
		t.Fatalf("expected delivery_failed, got %+v", out)
	}
	if len(m.Sent()) != 0 || jobs.markCalls != 0 {
		t.Fatalf("nothing may be sent or marked: sent=%d marks=%d", len(m.Sent()), jobs.markCalls)
	}
}

func TestHandleEvent_HungDatabaseHitsCallerDeadline(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-h", 42))
	jobs.findBlocks = true
	s := newTestNotifier(jobs, &fakeMessenger{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.HandleEvent(ctx, WebhookEvent{Status: "completed", RequestID: "job-h"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestHandleEvent_InfraErrorsPropagate(t *testing.T) {
	boom := errors.New("db down")

	jobs := newFakeJobRepo(pendingJob("r", 42))
	jobs.findErr = boom
	if _, err := newTestNotifier(jobs, &fakeMessenger{}).HandleEvent(context.Background(), WebhookEvent{Status: "ok", RequestID: "r"}); !errors.Is(err, boom) {
		t.Fatalf("find: expected boom, got %v", err)
	}

	jobs = newFakeJobRepo(pendingJob("r", 42))
	jobs.casErr = boom
	m := &fakeMessenger{}
	if _, err := newTestNotifier(jobs, m).HandleEvent(context.Background(), WebhookEvent{Status: "ok", RequestID: "r"}); !errors.Is(err, boom) {
		t.Fatalf("cas: expected boom, got %v", err)
	}
	if len(m.Sent()) != 0 {
		t.Fatalf("no message may be sent when the transition failed")
	}

	jobs = newFakeJobRepo(pendingJob("r", 42))
	s := newTestNotifier(jobs, &fakeMessenger{})
	s.Users = &fakeUserRepo{err: boom}
	if _, err := s.HandleEvent(context.Background(), WebhookEvent{Status: "ok", RequestID: "r"}); !errors.Is(err, boom) {
		t.Fatalf("binding: expected boom, got %v", err)
	}
}

func TestHandleEvent_MarkNotifiedFailureStillDelivered(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("r", 42))
	jobs.markErr = errors.New("marker write failed")
	m := &fakeMessenger{}
	out, err := newTestNotifier(jobs, m).HandleEvent(context.Background(), WebhookEvent{Status: "succeeded", RequestID: "r"})
	if err != nil || !out.Delivered {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestHandleEvent_ConcurrentDeliveriesSendExactlyOnce(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("race", 42))
	m := &fakeMessenger{delay: 5 * time.Millisecond}
	s := newTestNotifier(jobs, m)

	const n = 32
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		mu    sync.Mutex
		sent  int
		dups  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := s.HandleEvent(context.Background(), WebhookEvent{Status: "completed", RequestID: "race"})
			if err != nil {
				t.Errorf("HandleEvent: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch out.Reason {
			case ReasonSent:
				sent++
			case ReasonDuplicate:
				dups++
			default:
				t.Errorf("unexpected reason %q", out.Reason)
			}
		}()
	}
	close(start)
	wg.Wait()

	if sent != 1 || dups != n-1 {
		t.Fatalf("expected 1 sent and %d duplicates, got sent=%d dups=%d", n-1, sent, dups)
	}
	if got := len(m.Sent()); got != 1 {
		t.Fatalf("expected exactly one message, got %d", got)
	}
}

func TestParseProviderStatus(t *testing.T) {
	cases := map[string]struct {
		status   domain.JobStatus
		terminal bool
		ok       bool
	}{
		"completed":   {domain.JobCompleted, true, true},
		" Succeeded ": {domain.JobCompleted, true, true},
		"OK":          {domain.JobCompleted, true, true},
		"failed":      {domain.JobFailed, true, true},
		"error":       {domain.JobFailed, true, true},
		"cancelled":   {domain.JobCancelled, true, true},
		"canceled":    {domain.JobCancelled, true, true},
		"in_progress": {domain.JobPending, false, true},
		"nope":        {"", false, false},
	}
	for in, want := range cases {
		st, term, ok := ParseProviderStatus(in)
		if st != want.status || term != want.terminal || ok != want.ok {
			t.Fatalf("ParseProviderStatus(%q) = %q,%v,%v; want %+v", in, st, term, ok, want)
		}
	}
}
