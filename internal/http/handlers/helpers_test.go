package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aisha-bot/aisha-backend/internal/domain"
	"github.com/aisha-bot/aisha-backend/internal/http/middleware"
	"github.com/aisha-bot/aisha-backend/internal/repo"
	"github.com/aisha-bot/aisha-backend/internal/services"
)

// ---------- test DB ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, telegramID int64, chatID *int64, lang string) *domain.User {
	t.Helper()
	u, err := repo.UpsertUser(context.Background(), db, telegramID, chatID, "tester", lang)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func i64(v int64) *int64 { return &v }

// ---------- stubs ----------

type stubNotifier struct {
	mu    sync.Mutex
	calls []services.WebhookEvent
	out   services.Outcome
	err   error
	ctxOK bool
}

func (s *stubNotifier) HandleEvent(ctx context.Context, ev services.WebhookEvent) (services.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ev)
	_, hasDeadline := ctx.Deadline()
	s.ctxOK = hasDeadline && ctx.Err() == nil
	return s.out, s.err
}

type stubQueue struct {
	mu  sync.Mutex
	got []services.WebhookEvent
	err error
	// blocks makes Enqueue wait for ctx like an unreachable broker.
	blocks bool
}

func (q *stubQueue) Enqueue(ctx context.Context, ev services.WebhookEvent) error {
	if q.blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.got = append(q.got, ev)
	return nil
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (m *recordingMessenger) SendMessage(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = map[int64][]string{}
	}
	m.sent[chatID] = append(m.sent[chatID], text)
	return nil
}

// ---------- router + request helpers ----------

func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.POST("/webhook/job-status", h.JobStatusWebhook)
	r.POST("/jobs", h.CreateJob)
	r.GET("/users/:id/jobs", h.ListUserJobs)
	s := r.Group("/sessions/:bot/:chat/:user")
	s.GET("/state", h.GetState)
	s.PUT("/state", h.SetState)
	s.DELETE("/state", h.DeleteState)
	s.GET("/data", h.GetData)
	s.PUT("/data", h.SetData)
	s.PATCH("/data", h.UpdateData)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, w.Body.String())
	}
	return v
}
