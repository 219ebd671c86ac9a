package session

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrUnavailable wraps backend connectivity failures. Callers must not treat
// it as an empty session.
var ErrUnavailable = errors.New("session store unavailable")

// Store is the conversational session contract shared by all backends.
//
// Reads have no side effects. Writes reset the TTL of the key they touch.
// Expired and missing records are indistinguishable.
type Store interface {
	// GetState returns the state label; ok is false when none is stored.
	GetState(ctx context.Context, key Key) (state string, ok bool, err error)
	// SetState stores state, or deletes it when state is nil.
	SetState(ctx context.Context, key Key, state *string) error
	// GetData returns the data bag, empty (never nil) when absent or unreadable.
	GetData(ctx context.Context, key Key) (map[string]any, error)
	// SetData replaces the data bag; an empty bag deletes it.
	SetData(ctx context.Context, key Key, data map[string]any) error
	// UpdateData merges partial into the stored bag (last write wins per
	// field) and returns the merged result.
	UpdateData(ctx context.Context, key Key, partial map[string]any) (map[string]any, error)
	// Close releases backend resources. Safe to call more than once.
	Close() error
}

// Pinger is implemented by stores that can report backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Clear removes both parts of the session.
func Clear(ctx context.Context, s Store, key Key) error {
	if err := s.SetState(ctx, key, nil); err != nil {
		return err
	}
	return s.SetData(ctx, key, nil)
}

// StrPtr is a convenience for SetState callers.
func StrPtr(s string) *string { return &s }

var opsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "session_store_ops_total",
		Help: "Session store operations by operation and result.",
	},
	[]string{"op", "result"},
)

func init() {
	prometheus.MustRegister(opsTotal)
}

// observe records op with a result label derived from err.
func observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrUnavailable):
		result = "unavailable"
	default:
		result = "error"
	}
	opsTotal.WithLabelValues(op, result).Inc()
}

// merge copies partial over a copy of base.
func merge(base, partial map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(partial))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}
