package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-replica dev runs.
// Data is kept JSON-encoded so reads behave exactly like RedisStore (numbers
// come back as float64, values are never aliased).
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memEntry
	prefix   string
	stateTTL time.Duration
	dataTTL  time.Duration
	now      func() time.Time
	closed   bool
}

type memEntry struct {
	val     []byte
	expires time.Time // zero means no expiry
}

// NewMemoryStore returns an empty store with the given TTLs.
func NewMemoryStore(stateTTL, dataTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:  map[string]memEntry{},
		prefix:   DefaultPrefix,
		stateTTL: stateTTL,
		dataTTL:  dataTTL,
		now:      time.Now,
	}
}

// WithClock replaces the time source; intended for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *MemoryStore) get(k string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	e, ok := m.entries[k]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, k)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (m *MemoryStore) put(k string, v []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	if v == nil {
		delete(m.entries, k)
		return nil
	}
	e := memEntry{val: v}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[k] = e
	return nil
}

// GetState implements Store.
func (m *MemoryStore) GetState(_ context.Context, key Key) (string, bool, error) {
	v, ok, err := m.get(key.String(m.prefix, PartState))
	observe("get_state", err)
	if err != nil || !ok {
		return "", false, err
	}
	return string(v), true, nil
}

// SetState implements Store.
func (m *MemoryStore) SetState(_ context.Context, key Key, state *string) error {
	var v []byte
	if state != nil {
		v = []byte(*state)
	}
	err := m.put(key.String(m.prefix, PartState), v, m.stateTTL)
	observe("set_state", err)
	return err
}

// GetData implements Store.
func (m *MemoryStore) GetData(_ context.Context, key Key) (map[string]any, error) {
	v, ok, err := m.get(key.String(m.prefix, PartData))
	observe("get_data", err)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if ok {
		if err := json.Unmarshal(v, &out); err != nil || out == nil {
			out = map[string]any{}
		}
	}
	return out, nil
}

// SetData implements Store.
func (m *MemoryStore) SetData(_ context.Context, key Key, data map[string]any) error {
	var v []byte
	if len(data) > 0 {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode session data: %w", err)
		}
		v = b
	}
	err := m.put(key.String(m.prefix, PartData), v, m.dataTTL)
	observe("set_data", err)
	return err
}

// UpdateData implements Store. The in-process mutex is released between the
// read and the write, matching RedisStore's default read-modify-write.
func (m *MemoryStore) UpdateData(ctx context.Context, key Key, partial map[string]any) (map[string]any, error) {
	cur, err := m.GetData(ctx, key)
	if err != nil {
		return nil, err
	}
	merged := merge(cur, partial)
	if err := m.SetData(ctx, key, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Ping reports ErrUnavailable once the store is closed.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	return nil
}

// Close implements Store. Every later call fails with ErrUnavailable.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
