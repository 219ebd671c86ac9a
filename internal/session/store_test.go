package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTTL = time.Minute

// backend is a Store under test plus a way to move its clock forward.
type backend struct {
	store   Store
	advance func(time.Duration)
}

func newRedisBackend(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	opts = append([]Option{WithTTL(testTTL, testTTL), WithLogger(zerolog.Nop())}, opts...)
	s := NewRedisStore(client, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func backends(t *testing.T) map[string]func(t *testing.T) backend {
	return map[string]func(t *testing.T) backend{
		"redis": func(t *testing.T) backend {
			s, mr := newRedisBackend(t)
			return backend{store: s, advance: mr.FastForward}
		},
		"redis-optimistic": func(t *testing.T) backend {
			s, mr := newRedisBackend(t, WithOptimisticUpdates(0))
			return backend{store: s, advance: mr.FastForward}
		},
		"memory": func(t *testing.T) backend {
			now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			var mu sync.Mutex
			s := NewMemoryStore(testTTL, testTTL).WithClock(func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				return now
			})
			return backend{store: s, advance: func(d time.Duration) {
				mu.Lock()
				now = now.Add(d)
				mu.Unlock()
			}}
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	k := Key{BotID: 1, ChatID: 2, UserID: 3}

	for name, mk := range backends(t) {
		t.Run(name+"/missing key reads empty", func(t *testing.T) {
			b := mk(t)
			st, ok, err := b.store.GetState(ctx, k)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, st)

			data, err := b.store.GetData(ctx, k)
			require.NoError(t, err)
			assert.NotNil(t, data)
			assert.Empty(t, data)
		})

		t.Run(name+"/set state is idempotent", func(t *testing.T) {
			b := mk(t)
			for i := 0; i < 2; i++ {
				require.NoError(t, b.store.SetState(ctx, k, StrPtr("menu")))
			}
			st, ok, err := b.store.GetState(ctx, k)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "menu", st)
		})

		t.Run(name+"/nil state deletes", func(t *testing.T) {
			b := mk(t)
			require.NoError(t, b.store.SetState(ctx, k, StrPtr("x")))
			require.NoError(t, b.store.SetState(ctx, k, nil))
			_, ok, err := b.store.GetState(ctx, k)
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run(name+"/ttl expires and write refreshes", func(t *testing.T) {
			b := mk(t)
			require.NoError(t, b.store.SetState(ctx, k, StrPtr("x")))
			require.NoError(t, b.store.SetData(ctx, k, map[string]any{"a": "b"}))

			b.advance(testTTL - 10*time.Second)
			st, ok, err := b.store.GetState(ctx, k)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "x", st)

			// Sliding expiry: rewrite state only, data keeps its own clock.
			require.NoError(t, b.store.SetState(ctx, k, StrPtr("y")))
			b.advance(20 * time.Second)

			st, ok, err = b.store.GetState(ctx, k)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "y", st)

			data, err := b.store.GetData(ctx, k)
			require.NoError(t, err)
			assert.Empty(t, data, "data should have expired independently of state")

			b.advance(testTTL)
			_, ok, err = b.store.GetState(ctx, k)
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run(name+"/empty data deletes", func(t *testing.T) {
			b := mk(t)
			require.NoError(t, b.store.SetData(ctx, k, map[string]any{"a": 1}))
			require.NoError(t, b.store.SetData(ctx, k, map[string]any{}))
			data, err := b.store.GetData(ctx, k)
			require.NoError(t, err)
			assert.Empty(t, data)
		})

		t.Run(name+"/set data replaces whole bag", func(t *testing.T) {
			b := mk(t)
			require.NoError(t, b.store.SetData(ctx, k, map[string]any{"a": 1, "b": 2}))
			require.NoError(t, b.store.SetData(ctx, k, map[string]any{"c": 3}))
			data, err := b.store.GetData(ctx, k)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"c": float64(3)}, data)
		})

		t.Run(name+"/update merges last write wins", func(t *testing.T) {
			b := mk(t)
			require.NoError(t, b.store.SetData(ctx, k, map[string]any{"a": 1, "b": 2}))
			merged, err := b.store.UpdateData(ctx, k, map[string]any{"b": 20, "c": 30})
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"a": float64(1), "b": 20, "c": 30}, merged)

			data, err := b.store.GetData(ctx, k)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"a": float64(1), "b": float64(20), "c": float64(30)}, data)
		})

		t.Run(name+"/update on empty with empty partial stays empty", func(t *testing.T) {
			b := mk(t)
			merged, err := b.store.UpdateData(ctx, k, map[string]any{})
			require.NoError(t, err)
			assert.Empty(t, merged)
		})

		t.Run(name+"/photo collection flow", func(t *testing.T) {
			b := mk(t)
			require.NoError(t, b.store.SetState(ctx, k, StrPtr("awaiting_photo")))
			_, err := b.store.UpdateData(ctx, k, map[string]any{"photos": []string{"p1"}})
			require.NoError(t, err)
			_, err = b.store.UpdateData(ctx, k, map[string]any{"photos": []string{"p1", "p2"}})
			require.NoError(t, err)

			data, err := b.store.GetData(ctx, k)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"photos": []any{"p1", "p2"}}, data)
		})

		t.Run(name+"/keys are isolated", func(t *testing.T) {
			b := mk(t)
			other := k
			other.ThreadID = 9
			require.NoError(t, b.store.SetState(ctx, k, StrPtr("a")))
			_, ok, err := b.store.GetState(ctx, other)
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run(name+"/unencodable data is rejected", func(t *testing.T) {
			b := mk(t)
			err := b.store.SetData(ctx, k, map[string]any{"ch": make(chan int)})
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrUnavailable))
		})

		t.Run(name+"/close is idempotent", func(t *testing.T) {
			b := mk(t)
			require.NoError(t, b.store.Close())
			_ = b.store.Close()
		})
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	k := Key{BotID: 1, ChatID: 1, UserID: 1}
	s := NewMemoryStore(time.Hour, time.Hour)

	require.NoError(t, s.SetState(ctx, k, StrPtr("x")))
	require.NoError(t, s.SetData(ctx, k, map[string]any{"a": 1}))
	require.NoError(t, Clear(ctx, s, k))

	_, ok, err := s.GetState(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
	data, err := s.GetData(ctx, k)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestMemoryStore_ClosedIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour, time.Hour)
	require.NoError(t, s.Close())

	_, _, err := s.GetState(ctx, Key{})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = s.GetData(ctx, Key{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.SetState(ctx, Key{}, StrPtr("x")), ErrUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
}
