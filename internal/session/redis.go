package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aisha-bot/aisha-backend/internal/config"
)

// ErrConflict is returned by an optimistic UpdateData that kept losing the
// WATCH race after all retries.
var ErrConflict = errors.New("session update conflict")

const defaultOptimisticRetries = 8

// RedisStore is the production Store. Each session part lives under its own
// key with its own expiry; data is stored as a JSON object.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	stateTTL   time.Duration
	dataTTL    time.Duration
	opTimeout  time.Duration
	optimistic bool
	retries    int
	logger     zerolog.Logger

	// afterRead runs between the read and the write of UpdateData; tests use
	// it to interleave a competing writer.
	afterRead func()

	closeOnce sync.Once
	closeErr  error
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithPrefix sets the key namespace (default "fsm").
func WithPrefix(p string) Option { return func(s *RedisStore) { s.prefix = p } }

// WithTTL sets the sliding expiry for the state and data keys.
// Non-positive values disable expiry for that part.
func WithTTL(state, data time.Duration) Option {
	return func(s *RedisStore) { s.stateTTL, s.dataTTL = state, data }
}

// WithOpTimeout bounds every backend round trip.
func WithOpTimeout(d time.Duration) Option { return func(s *RedisStore) { s.opTimeout = d } }

// WithOptimisticUpdates makes UpdateData run under WATCH/MULTI/EXEC, retrying
// up to retries times when another writer touches the data key in between.
func WithOptimisticUpdates(retries int) Option {
	return func(s *RedisStore) {
		s.optimistic = true
		if retries > 0 {
			s.retries = retries
		}
	}
}

// WithLogger overrides the global zerolog logger.
func WithLogger(l zerolog.Logger) Option { return func(s *RedisStore) { s.logger = l } }

// NewRedisStore wraps client. The store owns the client and closes it on Close.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	s := &RedisStore{
		client:   client,
		prefix:   DefaultPrefix,
		stateTTL: 24 * time.Hour,
		dataTTL:  24 * time.Hour,
		retries:  defaultOptimisticRetries,
		logger:   log.Logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewRedisStoreFromConfig dials Redis from cfg and applies the session settings.
func NewRedisStoreFromConfig(rc config.RedisConfig, sc config.SessionConfig) (*RedisStore, error) {
	client, err := NewRedisClient(rc)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithPrefix(sc.KeyPrefix),
		WithTTL(sc.StateTTL, sc.DataTTL),
		WithOpTimeout(rc.OpTimeout),
	}
	if sc.AtomicUpdates {
		opts = append(opts, WithOptimisticUpdates(0))
	}
	return NewRedisStore(client, opts...), nil
}

// NewRedisClient builds a go-redis client from REDIS_URL, or from the
// discrete host/port/db settings when no URL is configured. It does not dial.
func NewRedisClient(rc config.RedisConfig) (*redis.Client, error) {
	if rc.URL != "" {
		opts, err := redis.ParseURL(rc.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		if rc.PoolSize > 0 {
			opts.PoolSize = rc.PoolSize
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     rc.Addr(),
		Username: rc.Username,
		Password: rc.Password,
		DB:       rc.DB,
		PoolSize: rc.PoolSize,
	}), nil
}

// Client exposes the underlying client for readiness probes.
func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// GetState implements Store.
func (s *RedisStore) GetState(ctx context.Context, key Key) (state string, ok bool, err error) {
	defer func() { observe("get_state", err) }()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	v, err := s.client.Get(ctx, key.String(s.prefix, PartState)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get state", err)
	}
	return v, true, nil
}

// SetState implements Store.
func (s *RedisStore) SetState(ctx context.Context, key Key, state *string) (err error) {
	defer func() { observe("set_state", err) }()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := key.String(s.prefix, PartState)
	if state == nil {
		err = s.client.Del(ctx, k).Err()
	} else {
		err = s.client.Set(ctx, k, *state, ttlOrKeep(s.stateTTL)).Err()
	}
	if err != nil {
		return unavailable("set state", err)
	}
	return nil
}

// GetData implements Store.
func (s *RedisStore) GetData(ctx context.Context, key Key) (data map[string]any, err error) {
	defer func() { observe("get_data", err) }()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := key.String(s.prefix, PartData)
	raw, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, unavailable("get data", err)
	}
	return s.decode(k, raw), nil
}

// SetData implements Store.
func (s *RedisStore) SetData(ctx context.Context, key Key, data map[string]any) (err error) {
	defer func() { observe("set_data", err) }()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := key.String(s.prefix, PartData)
	if len(data) == 0 {
		if err := s.client.Del(ctx, k).Err(); err != nil {
			return unavailable("delete data", err)
		}
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	if err := s.client.Set(ctx, k, b, ttlOrKeep(s.dataTTL)).Err(); err != nil {
		return unavailable("set data", err)
	}
	return nil
}

// UpdateData implements Store.
//
// Without WithOptimisticUpdates this is a plain read-modify-write: two
// replicas merging different fields at the same time may lose one of the
// updates. With it, the merge is retried until it commits unobserved.
func (s *RedisStore) UpdateData(ctx context.Context, key Key, partial map[string]any) (merged map[string]any, err error) {
	if !s.optimistic {
		cur, err := s.GetData(ctx, key)
		if err != nil {
			return nil, err
		}
		if s.afterRead != nil {
			s.afterRead()
		}
		merged = merge(cur, partial)
		if err := s.SetData(ctx, key, merged); err != nil {
			return nil, err
		}
		return merged, nil
	}

	defer func() { observe("update_data", err) }()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := key.String(s.prefix, PartData)
	for attempt := 0; attempt < s.retries; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			cur := map[string]any{}
			raw, err := tx.Get(ctx, k).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				cur = s.decode(k, raw)
			}
			if s.afterRead != nil {
				s.afterRead()
			}
			merged = merge(cur, partial)

			var payload []byte
			if len(merged) > 0 {
				if payload, err = json.Marshal(merged); err != nil {
					return &encodeError{err}
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if payload == nil {
					pipe.Del(ctx, k)
				} else {
					pipe.Set(ctx, k, payload, ttlOrKeep(s.dataTTL))
				}
				return nil
			})
			return err
		}, k)

		var encErr *encodeError
		switch {
		case err == nil:
			return merged, nil
		case errors.Is(err, redis.TxFailedErr):
			s.logger.Debug().Str("key", k).Int("attempt", attempt+1).Msg("session update conflict, retrying")
			continue
		case errors.As(err, &encErr):
			return nil, fmt.Errorf("encode session data: %w", encErr.err)
		default:
			return nil, unavailable("update data", err)
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrConflict, k, s.retries)
}

// Ping reports whether Redis answers within the op timeout.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.client.Close() })
	return s.closeErr
}

// decode parses a stored data payload. Anything that is not a JSON object is
// logged and read as an empty bag.
func (s *RedisStore) decode(k string, raw []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		s.logger.Warn().Err(err).Str("key", k).Int("bytes", len(raw)).Msg("corrupted session data, treating as empty")
		return map[string]any{}
	}
	return m
}

// ttlOrKeep maps a non-positive TTL to "no expiry".
func ttlOrKeep(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d
}

type encodeError struct{ err error }

func (e *encodeError) Error() string { return e.err.Error() }
