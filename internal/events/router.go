package events

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/pkg/errors"
)

// RouterOptions tunes the consumer side.
type RouterOptions struct {
	// MaxRetries is how often a failing handler is retried in-process before
	// the message is moved to the poison topic (or nacked when none is set).
	MaxRetries      int
	InitialInterval time.Duration
	// PoisonPublisher and PoisonTopic enable the poison queue.
	PoisonPublisher message.Publisher
	PoisonTopic     string
}

// NewRouter builds a watermill router with panic recovery, exponential
// in-process retries and an optional poison queue.
func NewRouter(logger watermill.LoggerAdapter, opts RouterOptions) (*message.Router, error) {
	r, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create router")
	}

	if opts.PoisonPublisher != nil && opts.PoisonTopic != "" {
		pq, err := middleware.PoisonQueue(opts.PoisonPublisher, opts.PoisonTopic)
		if err != nil {
			return nil, errors.Wrap(err, "create poison queue")
		}
		r.AddMiddleware(pq)
	}

	interval := opts.InitialInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	retry := middleware.Retry{
		MaxRetries:      opts.MaxRetries,
		InitialInterval: interval,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Logger:          logger,
	}
	r.AddMiddleware(retry.Middleware, middleware.Recoverer)
	return r, nil
}
