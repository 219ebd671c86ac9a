// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RateLimiter is a process-local token bucket per identity, built on
// golang.org/x/time/rate. Session routes are keyed by the bot namespace in
// the path so one misbehaving bot replica cannot starve another; everything
// else (provider webhooks, job registration) is keyed by client IP. Idle
// buckets are swept once per TTL.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to its bucket identity.
type KeyFunc func(*gin.Context) string

// KeyByBotOrIP keys by ":bot" when the route has it ("bot:<id>"), otherwise
// by client IP ("ip:<addr>").
func KeyByBotOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if b := c.Param("bot"); b != "" {
			return "bot:" + b
		}
		return "ip:" + c.ClientIP()
	}
}

// Limits is a bucket shape: RPS tokens per second, Burst capacity.
type Limits struct {
	RPS   float64
	Burst int
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	limits Limits
	keyFn  KeyFunc
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter builds a limiter; Burst below 1 is raised to 1.
func NewRateLimiter(l Limits, keyFn KeyFunc) *RateLimiter {
	if l.Burst < 1 {
		l.Burst = 1
	}
	return &RateLimiter{
		limits:  l,
		keyFn:   keyFn,
		ttl:     10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// bucketFor returns the limiter for key, creating it on first use. Buckets
// idle for a full TTL are dropped first, so a stale key starts fresh.
func (rl *RateLimiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.ttl {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(rl.limits.RPS), rl.limits.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// Len reports the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Handler enforces the limit on every path except skip. Rejected requests
// get 429 with the too_many_requests envelope and a Retry-After in whole
// seconds until the next token.
func (rl *RateLimiter) Handler(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		now := rl.now()
		res := rl.bucketFor(rl.keyFn(c), now).ReserveN(now, 1)
		wait := res.DelayFrom(now)
		if res.OK() && wait == 0 {
			c.Next()
			return
		}
		res.CancelAt(now)

		retry := 60
		if res.OK() {
			retry = int(math.Ceil(wait.Seconds()))
		}
		rid := RequestIDFrom(c)
		if rid == "" {
			rid = c.Writer.Header().Get(requestIDHeader)
		}
		SetErrorCode(c, "too_many_requests")
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": rid,
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
