package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/config"
)

// Policy is a fixed-window request budget
type Policy struct {
	Window      time.Duration
	MaxRequests int
}

// PolicyFromConfig converts a configured budget
func PolicyFromConfig(p config.PolicyConfig) Policy {
	return Policy{Window: p.Window, MaxRequests: p.MaxRequests}
}

// Entry is the counter state of one key inside its current window
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Store keeps window counters. Hit must increment and compare in a single
// atomic step: it starts a new window {1, now+window} when the key is absent
// or now >= ResetAt, rejects without touching the entry when Count has
// reached max, and increments otherwise.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, p Policy) (entry Entry, allowed bool, err error)
}

// Result is a throttling decision
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Headers returns the X-RateLimit-* response headers
func (r Result) Headers() map[string]string {
	return map[string]string{
		cnst.HeaderRateLimit:     strconv.Itoa(r.Limit),
		cnst.HeaderRateRemaining: strconv.Itoa(r.Remaining),
		cnst.HeaderRateReset:     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
}

// RetryAfter is the number of whole seconds until the window resets, at least 1
func (r Result) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// Limiter applies fixed-window policies per (bucket, key)
type Limiter struct {
	store Store
	now   func() time.Time
}

// New creates a limiter on top of store
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the limiter's current time
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Check counts one request of key against the bucket's policy
func (l *Limiter) Check(ctx context.Context, bucket, key string, p Policy) (Result, error) {
	if p.Window <= 0 || p.MaxRequests <= 0 {
		return Result{}, fmt.Errorf("invalid policy for bucket %s: window=%s max=%d", bucket, p.Window, p.MaxRequests)
	}

	entry, allowed, err := l.store.Hit(ctx, bucket+":"+key, l.now(), p)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit store: %w", err)
	}

	remaining := p.MaxRequests - entry.Count
	if remaining < 0 || !allowed {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Limit:     p.MaxRequests,
		Remaining: remaining,
		ResetAt:   entry.ResetAt,
	}, nil
}
