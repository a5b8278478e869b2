// Package ratelimit implements fixed-window event counting on the shared store.
//
// Each window is a single counter key, so a check is one atomic increment.
// A burst straddling a window boundary can reach twice the limit.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/store"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	RetryAfter int // seconds until the current window ends; set when denied
	Remaining  int
	Window     models.RateLimitWindow
}

// Limiter counts events per key in fixed windows.
type Limiter struct {
	kv  store.KV
	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a Limiter backed by kv.
func NewLimiter(kv store.KV, opts ...Option) *Limiter {
	l := &Limiter{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// windowKey returns the counter key for the window containing now.
func windowKey(key string, bucket int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}

// Check records one event for key and reports whether it fits in
// maxEvents per window.
func (l *Limiter) Check(ctx context.Context, key string, maxEvents int, window time.Duration) (Result, error) {
	if window <= 0 {
		return Result{}, fmt.Errorf("ratelimit: window must be positive, got %s", window)
	}

	now := l.now()
	bucket := now.UnixNano() / int64(window)
	start := time.Unix(0, bucket*int64(window))

	// Older windows expire on their own.
	count, err := l.kv.Incr(ctx, windowKey(key, bucket), 2*window)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Allowed: count <= int64(maxEvents),
		Window: models.RateLimitWindow{
			Key:         key,
			WindowStart: start,
			Count:       count,
		},
	}
	if res.Allowed {
		res.Remaining = maxEvents - int(count)
		return res, nil
	}

	res.RetryAfter = retryAfter(start.Add(window).Sub(now))
	return res, nil
}

// retryAfter rounds the remaining time up to whole seconds, at least one.
func retryAfter(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
