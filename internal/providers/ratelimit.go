package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces preview calls to a provider's requests-per-minute
// budget. The bucket holds one minute of requests and refills continuously.
// After a 429 the limiter pauses every caller until the provider's
// retry-after has passed.
type RateLimiter struct {
	mu sync.Mutex

	rpm    int
	tokens float64
	last   time.Time
	paused time.Time

	taken     int64
	throttled int64
}

// LimiterStats is a snapshot of a limiter.
type LimiterStats struct {
	Limit     int       `json:"limit"`
	Available int       `json:"available"`
	Taken     int64     `json:"taken"`
	Throttled int64     `json:"throttled"`
	PausedTo  time.Time `json:"paused_until,omitempty"`
}

// NewRateLimiter creates a limiter; a non-positive rpm means 60.
func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	return &RateLimiter{rpm: rpm, tokens: float64(rpm), last: time.Now()}
}

// Wait blocks until a request may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		delay := r.reserve(time.Now())
		if delay == 0 {
			return nil
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// TryTake takes a token if one is available right now.
func (r *RateLimiter) TryTake() bool {
	return r.reserve(time.Now()) == 0
}

// reserve takes a token and returns zero, or returns how long to wait
// before trying again.
func (r *RateLimiter) reserve(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Before(r.paused) {
		return r.paused.Sub(now)
	}
	r.refill(now)
	if r.tokens >= 1 {
		r.tokens--
		r.taken++
		return 0
	}
	perToken := time.Minute / time.Duration(r.rpm)
	return time.Duration((1 - r.tokens) * float64(perToken))
}

// Pause stops all callers for d and empties the bucket. Provider clients
// call it on 429 responses.
func (r *RateLimiter) Pause(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.throttled++
	r.tokens = 0
	if until := time.Now().Add(d); until.After(r.paused) {
		r.paused = until
	}
}

// Stats returns the current limiter state.
func (r *RateLimiter) Stats() LimiterStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill(time.Now())
	return LimiterStats{
		Limit:     r.rpm,
		Available: int(r.tokens),
		Taken:     r.taken,
		Throttled: r.throttled,
		PausedTo:  r.paused,
	}
}

// refill must be called with mu held.
func (r *RateLimiter) refill(now time.Time) {
	if elapsed := now.Sub(r.last); elapsed > 0 {
		r.tokens += elapsed.Minutes() * float64(r.rpm)
		r.tokens = min(r.tokens, float64(r.rpm))
	}
	r.last = now
}
