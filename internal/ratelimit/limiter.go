// Package ratelimit implements the token-bucket admission gate for the
// arXiv upstream, with an adaptive variant that backs off on 429s.
//
// DESIGN: One bucket, one mutex. The mutex is never held across a sleep:
// Acquire reserves its token under lock (the balance may go negative while
// waiters hold reservations), releases, and sleeps out its share of the
// deficit. Reserving before sleeping keeps concurrent waiters from racing
// for the same refilled token. Rates are tokens per second; the default
// matches the upstream operator's published limit of one request per three
// seconds.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultRate is one request per three seconds.
	DefaultRate = 0.33

	// DefaultCapacity disallows bursts.
	DefaultCapacity = 1.0
)

// Gate is the admission interface the API client depends on.
type Gate interface {
	// Acquire blocks until a token is available or ctx is done.
	Acquire(ctx context.Context) error

	// TryAcquire takes a token if one is available. Never sleeps.
	TryAcquire() bool

	// Delay reports how long Acquire would block right now. Advisory.
	Delay() time.Duration
}

// Limiter is a token-bucket rate limiter.
type Limiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	capacity   float64
	tokens     float64
	lastUpdate time.Time

	acquired int64
	waited   int64
}

// NewLimiter creates a bucket with the given refill rate and capacity.
// Non-positive inputs fall back to the defaults.
func NewLimiter(rate, capacity float64) *Limiter {
	if rate <= 0 {
		rate = DefaultRate
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Limiter{
		rate:       rate,
		capacity:   capacity,
		tokens:     capacity,
		lastUpdate: time.Now(),
	}
}

// advance refills tokens for elapsed time. Caller holds mu.
func (l *Limiter) advance(now time.Time) {
	elapsed := now.Sub(l.lastUpdate).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.rate
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
		l.lastUpdate = now
	}
}

// Acquire blocks the caller until its token is refilled. The token is
// reserved up front, so concurrent waiters each sleep out their own slice
// of the deficit instead of racing for the next refill. It sleeps at most
// once.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.advance(time.Now())
	l.tokens--
	l.acquired++
	if l.tokens >= 0 {
		l.mu.Unlock()
		return nil
	}
	wait := time.Duration(-l.tokens / l.rate * float64(time.Second))
	l.waited++
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// Hand the reservation back so later callers do not pay for an
		// admission that never happened.
		l.mu.Lock()
		l.advance(time.Now())
		l.tokens++
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
		l.acquired--
		l.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TryAcquire takes a token if one is available, without blocking.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advance(time.Now())
	if l.tokens >= 1 {
		l.tokens--
		l.acquired++
		return true
	}
	return false
}

// Delay reports how long Acquire would block right now.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advance(time.Now())
	if l.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
}

// SetRate changes the refill rate. Pending tokens are preserved.
func (l *Limiter) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advance(time.Now())
	l.rate = rate
}

// Rate returns the current refill rate.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Stats returns diagnostic counters.
func (l *Limiter) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]any{
		"rate":     l.rate,
		"capacity": l.capacity,
		"tokens":   l.tokens,
		"acquired": l.acquired,
		"waited":   l.waited,
	}
}

var _ Gate = (*Limiter)(nil)
