package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	// DefaultBackoffFactor shrinks the rate on each 429.
	DefaultBackoffFactor = 0.8

	// DefaultRecoveryFactor grows the rate after sustained success.
	DefaultRecoveryFactor = 1.1

	// successesBeforeRecovery is how many consecutive successes earn one
	// recovery step.
	successesBeforeRecovery = 3
)

// AdaptiveConfig bounds the adaptive limiter's rate excursions.
type AdaptiveConfig struct {
	BaseRate       float64
	MinRate        float64
	MaxRate        float64
	BackoffFactor  float64 // < 1
	RecoveryFactor float64 // > 1
}

// AdaptiveLimiter wraps a token bucket and adjusts its rate from observed
// upstream behaviour: 429s shrink the rate multiplicatively, streaks of
// successes grow it back toward MaxRate.
type AdaptiveLimiter struct {
	bucket *Limiter
	cfg    AdaptiveConfig

	mu             sync.Mutex
	currentRate    float64
	consecutive429 int
	consecutiveOK  int
	total429       int64
}

// NewAdaptiveLimiter creates an adaptive limiter starting at BaseRate.
func NewAdaptiveLimiter(cfg AdaptiveConfig) *AdaptiveLimiter {
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = DefaultRate
	}
	if cfg.MinRate <= 0 {
		cfg.MinRate = cfg.BaseRate / 10
	}
	if cfg.MaxRate <= 0 {
		cfg.MaxRate = cfg.BaseRate * 3
	}
	if cfg.BackoffFactor <= 0 || cfg.BackoffFactor >= 1 {
		cfg.BackoffFactor = DefaultBackoffFactor
	}
	if cfg.RecoveryFactor <= 1 {
		cfg.RecoveryFactor = DefaultRecoveryFactor
	}
	return &AdaptiveLimiter{
		bucket:      NewLimiter(cfg.BaseRate, DefaultCapacity),
		cfg:         cfg,
		currentRate: cfg.BaseRate,
	}
}

// Acquire blocks until the wrapped bucket admits the caller.
func (a *AdaptiveLimiter) Acquire(ctx context.Context) error {
	return a.bucket.Acquire(ctx)
}

// TryAcquire takes a token if available, without blocking.
func (a *AdaptiveLimiter) TryAcquire() bool { return a.bucket.TryAcquire() }

// Delay reports the current advisory wait.
func (a *AdaptiveLimiter) Delay() time.Duration { return a.bucket.Delay() }

// OnSuccess records a successful upstream response. Every third
// consecutive success multiplies the rate by RecoveryFactor, clamped to
// MaxRate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecutive429 = 0
	a.consecutiveOK++
	if a.consecutiveOK < successesBeforeRecovery {
		return
	}
	a.consecutiveOK = 0
	a.currentRate = math.Min(a.currentRate*a.cfg.RecoveryFactor, a.cfg.MaxRate)
	a.bucket.SetRate(a.currentRate)
}

// On429 records upstream pushback. The rate shrinks by
// BackoffFactor^consecutive429, clamped to MinRate. retryAfter is the
// server's hint; it is recorded but the bucket's own pacing governs.
func (a *AdaptiveLimiter) On429(retryAfter time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecutiveOK = 0
	a.consecutive429++
	a.total429++
	factor := math.Pow(a.cfg.BackoffFactor, float64(a.consecutive429))
	a.currentRate = math.Max(a.currentRate*factor, a.cfg.MinRate)
	a.bucket.SetRate(a.currentRate)
}

// CurrentRate returns the adapted refill rate.
func (a *AdaptiveLimiter) CurrentRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// Stats returns bucket counters plus adaptation state.
func (a *AdaptiveLimiter) Stats() map[string]any {
	stats := a.bucket.Stats()
	a.mu.Lock()
	defer a.mu.Unlock()
	stats["current_rate"] = a.currentRate
	stats["base_rate"] = a.cfg.BaseRate
	stats["consecutive_429"] = a.consecutive429
	stats["total_429"] = a.total429
	return stats
}

var _ Gate = (*AdaptiveLimiter)(nil)
