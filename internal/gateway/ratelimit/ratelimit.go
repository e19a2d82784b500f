// Package ratelimit implements the gateway's per-(provider, model)
// token-bucket limiter, grounded on golang.org/x/time/rate the way the
// wider retrieval pack uses it for outbound request shaping.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/toka-systems/toka/internal/types"
)

// Config bounds one bucket's admitted request rate.
type Config struct {
	RequestsPerMinute float64
	Burst             int
}

// DefaultConfig returns a conservative default bucket shape.
func DefaultConfig() Config {
	return Config{RequestsPerMinute: 60, Burst: 5}
}

func (c Config) normalized() Config {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Mode selects what a call does when its bucket is exhausted.
type Mode int

const (
	// ModeWait blocks (cancellably) until a token is available or the
	// context's deadline elapses.
	ModeWait Mode = iota
	// ModeFailFast returns types.ErrRateLimited immediately instead of
	// waiting.
	ModeFailFast
)

// Limiter owns one token bucket per (provider, model) pair. Buckets are
// created lazily and keyed independently, so no bucket contends with
// another — matching "no global lock" in the resource model.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	config  Config
}

// New constructs a Limiter whose buckets all share cfg; call Configure to
// override a specific (provider, model) pair's shape.
func New(cfg Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		config:  cfg.normalized(),
	}
}

func bucketKey(provider, model string) string {
	return provider + "/" + model
}

func (l *Limiter) bucketFor(provider, model string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := bucketKey(provider, model)
	b, ok := l.buckets[key]
	if !ok {
		perSecond := l.config.RequestsPerMinute / 60
		b = rate.NewLimiter(rate.Limit(perSecond), l.config.Burst)
		l.buckets[key] = b
	}
	return b
}

// Configure sets a dedicated bucket shape for (provider, model), replacing
// any bucket already in use for that pair.
func (l *Limiter) Configure(provider, model string, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg = cfg.normalized()
	perSecond := cfg.RequestsPerMinute / 60
	l.buckets[bucketKey(provider, model)] = rate.NewLimiter(rate.Limit(perSecond), cfg.Burst)
}

// Allow admits or rejects one call for (provider, model) according to
// mode. ModeWait blocks until a token is available or ctx is done;
// ModeFailFast returns types.ErrRateLimited immediately if none is
// available.
func (l *Limiter) Allow(ctx context.Context, provider, model string, mode Mode) error {
	bucket := l.bucketFor(provider, model)
	switch mode {
	case ModeFailFast:
		if !bucket.Allow() {
			return types.ErrRateLimited
		}
		return nil
	default:
		return bucket.Wait(ctx)
	}
}

// WaitBounded waits up to deadline for a token, returning
// types.ErrRateLimited if the deadline elapses first.
func (l *Limiter) WaitBounded(ctx context.Context, provider, model string, deadline time.Duration) error {
	boundedCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	if err := l.bucketFor(provider, model).Wait(boundedCtx); err != nil {
		return types.ErrRateLimited
	}
	return nil
}
