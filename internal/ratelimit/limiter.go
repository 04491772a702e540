// Package ratelimit paces external fetches with a token bucket. The delay is
// applied per worker before every fetch; it throttles load on the catalog
// host independently of local concurrency.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Config holds pacing knobs.
type Config struct {
	// RPS is the sustained request rate against the catalog host.
	// Zero or negative disables pacing.
	RPS float64
	// Burst is the bucket size; it defaults to 1 so pacing stays strict.
	Burst int
}

// Limiter gates fetches against the catalog host.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(r, burst)}
}

// Wait blocks until a token is available or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
