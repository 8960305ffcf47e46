// Package rate bounds the aggregate rate of outbound translation calls
// across all workers with a shared token bucket.
package rate

import (
	"context"

	xrate "golang.org/x/time/rate"
)

// Limiter is a token-bucket limiter shared by every worker. Tokens refill
// continuously at the configured sustained rate; Acquire is the only
// throttling suspension point in the pipeline.
type Limiter struct {
	l *xrate.Limiter
}

// New returns a limiter allowing rps sustained requests per second with
// the given burst capacity. rps <= 0 disables throttling entirely; a
// burst below 1 is raised to 1.
func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	lim := xrate.Inf
	if rps > 0 {
		lim = xrate.Limit(rps)
	}
	return &Limiter{l: xrate.NewLimiter(lim, burst)}
}

// Acquire blocks until a token is available or ctx is done. With
// throttling disabled it returns immediately.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.l.Wait(ctx)
}

// Allow reports whether a token is available right now, consuming it if
// so. Used by diagnostics and tests; workers use Acquire.
func (l *Limiter) Allow() bool {
	return l.l.Allow()
}
