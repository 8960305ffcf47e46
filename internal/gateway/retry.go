package gateway

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy is the retry policy the scheduler applies around each gateway
// call. Delay grows as BaseDelay × 2^attempt, capped at MaxDelay, with a
// random jitter fraction added on top.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay, e.g. 0.2 adds up to 20%
}

// DefaultPolicy mirrors the retry behavior of the original pipeline:
// three attempts, exponential backoff between 1s and 30s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Jitter: 0.2}
}

// Attempt describes one failed attempt, reported through the notify
// callback before the backoff sleep.
type Attempt struct {
	Number int // 1-based
	Class  Class
	Err    error
	Delay  time.Duration // zero on the final attempt
}

// Do invokes fn up to MaxAttempts times. Transient, RateLimited and
// Malformed failures are retried after backoff; Fatal failures and a
// canceled ctx return immediately. A deadline exceeded inside fn while
// ctx itself is still live is treated as Transient. notify, when
// non-nil, observes every failed attempt.
func (p Policy) Do(ctx context.Context, fn func(context.Context) (string, error), notify func(Attempt)) (string, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := fn(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// a per-call deadline firing under a live run context is a
		// transient failure, not a cancellation
		class := ClassOf(err)
		if errors.Is(err, context.DeadlineExceeded) {
			class = Transient
		}
		if class == Fatal {
			if notify != nil {
				notify(Attempt{Number: attempt, Class: class, Err: err})
			}
			return "", err
		}

		var delay time.Duration
		if attempt < attempts {
			delay = p.backoff(attempt)
		}
		if notify != nil {
			notify(Attempt{Number: attempt, Class: class, Err: err, Delay: delay})
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (p Policy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
