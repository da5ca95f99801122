// Package limiter enforces the global quota on outbound calls to the remote
// platform API. The counter lives in a central store shared by every process,
// so concurrent ingestion from both channels draws from one budget.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/abrino/abrinostore/metrics"
)

// ThrottledError is returned when a grant could not be obtained within the
// limiter's max wait. RetryAfter is the earliest duration after which another
// attempt can succeed.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Store atomically reserves one slot in the rolling window for a scope.
// It returns 0 when the reservation was made, or the duration until the next
// slot frees up. Implementations must be safe for concurrent callers across
// processes; read-then-write sequences are not acceptable.
type Store interface {
	Reserve(ctx context.Context, scope string, now time.Time, window time.Duration, limit int) (time.Duration, error)
}

// Limiter grants at most `limit` acquisitions per rolling `window` per scope.
type Limiter struct {
	store   Store
	limit   int
	window  time.Duration
	maxWait time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a limiter over the given store. maxWait bounds how long Acquire
// may block before giving up with a ThrottledError.
func New(store Store, limit int, window, maxWait time.Duration) *Limiter {
	return &Limiter{
		store:   store,
		limit:   limit,
		window:  window,
		maxWait: maxWait,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Acquire obtains a grant for one outbound call in the given scope. It blocks
// up to maxWait, waiting exactly the store's retry hint between attempts
// rather than polling. On timeout it returns *ThrottledError carrying the
// remaining hint.
func (l *Limiter) Acquire(ctx context.Context, scope string) error {
	deadline := l.now().Add(l.maxWait)
	for {
		retry, err := l.store.Reserve(ctx, scope, l.now(), l.window, l.limit)
		if err != nil {
			return fmt.Errorf("rate limiter store: %w", err)
		}
		if retry <= 0 {
			return nil
		}
		if l.now().Add(retry).After(deadline) {
			metrics.LimiterRejections.WithLabelValues(scope).Inc()
			return &ThrottledError{RetryAfter: retry}
		}
		if err := l.sleep(ctx, retry); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
