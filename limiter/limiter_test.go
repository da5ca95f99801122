package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore mirrors the redis store's semantics: an atomic trim-count-add over
// a per-scope list of grant timestamps.
type memStore struct {
	mu      sync.Mutex
	byScope map[string][]time.Time
}

func newMemStore() *memStore {
	return &memStore{byScope: map[string][]time.Time{}}
}

func (s *memStore) Reserve(_ context.Context, scope string, now time.Time, window time.Duration, limit int) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grants := s.byScope[scope]
	kept := grants[:0]
	for _, g := range grants {
		if g.After(now.Add(-window)) {
			kept = append(kept, g)
		}
	}
	if len(kept) < limit {
		kept = append(kept, now)
		s.byScope[scope] = kept
		return 0, nil
	}
	s.byScope[scope] = kept
	return kept[0].Add(window).Sub(now), nil
}

// fakeClock drives the limiter deterministically: sleeping advances time.
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.advance(d)
	return nil
}

func newTestLimiter(limit int, window, maxWait time.Duration) (*Limiter, *fakeClock) {
	clk := &fakeClock{cur: time.Unix(1_700_000_000, 0)}
	l := New(newMemStore(), limit, window, maxWait)
	l.now = clk.now
	l.sleep = clk.sleep
	return l, clk
}

func TestAcquireGrantsUpToLimit(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(5, time.Minute, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background(), "api"))
	}

	err := l.Acquire(context.Background(), "api")
	var throttled *ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Greater(t, throttled.RetryAfter, time.Duration(0))
}

func TestScopesAreIndependent(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(1, time.Minute, 0)
	require.NoError(t, l.Acquire(context.Background(), "api"))
	require.NoError(t, l.Acquire(context.Background(), "other"))
	require.Error(t, l.Acquire(context.Background(), "api"))
}

func TestAcquireWaitsForHintWithinMaxWait(t *testing.T) {
	t.Parallel()

	l, clk := newTestLimiter(2, time.Minute, 2*time.Minute)
	require.NoError(t, l.Acquire(context.Background(), "api"))
	require.NoError(t, l.Acquire(context.Background(), "api"))

	start := clk.now()
	require.NoError(t, l.Acquire(context.Background(), "api"))
	assert.Equal(t, time.Minute, clk.now().Sub(start), "should sleep exactly until the oldest grant expires")
}

// 101 calls against a 100-per-60s quota: the 101st is rejected with a positive
// retry hint and succeeds once that hint has elapsed.
func TestCeilingScenario(t *testing.T) {
	t.Parallel()

	l, clk := newTestLimiter(100, time.Minute, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background(), "api"))
	}

	err := l.Acquire(context.Background(), "api")
	var throttled *ThrottledError
	require.ErrorAs(t, err, &throttled)
	require.Greater(t, throttled.RetryAfter, time.Duration(0))

	// Still rejected just before the hint elapses.
	clk.advance(throttled.RetryAfter - time.Millisecond)
	require.Error(t, l.Acquire(context.Background(), "api"))

	clk.advance(time.Millisecond)
	assert.NoError(t, l.Acquire(context.Background(), "api"))
}

// Property: no rolling window of length W ever contains more than N grants,
// regardless of how acquisitions interleave with waits.
func TestNeverExceedsQuotaInAnyWindow(t *testing.T) {
	t.Parallel()

	const limit = 7
	window := 10 * time.Second

	l, clk := newTestLimiter(limit, window, time.Hour)
	var grants []time.Time
	for i := 0; i < limit*6; i++ {
		require.NoError(t, l.Acquire(context.Background(), "api"))
		grants = append(grants, clk.now())
		// Uneven progress so grants bunch up against the window edge.
		if i%3 == 0 {
			clk.advance(time.Duration(i%5) * 250 * time.Millisecond)
		}
	}

	for i := range grants {
		n := 1
		for j := i + 1; j < len(grants); j++ {
			if grants[j].Sub(grants[i]) < window {
				n++
			}
		}
		assert.LessOrEqualf(t, n, limit, "window starting at grant %d holds %d grants", i, n)
	}
}

// Concurrent callers race on one scope: reservations stay atomic, so exactly
// `limit` of them win.
func TestConcurrentAcquireIsAtomic(t *testing.T) {
	t.Parallel()

	const limit = 10
	store := newMemStore()
	l := New(store, limit, time.Minute, 0)

	var wg sync.WaitGroup
	granted := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire(context.Background(), "api") == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	assert.Equal(t, limit, len(granted))
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(1, time.Minute, 2*time.Minute)
	l.sleep = sleepCtx // real sleep so cancellation is observable
	require.NoError(t, l.Acquire(context.Background(), "api"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(ctx, "api")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
