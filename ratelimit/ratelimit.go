package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Gate spaces out calls to a shared external service. All callers go through
// one Gate, so the minimum delay holds across goroutines: the lock is kept
// for the duration of the wait, which makes checking the last call time and
// claiming the next slot one atomic step.
type Gate struct {
	mu       sync.Mutex
	last     time.Time
	minDelay time.Duration
	jitter   time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a Gate enforcing minDelay between consecutive calls. When
// jitter is positive, a uniform random duration below it is added to each
// enforced wait to avoid lockstep retries.
func New(minDelay, jitter time.Duration) *Gate {
	return &Gate{
		minDelay: minDelay,
		jitter:   jitter,
		now:      time.Now,
		sleep:    Sleep,
	}
}

// Wait blocks until the caller may proceed, then records the call time.
// It returns early with the context error if ctx is canceled while waiting.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.last.IsZero() {
		if elapsed := g.now().Sub(g.last); elapsed < g.minDelay {
			wait := g.minDelay - elapsed
			if g.jitter > 0 {
				wait += time.Duration(rand.Int63n(int64(g.jitter)))
			}
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	g.last = g.now()
	return nil
}

// Sleep pauses for d or until ctx is canceled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
