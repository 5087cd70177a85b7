package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"peterpan-analyzer/ratelimit"
)

// QuotaError marks a quota or rate-limit failure (HTTP 429 or a
// RESOURCE_EXHAUSTED status). RetryAfter carries the wait the server asked
// for, when it provided one.
type QuotaError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exhausted: %v", e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// Quota configures the backoff used for quota failures, which need far
// longer waits than ordinary errors.
type Quota struct {
	Base      time.Duration // wait when the server gives no hint
	Step      time.Duration // added per attempt on top of Base
	JitterMin time.Duration // slack added to a server-provided wait
	JitterMax time.Duration
}

// Policy retries an operation with exponential backoff, switching to the
// Quota schedule when the failure is a QuotaError.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      time.Duration // uniform extra added to BaseDelay before doubling
	Quota       Quota

	sleep func(context.Context, time.Duration) error
}

// New creates a Policy. maxAttempts counts the first try.
func New(maxAttempts int, baseDelay, jitter time.Duration, quota Quota) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Jitter:      jitter,
		Quota:       quota,
		sleep:       ratelimit.Sleep,
	}
}

// Do runs fn until it succeeds or MaxAttempts is reached. Before retry n
// (1-based) it waits (BaseDelay + jitter) doubled n times; quota failures
// wait the server-provided delay plus slack instead, or Quota.Base plus n
// times Quota.Step when the server gave no hint. Returns early with the
// context error if ctx is canceled while waiting.
func (p *Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := p.backoff(attempt, lastErr)
			slog.Warn("retrying", "op", op, "attempt", attempt+1, "max", p.MaxAttempts, "wait", wait)
			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		slog.Error("attempt failed", "op", op, "attempt", attempt+1, "error", lastErr)
	}

	return fmt.Errorf("%s: all %d attempts failed: %w", op, p.MaxAttempts, lastErr)
}

func (p *Policy) backoff(attempt int, err error) time.Duration {
	var quotaErr *QuotaError
	if errors.As(err, &quotaErr) {
		if quotaErr.RetryAfter > 0 {
			return quotaErr.RetryAfter + between(p.Quota.JitterMin, p.Quota.JitterMax)
		}
		return p.Quota.Base + time.Duration(attempt)*p.Quota.Step
	}

	base := p.BaseDelay
	if p.Jitter > 0 {
		base += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return base << attempt
}

func between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}
