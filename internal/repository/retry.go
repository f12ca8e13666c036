package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
)

// errRetry marks a failed attempt the retry loop may run again.
var errRetry = errors.New("retryable")

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when a backend is built without an explicit policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 10,
	BaseDelay:   5 * time.Millisecond,
	MaxDelay:    500 * time.Millisecond,
}

// Backoff returns the delay before the given attempt (1-based), with up to
// 50% jitter so racing callers spread out.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << min(attempt-1, 20)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int64N(half+1))
}

// Conflict wraps a backend error so Retry treats it as a lost race.
func Conflict(err error) error {
	return fmt.Errorf("%w: %w: %w", errRetry, ErrConflict, err)
}

// Unavailable wraps a transport error so Retry treats it as transient.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w: %w", errRetry, ErrStoreUnavailable, err)
}

// Retry runs attempt until it succeeds, returns a non-retryable error, the
// context ends or the policy runs out of attempts. Each attempt must re-read
// everything it depends on.
func (p RetryPolicy) Retry(ctx context.Context, attempt func(ctx context.Context) error) error {
	maxAttempts := max(p.MaxAttempts, 1)

	var err error
	for n := 1; n <= maxAttempts; n++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = attempt(ctx)
		if err == nil || !errors.Is(err, errRetry) {
			return err
		}

		log.Debug().Err(err).Int("attempt", n).Int("max_attempts", maxAttempts).Msg("transaction attempt failed, retrying")
		if n == maxAttempts {
			break
		}

		timer := time.NewTimer(p.Backoff(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, ErrStoreUnavailable)
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, ErrConflict)
}
