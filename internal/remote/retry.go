package remote

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dafiiit/hivecad-sync/internal/document"
)

// Retry policy for conditional single-file writes. A Conflict response
// means another writer moved the content token between our read and our
// write; the jitter desynchronizes competing writers so they stop
// colliding on every attempt.
const (
	// maxWriteAttempts bounds the total tries (initial attempt included).
	maxWriteAttempts = 3

	// baseRetryDelay is doubled for every attempt.
	baseRetryDelay = 500 * time.Millisecond

	// retryJitter is the upper bound of the uniform random component.
	retryJitter = 500 * time.Millisecond
)

// conflictBackoff yields baseRetryDelay × 2^attempt + uniform(0, retryJitter),
// stopping after maxWriteAttempts total attempts.
func conflictBackoff() retry.Backoff {
	attempt := 0
	var b retry.BackoffFunc = func() (time.Duration, bool) {
		delay := baseRetryDelay*(1<<attempt) + rand.N(retryJitter)
		attempt++
		return delay, false
	}
	return retry.WithMaxRetries(maxWriteAttempts-1, b)
}

// RetryConflict runs fn, retrying document.ErrConflict per the policy
// above. Any other error aborts immediately. Exhausting the attempts
// surfaces the last conflict error to the caller.
func RetryConflict(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, conflictBackoff(), func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if errors.Is(err, document.ErrConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}
