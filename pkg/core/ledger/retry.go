package ledger

import (
	"context"
	"math/rand"
	"time"
)

// backoff sleeps before the next conditional-write attempt. The delay grows
// linearly with the attempt number and carries up to 50% random jitter so
// colliding writers don't stay in lockstep. Returns the context error if the
// caller's deadline fires first.
func backoff(ctx context.Context, attempt int, base time.Duration) error {
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	delay := base * time.Duration(attempt)
	delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
