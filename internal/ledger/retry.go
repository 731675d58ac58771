package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
)

// withRetry runs fn until it succeeds, fails with anything other than
// models.ErrStorageConflict, or maxAttempts is reached. fn must be a whole
// unit of work.
func (l *Ledger) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := fullJitter(l.retryBase, attempt-1)
			l.logger.Warn("retrying after storage conflict",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
				return sleepErr
			}
		}

		err = fn()
		if err == nil || !errors.Is(err, models.ErrStorageConflict) {
			return err
		}
	}
	return err
}

// fullJitter returns a random duration in [0, base*2^attempt).
func fullJitter(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 16 {
		attempt = 16
	}
	ceiling := base << attempt
	return time.Duration(rand.Int64N(int64(ceiling)))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
