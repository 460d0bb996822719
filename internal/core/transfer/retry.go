package transfer

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

const maxShift = 30

// exponential returns base * 2^attempt, saturating instead of overflowing.
func exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}
	mult := int64(1) << attempt
	if int64(base) > math.MaxInt64/mult {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(mult)
}

// fullJitter picks a delay uniformly in [0, d).
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return rand.N(d)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inTx runs fn in a store transaction, retrying while the store reports the
// rows as busy. Each attempt starts from fresh reads.
func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			if sleepErr := sleepWithContext(ctx, fullJitter(exponential(s.baseDelay, attempt-1))); sleepErr != nil {
				return err
			}
		}

		err = s.store.WithinTx(ctx, fn)
		if !domain.Retryable(err) {
			return err
		}

		s.logger.Warn("ledger rows busy, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}
