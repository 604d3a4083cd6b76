// Package retry runs remote calls under an exponential backoff policy.
package retry

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/logger"
)

// Policy bounds how often and how patiently an operation is retried.
// Only errors with a retryable code are retried; everything else is
// returned on the first failure.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger

	// sleep is replaced in tests.
	sleep func(context.Context, time.Duration) error
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts run out or ctx is done. It returns the last error seen.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	log := logger.OrDiscard(p.Logger)
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !domainerrors.IsRetryable(err) || attempt == attempts {
			break
		}

		delay := p.Backoff(attempt)
		log.Debug("retrying remote call", "op", op, "attempt", attempt, "delay", delay, "error", err)
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}

// Backoff returns the jittered delay before attempt+1. The base delay doubles
// each attempt up to MaxBackoff; the result lies in [base/2, base].
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.InitialBackoff
	if base <= 0 {
		return 0
	}
	for i := 1; i < attempt && (p.MaxBackoff <= 0 || base < p.MaxBackoff); i++ {
		base *= 2
	}
	if p.MaxBackoff > 0 && base > p.MaxBackoff {
		base = p.MaxBackoff
	}
	half := base / 2
	return half + rand.N(base-half+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
