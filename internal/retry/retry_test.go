package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/gallery/internal/errors"
)

func instant(p Policy) Policy {
	p.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return p
}

func TestDo_RetriesNetworkErrors(t *testing.T) {
	p := instant(Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Second})

	calls := 0
	err := p.Do(context.Background(), "create", func(context.Context) error {
		calls++
		if calls < 3 {
			return domainerrors.Network("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	p := instant(Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond})

	calls := 0
	err := p.Do(context.Background(), "create", func(context.Context) error {
		calls++
		return domainerrors.Network("timeout")
	})
	assert.ErrorIs(t, err, domainerrors.ErrNetwork)
	assert.Equal(t, 2, calls)
}

func TestDo_DoesNotRetryOtherErrors(t *testing.T) {
	p := instant(Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond})

	for _, failure := range []error{
		domainerrors.Validation("bad document"),
		domainerrors.Conflict("stale"),
		errors.New("plain"),
	} {
		calls := 0
		err := p.Do(context.Background(), "update", func(context.Context) error {
			calls++
			return failure
		})
		assert.Equal(t, failure, err)
		assert.Equal(t, 1, calls)
	}
}

func TestDo_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, InitialBackoff: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "query", func(context.Context) error {
			calls++
			return domainerrors.Network("down")
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.LessOrEqual(t, calls, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestBackoff_DoublesWithinCap(t *testing.T) {
	p := Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}

	for range 50 {
		d1 := p.Backoff(1)
		assert.GreaterOrEqual(t, d1, 50*time.Millisecond)
		assert.LessOrEqual(t, d1, 100*time.Millisecond)

		d2 := p.Backoff(2)
		assert.GreaterOrEqual(t, d2, 100*time.Millisecond)
		assert.LessOrEqual(t, d2, 200*time.Millisecond)

		d5 := p.Backoff(5)
		assert.GreaterOrEqual(t, d5, 150*time.Millisecond)
		assert.LessOrEqual(t, d5, 300*time.Millisecond)
	}

	assert.Zero(t, Policy{}.Backoff(3))
}
