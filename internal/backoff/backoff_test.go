package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazeta-aberta/gazeta/internal/backoff"
)

func TestPolicy_Delay(t *testing.T) {
	t.Parallel()

	p := backoff.Policy{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 10*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(20))
}

func TestPolicy_ZeroValueUsesDefault(t *testing.T) {
	t.Parallel()

	var p backoff.Policy

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	fn := func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}

		return nil
	}

	p := backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 2}

	err := backoff.Retry(context.Background(), 5, p, fn)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("still down")
	calls := 0

	p := backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 2}

	err := backoff.Retry(context.Background(), 3, p, func() error {
		calls++

		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := backoff.Policy{Initial: time.Minute, Max: time.Minute, Multiplier: 2}

	err := backoff.Retry(ctx, 3, p, func() error { return errors.New("x") })

	assert.ErrorIs(t, err, context.Canceled)
}
