package webhook_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/webhook"
)

type fakeSubscriptionSource struct {
	calls atomic.Int32
	subs  []gazette.Subscription
	err   error
}

func (f *fakeSubscriptionSource) ListActiveSubscriptions(_ context.Context) ([]gazette.Subscription, error) {
	f.calls.Add(1)

	if f.err != nil {
		return nil, f.err
	}

	return f.subs, nil
}

func TestSubscriptionCache_ServesFromCacheWithinTTL(t *testing.T) {
	t.Parallel()

	source := &fakeSubscriptionSource{
		subs: []gazette.Subscription{{ID: "sub-1", Active: true}},
	}
	cache := webhook.NewSubscriptionCache(source, time.Minute)

	for range 3 {
		subs, err := cache.Active(context.Background())
		require.NoError(t, err)
		require.Len(t, subs, 1)
	}

	assert.Equal(t, int32(1), source.calls.Load())
}

func TestSubscriptionCache_InvalidateForcesReload(t *testing.T) {
	t.Parallel()

	source := &fakeSubscriptionSource{
		subs: []gazette.Subscription{{ID: "sub-1", Active: true}},
	}
	cache := webhook.NewSubscriptionCache(source, time.Minute)

	_, err := cache.Active(context.Background())
	require.NoError(t, err)

	source.subs = append(source.subs, gazette.Subscription{ID: "sub-2", Active: true})
	cache.Invalidate()

	subs, err := cache.Active(context.Background())
	require.NoError(t, err)

	assert.Len(t, subs, 2)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestSubscriptionCache_TTLExpiryReloads(t *testing.T) {
	t.Parallel()

	source := &fakeSubscriptionSource{
		subs: []gazette.Subscription{{ID: "sub-1", Active: true}},
	}
	cache := webhook.NewSubscriptionCache(source, time.Millisecond)

	_, err := cache.Active(context.Background())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = cache.Active(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), source.calls.Load())
}

func TestSubscriptionCache_ServesStaleOnReloadFailure(t *testing.T) {
	t.Parallel()

	source := &fakeSubscriptionSource{
		subs: []gazette.Subscription{{ID: "sub-1", Active: true}},
	}
	cache := webhook.NewSubscriptionCache(source, time.Millisecond)

	_, err := cache.Active(context.Background())
	require.NoError(t, err)

	source.err = errors.New("store down")

	time.Sleep(5 * time.Millisecond)

	subs, err := cache.Active(context.Background())
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSubscriptionCache_FirstLoadFailureSurfaces(t *testing.T) {
	t.Parallel()

	source := &fakeSubscriptionSource{err: errors.New("store down")}
	cache := webhook.NewSubscriptionCache(source, time.Minute)

	_, err := cache.Active(context.Background())
	require.Error(t, err)
}
