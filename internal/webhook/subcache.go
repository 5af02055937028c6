package webhook

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

// SubscriptionSource loads active subscriptions from the store.
type SubscriptionSource interface {
	ListActiveSubscriptions(ctx context.Context) ([]gazette.Subscription, error)
}

// SubscriptionCache keeps the active subscription list in memory for a
// short TTL so the webhook stage does not hit the store once per
// message. The dispatcher invalidates it on every subscription write;
// the TTL covers writes from other processes.
type SubscriptionCache struct {
	source SubscriptionSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	subs    []gazette.Subscription
	fetched time.Time
	valid   bool
}

// NewSubscriptionCache builds a cache over source. A non-positive ttl
// disables caching and every call reloads.
func NewSubscriptionCache(source SubscriptionSource, ttl time.Duration) *SubscriptionCache {
	return &SubscriptionCache{source: source, ttl: ttl, now: time.Now}
}

// Active returns the active subscriptions, from cache when fresh. When a
// reload fails and a previous list exists, the stale list is served so
// delivery degrades to stale filters instead of stopping.
func (c *SubscriptionCache) Active(ctx context.Context) ([]gazette.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.ttl > 0 && c.now().Sub(c.fetched) < c.ttl {
		return slices.Clone(c.subs), nil
	}

	subs, err := c.source.ListActiveSubscriptions(ctx)
	if err != nil {
		if c.valid {
			return slices.Clone(c.subs), nil
		}

		return nil, err
	}

	c.subs = subs
	c.fetched = c.now()
	c.valid = true

	return slices.Clone(c.subs), nil
}

// Invalidate drops the cached list. Callers that write subscriptions
// invoke this so the next delivery sees their change immediately.
func (c *SubscriptionCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.subs = nil
	c.mu.Unlock()
}
