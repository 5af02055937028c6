package dispatch_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazeta-aberta/gazeta/internal/dispatch"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/registry"
)

type fakeSubStore struct {
	mu      sync.Mutex
	subs    map[string]*gazette.Subscription
	order   []string
	listErr error
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{subs: make(map[string]*gazette.Subscription)}
}

func (f *fakeSubStore) CreateSubscription(_ context.Context, sub *gazette.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := *sub
	f.subs[sub.ID] = &stored
	f.order = append(f.order, sub.ID)

	return nil
}

func (f *fakeSubStore) ListSubscriptions(_ context.Context) ([]gazette.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	out := make([]gazette.Subscription, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.subs[id])
	}

	return out, nil
}

func (f *fakeSubStore) DeleteSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[id]; !ok {
		return fmt.Errorf("subscription %s: %w", id, registry.ErrNotFound)
	}

	delete(f.subs, id)

	return nil
}

func validSubscriptionBody() map[string]any {
	return map[string]any{
		"url":    "https://hooks.example.org/gazeta",
		"events": []string{"gazette.analyzed", "concurso.detected"},
		"filters": map[string]any{
			"territories":   []string{"2905701"},
			"minConfidence": 0.7,
		},
	}
}

func TestServer_CreateSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := doJSON(t, f.handler, http.MethodPost, "/subscriptions", validSubscriptionBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sub gazette.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "https://hooks.example.org/gazeta", sub.URL)
	assert.Equal(t, []string{"gazette.analyzed", "concurso.detected"}, sub.Events)
	assert.InEpsilon(t, 0.7, sub.Filters.MinConfidence, 1e-9)
	assert.True(t, sub.Active)
	assert.Nil(t, sub.MaxDeliveries)

	stored, err := f.subs.ListSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, sub.ID, stored[0].ID)

	assert.Equal(t, 1, f.cache.count(),
		"the webhook stage must see the new subscription immediately")
}

func TestServer_CreateSubscriptionWithAuthAndCap(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	body := validSubscriptionBody()
	body["auth"] = map[string]any{"kind": "bearer", "token": "s3cr3t"}
	body["maxDeliveries"] = 5
	body["retry"] = map[string]any{"maxAttempts": 2, "backoffMs": 250}

	rec := doJSON(t, f.handler, http.MethodPost, "/subscriptions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sub gazette.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.NotNil(t, sub.Auth)
	assert.Equal(t, gazette.AuthBearer, sub.Auth.Kind)
	require.NotNil(t, sub.MaxDeliveries)
	assert.Equal(t, 5, *sub.MaxDeliveries)
	assert.Equal(t, 2, sub.Retry.MaxAttempts)
}

func TestServer_CreateSubscriptionRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(body map[string]any)
	}{
		{"missing url", func(b map[string]any) { delete(b, "url") }},
		{"relative url", func(b map[string]any) { b["url"] = "hooks.example.org" }},
		{"no events", func(b map[string]any) { b["events"] = []string{} }},
		{"unknown event", func(b map[string]any) { b["events"] = []string{"gazette.deleted"} }},
		{"confidence out of range", func(b map[string]any) {
			b["filters"] = map[string]any{"minConfidence": 1.5}
		}},
		{"bearer without token", func(b map[string]any) {
			b["auth"] = map[string]any{"kind": "bearer"}
		}},
		{"unknown auth kind", func(b map[string]any) {
			b["auth"] = map[string]any{"kind": "hmac", "token": "x"}
		}},
		{"zero delivery cap", func(b map[string]any) { b["maxDeliveries"] = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)

			body := validSubscriptionBody()
			tc.mutate(body)

			rec := doJSON(t, f.handler, http.MethodPost, "/subscriptions", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Empty(t, f.subs.subs)
			assert.Zero(t, f.cache.count())
		})
	}
}

func TestServer_ListSubscriptions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, f.subs.CreateSubscription(context.Background(), &gazette.Subscription{
			ID:     id,
			URL:    "https://hooks.example.org/" + id,
			Events: []string{gazette.EventGazetteAnalyzed},
			Active: true,
		}))
	}

	rec := doJSON(t, f.handler, http.MethodGet, "/subscriptions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dispatch.SubscriptionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Subscriptions, 2)
	assert.Equal(t, "s1", resp.Subscriptions[0].ID)
}

func TestServer_DeleteSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.NoError(t, f.subs.CreateSubscription(context.Background(), &gazette.Subscription{
		ID:  "s1",
		URL: "https://hooks.example.org/s1",
	}))

	rec := doJSON(t, f.handler, http.MethodDelete, "/subscriptions/s1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.subs.subs)
	assert.Equal(t, 1, f.cache.count())

	rec = doJSON(t, f.handler, http.MethodDelete, "/subscriptions/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
