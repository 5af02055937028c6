package webhook_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/webhook"
)

func newTestDeliverer() *webhook.Deliverer {
	cfg := config.WebhookConfig{
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		BackoffMS:   1,
	}

	return webhook.NewDeliverer(cfg, slog.New(slog.DiscardHandler))
}

func testNotification() webhook.Notification {
	return webhook.BuildNotification(gazette.EventGazetteAnalyzed, analyzedResult(), "Camaçari", nil)
}

func TestDeliver_Success(t *testing.T) {
	t.Parallel()

	var got webhook.Notification

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer server.Close()

	sub := &gazette.Subscription{ID: "sub-1", URL: server.URL}

	delivery := newTestDeliverer().Deliver(context.Background(), sub, testNotification())

	assert.Equal(t, gazette.DeliverySent, delivery.Status)
	assert.Equal(t, http.StatusOK, delivery.StatusCode)
	assert.Equal(t, `{"received":true}`, delivery.ResponseBody)
	assert.Equal(t, 1, delivery.Attempts)
	assert.Empty(t, delivery.LastError)
	require.NotNil(t, delivery.DeliveredAt)

	assert.Equal(t, gazette.EventGazetteAnalyzed, got.Event)
	assert.Equal(t, "analysis-1a2b3c4d5e6f7a8b", got.AnalysisID)
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := &gazette.Subscription{ID: "sub-1", URL: server.URL}

	delivery := newTestDeliverer().Deliver(context.Background(), sub, testNotification())

	assert.Equal(t, gazette.DeliverySent, delivery.Status)
	assert.Equal(t, 2, delivery.Attempts)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDeliver_ClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	sub := &gazette.Subscription{ID: "sub-1", URL: server.URL}

	delivery := newTestDeliverer().Deliver(context.Background(), sub, testNotification())

	assert.Equal(t, gazette.DeliveryFailed, delivery.Status)
	assert.Equal(t, http.StatusUnprocessableEntity, delivery.StatusCode)
	assert.Equal(t, 1, delivery.Attempts)
	assert.Equal(t, int32(1), hits.Load())
	assert.NotEmpty(t, delivery.LastError)
}

func TestDeliver_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sub := &gazette.Subscription{
		ID:    "sub-1",
		URL:   server.URL,
		Retry: gazette.RetryPolicy{MaxAttempts: 2, BackoffMS: 1},
	}

	delivery := newTestDeliverer().Deliver(context.Background(), sub, testNotification())

	assert.Equal(t, gazette.DeliveryFailed, delivery.Status)
	assert.Equal(t, 2, delivery.Attempts)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDeliver_AuthModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		auth   *gazette.SubscriptionAuth
		header string
		want   string
	}{
		{
			name:   "bearer",
			auth:   &gazette.SubscriptionAuth{Kind: gazette.AuthBearer, Token: "s3cret"},
			header: "Authorization",
			want:   "Bearer s3cret",
		},
		{
			name:   "basic",
			auth:   &gazette.SubscriptionAuth{Kind: gazette.AuthBasic, Username: "user", Password: "pass"},
			header: "Authorization",
			want:   "Basic dXNlcjpwYXNz",
		},
		{
			name:   "custom header",
			auth:   &gazette.SubscriptionAuth{Kind: gazette.AuthCustom, Header: "X-Api-Key", Value: "k-123"},
			header: "X-Api-Key",
			want:   "k-123",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var seen string

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = r.Header.Get(tc.header)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			sub := &gazette.Subscription{ID: "sub-1", URL: server.URL, Auth: tc.auth}

			delivery := newTestDeliverer().Deliver(context.Background(), sub, testNotification())

			require.Equal(t, gazette.DeliverySent, delivery.Status)
			assert.Equal(t, tc.want, seen)
		})
	}
}

func TestDeliver_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	deliverer := newTestDeliverer()
	sub := &gazette.Subscription{
		ID:    "sub-1",
		URL:   server.URL,
		Retry: gazette.RetryPolicy{MaxAttempts: 1, BackoffMS: 1},
	}

	for range 5 {
		delivery := deliverer.Deliver(context.Background(), sub, testNotification())
		assert.Equal(t, gazette.DeliveryFailed, delivery.Status)
	}

	require.Equal(t, int32(5), hits.Load())

	delivery := deliverer.Deliver(context.Background(), sub, testNotification())

	assert.Equal(t, gazette.DeliveryFailed, delivery.Status)
	assert.Contains(t, delivery.LastError, "circuit breaker is open")
	assert.Equal(t, int32(5), hits.Load())
}

func TestDeliver_MarshalFailureNeverSends(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := &gazette.Subscription{ID: "sub-1", URL: server.URL}

	n := testNotification()
	n.Extensions = map[string]any{"bad": make(chan int)}

	delivery := newTestDeliverer().Deliver(context.Background(), sub, n)

	assert.Equal(t, gazette.DeliveryFailed, delivery.Status)
	assert.Contains(t, delivery.LastError, "marshal notification")
	assert.Equal(t, int32(0), hits.Load())
}

func TestDeliver_TruncatesLongResponseBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)

		for range 100 {
			_, _ = w.Write([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
		}
	}))
	defer server.Close()

	sub := &gazette.Subscription{ID: "sub-1", URL: server.URL}

	delivery := newTestDeliverer().Deliver(context.Background(), sub, testNotification())

	require.Equal(t, gazette.DeliverySent, delivery.Status)
	assert.LessOrEqual(t, len(delivery.ResponseBody), 2048)
}
