package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

var deliveryTestColumns = []string{
	"id", "subscription_id", "event", "analysis_id", "status", "attempts",
	"status_code", "response_body", "delivery_time_ms",
	"last_error", "delivered_at", "created_at",
}

func TestRecordDelivery(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)

	deliveredAt := time.Date(2025, 3, 10, 13, 5, 0, 0, time.UTC)
	d := &gazette.Delivery{
		SubscriptionID: "sub-9c41",
		Event:          gazette.EventConcursoDetected,
		AnalysisID:     "analysis-1a2b3c4d5e6f7a8b",
		Status:         gazette.DeliverySent,
		Attempts:       2,
		StatusCode:     200,
		ResponseBody:   `{"ok":true}`,
		DeliveryTimeMS: 148,
		DeliveredAt:    &deliveredAt,
	}

	mock.ExpectQuery("INSERT INTO webhook_deliveries").
		WithArgs(d.SubscriptionID, d.Event, d.AnalysisID, d.Status,
			d.Attempts, d.StatusCode, d.ResponseBody, d.DeliveryTimeMS, "",
			sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(17)))

	id, err := store.RecordDelivery(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
}

func TestCountSentDeliveries(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("sub-9c41", "analysis-1a2b3c4d5e6f7a8b", gazette.DeliverySent).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.CountSentDeliveries(context.Background(), "sub-9c41", "analysis-1a2b3c4d5e6f7a8b")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestListDeliveries(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)

	deliveredAt := time.Date(2025, 3, 10, 13, 5, 0, 0, time.UTC)
	rows := sqlmock.NewRows(deliveryTestColumns).
		AddRow(int64(18), "sub-9c41", "gazette.analyzed", "analysis-1a2b3c4d5e6f7a8b",
			"sent", 1, 200, `{"ok":true}`, int64(96), "", deliveredAt, deliveredAt).
		AddRow(int64(17), "sub-9c41", "gazette.analyzed", "analysis-0f0f0f0f0f0f0f0f",
			"failed", 3, 503, "upstream unavailable", int64(30021),
			"breaker open", nil, deliveredAt)

	mock.ExpectQuery("FROM webhook_deliveries").
		WithArgs("sub-9c41", 20).
		WillReturnRows(rows)

	deliveries, err := store.ListDeliveries(context.Background(), "sub-9c41", 20)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)

	assert.Equal(t, gazette.DeliverySent, deliveries[0].Status)
	assert.Equal(t, 200, deliveries[0].StatusCode)
	assert.Equal(t, int64(96), deliveries[0].DeliveryTimeMS)
	require.NotNil(t, deliveries[0].DeliveredAt)
	assert.Equal(t, deliveredAt, *deliveries[0].DeliveredAt)

	assert.Equal(t, gazette.DeliveryFailed, deliveries[1].Status)
	assert.Equal(t, 3, deliveries[1].Attempts)
	assert.Equal(t, "breaker open", deliveries[1].LastError)
	assert.Nil(t, deliveries[1].DeliveredAt)
}
