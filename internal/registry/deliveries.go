package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

// deliveryRow is the storage shape of a webhook delivery record.
type deliveryRow struct {
	CreatedAt      time.Time    `db:"created_at"`
	SubscriptionID string       `db:"subscription_id"`
	Event          string       `db:"event"`
	AnalysisID     string       `db:"analysis_id"`
	Status         string       `db:"status"`
	ResponseBody   string       `db:"response_body"`
	LastError      string       `db:"last_error"`
	DeliveredAt    sql.NullTime `db:"delivered_at"`
	ID             int64        `db:"id"`
	DeliveryTimeMS int64        `db:"delivery_time_ms"`
	Attempts       int          `db:"attempts"`
	StatusCode     int          `db:"status_code"`
}

func (r *deliveryRow) toDomain() gazette.Delivery {
	d := gazette.Delivery{
		ID:             r.ID,
		SubscriptionID: r.SubscriptionID,
		Event:          r.Event,
		AnalysisID:     r.AnalysisID,
		Status:         gazette.DeliveryStatus(r.Status),
		Attempts:       r.Attempts,
		StatusCode:     r.StatusCode,
		ResponseBody:   r.ResponseBody,
		DeliveryTimeMS: r.DeliveryTimeMS,
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt,
	}

	if r.DeliveredAt.Valid {
		deliveredAt := r.DeliveredAt.Time
		d.DeliveredAt = &deliveredAt
	}

	return d
}

// RecordDelivery appends the outcome of one delivery attempt chain to the
// audit log and returns the stored record id.
func (s *Store) RecordDelivery(ctx context.Context, d *gazette.Delivery) (int64, error) {
	var deliveredAt sql.NullTime
	if d.DeliveredAt != nil {
		deliveredAt = sql.NullTime{Time: *d.DeliveredAt, Valid: true}
	}

	var id int64

	err := s.db.GetContext(ctx, &id, `
		INSERT INTO webhook_deliveries (subscription_id, event, analysis_id, status,
			attempts, status_code, response_body, delivery_time_ms, last_error, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		d.SubscriptionID, d.Event, d.AnalysisID, d.Status,
		d.Attempts, d.StatusCode, d.ResponseBody, d.DeliveryTimeMS, d.LastError, deliveredAt)
	if err != nil {
		return 0, fmt.Errorf("insert webhook delivery: %w", err)
	}

	return id, nil
}

// CountSentDeliveries returns how many deliveries have succeeded for one
// analysis under one subscription. The webhook stage compares this
// against MaxDeliveries before delivering again, so redelivered messages
// cannot push a capped subscription past its limit.
func (s *Store) CountSentDeliveries(ctx context.Context, subscriptionID, analysisID string) (int, error) {
	var count int

	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM webhook_deliveries
		WHERE subscription_id = $1 AND analysis_id = $2 AND status = $3`,
		subscriptionID, analysisID, gazette.DeliverySent)
	if err != nil {
		return 0, fmt.Errorf("count sent deliveries: %w", err)
	}

	return count, nil
}

// ListDeliveries returns the most recent delivery records for a
// subscription, newest first.
func (s *Store) ListDeliveries(ctx context.Context, subscriptionID string, limit int) ([]gazette.Delivery, error) {
	var rows []deliveryRow

	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, subscription_id, event, analysis_id, status, attempts,
			status_code, response_body, delivery_time_ms,
			last_error, delivered_at, created_at
		FROM webhook_deliveries
		WHERE subscription_id = $1 ORDER BY id DESC LIMIT $2`,
		subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}

	deliveries := make([]gazette.Delivery, 0, len(rows))

	for idx := range rows {
		deliveries = append(deliveries, rows[idx].toDomain())
	}

	return deliveries, nil
}
