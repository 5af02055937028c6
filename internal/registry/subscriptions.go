package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

// subscriptionRow is the storage shape of a subscription; the structured
// fields travel as JSONB.
type subscriptionRow struct {
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
	ID            string        `db:"id"`
	URL           string        `db:"url"`
	Events        []byte        `db:"events"`
	Filters       []byte        `db:"filters"`
	Auth          []byte        `db:"auth"`
	Retry         []byte        `db:"retry"`
	MaxDeliveries sql.NullInt32 `db:"max_deliveries"`
	Active        bool          `db:"active"`
}

const subscriptionColumns = `id, url, events, filters, auth, retry, max_deliveries,
	active, created_at, updated_at`

func (r *subscriptionRow) toDomain() (*gazette.Subscription, error) {
	sub := &gazette.Subscription{
		ID:        r.ID,
		URL:       r.URL,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if err := json.Unmarshal(r.Events, &sub.Events); err != nil {
		return nil, fmt.Errorf("unmarshal subscription events: %w", err)
	}

	if len(r.Filters) > 0 {
		if err := json.Unmarshal(r.Filters, &sub.Filters); err != nil {
			return nil, fmt.Errorf("unmarshal subscription filters: %w", err)
		}
	}

	if len(r.Auth) > 0 {
		if err := json.Unmarshal(r.Auth, &sub.Auth); err != nil {
			return nil, fmt.Errorf("unmarshal subscription auth: %w", err)
		}
	}

	if len(r.Retry) > 0 {
		if err := json.Unmarshal(r.Retry, &sub.Retry); err != nil {
			return nil, fmt.Errorf("unmarshal subscription retry: %w", err)
		}
	}

	if r.MaxDeliveries.Valid {
		limit := int(r.MaxDeliveries.Int32)
		sub.MaxDeliveries = &limit
	}

	return sub, nil
}

// CreateSubscription registers a webhook endpoint.
func (s *Store) CreateSubscription(ctx context.Context, sub *gazette.Subscription) error {
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("marshal subscription events: %w", err)
	}

	filters, err := json.Marshal(sub.Filters)
	if err != nil {
		return fmt.Errorf("marshal subscription filters: %w", err)
	}

	var auth []byte

	if sub.Auth != nil {
		auth, err = json.Marshal(sub.Auth)
		if err != nil {
			return fmt.Errorf("marshal subscription auth: %w", err)
		}
	}

	retry, err := json.Marshal(sub.Retry)
	if err != nil {
		return fmt.Errorf("marshal subscription retry: %w", err)
	}

	var maxDeliveries sql.NullInt32
	if sub.MaxDeliveries != nil {
		maxDeliveries = sql.NullInt32{Int32: int32(*sub.MaxDeliveries), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, url, events, filters, auth, retry, max_deliveries, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.URL, events, filters, auth, retry, maxDeliveries, sub.Active)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}

	return nil
}

// GetSubscription loads a subscription by id.
func (s *Store) GetSubscription(ctx context.Context, id string) (*gazette.Subscription, error) {
	var row subscriptionRow

	err := s.db.GetContext(ctx, &row,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	return row.toDomain()
}

// ListActiveSubscriptions returns every active subscription. The webhook
// stage fans each analysis result out across this list.
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]gazette.Subscription, error) {
	return s.listSubscriptions(ctx, true)
}

// ListSubscriptions returns every subscription regardless of active flag.
func (s *Store) ListSubscriptions(ctx context.Context) ([]gazette.Subscription, error) {
	return s.listSubscriptions(ctx, false)
}

func (s *Store) listSubscriptions(ctx context.Context, activeOnly bool) ([]gazette.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if activeOnly {
		query += ` WHERE active`
	}

	query += ` ORDER BY created_at`

	var rows []subscriptionRow

	err := s.db.SelectContext(ctx, &rows, query)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	subs := make([]gazette.Subscription, 0, len(rows))

	for idx := range rows {
		sub, convErr := rows[idx].toDomain()
		if convErr != nil {
			return nil, convErr
		}

		subs = append(subs, *sub)
	}

	return subs, nil
}

// DeleteSubscription removes a subscription and, via cascade, its delivery
// log.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete subscription rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}

	return nil
}
