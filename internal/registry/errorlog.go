package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

// ErrorRecord is one row of the pipeline error log.
type ErrorRecord struct {
	OccurredAt time.Time         `db:"occurred_at" json:"occurredAt"`
	CreatedAt  time.Time         `db:"created_at"  json:"createdAt"`
	Kind       string            `db:"kind"        json:"kind"`
	Code       string            `db:"code"        json:"code"`
	Message    string            `db:"message"     json:"message"`
	Context    map[string]string `db:"-"           json:"context,omitempty"`
	RawContext []byte            `db:"context"     json:"-"`
	ID         int64             `db:"id"          json:"id"`
	HTTPStatus int               `db:"http_status" json:"httpStatus,omitempty"`
}

// RecordError appends a failure to the error log. Classified pipeline
// errors keep their kind, code, and context; anything else is logged as
// internal. Logging failures must never mask the original error, so
// callers treat a non-nil return as advisory.
func (s *Store) RecordError(ctx context.Context, cause error) error {
	if cause == nil {
		return nil
	}

	record := ErrorRecord{
		Kind:       string(gazette.KindInternal),
		Code:       "unclassified",
		Message:    cause.Error(),
		OccurredAt: time.Now().UTC(),
	}

	var pe *gazette.PipelineError
	if errors.As(cause, &pe) {
		record.Kind = string(pe.Kind)
		record.Code = pe.Code
		record.HTTPStatus = pe.HTTPStatus
		record.Context = pe.Context
		record.OccurredAt = pe.OccurredAt
	}

	var contextJSON []byte

	if len(record.Context) > 0 {
		data, err := json.Marshal(record.Context)
		if err != nil {
			return fmt.Errorf("marshal error context: %w", err)
		}

		contextJSON = data
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_log (kind, code, message, http_status, context, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.Kind, record.Code, record.Message, record.HTTPStatus,
		contextJSON, record.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}

	return nil
}

// ListRecentErrors returns the newest error-log rows, most recent first.
func (s *Store) ListRecentErrors(ctx context.Context, limit int) ([]ErrorRecord, error) {
	var rows []ErrorRecord

	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, kind, code, message, http_status, context, occurred_at, created_at
		FROM error_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list error log: %w", err)
	}

	for idx := range rows {
		if len(rows[idx].RawContext) == 0 {
			continue
		}

		if err := json.Unmarshal(rows[idx].RawContext, &rows[idx].Context); err != nil {
			return nil, fmt.Errorf("unmarshal error context: %w", err)
		}

		rows[idx].RawContext = nil
	}

	return rows, nil
}
