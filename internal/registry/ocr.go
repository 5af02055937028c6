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

// ocrRow is the storage shape of an OCR result; provider metadata travels
// as JSONB.
type ocrRow struct {
	CreatedAt     time.Time       `db:"created_at"`
	DocumentKind  string          `db:"document_kind"`
	ExtractedText string          `db:"extracted_text"`
	Language      string          `db:"language"`
	Method        string          `db:"method"`
	Metadata      []byte          `db:"metadata"`
	Confidence    sql.NullFloat64 `db:"confidence"`
	ID            int64           `db:"id"`
	DocumentID    int64           `db:"document_id"`
	TextLength    int             `db:"text_length"`
}

func (r *ocrRow) toDomain() (*gazette.OcrResult, error) {
	res := &gazette.OcrResult{
		ID:            r.ID,
		DocumentKind:  r.DocumentKind,
		DocumentID:    r.DocumentID,
		ExtractedText: r.ExtractedText,
		TextLength:    r.TextLength,
		Language:      r.Language,
		Method:        r.Method,
		CreatedAt:     r.CreatedAt,
	}

	if r.Confidence.Valid {
		conf := r.Confidence.Float64
		res.Confidence = &conf
	}

	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &res.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal ocr metadata: %w", err)
		}
	}

	return res, nil
}

// SaveOcrResult upserts the extracted text for a document. The table is the
// durable OCR cache tier: one row per (document kind, document id), replaced
// wholesale on re-extraction.
func (s *Store) SaveOcrResult(ctx context.Context, res *gazette.OcrResult) (*gazette.OcrResult, error) {
	metadata, err := json.Marshal(res.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal ocr metadata: %w", err)
	}

	var confidence sql.NullFloat64
	if res.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *res.Confidence, Valid: true}
	}

	var row ocrRow

	err = s.db.GetContext(ctx, &row, `
		INSERT INTO ocr_results (document_kind, document_id, extracted_text, text_length,
			confidence, language, method, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (document_kind, document_id) DO UPDATE SET
			extracted_text = EXCLUDED.extracted_text,
			text_length = EXCLUDED.text_length,
			confidence = EXCLUDED.confidence,
			language = EXCLUDED.language,
			method = EXCLUDED.method,
			metadata = EXCLUDED.metadata
		RETURNING id, document_kind, document_id, extracted_text, text_length,
			confidence, language, method, metadata, created_at`,
		res.DocumentKind, res.DocumentID, res.ExtractedText, len(res.ExtractedText),
		confidence, res.Language, res.Method, metadata)
	if err != nil {
		return nil, fmt.Errorf("upsert ocr result: %w", err)
	}

	return row.toDomain()
}

// GetOcrResult loads the stored extraction for a document, or ErrNotFound.
func (s *Store) GetOcrResult(ctx context.Context, kind string, documentID int64) (*gazette.OcrResult, error) {
	var row ocrRow

	err := s.db.GetContext(ctx, &row, `
		SELECT id, document_kind, document_id, extracted_text, text_length,
			confidence, language, method, metadata, created_at
		FROM ocr_results WHERE document_kind = $1 AND document_id = $2`,
		kind, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ocr result %s/%d: %w", kind, documentID, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get ocr result: %w", err)
	}

	return row.toDomain()
}
