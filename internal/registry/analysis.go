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

// analysisRow is the storage shape of an analysis result. The list and
// object fields travel as JSONB so findings keep their free-form data maps.
type analysisRow struct {
	AnalyzedAt             time.Time `db:"analyzed_at"`
	CreatedAt              time.Time `db:"created_at"`
	PublicationDate        time.Time `db:"publication_date"`
	AnalysisID             string    `db:"analysis_id"`
	DedupKey               string    `db:"dedup_key"`
	CrawlJobID             string    `db:"crawl_job_id"`
	TerritoryID            string    `db:"territory_id"`
	Categories             []byte    `db:"categories"`
	Keywords               []byte    `db:"keywords"`
	Findings               []byte    `db:"findings"`
	Summary                []byte    `db:"summary"`
	Metadata               []byte    `db:"metadata"`
	ID                     int64     `db:"id"`
	GazetteID              int64     `db:"gazette_id"`
	TotalFindings          int       `db:"total_findings"`
	HighConfidenceFindings int       `db:"high_confidence_findings"`
}

const analysisColumns = `id, analysis_id, dedup_key, crawl_job_id, territory_id, gazette_id,
	publication_date, total_findings, high_confidence_findings, categories, keywords,
	findings, summary, metadata, analyzed_at, created_at`

func (r *analysisRow) toDomain() (*gazette.AnalysisResult, error) {
	res := &gazette.AnalysisResult{
		ID:                     r.ID,
		AnalysisID:             r.AnalysisID,
		CrawlJobID:             r.CrawlJobID,
		DedupKey:               r.DedupKey,
		TerritoryID:            r.TerritoryID,
		GazetteID:              r.GazetteID,
		PublicationDate:        r.PublicationDate,
		TotalFindings:          r.TotalFindings,
		HighConfidenceFindings: r.HighConfidenceFindings,
		AnalyzedAt:             r.AnalyzedAt,
	}

	for _, field := range []struct {
		dst  any
		name string
		raw  []byte
	}{
		{&res.Categories, "categories", r.Categories},
		{&res.Keywords, "keywords", r.Keywords},
		{&res.Findings, "findings", r.Findings},
		{&res.Summary, "summary", r.Summary},
		{&res.Metadata, "metadata", r.Metadata},
	} {
		if len(field.raw) == 0 {
			continue
		}

		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return nil, fmt.Errorf("unmarshal analysis %s: %w", field.name, err)
		}
	}

	return res, nil
}

// SaveAnalysisResult persists an analysis outcome. The dedup key is unique:
// when a result for the same (territory, gazette, configuration) already
// exists the stored row wins and is returned with created=false, which is
// what makes redelivered analysis messages converge on one result.
func (s *Store) SaveAnalysisResult(ctx context.Context, res *gazette.AnalysisResult) (*gazette.AnalysisResult, bool, error) {
	marshalled := make(map[string][]byte, 5)

	for name, src := range map[string]any{
		"categories": res.Categories,
		"keywords":   res.Keywords,
		"findings":   res.Findings,
		"summary":    res.Summary,
		"metadata":   res.Metadata,
	} {
		data, err := json.Marshal(src)
		if err != nil {
			return nil, false, fmt.Errorf("marshal analysis %s: %w", name, err)
		}

		marshalled[name] = data
	}

	var row analysisRow

	err := s.db.GetContext(ctx, &row, `
		INSERT INTO analysis_results (analysis_id, dedup_key, crawl_job_id, territory_id,
			gazette_id, publication_date, total_findings, high_confidence_findings,
			categories, keywords, findings, summary, metadata, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING `+analysisColumns,
		res.AnalysisID, res.DedupKey, res.CrawlJobID, res.TerritoryID,
		res.GazetteID, dateOnly(res.PublicationDate), res.TotalFindings, res.HighConfidenceFindings,
		marshalled["categories"], marshalled["keywords"], marshalled["findings"],
		marshalled["summary"], marshalled["metadata"], res.AnalyzedAt)

	switch {
	case err == nil:
		stored, convErr := row.toDomain()
		if convErr != nil {
			return nil, false, convErr
		}

		return stored, true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, getErr := s.GetAnalysisByDedupKey(ctx, res.DedupKey)
		if getErr != nil {
			return nil, false, getErr
		}

		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("insert analysis result: %w", err)
	}
}

// GetAnalysisByDedupKey loads a stored analysis by its deduplication key.
func (s *Store) GetAnalysisByDedupKey(ctx context.Context, key string) (*gazette.AnalysisResult, error) {
	var row analysisRow

	err := s.db.GetContext(ctx, &row,
		`SELECT `+analysisColumns+` FROM analysis_results WHERE dedup_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis %q: %w", key, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get analysis by dedup key: %w", err)
	}

	return row.toDomain()
}

// GetAnalysisByID loads the most recent stored analysis carrying the given
// deterministic analysis id. City scoping can store several rows per id, so
// the newest row represents the result callers mean.
func (s *Store) GetAnalysisByID(ctx context.Context, analysisID string) (*gazette.AnalysisResult, error) {
	var row analysisRow

	err := s.db.GetContext(ctx, &row, `
		SELECT `+analysisColumns+` FROM analysis_results
		WHERE analysis_id = $1 ORDER BY created_at DESC LIMIT 1`, analysisID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis %q: %w", analysisID, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get analysis by id: %w", err)
	}

	return row.toDomain()
}
