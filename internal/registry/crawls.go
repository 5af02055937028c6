package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

const crawlColumns = `id, job_id, territory_id, spider_id, gazette_id, status,
	analysis_result_id, scraped_at, created_at`

// CreateCrawl records one ingestion attempt of a gazette within a job.
// At most one attempt exists per (job, gazette) pair; a duplicate insert
// returns the existing row, which is how crawl-message redeliveries stay
// idempotent.
func (s *Store) CreateCrawl(ctx context.Context, crawl *gazette.GazetteCrawl) (*gazette.GazetteCrawl, error) {
	var row gazette.GazetteCrawl

	err := s.db.GetContext(ctx, &row, `
		INSERT INTO gazette_crawls (job_id, territory_id, spider_id, gazette_id, status, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, gazette_id) DO NOTHING
		RETURNING `+crawlColumns,
		crawl.JobID, crawl.TerritoryID, crawl.SpiderID, crawl.GazetteID,
		gazette.CrawlCreated, crawl.ScrapedAt)

	switch {
	case err == nil:
		return &row, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, getErr := s.GetCrawlByJobGazette(ctx, crawl.JobID, crawl.GazetteID)
		if getErr != nil {
			return nil, getErr
		}

		return existing, nil
	default:
		return nil, fmt.Errorf("insert gazette crawl: %w", err)
	}
}

// GetCrawl loads a crawl attempt by id.
func (s *Store) GetCrawl(ctx context.Context, id int64) (*gazette.GazetteCrawl, error) {
	var row gazette.GazetteCrawl

	err := s.db.GetContext(ctx, &row,
		`SELECT `+crawlColumns+` FROM gazette_crawls WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("gazette crawl %d: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get gazette crawl: %w", err)
	}

	return &row, nil
}

// GetCrawlByJobGazette loads the crawl attempt for a (job, gazette) pair.
func (s *Store) GetCrawlByJobGazette(ctx context.Context, jobID string, gazetteID int64) (*gazette.GazetteCrawl, error) {
	var row gazette.GazetteCrawl

	err := s.db.GetContext(ctx, &row,
		`SELECT `+crawlColumns+` FROM gazette_crawls WHERE job_id = $1 AND gazette_id = $2`,
		jobID, gazetteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("gazette crawl job %s gazette %d: %w", jobID, gazetteID, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get gazette crawl by job: %w", err)
	}

	return &row, nil
}

// ListCrawlsByJob returns every crawl attempt belonging to a job.
func (s *Store) ListCrawlsByJob(ctx context.Context, jobID string) ([]gazette.GazetteCrawl, error) {
	var rows []gazette.GazetteCrawl

	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+crawlColumns+` FROM gazette_crawls WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list gazette crawls: %w", err)
	}

	return rows, nil
}

// SetCrawlStatus moves a crawl attempt to next, enforcing monotonic
// progress and terminal-state immutability.
func (s *Store) SetCrawlStatus(ctx context.Context, id int64, next gazette.CrawlStatus) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var current gazette.CrawlStatus

		err := tx.GetContext(ctx, &current,
			`SELECT status FROM gazette_crawls WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("gazette crawl %d: %w", id, ErrNotFound)
		}

		if err != nil {
			return fmt.Errorf("load crawl status: %w", err)
		}

		if !current.CanTransition(next) {
			return fmt.Errorf("gazette crawl %d: %s -> %s: %w", id, current, next, ErrInvalidTransition)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE gazette_crawls SET status = $2 WHERE id = $1`, id, next)
		if err != nil {
			return fmt.Errorf("update crawl status: %w", err)
		}

		return nil
	})
}

// LinkAnalysis points a crawl attempt at its analysis result. Linking the
// same result twice is a no-op; pointing at a different result fails with
// ErrAlreadyLinked, because analysis ids are deterministic and a divergence
// means two configurations raced over one crawl.
func (s *Store) LinkAnalysis(ctx context.Context, crawlID int64, analysisID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE gazette_crawls SET analysis_result_id = $2
		WHERE id = $1 AND (analysis_result_id IS NULL OR analysis_result_id = $2)`,
		crawlID, analysisID)
	if err != nil {
		return fmt.Errorf("link analysis: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("link analysis rows: %w", err)
	}

	if affected == 0 {
		_, getErr := s.GetCrawl(ctx, crawlID)
		if getErr != nil {
			return getErr
		}

		return fmt.Errorf("gazette crawl %d: %w", crawlID, ErrAlreadyLinked)
	}

	return nil
}

// ResetCrawl forces a crawl attempt (and its gazette) back to the start of
// the pipeline so an operator can replay a stuck or failed ingestion. The
// analysis link is cleared; the stored analysis result itself is kept, so a
// replay under the same configuration reuses it.
func (s *Store) ResetCrawl(ctx context.Context, crawlID int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var gazetteID int64

		err := tx.GetContext(ctx, &gazetteID,
			`SELECT gazette_id FROM gazette_crawls WHERE id = $1 FOR UPDATE`, crawlID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("gazette crawl %d: %w", crawlID, ErrNotFound)
		}

		if err != nil {
			return fmt.Errorf("load crawl for reset: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE gazette_crawls SET status = $2, analysis_result_id = NULL
			WHERE id = $1`,
			crawlID, gazette.CrawlCreated)
		if err != nil {
			return fmt.Errorf("reset crawl status: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE gazettes SET status = $2 WHERE id = $1`,
			gazetteID, gazette.StatusPending)
		if err != nil {
			return fmt.Errorf("reset gazette status: %w", err)
		}

		return nil
	})
}
