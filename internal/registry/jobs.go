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

const jobColumns = `id, status, total_spiders, completed_spiders, failed_spiders,
	start_date, end_date, scope_filter, created_at, updated_at`

// CreateJob records a dispatcher invocation.
func (s *Store) CreateJob(ctx context.Context, job *gazette.CrawlJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_jobs (id, status, total_spiders, start_date, end_date, scope_filter)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, gazette.JobPending, job.TotalSpiders,
		dateOnly(job.StartDate), dateOnly(job.EndDate), job.ScopeFilter)
	if err != nil {
		return fmt.Errorf("insert crawl job: %w", err)
	}

	return nil
}

// GetJob loads a crawl job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*gazette.CrawlJob, error) {
	var row gazette.CrawlJob

	err := s.db.GetContext(ctx, &row,
		`SELECT `+jobColumns+` FROM crawl_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("crawl job %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get crawl job: %w", err)
	}

	return &row, nil
}

// SetJobStatus updates the job aggregate status.
func (s *Store) SetJobStatus(ctx context.Context, id string, status gazette.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_jobs SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("update crawl job status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update crawl job rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("crawl job %s: %w", id, ErrNotFound)
	}

	return nil
}

// MarkSpiderDone increments a job's completion counters after one spider
// finishes. When every spider has reported, the job flips to completed.
// The CASE expressions read the pre-update column values, so the whole
// bookkeeping is one atomic statement.
func (s *Store) MarkSpiderDone(ctx context.Context, jobID string, failed bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_jobs SET
			completed_spiders = completed_spiders + CASE WHEN $2 THEN 0 ELSE 1 END,
			failed_spiders = failed_spiders + CASE WHEN $2 THEN 1 ELSE 0 END,
			status = CASE
				WHEN completed_spiders + failed_spiders + 1 >= total_spiders THEN 'completed'
				ELSE 'running'
			END,
			updated_at = now()
		WHERE id = $1`,
		jobID, failed)
	if err != nil {
		return fmt.Errorf("mark spider done: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark spider done rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("crawl job %s: %w", jobID, ErrNotFound)
	}

	return nil
}

// progressRow is the storage shape of a progress event; Detail travels
// as JSONB.
type progressRow struct {
	CreatedAt  time.Time `db:"created_at"`
	JobID      string    `db:"job_id"`
	SpiderID   string    `db:"spider_id"`
	Stage      string    `db:"stage"`
	Status     string    `db:"status"`
	Detail     []byte    `db:"detail"`
	ID         int64     `db:"id"`
	DurationMS int64     `db:"duration_ms"`
}

// RecordProgress appends one telemetry row to a job's progress log.
// Progress is advisory: failures are returned but callers usually log and
// continue rather than fail the message.
func (s *Store) RecordProgress(ctx context.Context, ev gazette.ProgressEvent) error {
	var detail []byte

	if len(ev.Detail) > 0 {
		data, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("marshal progress detail: %w", err)
		}

		detail = data
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_progress (job_id, spider_id, stage, status, duration_ms, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.JobID, ev.SpiderID, ev.Stage, ev.Status, ev.DurationMS, detail)
	if err != nil {
		return fmt.Errorf("insert crawl progress: %w", err)
	}

	return nil
}

// ListProgress returns a job's progress log in insertion order.
func (s *Store) ListProgress(ctx context.Context, jobID string) ([]gazette.ProgressEvent, error) {
	var rows []progressRow

	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, job_id, spider_id, stage, status, duration_ms, detail, created_at
		FROM crawl_progress WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list crawl progress: %w", err)
	}

	events := make([]gazette.ProgressEvent, 0, len(rows))

	for _, row := range rows {
		ev := gazette.ProgressEvent{
			ID:         row.ID,
			JobID:      row.JobID,
			SpiderID:   row.SpiderID,
			Stage:      gazette.ProgressStage(row.Stage),
			Status:     row.Status,
			DurationMS: row.DurationMS,
			CreatedAt:  row.CreatedAt,
		}

		if len(row.Detail) > 0 {
			if err := json.Unmarshal(row.Detail, &ev.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal progress detail: %w", err)
			}
		}

		events = append(events, ev)
	}

	return events, nil
}
