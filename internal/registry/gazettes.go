package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/urlx"
)

const gazetteColumns = `id, territory_id, publication_date, pdf_url, edition_number,
	is_extra_edition, power, pdf_object_key, status, scraped_at, created_at`

// FindOrCreate canonicalises the candidate's PDF URL and returns the gazette
// row holding it, inserting a pending row when the URL was never seen.
// The second return value reports whether a new row was created.
//
// A URL the resolver rejects outright (blank, non-http scheme, private
// host, runaway redirect chain) never reaches the table. Transient
// canonicalisation failures fall back to the raw URL so discovery still
// deduplicates on exact matches when the source site is flaky.
func (s *Store) FindOrCreate(ctx context.Context, cand gazette.Candidate) (*gazette.Gazette, bool, error) {
	canonical := cand.PDFURL

	if s.resolver != nil {
		resolved, err := s.resolver.Resolve(ctx, cand.PDFURL)

		switch {
		case err == nil:
			canonical = resolved
		case urlx.IsFatal(err):
			return nil, false, gazette.NewError(gazette.KindValidation, "url_rejected", err).
				WithContext("pdf_url", cand.PDFURL)
		default:
			s.logger.WarnContext(ctx, "url canonicalisation failed, using raw url",
				"url", cand.PDFURL, "error", err)
		}
	}

	power := cand.Power
	if power == "" {
		power = gazette.PowerExecutiveLegislative
	}

	var row gazette.Gazette

	err := s.db.GetContext(ctx, &row, `
		INSERT INTO gazettes (territory_id, publication_date, pdf_url, edition_number,
			is_extra_edition, power, status, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pdf_url) DO NOTHING
		RETURNING `+gazetteColumns,
		cand.TerritoryID, dateOnly(cand.PublicationDate), canonical, cand.EditionNumber,
		cand.IsExtraEdition, power, gazette.StatusPending, cand.ScrapedAt)

	switch {
	case err == nil:
		return &row, true, nil
	case errors.Is(err, sql.ErrNoRows):
		// Lost the insert: the URL already exists. Read the winner.
		existing, getErr := s.GetGazetteByURL(ctx, canonical)
		if getErr != nil {
			return nil, false, getErr
		}

		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("insert gazette: %w", err)
	}
}

// GetGazette loads a gazette by id.
func (s *Store) GetGazette(ctx context.Context, id int64) (*gazette.Gazette, error) {
	var row gazette.Gazette

	err := s.db.GetContext(ctx, &row,
		`SELECT `+gazetteColumns+` FROM gazettes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("gazette %d: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get gazette: %w", err)
	}

	return &row, nil
}

// GetGazetteByURL loads a gazette by its canonical PDF URL.
func (s *Store) GetGazetteByURL(ctx context.Context, url string) (*gazette.Gazette, error) {
	var row gazette.Gazette

	err := s.db.GetContext(ctx, &row,
		`SELECT `+gazetteColumns+` FROM gazettes WHERE pdf_url = $1`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("gazette url %q: %w", url, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get gazette by url: %w", err)
	}

	return &row, nil
}

// ClaimForProcessing attempts to compare-and-swap a gazette into
// ocr_processing. It returns true when this caller won the claim; false
// means another worker holds it or the gazette is past claiming. The swap
// only succeeds from the claimable states (pending, uploaded, ocr_retrying),
// which is what makes concurrent OCR workers safe.
func (s *Store) ClaimForProcessing(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE gazettes SET status = $2
		WHERE id = $1 AND status IN ($3, $4, $5)`,
		id, gazette.StatusOCRProcessing,
		gazette.StatusPending, gazette.StatusUploaded, gazette.StatusOCRRetrying)
	if err != nil {
		return false, fmt.Errorf("claim gazette: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim gazette rows: %w", err)
	}

	return affected == 1, nil
}

// ReclaimForRepair compare-and-swaps a gazette from ocr_success back into
// ocr_processing. The happy-path state machine has no such edge: this is
// the repair move for a row that claims success while the OCR store holds
// no text for it, and the CAS gates the rerun to one worker exactly like
// ClaimForProcessing does.
func (s *Store) ReclaimForRepair(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE gazettes SET status = $2
		WHERE id = $1 AND status = $3`,
		id, gazette.StatusOCRProcessing, gazette.StatusOCRSuccess)
	if err != nil {
		return false, fmt.Errorf("reclaim gazette: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reclaim gazette rows: %w", err)
	}

	return affected == 1, nil
}

// SetStatus moves a gazette to next, enforcing the status state machine.
// The update is guarded by the current status, so a concurrent transition
// surfaces as ErrInvalidTransition rather than a silent overwrite.
func (s *Store) SetStatus(ctx context.Context, id int64, next gazette.Status) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var current gazette.Status

		err := tx.GetContext(ctx, &current,
			`SELECT status FROM gazettes WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("gazette %d: %w", id, ErrNotFound)
		}

		if err != nil {
			return fmt.Errorf("load gazette status: %w", err)
		}

		if !current.CanTransition(next) {
			return fmt.Errorf("gazette %d: %s -> %s: %w", id, current, next, ErrInvalidTransition)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE gazettes SET status = $2 WHERE id = $1`, id, next)
		if err != nil {
			return fmt.Errorf("update gazette status: %w", err)
		}

		return nil
	})
}

// SetObjectKey records the archive location of the gazette's PDF. The key
// is written once: later calls against an already-archived gazette are
// no-ops, so redeliveries never clobber the original archive pointer.
func (s *Store) SetObjectKey(ctx context.Context, id int64, key string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE gazettes SET pdf_object_key = $2
		WHERE id = $1 AND (pdf_object_key IS NULL OR pdf_object_key = '')`,
		id, key)
	if err != nil {
		return fmt.Errorf("set object key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set object key rows: %w", err)
	}

	if affected == 0 {
		// Distinguish "already archived" (fine) from "no such gazette".
		_, getErr := s.GetGazette(ctx, id)
		if getErr != nil {
			return getErr
		}
	}

	return nil
}
