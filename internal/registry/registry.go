// Package registry persists the pipeline's durable state in Postgres:
// canonical gazettes, per-job crawl attempts, OCR and analysis results,
// webhook subscriptions and deliveries, and the error log. It is the only
// package that issues SQL.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/gazeta-aberta/gazeta/internal/config"
)

// Sentinel store errors.
var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("registry: not found")

	// ErrInvalidTransition is returned when a status update violates the
	// state machine, including lost optimistic-concurrency races.
	ErrInvalidTransition = errors.New("registry: invalid status transition")

	// ErrAlreadyLinked is returned when a crawl already points at a
	// different analysis result.
	ErrAlreadyLinked = errors.New("registry: crawl already linked to another analysis")
)

// URLResolver canonicalises gazette PDF URLs before identity lookup.
type URLResolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}

// Store wraps the Postgres connection with the pipeline's persistence
// operations.
type Store struct {
	db       *sqlx.DB
	resolver URLResolver
	logger   *slog.Logger
}

// New creates a Store over an open connection pool. The resolver is used by
// FindOrCreate to canonicalise discovery URLs; pass nil to store URLs as-is.
func New(db *sqlx.DB, resolver URLResolver, logger *slog.Logger) *Store {
	return &Store{
		db:       db,
		resolver: resolver,
		logger:   logger,
	}
}

// Open connects to Postgres and applies the pool settings.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// Ping probes the database connection. Suitable as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close postgres: %w", err)
	}

	return nil
}

// inTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	err = fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// dateOnly truncates a timestamp to its calendar day in UTC. Publication
// dates are stored as DATE columns.
func dateOnly(t time.Time) time.Time {
	year, month, day := t.UTC().Date()

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
