// Package pipeline implements the four stage handlers that move a
// gazette from discovery to webhook delivery: crawl runs a spider and
// registers what it found, ocr extracts text exactly once per document,
// analysis runs the analyzer pass deduplicated by configuration, and
// webhook fans finished analyses out to subscribers.
//
// Every handler works under at-least-once delivery. Steps are either
// idempotent (registry upserts, deterministic analysis ids) or guarded
// by a status compare-and-swap, so a redelivered message converges on
// the already-reached state instead of repeating side effects.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/queue"
	"github.com/gazeta-aberta/gazeta/internal/registry"
)

// Publisher enqueues messages for downstream stages.
type Publisher interface {
	Publish(ctx context.Context, stage queue.Stage, payload any) error
}

type progressSink interface {
	RecordProgress(ctx context.Context, ev gazette.ProgressEvent) error
}

type errorSink interface {
	RecordError(ctx context.Context, cause error) error
}

type crawlStatusSetter interface {
	SetCrawlStatus(ctx context.Context, id int64, next gazette.CrawlStatus) error
}

// finalAttempt reports whether the broker has no redeliveries left for
// this message. Handlers use it to commit terminal bookkeeping that must
// happen exactly once, on the last attempt.
func finalAttempt(msg queue.Message) bool {
	return msg.Attempt >= msg.Stage.MaxDeliver()
}

// recordProgress appends a job telemetry row. Progress is advisory, so
// write failures are logged and swallowed; events without a job id (for
// messages injected outside a dispatcher job) are skipped.
func recordProgress(ctx context.Context, sink progressSink, logger *slog.Logger, ev gazette.ProgressEvent) {
	if ev.JobID == "" {
		return
	}

	if err := sink.RecordProgress(ctx, ev); err != nil {
		logger.WarnContext(ctx, "progress write failed",
			"job_id", ev.JobID, "stage", string(ev.Stage), "error", err)
	}
}

// logError records a failure in the persistent error log, best-effort.
func logError(ctx context.Context, sink errorSink, logger *slog.Logger, cause error) {
	if err := sink.RecordError(ctx, cause); err != nil {
		logger.WarnContext(ctx, "error log write failed", "cause", cause.Error(), "error", err)
	}
}

// markCrawl advances a crawl attempt's status, tolerating replays: a
// redelivered message often finds the attempt already past the status it
// wants to set, which the state machine reports as an invalid transition.
func markCrawl(ctx context.Context, reg crawlStatusSetter, logger *slog.Logger, crawlID int64, next gazette.CrawlStatus) {
	err := reg.SetCrawlStatus(ctx, crawlID, next)

	switch {
	case err == nil:
	case errors.Is(err, registry.ErrInvalidTransition):
		logger.DebugContext(ctx, "crawl status already past", "crawl_id", crawlID, "next", string(next))
	default:
		logger.WarnContext(ctx, "set crawl status failed",
			"crawl_id", crawlID, "next", string(next), "error", err)
	}
}
