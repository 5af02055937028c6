package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/observability"
	"github.com/gazeta-aberta/gazeta/internal/queue"
	"github.com/gazeta-aberta/gazeta/internal/spider"
)

// SpiderFactory builds the spider for one crawl message. Production
// wiring passes spider.New.
type SpiderFactory func(cfg spider.Config, dates spider.DateRange, logger *slog.Logger) (spider.Spider, error)

// CrawlRegistry is the registry surface the crawl stage writes through.
type CrawlRegistry interface {
	FindOrCreate(ctx context.Context, cand gazette.Candidate) (*gazette.Gazette, bool, error)
	CreateCrawl(ctx context.Context, crawl *gazette.GazetteCrawl) (*gazette.GazetteCrawl, error)
	MarkSpiderDone(ctx context.Context, jobID string, failed bool) error
	RecordProgress(ctx context.Context, ev gazette.ProgressEvent) error
	RecordError(ctx context.Context, cause error) error
}

// CrawlStage consumes crawl messages: it runs the named spider over the
// requested date range, registers every discovered gazette, and enqueues
// one OCR message per registered document.
type CrawlStage struct {
	registry  CrawlRegistry
	queue     Publisher
	newSpider SpiderFactory
	metrics   *observability.PipelineMetrics
	logger    *slog.Logger
}

// NewCrawlStage wires a crawl stage handler.
func NewCrawlStage(reg CrawlRegistry, q Publisher, factory SpiderFactory, metrics *observability.PipelineMetrics, logger *slog.Logger) *CrawlStage {
	return &CrawlStage{
		registry:  reg,
		queue:     q,
		newSpider: factory,
		metrics:   metrics,
		logger:    logger,
	}
}

// Handle is the queue.Handler for the crawl stage. Gazette registration
// deduplicates by canonical URL and crawl attempts by (job, gazette), so
// a redelivered message re-enqueues work without creating duplicates.
func (s *CrawlStage) Handle(ctx context.Context, msg queue.Message) queue.Disposition {
	var m queue.CrawlMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		s.logger.ErrorContext(ctx, "undecodable crawl message", "error", err)

		return queue.Terminate
	}

	jobID := m.Metadata.CrawlJobID
	logger := s.logger.With("spider_id", m.SpiderID, "job_id", jobID, "attempt", msg.Attempt)
	start := time.Now()

	recordProgress(ctx, s.registry, logger, gazette.ProgressEvent{
		JobID:    jobID,
		SpiderID: m.SpiderID,
		Stage:    gazette.ProgressCrawlStart,
		Status:   gazette.ProgressOK,
	})

	sp, err := s.newSpider(m.Config, m.DateRange, logger)
	if err != nil {
		// Catalog entries validate at load time, so a failing
		// constructor is configuration drift, not a transient fault.
		cause := gazette.NewError(gazette.KindConfiguration, "spider_construct_failed", err).
			WithContext("spider_id", m.SpiderID)
		logError(ctx, s.registry, logger, cause)
		logger.ErrorContext(ctx, "spider construction failed", "error", err)
		s.finishFailed(ctx, logger, m, start, nil, cause, true)

		return queue.Terminate
	}

	cands, crawlErr := sp.Crawl(ctx)

	var stageErr *gazette.PipelineError

	fail := func(kind gazette.Kind, code string, err error) {
		if stageErr == nil {
			stageErr = gazette.NewError(kind, code, err).WithContext("spider_id", m.SpiderID)
		}
	}

	if crawlErr != nil {
		// Partial results still get registered below; dedup is per
		// candidate, so the redelivery only refetches what was missed.
		logger.WarnContext(ctx, "spider crawl failed", "gazettes", len(cands), "error", crawlErr)
		fail(gazette.KindExternalAPI, "spider_crawl_failed", crawlErr)
	}

	discovered := 0
	enqueued := 0

	for _, cand := range cands {
		g, created, err := s.registry.FindOrCreate(ctx, cand)
		if gazette.KindOf(err) == gazette.KindValidation {
			// A rejected URL stays rejected; dropping the candidate
			// keeps the rest of the batch out of a retry loop.
			logger.WarnContext(ctx, "dropping candidate with rejected url", "pdf_url", cand.PDFURL, "error", err)
			logError(ctx, s.registry, logger, err)

			continue
		}

		if err != nil {
			logger.WarnContext(ctx, "register gazette failed", "pdf_url", cand.PDFURL, "error", err)
			fail(gazette.KindStorage, "gazette_register_failed", err)

			continue
		}

		if created {
			discovered++
		}

		crawl, err := s.registry.CreateCrawl(ctx, &gazette.GazetteCrawl{
			JobID:       jobID,
			TerritoryID: cand.TerritoryID,
			SpiderID:    m.SpiderID,
			GazetteID:   g.ID,
			ScrapedAt:   cand.ScrapedAt,
		})
		if err != nil {
			logger.WarnContext(ctx, "register crawl attempt failed", "gazette_id", g.ID, "error", err)
			fail(gazette.KindStorage, "crawl_register_failed", err)

			continue
		}

		err = s.queue.Publish(ctx, queue.StageOCR, queue.OCRMessage{
			JobID:          fmt.Sprintf("ocr-%d", g.ID),
			GazetteCrawlID: crawl.ID,
			GazetteID:      g.ID,
			SpiderConfig:   m.Config,
			CrawlJobID:     jobID,
			QueuedAt:       time.Now().UTC(),
		})
		if err != nil {
			logger.WarnContext(ctx, "enqueue ocr failed", "gazette_id", g.ID, "error", err)
			fail(gazette.KindQueue, "ocr_enqueue_failed", err)

			continue
		}

		enqueued++
	}

	s.metrics.RecordGazettes(ctx, m.SpiderType, int64(len(cands)))

	detail := map[string]string{
		"gazettes": strconv.Itoa(len(cands)),
		"new":      strconv.Itoa(discovered),
		"enqueued": strconv.Itoa(enqueued),
		"requests": strconv.Itoa(sp.RequestCount()),
	}

	if stageErr != nil {
		logError(ctx, s.registry, logger, stageErr)
		detail["error"] = stageErr.Error()
		s.finishFailed(ctx, logger, m, start, detail, stageErr, !stageErr.Retryable() || finalAttempt(msg))

		if !stageErr.Retryable() {
			return queue.Terminate
		}

		return queue.Retry
	}

	recordProgress(ctx, s.registry, logger, gazette.ProgressEvent{
		JobID:      jobID,
		SpiderID:   m.SpiderID,
		Stage:      gazette.ProgressCrawlEnd,
		Status:     gazette.ProgressOK,
		DurationMS: time.Since(start).Milliseconds(),
		Detail:     detail,
	})

	if jobID != "" {
		if err := s.registry.MarkSpiderDone(ctx, jobID, false); err != nil {
			logger.WarnContext(ctx, "mark spider done failed", "error", err)
		}
	}

	logger.InfoContext(ctx, "crawl finished",
		"gazettes", len(cands), "new", discovered, "requests", sp.RequestCount())

	return queue.Ack
}

// finishFailed records crawl-end telemetry for a failed run. last says
// no redelivery is coming, which is when the spider counts as failed in
// its job's completion tally.
func (s *CrawlStage) finishFailed(ctx context.Context, logger *slog.Logger, m queue.CrawlMessage, start time.Time, detail map[string]string, cause *gazette.PipelineError, last bool) {
	if detail == nil {
		detail = map[string]string{"error": cause.Error()}
	}

	recordProgress(ctx, s.registry, logger, gazette.ProgressEvent{
		JobID:      m.Metadata.CrawlJobID,
		SpiderID:   m.SpiderID,
		Stage:      gazette.ProgressCrawlEnd,
		Status:     gazette.ProgressFailed,
		DurationMS: time.Since(start).Milliseconds(),
		Detail:     detail,
	})

	if last && m.Metadata.CrawlJobID != "" {
		if err := s.registry.MarkSpiderDone(ctx, m.Metadata.CrawlJobID, true); err != nil {
			logger.WarnContext(ctx, "mark spider failed", "error", err)
		}
	}
}
