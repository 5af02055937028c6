package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/observability"
	"github.com/gazeta-aberta/gazeta/internal/ocr"
	"github.com/gazeta-aberta/gazeta/internal/queue"
	"github.com/gazeta-aberta/gazeta/internal/registry"
)

// OCRRegistry is the registry surface the OCR stage works through.
type OCRRegistry interface {
	GetGazette(ctx context.Context, id int64) (*gazette.Gazette, error)
	ClaimForProcessing(ctx context.Context, id int64) (bool, error)
	ReclaimForRepair(ctx context.Context, id int64) (bool, error)
	SetStatus(ctx context.Context, id int64, next gazette.Status) error
	SetObjectKey(ctx context.Context, id int64, key string) error
	SetCrawlStatus(ctx context.Context, id int64, next gazette.CrawlStatus) error
	RecordProgress(ctx context.Context, ev gazette.ProgressEvent) error
	RecordError(ctx context.Context, cause error) error
}

// Recognizer runs the external OCR model over one document.
type Recognizer interface {
	Recognize(ctx context.Context, doc ocr.Document) (*ocr.Result, error)
}

// TextCache is the two-tier OCR result cache.
type TextCache interface {
	Lookup(ctx context.Context, pdfURL string, gazetteID int64) (*gazette.OcrResult, ocr.Tier, error)
	Save(ctx context.Context, pdfURL string, res *gazette.OcrResult) (*gazette.OcrResult, error)
}

// PDFFetcher downloads a source PDF.
type PDFFetcher interface {
	FetchPDF(ctx context.Context, url string) ([]byte, error)
}

// Archive stores source PDFs durably and maps keys to public addresses.
type Archive interface {
	PutPDF(ctx context.Context, pdfURL string, body []byte) (string, error)
	PublicURL(key string) string
}

// OCRStageDeps wires an OCRStage.
type OCRStageDeps struct {
	Registry OCRRegistry
	Queue    Publisher

	Cache TextCache
	OCR   Recognizer

	// Fetcher and Archive are optional together: with no archive
	// configured the stage hands the source URL straight to the OCR
	// provider and never downloads the PDF itself.
	Fetcher PDFFetcher
	Archive Archive

	Metrics *observability.PipelineMetrics
	Logger  *slog.Logger
}

// OCRStage consumes OCR messages. The gazette row's status is the
// entry gate: text that already exists is forwarded without another
// provider call, a claimable row is compare-and-swapped so exactly one
// worker extracts, and a row held by another worker is retried later.
type OCRStage struct {
	registry OCRRegistry
	queue    Publisher
	cache    TextCache
	ocr      Recognizer
	fetcher  PDFFetcher
	archive  Archive
	metrics  *observability.PipelineMetrics
	logger   *slog.Logger
}

// NewOCRStage wires an OCR stage handler.
func NewOCRStage(d OCRStageDeps) *OCRStage {
	return &OCRStage{
		registry: d.Registry,
		queue:    d.Queue,
		cache:    d.Cache,
		ocr:      d.OCR,
		fetcher:  d.Fetcher,
		archive:  d.Archive,
		metrics:  d.Metrics,
		logger:   d.Logger,
	}
}

// Handle is the queue.Handler for the OCR stage.
func (s *OCRStage) Handle(ctx context.Context, msg queue.Message) queue.Disposition {
	var m queue.OCRMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		s.logger.ErrorContext(ctx, "undecodable ocr message", "error", err)

		return queue.Terminate
	}

	logger := s.logger.With(
		"gazette_id", m.GazetteID, "crawl_id", m.GazetteCrawlID, "attempt", msg.Attempt)

	g, err := s.registry.GetGazette(ctx, m.GazetteID)
	if errors.Is(err, registry.ErrNotFound) {
		logger.ErrorContext(ctx, "gazette row missing, dropping message")
		logError(ctx, s.registry, logger, gazette.NewError(gazette.KindNotFound, "gazette_missing", err).
			WithContext("gazette_id", strconv.FormatInt(m.GazetteID, 10)))

		return queue.Terminate
	}

	if err != nil {
		logger.WarnContext(ctx, "load gazette failed", "error", err)

		return queue.Retry
	}

	switch g.Status {
	case gazette.StatusOCRSuccess:
		res, tier, err := s.cache.Lookup(ctx, g.PDFURL, g.ID)
		if err != nil {
			logger.WarnContext(ctx, "ocr cache lookup failed", "error", err)

			return queue.Retry
		}

		s.metrics.RecordCacheLookup(ctx, string(tier), res != nil)

		if res != nil {
			logger.DebugContext(ctx, "text already extracted, forwarding", "tier", string(tier))

			return s.forward(ctx, logger, m, res)
		}

		// The row claims success but neither tier holds text. Swap it
		// back to processing so exactly one worker reruns the OCR.
		won, err := s.registry.ReclaimForRepair(ctx, g.ID)
		if err != nil {
			logger.WarnContext(ctx, "reclaim gazette failed", "error", err)

			return queue.Retry
		}

		if !won {
			logger.DebugContext(ctx, "another worker is repairing this gazette")

			return queue.Retry
		}

		logger.WarnContext(ctx, "gazette marked done but no text stored, rerunning ocr")
	case gazette.StatusOCRProcessing:
		logger.DebugContext(ctx, "gazette held by another worker")

		return queue.Retry
	case gazette.StatusOCRFailure:
		err := s.registry.SetStatus(ctx, g.ID, gazette.StatusOCRRetrying)
		if err != nil && !errors.Is(err, registry.ErrInvalidTransition) {
			logger.WarnContext(ctx, "reschedule failed gazette", "error", err)

			return queue.Retry
		}

		if !s.claim(ctx, logger, g.ID) {
			return queue.Retry
		}
	default: // pending, uploaded, ocr_retrying
		if !s.claim(ctx, logger, g.ID) {
			return queue.Retry
		}
	}

	return s.extract(ctx, logger, msg, m, g)
}

// claim compare-and-swaps the gazette into ocr_processing.
func (s *OCRStage) claim(ctx context.Context, logger *slog.Logger, id int64) bool {
	won, err := s.registry.ClaimForProcessing(ctx, id)
	if err != nil {
		logger.WarnContext(ctx, "claim gazette failed", "error", err)

		return false
	}

	if !won {
		logger.DebugContext(ctx, "lost ocr claim")
	}

	return won
}

// extract runs the OCR call for a gazette this worker has claimed.
func (s *OCRStage) extract(ctx context.Context, logger *slog.Logger, msg queue.Message, m queue.OCRMessage, g *gazette.Gazette) queue.Disposition {
	start := time.Now()

	// A prior attempt may have saved text and then died before flipping
	// the row to ocr_success. The cache is consulted before anything is
	// fetched or sent to the provider.
	res, tier, err := s.cache.Lookup(ctx, g.PDFURL, g.ID)
	if err != nil {
		logger.WarnContext(ctx, "ocr cache lookup failed, extracting fresh", "error", err)
	} else {
		s.metrics.RecordCacheLookup(ctx, string(tier), res != nil)
	}

	if res != nil {
		logger.InfoContext(ctx, "claimed gazette already has stored text", "tier", string(tier))

		if err := s.registry.SetStatus(ctx, g.ID, gazette.StatusOCRSuccess); err != nil {
			return s.fail(ctx, logger, msg, m, start,
				gazette.NewError(gazette.KindStorage, "ocr_status_update_failed", err))
		}

		return s.forward(ctx, logger, m, res)
	}

	markCrawl(ctx, s.registry, logger, m.GazetteCrawlID, gazette.CrawlProcessing)
	recordProgress(ctx, s.registry, logger, gazette.ProgressEvent{
		JobID:    m.CrawlJobID,
		SpiderID: m.SpiderConfig.ID,
		Stage:    gazette.ProgressOCRStart,
		Status:   gazette.ProgressOK,
	})

	body, archiveKey := s.archivePDF(ctx, logger, g)

	doc := ocr.DocumentFromURL(g.PDFURL)

	if s.archive != nil && archiveKey != "" {
		if public := s.archive.PublicURL(archiveKey); public != "" {
			doc = ocr.DocumentFromURL(public)
		}
	}

	result, err := s.ocr.Recognize(ctx, doc)
	if err != nil && len(body) > 0 {
		logger.WarnContext(ctx, "ocr via url failed, retrying with inline pdf", "error", err)
		result, err = s.ocr.Recognize(ctx, ocr.DocumentFromBytes(body))
	}

	if err != nil {
		return s.fail(ctx, logger, msg, m, start,
			gazette.NewError(gazette.KindExternalAPI, "ocr_failed", err))
	}

	if strings.TrimSpace(result.Text) == "" {
		return s.fail(ctx, logger, msg, m, start,
			gazette.NewError(gazette.KindExternalAPI, "ocr_empty_text", nil).
				WithContext("gazette_id", strconv.FormatInt(g.ID, 10)))
	}

	stored, err := s.cache.Save(ctx, g.PDFURL, &gazette.OcrResult{
		DocumentKind:  gazette.DocumentKindGazette,
		DocumentID:    g.ID,
		ExtractedText: result.Text,
		TextLength:    len(result.Text),
		Method:        ocr.MethodMistral,
		Metadata: gazette.OcrMetadata{
			Model:          result.Model,
			PagesProcessed: result.PagesProcessed,
			DocSizeBytes:   result.DocSizeBytes,
			ProcessingMS:   result.ProcessingMS,
			ArchiveKey:     archiveKey,
		},
	})
	if err != nil {
		return s.fail(ctx, logger, msg, m, start,
			gazette.NewError(gazette.KindStorage, "ocr_save_failed", err))
	}

	if err := s.registry.SetStatus(ctx, g.ID, gazette.StatusOCRSuccess); err != nil {
		// The text is saved; failing the row keeps the state machine
		// live and the redelivery will find the stored text.
		return s.fail(ctx, logger, msg, m, start,
			gazette.NewError(gazette.KindStorage, "ocr_status_update_failed", err))
	}

	markCrawl(ctx, s.registry, logger, m.GazetteCrawlID, gazette.CrawlAnalysisPending)
	recordProgress(ctx, s.registry, logger, gazette.ProgressEvent{
		JobID:      m.CrawlJobID,
		SpiderID:   m.SpiderConfig.ID,
		Stage:      gazette.ProgressOCREnd,
		Status:     gazette.ProgressOK,
		DurationMS: time.Since(start).Milliseconds(),
		Detail: map[string]string{
			"pages":       strconv.Itoa(result.PagesProcessed),
			"text_length": strconv.Itoa(stored.TextLength),
		},
	})

	if err := s.publishAnalysis(ctx, m, stored); err != nil {
		// The gazette is already ocr_success: the redelivery forwards
		// from the cache without another provider call.
		logger.WarnContext(ctx, "enqueue analysis failed", "error", err)

		return queue.Retry
	}

	logger.InfoContext(ctx, "ocr finished",
		"pages", result.PagesProcessed, "text_length", stored.TextLength)

	return queue.Ack
}

// forward hands already-extracted text to the analysis stage. This is
// the redelivery path: no claim is held and no provider call happens.
func (s *OCRStage) forward(ctx context.Context, logger *slog.Logger, m queue.OCRMessage, res *gazette.OcrResult) queue.Disposition {
	markCrawl(ctx, s.registry, logger, m.GazetteCrawlID, gazette.CrawlAnalysisPending)

	if err := s.publishAnalysis(ctx, m, res); err != nil {
		logger.WarnContext(ctx, "enqueue analysis failed", "error", err)

		return queue.Retry
	}

	return queue.Ack
}

func (s *OCRStage) publishAnalysis(ctx context.Context, m queue.OCRMessage, res *gazette.OcrResult) error {
	return s.queue.Publish(ctx, queue.StageAnalysis, queue.AnalysisMessage{
		JobID:          m.JobID,
		GazetteCrawlID: m.GazetteCrawlID,
		GazetteID:      m.GazetteID,
		OcrResult:      res,
		SpiderConfig:   m.SpiderConfig,
		CrawlJobID:     m.CrawlJobID,
		QueuedAt:       time.Now().UTC(),
	})
}

// archivePDF stores the source PDF in the object archive, best-effort:
// archival trouble never fails the stage. The fetched body is returned
// so the OCR call can fall back to inline bytes, along with the archive
// key when one exists.
func (s *OCRStage) archivePDF(ctx context.Context, logger *slog.Logger, g *gazette.Gazette) ([]byte, string) {
	if s.archive == nil {
		return nil, ""
	}

	if g.Archived() {
		return nil, *g.PDFObjectKey
	}

	body, err := s.fetcher.FetchPDF(ctx, g.PDFURL)
	if err != nil {
		logger.WarnContext(ctx, "fetch pdf for archive failed", "error", err)

		return nil, ""
	}

	key, err := s.archive.PutPDF(ctx, g.PDFURL, body)
	if err != nil {
		logger.WarnContext(ctx, "archive pdf failed", "error", err)

		return body, ""
	}

	if err := s.registry.SetObjectKey(ctx, g.ID, key); err != nil {
		logger.WarnContext(ctx, "record archive key failed", "error", err)
	}

	return body, key
}

// fail moves the gazette to ocr_failure so the redelivery can reschedule
// it, and fails the crawl attempt once the redelivery budget is gone.
func (s *OCRStage) fail(ctx context.Context, logger *slog.Logger, msg queue.Message, m queue.OCRMessage, start time.Time, cause *gazette.PipelineError) queue.Disposition {
	logger.ErrorContext(ctx, "ocr stage failed", "error", cause)
	logError(ctx, s.registry, logger, cause)

	if err := s.registry.SetStatus(ctx, m.GazetteID, gazette.StatusOCRFailure); err != nil {
		logger.WarnContext(ctx, "mark gazette failed", "error", err)
	}

	recordProgress(ctx, s.registry, logger, gazette.ProgressEvent{
		JobID:      m.CrawlJobID,
		SpiderID:   m.SpiderConfig.ID,
		Stage:      gazette.ProgressOCREnd,
		Status:     gazette.ProgressFailed,
		DurationMS: time.Since(start).Milliseconds(),
		Detail:     map[string]string{"error": cause.Error()},
	})

	if finalAttempt(msg) {
		markCrawl(ctx, s.registry, logger, m.GazetteCrawlID, gazette.CrawlFailed)
	}

	return queue.Retry
}
