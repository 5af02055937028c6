package pipeline

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/analysis"
	"github.com/gazeta-aberta/gazeta/internal/analyzers/analyze"
	"github.com/gazeta-aberta/gazeta/internal/analyzers/cityfilter"
	"github.com/gazeta-aberta/gazeta/internal/analyzers/concurso"
	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/observability"
	"github.com/gazeta-aberta/gazeta/internal/ocr"
	"github.com/gazeta-aberta/gazeta/internal/queue"
	"github.com/gazeta-aberta/gazeta/internal/registry"
	"github.com/gazeta-aberta/gazeta/internal/spider"
)

// categoryLicitacao is the keyword category that marks procurement text.
const categoryLicitacao = "licitacao"

// AnalysisRegistry is the registry surface the analysis stage works through.
type AnalysisRegistry interface {
	GetGazette(ctx context.Context, id int64) (*gazette.Gazette, error)
	GetCrawl(ctx context.Context, id int64) (*gazette.GazetteCrawl, error)
	LinkAnalysis(ctx context.Context, crawlID int64, analysisID string) error
	SetCrawlStatus(ctx context.Context, id int64, next gazette.CrawlStatus) error
	RecordProgress(ctx context.Context, ev gazette.ProgressEvent) error
	RecordError(ctx context.Context, cause error) error
}

// TextSource rehydrates extracted text for messages that arrive without it.
type TextSource interface {
	Lookup(ctx context.Context, pdfURL string, gazetteID int64) (*gazette.OcrResult, ocr.Tier, error)
}

// ResultCache resolves and persists deduplicated analysis results.
type ResultCache interface {
	Resolve(ctx context.Context, dedupKey string) (*gazette.AnalysisResult, analysis.Tier, error)
	Commit(ctx context.Context, res *gazette.AnalysisResult) (*gazette.AnalysisResult, bool, error)
}

// Orchestrator runs the analyzer pass over one text.
type Orchestrator interface {
	AnalyzerIDs() []string
	Run(ctx context.Context, in analyze.Input) analyze.Outcome
}

// AnalysisStageDeps wires an AnalysisStage.
type AnalysisStageDeps struct {
	Registry     AnalysisRegistry
	Queue        Publisher
	Results      ResultCache
	Texts        TextSource
	Orchestrator Orchestrator
	Catalog      *spider.Catalog
	Config       config.AnalysisConfig
	Metrics      *observability.PipelineMetrics
	Logger       *slog.Logger
}

// AnalysisStage consumes analysis messages. A city gazette is analyzed
// once for its own territory; a state gazette is split into per-city
// excerpts and analyzed once per mentioned municipality. Each territory
// pass resolves through the dedup cache first, so redeliveries and
// replays reuse stored results instead of rerunning the analyzers.
type AnalysisStage struct {
	registry     AnalysisRegistry
	queue        Publisher
	results      ResultCache
	texts        TextSource
	orchestrator Orchestrator
	catalog      *spider.Catalog
	config       config.AnalysisConfig
	metrics      *observability.PipelineMetrics
	logger       *slog.Logger
}

// NewAnalysisStage wires an analysis stage handler.
func NewAnalysisStage(d AnalysisStageDeps) *AnalysisStage {
	return &AnalysisStage{
		registry:     d.Registry,
		queue:        d.Queue,
		results:      d.Results,
		texts:        d.Texts,
		orchestrator: d.Orchestrator,
		catalog:      d.Catalog,
		config:       d.Config,
		metrics:      d.Metrics,
		logger:       d.Logger,
	}
}

// target is one territory pass over a gazette: the territory analyzed,
// the text it sees, and the filter that produced the text when one did.
type target struct {
	territoryID string
	name        string
	text        string
	filter      *gazette.TerritoryFilter
}

// Handle is the queue.Handler for the analysis stage.
func (s *AnalysisStage) Handle(ctx context.Context, msg queue.Message) queue.Disposition {
	var m queue.AnalysisMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		s.logger.ErrorContext(ctx, "undecodable analysis message", "error", err)

		return queue.Terminate
	}

	logger := s.logger.With(
		"gazette_id", m.GazetteID, "crawl_id", m.GazetteCrawlID, "attempt", msg.Attempt)

	crawl, err := s.registry.GetCrawl(ctx, m.GazetteCrawlID)
	if errors.Is(err, registry.ErrNotFound) {
		logger.ErrorContext(ctx, "crawl row missing, dropping message")
		logError(ctx, s.registry, logger, gazette.NewError(gazette.KindNotFound, "crawl_missing", err).
			WithContext("crawl_id", strconv.FormatInt(m.GazetteCrawlID, 10)))

		return queue.Terminate
	}

	if err != nil {
		logger.WarnContext(ctx, "load crawl failed", "error", err)

		return queue.Retry
	}

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

	ocrRes := m.OcrResult
	if ocrRes == nil {
		var tier ocr.Tier

		ocrRes, tier, err = s.texts.Lookup(ctx, g.PDFURL, g.ID)
		if err != nil {
			logger.WarnContext(ctx, "ocr text lookup failed", "error", err)

			return queue.Retry
		}

		s.metrics.RecordCacheLookup(ctx, string(tier), ocrRes != nil)

		if ocrRes == nil {
			// Republishing to the OCR stage could loop forever when the
			// text truly is gone, so the message dies here instead.
			logger.ErrorContext(ctx, "no extracted text stored, dropping message")
			logError(ctx, s.registry, logger, gazette.NewError(gazette.KindNotFound, "ocr_text_missing", nil).
				WithContext("gazette_id", strconv.FormatInt(m.GazetteID, 10)))

			return queue.Terminate
		}
	}

	cfg := m.SpiderConfig
	if cfg.ID == "" {
		// Replayed and hand-built messages carry no spider config; the
		// catalog knows the spider that produced this crawl.
		if known, ok := s.catalog.Spider(crawl.SpiderID); ok {
			cfg = known
		}
	}

	start := time.Now()

	recordProgress(ctx, s.registry, logger, gazette.ProgressEvent{
		JobID:    m.CrawlJobID,
		SpiderID: crawl.SpiderID,
		Stage:    gazette.ProgressAnalysisStart,
		Status:   gazette.ProgressOK,
	})

	var stageErr *gazette.PipelineError

	fail := func(e *gazette.PipelineError) {
		if stageErr == nil {
			stageErr = e
		}
	}

	analyses := 0

	for _, t := range s.targets(ctx, cfg, crawl, ocrRes.ExtractedText) {
		res, stepErr := s.analyzeOne(ctx, logger, m, g, t)
		if stepErr != nil {
			logger.WarnContext(ctx, "territory analysis failed",
				"territory_id", t.territoryID, "error", stepErr)
			fail(stepErr)

			continue
		}

		analyses++

		if err := s.registry.LinkAnalysis(ctx, crawl.ID, res.AnalysisID); err != nil {
			if errors.Is(err, registry.ErrAlreadyLinked) {
				logger.DebugContext(ctx, "crawl already linked to another analysis",
					"analysis_id", res.AnalysisID)
			} else {
				logger.WarnContext(ctx, "link analysis failed", "error", err)
				fail(gazette.NewError(gazette.KindStorage, "analysis_link_failed", err))

				continue
			}
		}

		if err := s.publishCallback(ctx, m, crawl, res); err != nil {
			logger.WarnContext(ctx, "enqueue webhook failed", "error", err)
			fail(gazette.NewError(gazette.KindQueue, "webhook_enqueue_failed", err))
		}
	}

	if stageErr != nil {
		return s.fail(ctx, logger, msg, m, crawl.SpiderID, start, stageErr)
	}

	markCrawl(ctx, s.registry, logger, crawl.ID, gazette.CrawlSuccess)
	recordProgress(ctx, s.registry, logger, gazette.ProgressEvent{
		JobID:      m.CrawlJobID,
		SpiderID:   crawl.SpiderID,
		Stage:      gazette.ProgressAnalysisEnd,
		Status:     gazette.ProgressOK,
		DurationMS: time.Since(start).Milliseconds(),
		Detail:     map[string]string{"analyses": strconv.Itoa(analyses)},
	})

	logger.InfoContext(ctx, "analysis finished", "analyses", analyses)

	return queue.Ack
}

// targets maps one gazette to the territory passes it needs. City
// gazettes analyze as-is for their own territory. State gazettes fan out
// over the state's municipalities, keeping only cities the text actually
// mentions; a state gazette mentioning no catalog city yields zero
// targets, which is a successful empty pass.
func (s *AnalysisStage) targets(ctx context.Context, cfg spider.Config, crawl *gazette.GazetteCrawl, text string) []target {
	if cfg.Scope != spider.ScopeState {
		return []target{{
			territoryID: crawl.TerritoryID,
			name:        s.catalog.TerritoryName(crawl.TerritoryID),
			text:        text,
		}}
	}

	var out []target

	for _, city := range s.catalog.CitiesOf(cfg.StateCode) {
		filter, err := cityfilter.New(city.Name, city.CityRegex())
		if err != nil {
			s.logger.WarnContext(ctx, "unusable city pattern", "city", city.Name, "error", err)

			continue
		}

		extract := filter.Extract(text)
		if extract.MatchedParagraphs == 0 {
			continue
		}

		out = append(out, target{
			territoryID: city.ID,
			name:        city.Name,
			text:        extract.Text,
			filter: &gazette.TerritoryFilter{
				CityName:           city.Name,
				CityRegex:          city.CityRegex(),
				FilteredTextLength: len(extract.Text),
				OriginalTextLength: len(text),
			},
		})
	}

	return out
}

// analyzeOne resolves or computes the analysis for one territory pass.
func (s *AnalysisStage) analyzeOne(ctx context.Context, logger *slog.Logger, m queue.AnalysisMessage, g *gazette.Gazette, t target) (*gazette.AnalysisResult, *gazette.PipelineError) {
	ids := s.orchestrator.AnalyzerIDs()
	hash := analyze.Signature{
		Version:     s.config.Version,
		AnalyzerIDs: ids,
		Keywords:    s.config.Keywords,
		TerritoryID: t.territoryID,
	}.Hash()

	cityRegex := ""
	if t.filter != nil {
		cityRegex = t.filter.CityRegex
	}

	dedupKey := analyze.DedupKey(t.territoryID, m.GazetteID, hash, cityRegex)

	cached, tier, err := s.results.Resolve(ctx, dedupKey)
	if err != nil {
		return nil, gazette.NewError(gazette.KindStorage, "analysis_resolve_failed", err).
			WithContext("territory_id", t.territoryID)
	}

	s.metrics.RecordCacheLookup(ctx, string(tier), cached != nil)

	if cached != nil {
		logger.DebugContext(ctx, "analysis already stored, reusing",
			"territory_id", t.territoryID, "tier", string(tier))

		return cached, nil
	}

	outcome := s.orchestrator.Run(ctx, analyze.Input{
		Text:          t.text,
		TerritoryID:   t.territoryID,
		TerritoryName: t.name,
		GazetteID:     m.GazetteID,
	})
	if outcome.Failed() {
		// A partial pass is never committed: committing would pin the
		// incomplete findings under this dedup key for every future replay.
		return nil, gazette.NewError(gazette.KindInternal, "analyzer_failed", runFailures(outcome)).
			WithContext("territory_id", t.territoryID)
	}

	res := &gazette.AnalysisResult{
		AnalysisID:      analyze.JobID(t.territoryID, m.GazetteID, hash),
		CrawlJobID:      m.CrawlJobID,
		DedupKey:        dedupKey,
		TerritoryID:     t.territoryID,
		GazetteID:       m.GazetteID,
		PublicationDate: g.PublicationDate,
		Findings:        outcome.Findings,
		Metadata: gazette.AnalysisMetadata{
			ConfigSignature: hash,
			AnalyzerIDs:     ids,
			TerritoryFilter: t.filter,
		},
		AnalyzedAt: time.Now().UTC(),
	}
	res.Recount()
	res.Summary = summarize(outcome.Context, res)

	stored, inserted, err := s.results.Commit(ctx, res)
	if err != nil {
		return nil, gazette.NewError(gazette.KindStorage, "analysis_commit_failed", err).
			WithContext("territory_id", t.territoryID)
	}

	if !inserted {
		logger.DebugContext(ctx, "lost analysis insert race", "territory_id", t.territoryID)
	}

	return stored, nil
}

func (s *AnalysisStage) publishCallback(ctx context.Context, m queue.AnalysisMessage, crawl *gazette.GazetteCrawl, res *gazette.AnalysisResult) error {
	return s.queue.Publish(ctx, queue.StageWebhook, queue.WebhookMessage{
		Type: queue.TypeAnalysisComplete,
		Payload: queue.AnalysisCallback{
			AnalysisResultID:       res.AnalysisID,
			GazetteCrawlID:         crawl.ID,
			TerritoryID:            res.TerritoryID,
			FindingsCount:          res.TotalFindings,
			Categories:             res.Categories,
			HighConfidenceFindings: res.HighConfidenceFindings,
			Keywords:               res.Keywords,
			JobID:                  m.CrawlJobID,
			GazetteID:              res.GazetteID,
			PublicationDate:        res.PublicationDate,
			AnalyzedAt:             res.AnalyzedAt,
		},
		Timestamp: time.Now().UTC(),
	})
}

// fail records the failure and fails the crawl attempt when no further
// redelivery will fix it. Already-committed territories are safe either
// way: the redelivery resolves them from the dedup cache.
func (s *AnalysisStage) fail(ctx context.Context, logger *slog.Logger, msg queue.Message, m queue.AnalysisMessage, spiderID string, start time.Time, cause *gazette.PipelineError) queue.Disposition {
	logger.ErrorContext(ctx, "analysis stage failed", "error", cause)
	logError(ctx, s.registry, logger, cause)

	recordProgress(ctx, s.registry, logger, gazette.ProgressEvent{
		JobID:      m.CrawlJobID,
		SpiderID:   spiderID,
		Stage:      gazette.ProgressAnalysisEnd,
		Status:     gazette.ProgressFailed,
		DurationMS: time.Since(start).Milliseconds(),
		Detail:     map[string]string{"error": cause.Error()},
	})

	if !cause.Retryable() || finalAttempt(msg) {
		markCrawl(ctx, s.registry, logger, m.GazetteCrawlID, gazette.CrawlFailed)
	}

	if !cause.Retryable() {
		return queue.Terminate
	}

	return queue.Retry
}

// summarize condenses an orchestration pass for listings and webhooks.
// Concurso detection keys on document types rather than raw keyword
// hits, so scattered mentions in unrelated acts stay negative.
func summarize(octx *analyze.Context, res *gazette.AnalysisResult) gazette.AnalysisSummary {
	sum := gazette.AnalysisSummary{
		TopCategory:    topCategory(res.Findings, res.Categories),
		LicitacaoFound: slices.Contains(res.Categories, categoryLicitacao),
	}

	if octx == nil {
		return sum
	}

	sum.ConcursoFound = octx.DocumentTypes[concurso.DocTypeConvocacao] > 0 ||
		octx.DocumentTypes[concurso.DocTypeEditalAbertura] > 0

	types := make([]string, 0, len(octx.DocumentTypes))
	for dt := range octx.DocumentTypes {
		types = append(types, dt)
	}

	slices.SortFunc(types, func(a, b string) int {
		if d := cmp.Compare(octx.DocumentTypes[b], octx.DocumentTypes[a]); d != 0 {
			return d
		}

		return strings.Compare(a, b)
	})
	sum.DocumentTypes = types

	return sum
}

// topCategory picks the most frequent category across findings, breaking
// ties in favor of the earliest-seen category.
func topCategory(findings []gazette.Finding, ordered []string) string {
	counts := map[string]int{}

	for _, f := range findings {
		for _, c := range f.Categories() {
			counts[c]++
		}
	}

	best := ""

	for _, c := range ordered {
		if best == "" || counts[c] > counts[best] {
			best = c
		}
	}

	return best
}

// runFailures folds the failed runs of an orchestration pass into one error.
func runFailures(o analyze.Outcome) error {
	var errs []error

	for _, r := range o.Runs {
		if r.Status == analyze.RunFailure {
			errs = append(errs, fmt.Errorf("%s: %s", r.AnalyzerID, r.Error))
		}
	}

	return errors.Join(errs...)
}
