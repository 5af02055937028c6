package queue

import (
	"time"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/spider"
)

// CrawlMetadata ties a crawl message back to the dispatcher invocation
// that produced it.
type CrawlMetadata struct {
	CrawlJobID string `json:"crawlJobId"`
}

// CrawlMessage asks the crawl stage to run one spider over a date range.
type CrawlMessage struct {
	SpiderID     string           `json:"spiderId"`
	TerritoryID  string           `json:"territoryId"`
	SpiderType   string           `json:"spiderType"`
	GazetteScope spider.Scope     `json:"gazetteScope"`
	Config       spider.Config    `json:"config"`
	DateRange    spider.DateRange `json:"dateRange"`
	RetryCount   int              `json:"retryCount,omitempty"`
	Metadata     CrawlMetadata    `json:"metadata"`
}

// OCRMessage asks the OCR stage to extract text for one gazette. The ids
// reference registry rows; the gazette row's status decides what the
// stage actually does on entry. SpiderConfig rides along from the crawl
// stage so the analysis stage knows the gazette's scope without a
// catalog round-trip.
type OCRMessage struct {
	JobID          string        `json:"jobId"`
	GazetteCrawlID int64         `json:"gazetteCrawl"`
	GazetteID      int64         `json:"gazette"`
	SpiderConfig   spider.Config `json:"spiderConfig"`
	CrawlJobID     string        `json:"crawlJobId"`
	QueuedAt       time.Time     `json:"queuedAt"`
}

// AnalysisMessage carries the OCR output forward. OcrResult is inlined so
// the analysis stage normally needs no store round-trip; on redelivery it
// may be rehydrated from the OCR store instead.
type AnalysisMessage struct {
	JobID          string             `json:"jobId"`
	GazetteCrawlID int64              `json:"gazetteCrawl"`
	GazetteID      int64              `json:"gazette"`
	OcrResult      *gazette.OcrResult `json:"ocrResult,omitempty"`
	SpiderConfig   spider.Config      `json:"spiderConfig"`
	CrawlJobID     string             `json:"crawlJobId"`
	QueuedAt       time.Time          `json:"queuedAt"`
}

// TypeAnalysisComplete is the only webhook message type today.
const TypeAnalysisComplete = "analysis_complete"

// WebhookMessage hands a finished analysis to the delivery stage.
type WebhookMessage struct {
	Type      string           `json:"type"`
	Payload   AnalysisCallback `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}

// AnalysisCallback is the analysis summary that webhook deliveries are
// built from. It carries counts and categories rather than full findings;
// the delivery stage loads the stored result when a subscription's filters
// need finding-level detail.
type AnalysisCallback struct {
	AnalysisResultID       string    `json:"analysisResultId"`
	GazetteCrawlID         int64     `json:"gazetteCrawlId"`
	TerritoryID            string    `json:"territoryId"`
	FindingsCount          int       `json:"findingsCount"`
	Categories             []string  `json:"categories"`
	HighConfidenceFindings int       `json:"highConfidenceFindings"`
	Keywords               []string  `json:"keywords"`
	JobID                  string    `json:"jobId"`
	GazetteID              int64     `json:"gazetteId"`
	PublicationDate        time.Time `json:"publicationDate"`
	AnalyzedAt             time.Time `json:"analyzedAt"`
}
