package gazette

import "time"

// CrawlStatus is the lifecycle state of a single ingestion attempt.
type CrawlStatus string

// GazetteCrawl statuses. CrawlSuccess and CrawlFailed are terminal; a
// terminal row is never mutated except by an operator-initiated reset.
const (
	CrawlCreated         CrawlStatus = "created"
	CrawlProcessing      CrawlStatus = "processing"
	CrawlAnalysisPending CrawlStatus = "analysis_pending"
	CrawlSuccess         CrawlStatus = "success"
	CrawlFailed          CrawlStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s CrawlStatus) Terminal() bool {
	return s == CrawlSuccess || s == CrawlFailed
}

// crawlRank orders crawl statuses by progress toward a terminal state.
var crawlRank = map[CrawlStatus]int{
	CrawlCreated:         0,
	CrawlProcessing:      1,
	CrawlAnalysisPending: 2,
	CrawlSuccess:         3,
	CrawlFailed:          3,
}

// CanTransition reports whether a crawl row may move from s to next.
// Movement is monotonic: a row never returns to an earlier state and
// never leaves a terminal one. Failure is reachable from any live state.
func (s CrawlStatus) CanTransition(next CrawlStatus) bool {
	if s.Terminal() {
		return false
	}

	if next == CrawlFailed {
		return true
	}

	return crawlRank[next] > crawlRank[s]
}

// GazetteCrawl records one ingestion attempt of one gazette within one
// crawl job, tracked through to a terminal outcome.
type GazetteCrawl struct {
	ID               int64       `db:"id"                 json:"id"`
	JobID            string      `db:"job_id"             json:"jobId"`
	TerritoryID      string      `db:"territory_id"       json:"territoryId"`
	SpiderID         string      `db:"spider_id"          json:"spiderId"`
	GazetteID        int64       `db:"gazette_id"         json:"gazetteId"`
	Status           CrawlStatus `db:"status"             json:"status"`
	AnalysisResultID *string     `db:"analysis_result_id" json:"analysisResultId,omitempty"`
	ScrapedAt        time.Time   `db:"scraped_at"         json:"scrapedAt"`
	CreatedAt        time.Time   `db:"created_at"         json:"createdAt"`
}

// JobStatus is the lifecycle state of a crawl-job aggregate.
type JobStatus string

// CrawlJob statuses.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// CrawlJob aggregates one dispatcher invocation: the set of spiders
// enqueued and per-spider completion counters. Counters are monotonic
// hints updated from multiple stages; the stores are the source of truth.
type CrawlJob struct {
	ID               string    `db:"id"                json:"id"`
	Status           JobStatus `db:"status"            json:"status"`
	TotalSpiders     int       `db:"total_spiders"     json:"totalSpiders"`
	CompletedSpiders int       `db:"completed_spiders" json:"completedSpiders"`
	FailedSpiders    int       `db:"failed_spiders"    json:"failedSpiders"`
	StartDate        time.Time `db:"start_date"        json:"startDate"`
	EndDate          time.Time `db:"end_date"          json:"endDate"`
	ScopeFilter      string    `db:"scope_filter"      json:"scopeFilter,omitempty"`
	CreatedAt        time.Time `db:"created_at"        json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at"        json:"updatedAt"`
}

// ProgressStage names a pipeline checkpoint recorded in the job telemetry log.
type ProgressStage string

// Progress stages, in pipeline order.
const (
	ProgressCrawlStart    ProgressStage = "crawl_start"
	ProgressCrawlEnd      ProgressStage = "crawl_end"
	ProgressOCRStart      ProgressStage = "ocr_start"
	ProgressOCREnd        ProgressStage = "ocr_end"
	ProgressAnalysisStart ProgressStage = "analysis_start"
	ProgressAnalysisEnd   ProgressStage = "analysis_end"
	ProgressWebhookSent   ProgressStage = "webhook_sent"
)

// ProgressEvent is one telemetry row in a crawl job's progress log.
type ProgressEvent struct {
	ID         int64             `json:"id"`
	JobID      string            `json:"jobId"`
	SpiderID   string            `json:"spiderId,omitempty"`
	Stage      ProgressStage     `json:"stage"`
	Status     string            `json:"status"`
	DurationMS int64             `json:"durationMs"`
	Detail     map[string]string `json:"detail,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Progress event statuses.
const (
	ProgressOK     = "ok"
	ProgressFailed = "failed"
)
