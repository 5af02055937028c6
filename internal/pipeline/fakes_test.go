package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gazeta-aberta/gazeta/internal/analysis"
	"github.com/gazeta-aberta/gazeta/internal/analyzers/analyze"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/ocr"
	"github.com/gazeta-aberta/gazeta/internal/queue"
	"github.com/gazeta-aberta/gazeta/internal/registry"
	"github.com/gazeta-aberta/gazeta/internal/spider"
	"github.com/gazeta-aberta/gazeta/internal/webhook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func mustCatalog(t *testing.T) *spider.Catalog {
	t.Helper()

	catalog, err := spider.LoadCatalog()
	require.NoError(t, err)

	return catalog
}

func message(t *testing.T, stage queue.Stage, payload any) queue.Message {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	return queue.Message{Stage: stage, Data: data, Attempt: 1}
}

func lastAttempt(t *testing.T, stage queue.Stage, payload any) queue.Message {
	t.Helper()

	msg := message(t, stage, payload)
	msg.Attempt = stage.MaxDeliver()

	return msg
}

type spiderDoneCall struct {
	jobID  string
	failed bool
}

// fakeRegistry backs every stage's registry interface with in-memory
// maps, mirroring the real store's compare-and-swap and idempotency
// rules so handler tests exercise the same redelivery behavior.
type fakeRegistry struct {
	mu sync.Mutex

	gazettes     map[int64]*gazette.Gazette
	gazetteByURL map[string]int64
	nextGazette  int64

	crawls    map[int64]*gazette.GazetteCrawl
	nextCrawl int64

	analyses map[string]*gazette.AnalysisResult

	deliveries   []*gazette.Delivery
	nextDelivery int64

	spiderDone []spiderDoneCall
	progress   []gazette.ProgressEvent
	errs       []error

	findOrCreateErr error
	rejectURL       map[string]error
	createCrawlErr  error
	getGazetteErr   error
	getCrawlErr     error
	linkErr         error
	countErr        error
	recordDelivErr  error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		gazettes:     map[int64]*gazette.Gazette{},
		gazetteByURL: map[string]int64{},
		crawls:       map[int64]*gazette.GazetteCrawl{},
		analyses:     map[string]*gazette.AnalysisResult{},
	}
}

func (f *fakeRegistry) FindOrCreate(_ context.Context, cand gazette.Candidate) (*gazette.Gazette, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.findOrCreateErr != nil {
		return nil, false, f.findOrCreateErr
	}

	if err, ok := f.rejectURL[cand.PDFURL]; ok {
		return nil, false, err
	}

	if id, ok := f.gazetteByURL[cand.PDFURL]; ok {
		copied := *f.gazettes[id]

		return &copied, false, nil
	}

	f.nextGazette++
	g := &gazette.Gazette{
		ID:              f.nextGazette,
		TerritoryID:     cand.TerritoryID,
		PublicationDate: cand.PublicationDate,
		PDFURL:          cand.PDFURL,
		EditionNumber:   cand.EditionNumber,
		IsExtraEdition:  cand.IsExtraEdition,
		Power:           cand.Power,
		Status:          gazette.StatusPending,
		ScrapedAt:       cand.ScrapedAt,
	}
	f.gazettes[g.ID] = g
	f.gazetteByURL[g.PDFURL] = g.ID

	copied := *g

	return &copied, true, nil
}

// addGazette seeds a row for tests that start mid-pipeline.
func (f *fakeRegistry) addGazette(g gazette.Gazette) *gazette.Gazette {
	f.mu.Lock()
	defer f.mu.Unlock()

	if g.ID == 0 {
		f.nextGazette++
		g.ID = f.nextGazette
	} else if g.ID > f.nextGazette {
		f.nextGazette = g.ID
	}

	if g.Status == "" {
		g.Status = gazette.StatusPending
	}

	f.gazettes[g.ID] = &g
	f.gazetteByURL[g.PDFURL] = g.ID

	return &g
}

func (f *fakeRegistry) GetGazette(_ context.Context, id int64) (*gazette.Gazette, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getGazetteErr != nil {
		return nil, f.getGazetteErr
	}

	g, ok := f.gazettes[id]
	if !ok {
		return nil, fmt.Errorf("gazette %d: %w", id, registry.ErrNotFound)
	}

	copied := *g

	return &copied, nil
}

func (f *fakeRegistry) ClaimForProcessing(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.gazettes[id]
	if !ok {
		return false, fmt.Errorf("gazette %d: %w", id, registry.ErrNotFound)
	}

	if !g.Status.Claimable() {
		return false, nil
	}

	g.Status = gazette.StatusOCRProcessing

	return true, nil
}

func (f *fakeRegistry) ReclaimForRepair(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.gazettes[id]
	if !ok {
		return false, fmt.Errorf("gazette %d: %w", id, registry.ErrNotFound)
	}

	if g.Status != gazette.StatusOCRSuccess {
		return false, nil
	}

	g.Status = gazette.StatusOCRProcessing

	return true, nil
}

func (f *fakeRegistry) SetStatus(_ context.Context, id int64, next gazette.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.gazettes[id]
	if !ok {
		return fmt.Errorf("gazette %d: %w", id, registry.ErrNotFound)
	}

	if !g.Status.CanTransition(next) {
		return fmt.Errorf("gazette %d: %s to %s: %w", id, g.Status, next, registry.ErrInvalidTransition)
	}

	g.Status = next

	return nil
}

func (f *fakeRegistry) SetObjectKey(_ context.Context, id int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.gazettes[id]
	if !ok {
		return fmt.Errorf("gazette %d: %w", id, registry.ErrNotFound)
	}

	if g.PDFObjectKey == nil || *g.PDFObjectKey == "" {
		g.PDFObjectKey = &key
	}

	return nil
}

func (f *fakeRegistry) CreateCrawl(_ context.Context, crawl *gazette.GazetteCrawl) (*gazette.GazetteCrawl, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createCrawlErr != nil {
		return nil, f.createCrawlErr
	}

	for _, existing := range f.crawls {
		if existing.JobID == crawl.JobID && existing.GazetteID == crawl.GazetteID {
			copied := *existing

			return &copied, nil
		}
	}

	f.nextCrawl++
	stored := *crawl
	stored.ID = f.nextCrawl
	stored.Status = gazette.CrawlCreated
	f.crawls[stored.ID] = &stored

	copied := stored

	return &copied, nil
}

// addCrawl seeds a crawl row for tests that start mid-pipeline.
func (f *fakeRegistry) addCrawl(c gazette.GazetteCrawl) *gazette.GazetteCrawl {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c.ID == 0 {
		f.nextCrawl++
		c.ID = f.nextCrawl
	} else if c.ID > f.nextCrawl {
		f.nextCrawl = c.ID
	}

	if c.Status == "" {
		c.Status = gazette.CrawlCreated
	}

	f.crawls[c.ID] = &c

	return &c
}

func (f *fakeRegistry) GetCrawl(_ context.Context, id int64) (*gazette.GazetteCrawl, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getCrawlErr != nil {
		return nil, f.getCrawlErr
	}

	c, ok := f.crawls[id]
	if !ok {
		return nil, fmt.Errorf("crawl %d: %w", id, registry.ErrNotFound)
	}

	copied := *c

	return &copied, nil
}

func (f *fakeRegistry) SetCrawlStatus(_ context.Context, id int64, next gazette.CrawlStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.crawls[id]
	if !ok {
		return fmt.Errorf("crawl %d: %w", id, registry.ErrNotFound)
	}

	if !c.Status.CanTransition(next) {
		return fmt.Errorf("crawl %d: %s to %s: %w", id, c.Status, next, registry.ErrInvalidTransition)
	}

	c.Status = next

	return nil
}

func (f *fakeRegistry) LinkAnalysis(_ context.Context, crawlID int64, analysisID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.linkErr != nil {
		return f.linkErr
	}

	c, ok := f.crawls[crawlID]
	if !ok {
		return fmt.Errorf("crawl %d: %w", crawlID, registry.ErrNotFound)
	}

	if c.AnalysisResultID != nil && *c.AnalysisResultID != analysisID {
		return fmt.Errorf("crawl %d: %w", crawlID, registry.ErrAlreadyLinked)
	}

	c.AnalysisResultID = &analysisID

	return nil
}

func (f *fakeRegistry) MarkSpiderDone(_ context.Context, jobID string, failed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.spiderDone = append(f.spiderDone, spiderDoneCall{jobID: jobID, failed: failed})

	return nil
}

func (f *fakeRegistry) addAnalysis(res gazette.AnalysisResult) *gazette.AnalysisResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.analyses[res.AnalysisID] = &res

	return &res
}

func (f *fakeRegistry) GetAnalysisByID(_ context.Context, analysisID string) (*gazette.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res, ok := f.analyses[analysisID]
	if !ok {
		return nil, fmt.Errorf("analysis %s: %w", analysisID, registry.ErrNotFound)
	}

	copied := *res

	return &copied, nil
}

func (f *fakeRegistry) CountSentDeliveries(_ context.Context, subscriptionID, analysisID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.countErr != nil {
		return 0, f.countErr
	}

	n := 0

	for _, d := range f.deliveries {
		if d.SubscriptionID == subscriptionID && d.AnalysisID == analysisID && d.Status == gazette.DeliverySent {
			n++
		}
	}

	return n, nil
}

func (f *fakeRegistry) RecordDelivery(_ context.Context, d *gazette.Delivery) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.recordDelivErr != nil {
		return 0, f.recordDelivErr
	}

	f.nextDelivery++
	copied := *d
	copied.ID = f.nextDelivery
	f.deliveries = append(f.deliveries, &copied)

	return copied.ID, nil
}

func (f *fakeRegistry) RecordProgress(_ context.Context, ev gazette.ProgressEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.progress = append(f.progress, ev)

	return nil
}

func (f *fakeRegistry) RecordError(_ context.Context, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.errs = append(f.errs, cause)

	return nil
}

func (f *fakeRegistry) gazetteStatus(id int64) gazette.Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.gazettes[id].Status
}

func (f *fakeRegistry) crawlStatus(id int64) gazette.CrawlStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.crawls[id].Status
}

func (f *fakeRegistry) progressStages() []gazette.ProgressStage {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]gazette.ProgressStage, 0, len(f.progress))
	for _, ev := range f.progress {
		out = append(out, ev.Stage)
	}

	return out
}

type publishedMessage struct {
	stage   queue.Stage
	payload any
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, stage queue.Stage, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.published = append(f.published, publishedMessage{stage: stage, payload: payload})

	return nil
}

func (f *fakePublisher) byStage(stage queue.Stage) []any {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []any

	for _, p := range f.published {
		if p.stage == stage {
			out = append(out, p.payload)
		}
	}

	return out
}

type fakeSpider struct {
	cands    []gazette.Candidate
	err      error
	requests int
}

func (f *fakeSpider) Crawl(context.Context) ([]gazette.Candidate, error) {
	return f.cands, f.err
}

func (f *fakeSpider) RequestCount() int {
	return f.requests
}

type fakeRecognizer struct {
	mu      sync.Mutex
	calls   int
	keys    []string
	result  ocr.Result
	err     error
	failURL bool
}

func (f *fakeRecognizer) Recognize(_ context.Context, doc ocr.Document) (*ocr.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.keys = append(f.keys, doc.Key())

	if f.failURL && !strings.HasPrefix(doc.Key(), "base64:") {
		return nil, errors.New("provider cannot reach url")
	}

	if f.err != nil {
		return nil, f.err
	}

	res := f.result

	return &res, nil
}

func (f *fakeRecognizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	body  []byte
	err   error
}

func (f *fakeFetcher) FetchPDF(context.Context, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	return f.body, nil
}

type fakeArchive struct {
	mu     sync.Mutex
	puts   int
	key    string
	public string
	err    error
}

func (f *fakeArchive) PutPDF(_ context.Context, _ string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.puts++

	if f.err != nil {
		return "", f.err
	}

	return f.key, nil
}

func (f *fakeArchive) PublicURL(key string) string {
	if f.public == "" || key == "" {
		return ""
	}

	return f.public + "/" + key
}

// fakeTextCache serves both the OCR stage's cache and the analysis
// stage's text source.
type fakeTextCache struct {
	mu        sync.Mutex
	stored    map[int64]*gazette.OcrResult
	saves     int
	nextID    int64
	lookupErr error
	saveErr   error
}

func newFakeTextCache() *fakeTextCache {
	return &fakeTextCache{stored: map[int64]*gazette.OcrResult{}}
}

func (f *fakeTextCache) Lookup(_ context.Context, _ string, gazetteID int64) (*gazette.OcrResult, ocr.Tier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lookupErr != nil {
		return nil, ocr.TierMiss, f.lookupErr
	}

	res, ok := f.stored[gazetteID]
	if !ok {
		return nil, ocr.TierMiss, nil
	}

	copied := *res

	return &copied, ocr.TierKV, nil
}

func (f *fakeTextCache) Save(_ context.Context, _ string, res *gazette.OcrResult) (*gazette.OcrResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saveErr != nil {
		return nil, f.saveErr
	}

	f.saves++
	f.nextID++
	stored := *res
	stored.ID = f.nextID
	stored.TextLength = len(stored.ExtractedText)
	f.stored[res.DocumentID] = &stored

	copied := stored

	return &copied, nil
}

func (f *fakeTextCache) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.saves
}

type fakeResultCache struct {
	mu         sync.Mutex
	stored     map[string]*gazette.AnalysisResult
	commits    int
	nextID     int64
	resolveErr error
	commitErr  error
}

func newFakeResultCache() *fakeResultCache {
	return &fakeResultCache{stored: map[string]*gazette.AnalysisResult{}}
}

func (f *fakeResultCache) Resolve(_ context.Context, dedupKey string) (*gazette.AnalysisResult, analysis.Tier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resolveErr != nil {
		return nil, analysis.TierMiss, f.resolveErr
	}

	res, ok := f.stored[dedupKey]
	if !ok {
		return nil, analysis.TierMiss, nil
	}

	copied := *res

	return &copied, analysis.TierKV, nil
}

func (f *fakeResultCache) Commit(_ context.Context, res *gazette.AnalysisResult) (*gazette.AnalysisResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.commitErr != nil {
		return nil, false, f.commitErr
	}

	if existing, ok := f.stored[res.DedupKey]; ok {
		copied := *existing

		return &copied, false, nil
	}

	f.commits++
	f.nextID++
	stored := *res
	stored.ID = f.nextID
	f.stored[res.DedupKey] = &stored

	copied := stored

	return &copied, true, nil
}

func (f *fakeResultCache) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.commits
}

type fakeOrchestrator struct {
	mu       sync.Mutex
	runs     int
	inputs   []analyze.Input
	findings []gazette.Finding
	failRuns bool
}

func (f *fakeOrchestrator) AnalyzerIDs() []string {
	return []string{"concurso", "keyword"}
}

func (f *fakeOrchestrator) Run(_ context.Context, in analyze.Input) analyze.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runs++
	f.inputs = append(f.inputs, in)

	if f.failRuns {
		return analyze.Outcome{
			Runs:    []analyze.Run{{AnalyzerID: "concurso", Status: analyze.RunFailure, Error: "analyzer exploded"}},
			Context: analyze.NewContext(),
		}
	}

	octx := analyze.NewContext()
	octx.Absorb(f.findings)

	return analyze.Outcome{
		Findings: f.findings,
		Runs: []analyze.Run{
			{AnalyzerID: "concurso", Status: analyze.RunSuccess},
			{AnalyzerID: "keyword", Status: analyze.RunSuccess, Findings: len(f.findings)},
		},
		Context: octx,
	}
}

func (f *fakeOrchestrator) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.runs
}

type fakeSubs struct {
	subs []gazette.Subscription
	err  error
}

func (f *fakeSubs) Active(context.Context) ([]gazette.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.subs, nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	status    gazette.DeliveryStatus
	delivered []webhook.Notification
	subIDs    []string
}

func (f *fakeDeliverer) Deliver(_ context.Context, sub *gazette.Subscription, n webhook.Notification) *gazette.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.delivered = append(f.delivered, n)
	f.subIDs = append(f.subIDs, sub.ID)

	status := f.status
	if status == "" {
		status = gazette.DeliverySent
	}

	d := &gazette.Delivery{
		SubscriptionID: sub.ID,
		Event:          n.Event,
		AnalysisID:     n.AnalysisID,
		Status:         status,
		Attempts:       1,
	}

	if status == gazette.DeliverySent {
		now := time.Now().UTC()
		d.DeliveredAt = &now
		d.StatusCode = 200
	} else {
		d.LastError = "endpoint unreachable"
	}

	return d
}

func (f *fakeDeliverer) deliveredEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.delivered))
	for _, n := range f.delivered {
		out = append(out, n.Event)
	}

	return out
}
