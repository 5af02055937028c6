package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/registry"
)

var crawlTestColumns = []string{
	"id", "job_id", "territory_id", "spider_id", "gazette_id", "status",
	"analysis_result_id", "scraped_at", "created_at",
}

func sampleCrawl() *gazette.GazetteCrawl {
	return &gazette.GazetteCrawl{
		JobID:       "job-7f3a",
		TerritoryID: "2907509",
		SpiderID:    "ba_camacari",
		GazetteID:   42,
		ScrapedAt:   time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateCrawl_InsertsNewAttempt(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, staticResolver{})
	crawl := sampleCrawl()

	mock.ExpectQuery("INSERT INTO gazette_crawls").
		WithArgs(crawl.JobID, crawl.TerritoryID, crawl.SpiderID, crawl.GazetteID,
			string(gazette.CrawlCreated), crawl.ScrapedAt).
		WillReturnRows(sqlmock.NewRows(crawlTestColumns).
			AddRow(int64(1), crawl.JobID, crawl.TerritoryID, crawl.SpiderID, crawl.GazetteID,
				string(gazette.CrawlCreated), nil, crawl.ScrapedAt, time.Now()))

	got, err := store.CreateCrawl(context.Background(), crawl)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, gazette.CrawlCreated, got.Status)
	assert.Nil(t, got.AnalysisResultID)
}

func TestCreateCrawl_DuplicateReturnsExisting(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, staticResolver{})
	crawl := sampleCrawl()

	mock.ExpectQuery("INSERT INTO gazette_crawls").
		WillReturnRows(sqlmock.NewRows(crawlTestColumns))
	mock.ExpectQuery("FROM gazette_crawls WHERE job_id").
		WithArgs(crawl.JobID, crawl.GazetteID).
		WillReturnRows(sqlmock.NewRows(crawlTestColumns).
			AddRow(int64(9), crawl.JobID, crawl.TerritoryID, crawl.SpiderID, crawl.GazetteID,
				string(gazette.CrawlProcessing), nil, crawl.ScrapedAt, time.Now()))

	got, err := store.CreateCrawl(context.Background(), crawl)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.ID)
	assert.Equal(t, gazette.CrawlProcessing, got.Status)
}

func TestSetCrawlStatus_ValidTransition(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, staticResolver{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM gazette_crawls").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(gazette.CrawlCreated)))
	mock.ExpectExec("UPDATE gazette_crawls SET status").
		WithArgs(int64(9), string(gazette.CrawlProcessing)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SetCrawlStatus(context.Background(), 9, gazette.CrawlProcessing)
	require.NoError(t, err)
}

func TestSetCrawlStatus_TerminalStateRejected(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, staticResolver{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM gazette_crawls").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(gazette.CrawlSuccess)))
	mock.ExpectRollback()

	err := store.SetCrawlStatus(context.Background(), 9, gazette.CrawlProcessing)
	require.ErrorIs(t, err, registry.ErrInvalidTransition)
}

func TestLinkAnalysis_SetsPointer(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, staticResolver{})

	mock.ExpectExec("UPDATE gazette_crawls SET analysis_result_id").
		WithArgs(int64(9), "analysis-1a2b3c4d5e6f7a8b").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.LinkAnalysis(context.Background(), 9, "analysis-1a2b3c4d5e6f7a8b")
	require.NoError(t, err)
}

func TestLinkAnalysis_DivergentResultRejected(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, staticResolver{})

	mock.ExpectExec("UPDATE gazette_crawls SET analysis_result_id").
		WithArgs(int64(9), "analysis-1a2b3c4d5e6f7a8b").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM gazette_crawls WHERE id").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(crawlTestColumns).
			AddRow(int64(9), "job-7f3a", "2907509", "ba_camacari", int64(42),
				string(gazette.CrawlAnalysisPending), "analysis-ffffffffffffffff", time.Now(), time.Now()))

	err := store.LinkAnalysis(context.Background(), 9, "analysis-1a2b3c4d5e6f7a8b")
	require.ErrorIs(t, err, registry.ErrAlreadyLinked)
}

func TestLinkAnalysis_MissingCrawl(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, staticResolver{})

	mock.ExpectExec("UPDATE gazette_crawls SET analysis_result_id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM gazette_crawls WHERE id").
		WillReturnRows(sqlmock.NewRows(crawlTestColumns))

	err := store.LinkAnalysis(context.Background(), 404, "analysis-1a2b3c4d5e6f7a8b")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestResetCrawl_RewindsCrawlAndGazette(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, staticResolver{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT gazette_id FROM gazette_crawls").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"gazette_id"}).AddRow(int64(42)))
	mock.ExpectExec("UPDATE gazette_crawls SET status").
		WithArgs(int64(9), string(gazette.CrawlCreated)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE gazettes SET status").
		WithArgs(int64(42), string(gazette.StatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ResetCrawl(context.Background(), 9)
	require.NoError(t, err)
}
