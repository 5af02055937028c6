package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/registry"
)

func TestCreateJob_TruncatesDatesToCalendarDays(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)

	job := &gazette.CrawlJob{
		ID:           "job-7f3a",
		TotalSpiders: 3,
		StartDate:    time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC),
		EndDate:      time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		ScopeFilter:  "camaçari",
	}

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs(job.ID, string(gazette.JobPending), 3,
			time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			"camaçari").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
}

func TestMarkSpiderDone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		failed bool
	}{
		{name: "successful spider", failed: false},
		{name: "failed spider", failed: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store, mock := newMockStore(t, nil)

			mock.ExpectExec("UPDATE crawl_jobs SET").
				WithArgs("job-7f3a", tc.failed).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := store.MarkSpiderDone(context.Background(), "job-7f3a", tc.failed)
			require.NoError(t, err)
		})
	}
}

func TestMarkSpiderDone_UnknownJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)

	mock.ExpectExec("UPDATE crawl_jobs SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkSpiderDone(context.Background(), "job-missing", false)
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRecordProgress_MarshalsDetail(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)

	ev := gazette.ProgressEvent{
		JobID:      "job-7f3a",
		SpiderID:   "ba_camacari",
		Stage:      gazette.ProgressCrawlEnd,
		Status:     gazette.ProgressOK,
		DurationMS: 1250,
		Detail:     map[string]string{"gazettes": "4"},
	}

	mock.ExpectExec("INSERT INTO crawl_progress").
		WithArgs(ev.JobID, ev.SpiderID, string(ev.Stage), ev.Status, ev.DurationMS,
			[]byte(`{"gazettes":"4"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.RecordProgress(context.Background(), ev))
}
