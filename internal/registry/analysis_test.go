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

var analysisTestColumns = []string{
	"id", "analysis_id", "dedup_key", "crawl_job_id", "territory_id", "gazette_id",
	"publication_date", "total_findings", "high_confidence_findings", "categories",
	"keywords", "findings", "summary", "metadata", "analyzed_at", "created_at",
}

func sampleAnalysis() *gazette.AnalysisResult {
	return &gazette.AnalysisResult{
		AnalysisID:             "analysis-1a2b3c4d5e6f7a8b",
		DedupKey:               "2907509:42:deadbeefdeadbeefdeadbeefdeadbeef",
		CrawlJobID:             "job-7f3a",
		TerritoryID:            "2907509",
		GazetteID:              42,
		PublicationDate:        time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		TotalFindings:          2,
		HighConfidenceFindings: 1,
		Categories:             []string{"concurso"},
		Keywords:               []string{"edital", "convocação"},
		Findings: []gazette.Finding{
			{Type: "concurso_convocacao", Confidence: 0.85},
			{Type: "keyword", Confidence: 0.6},
		},
		Summary:    gazette.AnalysisSummary{TopCategory: "concurso", ConcursoFound: true},
		Metadata:   gazette.AnalysisMetadata{ConfigSignature: "deadbeefdeadbeefdeadbeefdeadbeef"},
		AnalyzedAt: time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC),
	}
}

func analysisDBRow(id int64, res *gazette.AnalysisResult) *sqlmock.Rows {
	return sqlmock.NewRows(analysisTestColumns).
		AddRow(id, res.AnalysisID, res.DedupKey, res.CrawlJobID, res.TerritoryID,
			res.GazetteID, res.PublicationDate, res.TotalFindings, res.HighConfidenceFindings,
			[]byte(`["concurso"]`), []byte(`["edital","convocação"]`),
			[]byte(`[{"type":"concurso_convocacao","confidence":0.85},{"type":"keyword","confidence":0.6}]`),
			[]byte(`{"topCategory":"concurso","concursoFound":true,"licitacaoFound":false}`),
			[]byte(`{"configSignature":"deadbeefdeadbeefdeadbeefdeadbeef"}`),
			res.AnalyzedAt, res.AnalyzedAt)
}

func TestSaveAnalysisResult_CreatesNew(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)
	res := sampleAnalysis()

	mock.ExpectQuery("INSERT INTO analysis_results").
		WillReturnRows(analysisDBRow(11, res))

	stored, created, err := store.SaveAnalysisResult(context.Background(), res)
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, int64(11), stored.ID)
	assert.Equal(t, res.AnalysisID, stored.AnalysisID)
	assert.Equal(t, []string{"concurso"}, stored.Categories)
	assert.Len(t, stored.Findings, 2)
	assert.Equal(t, "concurso_convocacao", stored.Findings[0].Type)
	assert.True(t, stored.Summary.ConcursoFound)
	assert.Equal(t, res.Metadata.ConfigSignature, stored.Metadata.ConfigSignature)
}

func TestSaveAnalysisResult_DedupReturnsStoredRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)
	res := sampleAnalysis()

	// ON CONFLICT (dedup_key) DO NOTHING: the second writer gets no row
	// back and reads the winner instead.
	mock.ExpectQuery("INSERT INTO analysis_results").
		WillReturnRows(sqlmock.NewRows(analysisTestColumns))
	mock.ExpectQuery("FROM analysis_results WHERE dedup_key").
		WithArgs(res.DedupKey).
		WillReturnRows(analysisDBRow(4, res))

	stored, created, err := store.SaveAnalysisResult(context.Background(), res)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, int64(4), stored.ID)
	assert.True(t, stored.Summary.ConcursoFound)
}

func TestGetAnalysisByID_NotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)

	mock.ExpectQuery("FROM analysis_results").
		WithArgs("analysis-0000000000000000").
		WillReturnRows(sqlmock.NewRows(analysisTestColumns))

	_, err := store.GetAnalysisByID(context.Background(), "analysis-0000000000000000")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestSaveOcrResult_UpsertsAndReadsBack(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)

	confidence := 0.93
	res := &gazette.OcrResult{
		DocumentKind:  gazette.DocumentKindGazette,
		DocumentID:    42,
		ExtractedText: "PREFEITURA MUNICIPAL DE CAMAÇARI\n\n---\n\nEDITAL Nº 1",
		Confidence:    &confidence,
		Language:      "pt",
		Method:        "mistral",
		Metadata:      gazette.OcrMetadata{Model: "mistral-ocr-latest", PagesProcessed: 2},
	}

	ocrColumns := []string{
		"id", "document_kind", "document_id", "extracted_text", "text_length",
		"confidence", "language", "method", "metadata", "created_at",
	}

	mock.ExpectQuery("INSERT INTO ocr_results").
		WillReturnRows(sqlmock.NewRows(ocrColumns).
			AddRow(int64(6), res.DocumentKind, res.DocumentID, res.ExtractedText,
				len(res.ExtractedText), confidence, res.Language, res.Method,
				[]byte(`{"model":"mistral-ocr-latest","pagesProcessed":2}`), time.Now()))

	stored, err := store.SaveOcrResult(context.Background(), res)
	require.NoError(t, err)

	assert.Equal(t, int64(6), stored.ID)
	assert.Equal(t, len(res.ExtractedText), stored.TextLength)
	require.NotNil(t, stored.Confidence)
	assert.InDelta(t, 0.93, *stored.Confidence, 1e-9)
	assert.Equal(t, 2, stored.Metadata.PagesProcessed)
}

func TestGetOcrResult_NotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)

	mock.ExpectQuery("FROM ocr_results").
		WithArgs(gazette.DocumentKindGazette, int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetOcrResult(context.Background(), gazette.DocumentKindGazette, 42)
	require.ErrorIs(t, err, registry.ErrNotFound)
}
