package keyword_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazeta-aberta/gazeta/internal/analyzers/analyze"
	"github.com/gazeta-aberta/gazeta/internal/analyzers/keyword"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

func analyzeText(t *testing.T, a *keyword.Analyzer, text string) []gazette.Finding {
	t.Helper()

	findings, err := a.Analyze(context.Background(), analyze.Input{Text: text, TerritoryID: "2927408"})
	require.NoError(t, err)

	return findings
}

func findByKeyword(findings []gazette.Finding, kw string) (gazette.Finding, bool) {
	for _, f := range findings {
		if f.Data[analyze.DataKeyword] == kw {
			return f, true
		}
	}

	return gazette.Finding{}, false
}

func TestAnalyzeMatchesCategoryVocabulary(t *testing.T) {
	t.Parallel()

	a := keyword.New(nil)
	text := "AVISO DE LICITAÇÃO. A Prefeitura torna público o pregão eletrônico nº 010/2025 para registro de preços."

	findings := analyzeText(t, a, text)
	require.NotEmpty(t, findings)

	f, ok := findByKeyword(findings, "licitação")
	require.True(t, ok)
	assert.Equal(t, keyword.FindingType, f.Type)
	assert.Equal(t, "licitacao", f.Data[analyze.DataCategory])
	assert.Equal(t, 0.7, f.Confidence)
	assert.Contains(t, f.Context, "LICITAÇÃO")

	_, ok = findByKeyword(findings, "pregão eletrônico")
	assert.True(t, ok)
}

func TestAnalyzeMatchesUnaccentedSpelling(t *testing.T) {
	t.Parallel()

	a := keyword.New(nil)

	findings := analyzeText(t, a, "aviso de licitacao na modalidade pregao eletronico")

	_, ok := findByKeyword(findings, "licitação")
	assert.True(t, ok)

	_, ok = findByKeyword(findings, "pregão eletrônico")
	assert.True(t, ok)
}

func TestAnalyzeCountsOccurrences(t *testing.T) {
	t.Parallel()

	a := keyword.New(nil)
	text := "licitação uma, licitação duas, licitação três"

	findings := analyzeText(t, a, text)

	f, ok := findByKeyword(findings, "licitação")
	require.True(t, ok)
	assert.Equal(t, 3, f.Data["occurrences"])
	assert.Equal(t, 0, f.Position)
}

func TestAnalyzeCustomKeywords(t *testing.T) {
	t.Parallel()

	a := keyword.New([]string{"saneamento básico", "licitação", "  ", ""})

	findings := analyzeText(t, a, "obras de saneamento básico no município, licitação aberta")

	custom, ok := findByKeyword(findings, "saneamento básico")
	require.True(t, ok)
	assert.NotContains(t, custom.Data, analyze.DataCategory)
	assert.Equal(t, 0.6, custom.Confidence)

	// "licitação" stays a single built-in finding despite the custom duplicate.
	count := 0
	for _, f := range findings {
		if f.Data[analyze.DataKeyword] == "licitação" {
			count++
		}
	}

	assert.Equal(t, 1, count)
}

func TestAnalyzeNoMatches(t *testing.T) {
	t.Parallel()

	a := keyword.New(nil)

	findings := analyzeText(t, a, "ata da reunião ordinária do conselho municipal de saúde")
	assert.Empty(t, findings)

	findings = analyzeText(t, a, "")
	assert.Empty(t, findings)
}

func TestAnalyzeRequiresWordBoundary(t *testing.T) {
	t.Parallel()

	a := keyword.New([]string{"posse"})

	findings := analyzeText(t, a, "impossessível texto sem o termo isolado")
	_, ok := findByKeyword(findings, "posse")
	assert.False(t, ok)
}
