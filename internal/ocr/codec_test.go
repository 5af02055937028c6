package ocr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

func TestResultCodecRoundTrip(t *testing.T) {
	t.Parallel()

	res := &gazette.OcrResult{
		DocumentKind:  gazette.DocumentKindGazette,
		DocumentID:    42,
		ExtractedText: strings.Repeat("DECRETO MUNICIPAL Nº 123 ", 4000),
		Method:        MethodMistral,
	}

	data, err := encodeResult(res)
	require.NoError(t, err)
	assert.Less(t, len(data), len(res.ExtractedText)/2,
		"repetitive gazette text should compress well")

	decoded, err := decodeResult(data)
	require.NoError(t, err)
	assert.Equal(t, res.ExtractedText, decoded.ExtractedText)
	assert.Equal(t, res.DocumentID, decoded.DocumentID)
}

func TestTextSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, textSimilarity("abc", "abc"), 1e-9)
	assert.InDelta(t, 1.0, textSimilarity("", ""), 1e-9)
	assert.InDelta(t, 0.0, textSimilarity("aaaa", "bbbb"), 1e-9)

	near := textSimilarity("EDITAL Nº 12/2025 convocação", "EDITAL Nº 13/2025 convocação")
	assert.Greater(t, near, 0.9)
	assert.Less(t, near, 1.0)
}
