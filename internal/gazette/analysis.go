package gazette

import "time"

// DocumentKindGazette is the document kind under which gazette OCR results
// are stored. The OCR store is keyed by (document kind, document id) so a
// future document source does not collide with gazette ids.
const DocumentKindGazette = "gazette"

// OcrResult is the extracted text of one document plus extraction metadata.
type OcrResult struct {
	ID            int64       `json:"id"`
	DocumentKind  string      `json:"documentKind"`
	DocumentID    int64       `json:"documentId"`
	ExtractedText string      `json:"extractedText"`
	TextLength    int         `json:"textLength"`
	Confidence    *float64    `json:"confidence,omitempty"`
	Language      string      `json:"language,omitempty"`
	Method        string      `json:"method"`
	Metadata      OcrMetadata `json:"metadata"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// OcrMetadata captures provider-reported extraction details.
type OcrMetadata struct {
	Model          string `json:"model,omitempty"`
	PagesProcessed int    `json:"pagesProcessed,omitempty"`
	DocSizeBytes   int64  `json:"docSizeBytes,omitempty"`
	ProcessingMS   int64  `json:"processingMs,omitempty"`
	ArchiveKey     string `json:"archiveKey,omitempty"`
}

// HighConfidenceThreshold is the confidence at or above which a finding
// counts as high confidence.
const HighConfidenceThreshold = 0.8

// Finding is a single analyzer observation over an OCR text.
type Finding struct {
	Type       string         `json:"type"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data,omitempty"`
	Context    string         `json:"context,omitempty"`
	Position   int            `json:"position,omitempty"`
}

// HighConfidence reports whether the finding meets the reporting threshold.
func (f Finding) HighConfidence() bool {
	return f.Confidence >= HighConfidenceThreshold
}

// TerritoryFilter records how a state-level gazette was narrowed to one
// city before analysis.
type TerritoryFilter struct {
	CityName           string `json:"cityName"`
	CityRegex          string `json:"cityRegex"`
	FilteredTextLength int    `json:"filteredTextLength"`
	OriginalTextLength int    `json:"originalTextLength"`
}

// AnalysisMetadata is persisted alongside an analysis result.
type AnalysisMetadata struct {
	ConfigSignature string           `json:"configSignature"`
	AnalyzerIDs     []string         `json:"analyzerIds,omitempty"`
	TerritoryFilter *TerritoryFilter `json:"territoryFilter,omitempty"`
}

// AnalysisResult is the deduplicated outcome of running the analyzer
// pipeline over one gazette for one territory under one configuration.
// AnalysisID is derived deterministically from the territory, gazette,
// and config signature, so a rerun with identical inputs reuses the
// stored row.
type AnalysisResult struct {
	ID                     int64            `json:"id"`
	AnalysisID             string           `json:"analysisId"`
	CrawlJobID             string           `json:"crawlJobId,omitempty"`
	DedupKey               string           `json:"-"`
	TerritoryID            string           `json:"territoryId"`
	GazetteID              int64            `json:"gazetteId"`
	PublicationDate        time.Time        `json:"publicationDate"`
	TotalFindings          int              `json:"totalFindings"`
	HighConfidenceFindings int              `json:"highConfidenceFindings"`
	Categories             []string         `json:"categories"`
	Keywords               []string         `json:"keywords"`
	Findings               []Finding        `json:"findings"`
	Summary                AnalysisSummary  `json:"summary"`
	Metadata               AnalysisMetadata `json:"metadata"`
	AnalyzedAt             time.Time        `json:"analyzedAt"`
}

// AnalysisSummary condenses a result for listing and webhook payloads.
type AnalysisSummary struct {
	DocumentTypes  []string `json:"documentTypes,omitempty"`
	TopCategory    string   `json:"topCategory,omitempty"`
	ConcursoFound  bool     `json:"concursoFound"`
	LicitacaoFound bool     `json:"licitacaoFound"`
}

// Recount recomputes the finding counters and category/keyword sets from
// Findings. Call after assembling Findings and before persisting.
func (r *AnalysisResult) Recount() {
	r.TotalFindings = len(r.Findings)
	r.HighConfidenceFindings = 0

	seenCategories := map[string]bool{}
	seenKeywords := map[string]bool{}

	for _, f := range r.Findings {
		if f.HighConfidence() {
			r.HighConfidenceFindings++
		}

		for _, c := range f.Categories() {
			if !seenCategories[c] {
				seenCategories[c] = true
				r.Categories = append(r.Categories, c)
			}
		}

		if kw, ok := f.Data["keyword"].(string); ok && kw != "" && !seenKeywords[kw] {
			seenKeywords[kw] = true
			r.Keywords = append(r.Keywords, kw)
		}
	}
}

// Categories extracts the categories a finding declares in its data:
// keyword findings carry a single "category" string, AI findings a
// "category" list.
func (f Finding) Categories() []string {
	switch v := f.Data["category"].(type) {
	case string:
		if v == "" {
			return nil
		}

		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}
