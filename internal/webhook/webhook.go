// Package webhook fans finished analyses out to subscribed HTTP
// endpoints. Matching decides which subscriptions care about a result,
// rendering shapes the notification body, and the deliverer posts it
// with per-subscription retry and a circuit breaker per endpoint.
package webhook

import (
	"slices"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/textutil"
)

// Events derives the notification events a stored result can raise, in
// delivery order. Every successful analysis raises gazette.analyzed;
// concurso and licitação findings add their dedicated events on top.
func Events(res *gazette.AnalysisResult) []string {
	events := []string{gazette.EventGazetteAnalyzed}

	if res.Summary.ConcursoFound {
		events = append(events, gazette.EventConcursoDetected)
	}

	if res.Summary.LicitacaoFound {
		events = append(events, gazette.EventLicitacaoDetected)
	}

	return events
}

// Matches reports whether a subscription's filters accept an analysis
// result. spiderID names the spider that crawled the gazette; it is only
// consulted when the subscription filters on spiders. Empty filter
// fields accept everything.
func Matches(sub *gazette.Subscription, res *gazette.AnalysisResult, spiderID string) bool {
	filters := sub.Filters

	if len(filters.Territories) > 0 && !slices.Contains(filters.Territories, res.TerritoryID) {
		return false
	}

	if len(filters.Spiders) > 0 && !slices.Contains(filters.Spiders, spiderID) {
		return false
	}

	if len(filters.Categories) > 0 && !overlaps(filters.Categories, res.Categories) {
		return false
	}

	if len(filters.Keywords) > 0 && !overlapsFolded(filters.Keywords, res.Keywords) {
		return false
	}

	if filters.MinConfidence > 0 && !anyAtLeast(res.Findings, filters.MinConfidence) {
		return false
	}

	if filters.RequireConcurso && !res.Summary.ConcursoFound {
		return false
	}

	return true
}

func overlaps(wanted, got []string) bool {
	for _, w := range wanted {
		if slices.Contains(got, w) {
			return true
		}
	}

	return false
}

// overlapsFolded compares keywords case- and accent-insensitively, so a
// subscriber's "convocacao" matches a result keyword "Convocação".
func overlapsFolded(wanted, got []string) bool {
	folded := make(map[string]struct{}, len(got))
	for _, g := range got {
		folded[textutil.Fold(g)] = struct{}{}
	}

	for _, w := range wanted {
		if _, ok := folded[textutil.Fold(w)]; ok {
			return true
		}
	}

	return false
}

func anyAtLeast(findings []gazette.Finding, threshold float64) bool {
	for _, f := range findings {
		if f.Confidence >= threshold {
			return true
		}
	}

	return false
}

// Notification is the JSON body posted to a subscriber. One is rendered
// per (subscription, event) pair; the core fields mirror the stored
// result and Extensions carries open-ended context such as the spider
// and crawl job that produced the gazette.
type Notification struct {
	Event                  string                  `json:"event"`
	AnalysisID             string                  `json:"analysisId"`
	GazetteID              int64                   `json:"gazetteId"`
	TerritoryID            string                  `json:"territoryId"`
	TerritoryName          string                  `json:"territoryName,omitempty"`
	PublicationDate        time.Time               `json:"publicationDate"`
	TotalFindings          int                     `json:"totalFindings"`
	HighConfidenceFindings int                     `json:"highConfidenceFindings"`
	Categories             []string                `json:"categories,omitempty"`
	Keywords               []string                `json:"keywords,omitempty"`
	Summary                gazette.AnalysisSummary `json:"summary"`
	Findings               []gazette.Finding       `json:"findings,omitempty"`
	Extensions             map[string]any          `json:"extensions,omitempty"`
	SentAt                 time.Time               `json:"sentAt"`
}

// BuildNotification renders the payload for one event. territoryName may
// be empty when the catalog does not know the territory; the field is
// then omitted from the JSON.
func BuildNotification(event string, res *gazette.AnalysisResult, territoryName string, extensions map[string]any) Notification {
	name := territoryName
	if name == res.TerritoryID {
		name = ""
	}

	return Notification{
		Event:                  event,
		AnalysisID:             res.AnalysisID,
		GazetteID:              res.GazetteID,
		TerritoryID:            res.TerritoryID,
		TerritoryName:          name,
		PublicationDate:        res.PublicationDate,
		TotalFindings:          res.TotalFindings,
		HighConfidenceFindings: res.HighConfidenceFindings,
		Categories:             res.Categories,
		Keywords:               res.Keywords,
		Summary:                res.Summary,
		Findings:               res.Findings,
		Extensions:             extensions,
		SentAt:                 time.Now().UTC(),
	}
}
