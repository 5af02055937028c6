// Package keyword implements the category keyword analyzer. It scans
// gazette text for a built-in table of Brazilian official-gazette
// vocabulary plus operator-configured keywords, and emits one finding
// per matched term with the category the term belongs to.
package keyword

import (
	"context"
	"regexp"
	"strings"

	"github.com/gazeta-aberta/gazeta/internal/analyzers/analyze"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/textutil"
)

// FindingType marks findings produced by this analyzer.
const FindingType = "keyword_match"

// snippetRadius is how many bytes of surrounding text a finding keeps
// around its first match.
const snippetRadius = 60

// customConfidence is assigned to operator-configured keywords, which
// carry no category of their own.
const customConfidence = 0.6

// categoryTerms is the built-in gazette vocabulary. Terms are written in
// their accented canonical form; matching also accepts unaccented
// spellings.
var categoryTerms = []struct {
	category   string
	confidence float64
	terms      []string
}{
	{
		category:   "concurso_publico",
		confidence: 0.7,
		terms: []string{
			"concurso público",
			"processo seletivo",
			"seleção simplificada",
			"teste seletivo",
		},
	},
	{
		category:   "licitacao",
		confidence: 0.7,
		terms: []string{
			"licitação",
			"pregão eletrônico",
			"pregão presencial",
			"tomada de preços",
			"concorrência pública",
			"dispensa de licitação",
			"inexigibilidade de licitação",
			"chamada pública",
		},
	},
	{
		category:   "contrato",
		confidence: 0.65,
		terms: []string{
			"extrato de contrato",
			"termo aditivo",
			"rescisão contratual",
			"ata de registro de preços",
		},
	},
	{
		category:   "convenio",
		confidence: 0.65,
		terms: []string{
			"convênio",
			"termo de cooperação",
			"termo de fomento",
		},
	},
	{
		category:   "pessoal",
		confidence: 0.6,
		terms: []string{
			"nomeação",
			"exoneração",
			"designação",
		},
	},
	{
		category:   "orcamento",
		confidence: 0.6,
		terms: []string{
			"crédito suplementar",
			"crédito adicional",
			"lei orçamentária",
		},
	},
}

type matcher struct {
	keyword    string
	category   string
	confidence float64
	re         *regexp.Regexp
}

// Analyzer matches the built-in vocabulary and operator keywords against
// gazette text. Safe for concurrent use; patterns compile once in New.
type Analyzer struct {
	matchers []matcher
}

// New builds the analyzer. custom holds operator-configured keywords;
// entries already covered by the built-in vocabulary are ignored so a
// term never reports twice.
func New(custom []string) *Analyzer {
	a := &Analyzer{}
	seen := make(map[string]bool)

	for _, group := range categoryTerms {
		for _, term := range group.terms {
			seen[textutil.Fold(term)] = true
			a.matchers = append(a.matchers, newMatcher(term, group.category, group.confidence))
		}
	}

	for _, term := range custom {
		term = strings.TrimSpace(term)
		if term == "" || seen[textutil.Fold(term)] {
			continue
		}

		seen[textutil.Fold(term)] = true
		a.matchers = append(a.matchers, newMatcher(term, "", customConfidence))
	}

	return a
}

func newMatcher(term, category string, confidence float64) matcher {
	return matcher{
		keyword:    term,
		category:   category,
		confidence: confidence,
		re:         regexp.MustCompile(`(?i)\b` + textutil.AccentFlex(term) + `\b`),
	}
}

// ID implements analyze.Analyzer.
func (a *Analyzer) ID() string { return "keyword" }

// Type implements analyze.Analyzer.
func (a *Analyzer) Type() analyze.Type { return analyze.TypeKeyword }

// Priority implements analyze.Analyzer.
func (a *Analyzer) Priority() int { return 80 }

// Analyze reports one finding per matched term, positioned at the first
// occurrence with the occurrence count in the finding data.
func (a *Analyzer) Analyze(_ context.Context, in analyze.Input) ([]gazette.Finding, error) {
	var findings []gazette.Finding

	for _, m := range a.matchers {
		locs := m.re.FindAllStringIndex(in.Text, -1)
		if len(locs) == 0 {
			continue
		}

		f := gazette.Finding{
			Type:       FindingType,
			Confidence: m.confidence,
			Data: map[string]any{
				analyze.DataKeyword: m.keyword,
				"occurrences":       len(locs),
			},
			Context:  textutil.Snippet(in.Text, locs[0][0], locs[0][1], snippetRadius),
			Position: locs[0][0],
		}

		if m.category != "" {
			f.Data[analyze.DataCategory] = m.category
		}

		findings = append(findings, f)
	}

	return findings, nil
}
