// Package entity implements the entity extraction analyzer: CNPJs,
// monetary values, dates, edital numbers, and public-body names found
// in gazette text.
package entity

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/analyzers/analyze"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/textutil"
)

// FindingType marks findings produced by this analyzer.
const FindingType = "entity"

// Entity types recorded in finding data.
const (
	TypeCNPJ         = "cnpj"
	TypeMonetary     = "monetary_value"
	TypeDate         = "date"
	TypeEdital       = "edital_number"
	TypeOrganization = "organization"
)

const snippetRadius = 50

// maxPerType bounds how many distinct values of one entity type a
// single gazette reports. State gazettes can carry thousands of dates;
// past this point more values add noise, not signal.
const maxPerType = 25

var (
	cnpjRe     = regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/\d{4}-?\d{2}\b`)
	monetaryRe = regexp.MustCompile(`R\$\s?\d{1,3}(?:\.\d{3})*(?:,\d{2})?`)

	numericDateRe = regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`)
	writtenDateRe = regexp.MustCompile(`(?i)\b\d{1,2}º?\s+de\s+(?:janeiro|fevereiro|março|marco|abril|maio|junho|julho|agosto|setembro|outubro|novembro|dezembro)\s+de\s+\d{4}\b`)

	// The gap tolerates qualifier phrases ("DE ABERTURA DE CONCURSO
	// PÚBLICO") between "edital" and its number.
	editalRe = regexp.MustCompile(`(?i)\bedital\b[^\n\d]{0,60}?n[ºo°]?\.?\s*(\d{1,4}/\d{4})`)

	organizationRe = regexp.MustCompile(`\b(?:PREFEITURA|SECRETARIA|CÂMARA|CAMARA|FUNDAÇÃO|FUNDACAO|INSTITUTO|AUTARQUIA)(?:\s+(?:MUNICIPAL|ESTADUAL|DE|DO|DA|DOS|DAS|E|[A-ZÁÂÃÀÉÊÍÓÔÕÚÜÇ]{2,}))+`)
)

type confidenceByType = map[string]float64

var confidences = confidenceByType{
	TypeCNPJ:         0.95,
	TypeMonetary:     0.9,
	TypeEdital:       0.9,
	TypeDate:         0.85,
	TypeOrganization: 0.7,
}

// Analyzer extracts structured entities from gazette text. Stateless and
// safe for concurrent use.
type Analyzer struct{}

// New returns the entity analyzer.
func New() *Analyzer { return &Analyzer{} }

// ID implements analyze.Analyzer.
func (a *Analyzer) ID() string { return "entity" }

// Type implements analyze.Analyzer.
func (a *Analyzer) Type() analyze.Type { return analyze.TypeEntity }

// Priority implements analyze.Analyzer.
func (a *Analyzer) Priority() int { return 70 }

// Analyze scans the text for every entity type and emits one finding
// per distinct value, capped per type.
func (a *Analyzer) Analyze(_ context.Context, in analyze.Input) ([]gazette.Finding, error) {
	c := collector{text: in.Text, seen: make(map[string]map[string]bool)}

	for _, loc := range cnpjRe.FindAllStringIndex(in.Text, -1) {
		raw := in.Text[loc[0]:loc[1]]
		if !ValidCNPJ(raw) {
			continue
		}

		c.add(TypeCNPJ, FormatCNPJ(raw), loc)
	}

	for _, loc := range monetaryRe.FindAllStringIndex(in.Text, -1) {
		c.add(TypeMonetary, in.Text[loc[0]:loc[1]], loc)
	}

	for _, loc := range numericDateRe.FindAllStringIndex(in.Text, -1) {
		raw := in.Text[loc[0]:loc[1]]
		if _, err := time.Parse("02/01/2006", raw); err != nil {
			continue
		}

		c.add(TypeDate, raw, loc)
	}

	for _, loc := range writtenDateRe.FindAllStringIndex(in.Text, -1) {
		c.add(TypeDate, in.Text[loc[0]:loc[1]], loc)
	}

	for _, m := range editalRe.FindAllStringSubmatchIndex(in.Text, -1) {
		// Submatch 1 is the bare number.
		c.add(TypeEdital, in.Text[m[2]:m[3]], []int{m[0], m[1]})
	}

	for _, loc := range organizationRe.FindAllStringIndex(in.Text, -1) {
		c.add(TypeOrganization, trimConnectives(in.Text[loc[0]:loc[1]]), loc)
	}

	return c.findings, nil
}

// collector accumulates findings, deduplicating values per entity type.
type collector struct {
	text     string
	seen     map[string]map[string]bool
	findings []gazette.Finding
}

func (c *collector) add(entityType, value string, loc []int) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}

	seen := c.seen[entityType]
	if seen == nil {
		seen = make(map[string]bool)
		c.seen[entityType] = seen
	}

	if seen[value] || len(seen) >= maxPerType {
		return
	}

	seen[value] = true
	c.findings = append(c.findings, gazette.Finding{
		Type:       FindingType,
		Confidence: confidences[entityType],
		Data: map[string]any{
			analyze.DataEntityType:  entityType,
			analyze.DataEntityValue: value,
		},
		Context:  textutil.Snippet(c.text, loc[0], loc[1], snippetRadius),
		Position: loc[0],
	})
}

// trimConnectives drops a trailing connective left by greedy matching,
// so "SECRETARIA MUNICIPAL DE" becomes "SECRETARIA MUNICIPAL".
func trimConnectives(s string) string {
	words := strings.Fields(s)

	for len(words) > 1 {
		switch words[len(words)-1] {
		case "DE", "DO", "DA", "DOS", "DAS", "E":
			words = words[:len(words)-1]
		default:
			return strings.Join(words, " ")
		}
	}

	return strings.Join(words, " ")
}

// ValidCNPJ checks the two verification digits of a CNPJ. Accepts
// punctuated or bare 14-digit input.
func ValidCNPJ(s string) bool {
	digits := digitsOnly(s)
	if len(digits) != 14 {
		return false
	}

	// All-same-digit sequences pass the checksum but are not valid ids.
	if strings.Count(digits, digits[:1]) == len(digits) {
		return false
	}

	return cnpjCheckDigit(digits, 12) == int(digits[12]-'0') &&
		cnpjCheckDigit(digits, 13) == int(digits[13]-'0')
}

// cnpjCheckDigit computes the verification digit over the first n
// digits using the standard CNPJ weight cycle 2..9.
func cnpjCheckDigit(digits string, n int) int {
	weight := 2
	sum := 0

	for i := n - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight

		weight++
		if weight > 9 {
			weight = 2
		}
	}

	rest := sum % 11
	if rest < 2 {
		return 0
	}

	return 11 - rest
}

// FormatCNPJ renders a CNPJ in canonical punctuation.
func FormatCNPJ(s string) string {
	d := digitsOnly(s)
	if len(d) != 14 {
		return s
	}

	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14]
}

func digitsOnly(s string) string {
	var b strings.Builder

	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	return b.String()
}
