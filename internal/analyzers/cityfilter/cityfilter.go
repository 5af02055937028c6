// Package cityfilter narrows state-level gazette text to the excerpts
// that concern one municipality. State gazettes interleave acts from
// hundreds of cities; analyzing the whole text for each city would
// cross-attribute findings, so each city gets only the paragraphs that
// mention it plus one paragraph of context on each side.
package cityfilter

import (
	"fmt"
	"regexp"
	"strings"
)

// contextParagraphs is how many neighboring paragraphs are kept around
// each direct match.
const contextParagraphs = 1

// markerRe matches the start of a legal subdivision. Gazette sections
// frequently run together without blank lines; these markers still
// separate acts reliably.
var markerRe = regexp.MustCompile(`^\s*(?:Art\.|ART\.|Artigo\s|CAP[ÍI]TULO\b|SE[ÇC][ÃA]O\b|T[ÍI]TULO\b|ANEXO\b)`)

var blankLineRe = regexp.MustCompile(`\n[ \t]*\n`)

// Filter extracts the text relevant to one city. Compile once per
// territory and reuse; safe for concurrent use.
type Filter struct {
	cityName string
	re       *regexp.Regexp
}

// New compiles a filter from a city name and its match pattern,
// typically Territory.CityRegex.
func New(cityName, pattern string) (*Filter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile city pattern for %s: %w", cityName, err)
	}

	return &Filter{cityName: cityName, re: re}, nil
}

// CityName returns the municipality this filter selects.
func (f *Filter) CityName() string { return f.cityName }

// Pattern returns the source pattern, recorded in analysis metadata.
func (f *Filter) Pattern() string { return f.re.String() }

// Result is the narrowed text plus extraction statistics.
type Result struct {
	// Text is the city excerpt, matched paragraphs joined with their
	// context in document order. Empty when the city is not mentioned.
	Text string

	// MatchedParagraphs counts paragraphs that mention the city
	// directly, excluding context neighbors.
	MatchedParagraphs int

	// TotalParagraphs counts paragraphs in the source text.
	TotalParagraphs int
}

// Extract returns the excerpt of text that concerns the filter's city.
func (f *Filter) Extract(text string) Result {
	paragraphs := Paragraphs(text)

	res := Result{TotalParagraphs: len(paragraphs)}
	if len(paragraphs) == 0 {
		return res
	}

	keep := make([]bool, len(paragraphs))

	for i, p := range paragraphs {
		if !f.re.MatchString(p) {
			continue
		}

		res.MatchedParagraphs++

		for j := max(i-contextParagraphs, 0); j <= min(i+contextParagraphs, len(paragraphs)-1); j++ {
			keep[j] = true
		}
	}

	if res.MatchedParagraphs == 0 {
		return res
	}

	var kept []string

	for i, p := range paragraphs {
		if keep[i] {
			kept = append(kept, p)
		}
	}

	res.Text = strings.Join(kept, "\n\n")

	return res
}

// Paragraphs splits gazette text into logical paragraphs: blank lines
// separate paragraphs, and a line opening a legal subdivision (Art.,
// CAPÍTULO, SEÇÃO, TÍTULO, ANEXO) starts a new one even without a
// blank line before it.
func Paragraphs(text string) []string {
	var out []string

	for _, block := range blankLineRe.Split(text, -1) {
		out = append(out, splitAtMarkers(block)...)
	}

	return out
}

func splitAtMarkers(block string) []string {
	var (
		out     []string
		current []string
	)

	flush := func() {
		joined := strings.TrimSpace(strings.Join(current, "\n"))
		if joined != "" {
			out = append(out, joined)
		}

		current = current[:0]
	}

	for _, line := range strings.Split(block, "\n") {
		if markerRe.MatchString(line) && len(current) > 0 {
			flush()
		}

		current = append(current, line)
	}

	flush()

	return out
}
