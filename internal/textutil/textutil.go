// Package textutil provides text utilities for gazette content:
// diacritic folding, accent-flexible pattern construction, and snippet
// extraction around match positions.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips combining diacritical marks, so
// "Licitação" folds to "licitacao". OCR output is inconsistent about
// accents; folding gives matchers one canonical form.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	folded, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}

	return strings.ToLower(folded)
}

// AccentFlex returns a regular-expression body that matches phrase with
// or without its diacritics. Spaces match any whitespace run. The
// caller wraps the body with anchors and flags as needed.
func AccentFlex(phrase string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(phrase) {
		if alternates, ok := accentAlternates[r]; ok {
			b.WriteString(alternates)

			continue
		}

		if r == ' ' {
			b.WriteString(`\s+`)

			continue
		}

		b.WriteString(regexp.QuoteMeta(string(r)))
	}

	return b.String()
}

// accentAlternates maps the accented letters of Brazilian Portuguese to
// character classes accepting both spellings.
var accentAlternates = map[rune]string{
	'á': "[áa]", 'â': "[âa]", 'ã': "[ãa]", 'à': "[àa]",
	'é': "[ée]", 'ê': "[êe]",
	'í': "[íi]",
	'ó': "[óo]", 'ô': "[ôo]", 'õ': "[õo]",
	'ú': "[úu]", 'ü': "[üu]",
	'ç': "[çc]",
}

// Snippet returns the text surrounding the byte range [start, end),
// widened by radius bytes on each side, cut at rune boundaries, with
// whitespace runs collapsed to single spaces.
func Snippet(text string, start, end, radius int) string {
	if start < 0 {
		start = 0
	}

	if end > len(text) {
		end = len(text)
	}

	if end < start {
		end = start
	}

	lo := max(start-radius, 0)
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}

	hi := min(end+radius, len(text))
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}

	return strings.Join(strings.Fields(text[lo:hi]), " ")
}

// Truncate shortens s to at most maxBytes, cutting at a rune boundary.
func Truncate(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}

	if len(s) <= maxBytes {
		return s
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut]
}
