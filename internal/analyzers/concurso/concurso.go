// Package concurso implements the public service exam detector. It
// looks for two kinds of evidence in gazette text: title lines that
// announce a convocação or an edital de abertura, and tight clusters of
// exam vocabulary in running text. Scattered keyword mentions alone
// never produce a finding.
package concurso

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/gazeta-aberta/gazeta/internal/analyzers/analyze"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/textutil"
)

// FindingType marks findings produced by this analyzer.
const FindingType = "concurso"

// Document types this analyzer can attribute.
const (
	DocTypeConvocacao     = "convocacao"
	DocTypeEditalAbertura = "edital_abertura"
)

// category is attached to every concurso finding.
const category = "concurso_publico"

// DefaultWindow is how close together (byte distance between match
// starts) exam keywords must appear to count as one cluster.
const DefaultWindow = 100

// minClusterKeywords is the number of distinct exam keywords a cluster
// needs before keyword evidence alone can fire.
const minClusterKeywords = 3

const snippetRadius = 80

// Confidence model. Title evidence is stronger than keyword clusters;
// a cluster backing up a title adds a small bonus.
const (
	confNumberedConvocacao = 0.85
	confTitleConvocacao    = 0.80
	confEditalAbertura     = 0.85
	confCluster            = 0.70
	confClusterExtra       = 0.02
	confSupportBonus       = 0.05
	confCap                = 0.95
)

var (
	numberedConvocacaoRe = regexp.MustCompile(`(?i)\b\d{1,3}ª?\s*` + textutil.AccentFlex("convocação") + `\b`)
	plainConvocacaoRe    = regexp.MustCompile(`(?i)\b` + textutil.AccentFlex("convocação") + `\b`)
	editalAberturaRe     = regexp.MustCompile(`(?i)\bedital\s+de\s+abertura\b`)
	concursoPublicoRe    = regexp.MustCompile(`(?i)\b` + textutil.AccentFlex("concurso público") + `\b`)

	// Uppercase-only variants catch announcements when OCR lost the
	// line structure and title detection has nothing to work with.
	numberedConvocacaoCapsRe = regexp.MustCompile(`\b\d{1,3}ª?\s*CONVOCA[ÇC][ÃA]O\b`)
	editalAberturaCapsRe     = regexp.MustCompile(`\bEDITAL\s+DE\s+ABERTURA\b`)
)

// clusterKeywords is the exam vocabulary tracked by proximity grouping,
// in the canonical order findings report them.
var clusterKeywords = []struct {
	name string
	re   *regexp.Regexp
}{
	{name: "convocação", re: plainConvocacaoRe},
	{name: "candidatos", re: regexp.MustCompile(`(?i)\bcandidatos?\b`)},
	{name: "aprovados", re: regexp.MustCompile(`(?i)\baprovados?\b`)},
	{name: "apresentação", re: regexp.MustCompile(`(?i)\b` + textutil.AccentFlex("apresentação") + `\b`)},
}

// Analyzer detects convocações and editais de abertura. Stateless and
// safe for concurrent use.
type Analyzer struct {
	window int
}

// New returns a detector using the default proximity window.
func New() *Analyzer {
	return &Analyzer{window: DefaultWindow}
}

// NewWithWindow overrides the proximity window, mainly for tests.
func NewWithWindow(window int) *Analyzer {
	if window <= 0 {
		window = DefaultWindow
	}

	return &Analyzer{window: window}
}

// ID implements analyze.Analyzer.
func (a *Analyzer) ID() string { return "concurso" }

// Type implements analyze.Analyzer.
func (a *Analyzer) Type() analyze.Type { return analyze.TypeConcurso }

// Priority implements analyze.Analyzer.
func (a *Analyzer) Priority() int { return 90 }

// Analyze emits at most one finding per detected document type.
func (a *Analyzer) Analyze(_ context.Context, in analyze.Input) ([]gazette.Finding, error) {
	text := in.Text
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	titles := titleLines(text)
	cl := a.bestCluster(text)

	var findings []gazette.Finding

	if f, ok := a.convocacaoFinding(text, titles, cl); ok {
		findings = append(findings, f)
	}

	if f, ok := a.editalAberturaFinding(text, titles); ok {
		findings = append(findings, f)
	}

	return findings, nil
}

func (a *Analyzer) convocacaoFinding(text string, titles []titleLine, cl *cluster) (gazette.Finding, bool) {
	var (
		conf       float64
		titleMatch string
		pos        = -1
		contextEnd int
	)

	for _, t := range titles {
		if numberedConvocacaoRe.MatchString(t.text) {
			conf = confNumberedConvocacao
		} else if plainConvocacaoRe.MatchString(t.text) && conf < confTitleConvocacao {
			conf = confTitleConvocacao
		} else {
			continue
		}

		if titleMatch == "" || conf == confNumberedConvocacao {
			titleMatch = strings.TrimSpace(t.text)
			pos = t.start
			contextEnd = t.end
		}

		if conf == confNumberedConvocacao {
			break
		}
	}

	if conf == 0 {
		if loc := numberedConvocacaoCapsRe.FindStringIndex(text); loc != nil {
			conf = confNumberedConvocacao
			titleMatch = text[loc[0]:loc[1]]
			pos = loc[0]
			contextEnd = loc[1]
		}
	}

	clusterFires := cl != nil && len(cl.distinct) >= minClusterKeywords

	if clusterFires {
		clusterConf := confCluster + confClusterExtra*float64(len(cl.distinct)-minClusterKeywords)

		if conf == 0 {
			conf = clusterConf
			pos = cl.start
			contextEnd = cl.end
		} else {
			conf = min(conf+confSupportBonus, confCap)
		}
	}

	if conf == 0 {
		return gazette.Finding{}, false
	}

	data := map[string]any{
		analyze.DataDocumentType: DocTypeConvocacao,
		analyze.DataCategory:     category,
	}

	if titleMatch != "" {
		data["titleMatch"] = titleMatch
	}

	if clusterFires {
		data["keywords"] = cl.distinct
	}

	return gazette.Finding{
		Type:       FindingType,
		Confidence: conf,
		Data:       data,
		Context:    textutil.Snippet(text, pos, contextEnd, snippetRadius),
		Position:   pos,
	}, true
}

func (a *Analyzer) editalAberturaFinding(text string, titles []titleLine) (gazette.Finding, bool) {
	var (
		conf       float64
		titleMatch string
		pos        = -1
		contextEnd int
	)

	for _, t := range titles {
		if editalAberturaRe.MatchString(t.text) {
			conf = confEditalAbertura
			titleMatch = strings.TrimSpace(t.text)
			pos = t.start
			contextEnd = t.end

			break
		}
	}

	if conf == 0 {
		if loc := editalAberturaCapsRe.FindStringIndex(text); loc != nil {
			conf = confEditalAbertura
			titleMatch = text[loc[0]:loc[1]]
			pos = loc[0]
			contextEnd = loc[1]
		}
	}

	if conf == 0 {
		return gazette.Finding{}, false
	}

	if concursoPublicoRe.MatchString(text) {
		conf = min(conf+confSupportBonus, confCap)
	}

	return gazette.Finding{
		Type:       FindingType,
		Confidence: conf,
		Data: map[string]any{
			analyze.DataDocumentType: DocTypeEditalAbertura,
			analyze.DataCategory:     category,
			"titleMatch":             titleMatch,
		},
		Context:  textutil.Snippet(text, pos, contextEnd, snippetRadius),
		Position: pos,
	}, true
}

// occurrence is one exam keyword hit in the text.
type occurrence struct {
	pos, end int
	keyword  string
}

// cluster is a maximal run of occurrences whose consecutive starts are
// within the proximity window.
type cluster struct {
	start, end int
	distinct   []string
}

// bestCluster groups keyword occurrences by proximity and returns the
// cluster with the most distinct keywords, smallest span on ties. Nil
// when the text has no exam vocabulary at all.
func (a *Analyzer) bestCluster(text string) *cluster {
	var occs []occurrence

	for _, kw := range clusterKeywords {
		for _, loc := range kw.re.FindAllStringIndex(text, -1) {
			occs = append(occs, occurrence{pos: loc[0], end: loc[1], keyword: kw.name})
		}
	}

	if len(occs) == 0 {
		return nil
	}

	sort.Slice(occs, func(i, j int) bool { return occs[i].pos < occs[j].pos })

	var best *cluster

	flush := func(run []occurrence) {
		c := newCluster(run)
		if best == nil || len(c.distinct) > len(best.distinct) ||
			(len(c.distinct) == len(best.distinct) && c.end-c.start < best.end-best.start) {
			best = c
		}
	}

	var run []occurrence

	for _, occ := range occs {
		if len(run) > 0 && occ.pos-run[len(run)-1].pos > a.window {
			flush(run)
			run = run[:0]
		}

		run = append(run, occ)
	}

	flush(run)

	return best
}

func newCluster(run []occurrence) *cluster {
	present := make(map[string]bool, len(run))
	for _, occ := range run {
		present[occ.keyword] = true
	}

	c := &cluster{start: run[0].pos, end: run[len(run)-1].end}

	// Report keywords in canonical vocabulary order.
	for _, kw := range clusterKeywords {
		if present[kw.name] {
			c.distinct = append(c.distinct, kw.name)
		}
	}

	return c
}

// titleLine is one heading candidate with its byte range in the text.
type titleLine struct {
	text       string
	start, end int
}

// titleLines scans for heading-like lines: mostly uppercase, enough
// letters to be a real heading, short enough to not be a paragraph.
func titleLines(text string) []titleLine {
	var out []titleLine

	offset := 0

	for _, line := range strings.SplitAfter(text, "\n") {
		content := strings.TrimRight(line, "\n")
		if isTitle(content) {
			out = append(out, titleLine{
				text:  content,
				start: offset,
				end:   offset + len(content),
			})
		}

		offset += len(line)
	}

	return out
}

const (
	titleMinLetters = 6
	titleMaxLen     = 200
	titleUpperRatio = 0.8
)

func isTitle(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) == 0 || len(trimmed) > titleMaxLen {
		return false
	}

	letters, uppers := 0, 0

	for _, r := range trimmed {
		switch {
		case isUpperLetter(r):
			letters++
			uppers++
		case isLowerLetter(r):
			letters++
		}
	}

	if letters < titleMinLetters {
		return false
	}

	return float64(uppers) >= titleUpperRatio*float64(letters)
}

func isUpperLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || strings.ContainsRune("ÁÂÃÀÉÊÍÓÔÕÚÜÇ", r)
}

func isLowerLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || strings.ContainsRune("áâãàéêíóôõúüç", r)
}
