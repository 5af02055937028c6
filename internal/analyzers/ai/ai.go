// Package ai implements the model-backed analyzer. It runs in the
// second orchestration phase: the accumulated context from the
// deterministic analyzers is rendered into the prompt as structured
// priors, so the model call refines what is already known instead of
// rediscovering it from raw text.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gazeta-aberta/gazeta/internal/analyzers/analyze"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/textutil"
)

// FindingType marks findings produced by this analyzer.
const FindingType = "ai_insight"

// ErrBadModelResponse is returned when the model output contains no
// parseable finding array.
var ErrBadModelResponse = errors.New("model response is not a finding array")

// maxInputBytes bounds how much gazette text enters the prompt.
const maxInputBytes = 20000

// maxFindings bounds how many findings one model response may
// contribute.
const maxFindings = 10

// maxPriorEntities bounds how many entity values of each type the
// prompt lists.
const maxPriorEntities = 8

// TextModel is the completion interface the analyzer needs from a
// language model.
type TextModel interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Analyzer asks a language model for document-level insights. Safe for
// concurrent use when the underlying model is.
type Analyzer struct {
	model TextModel
}

// New returns the AI analyzer backed by the given model.
func New(model TextModel) *Analyzer {
	return &Analyzer{model: model}
}

// ID implements analyze.Analyzer.
func (a *Analyzer) ID() string { return "ai" }

// Type implements analyze.Analyzer.
func (a *Analyzer) Type() analyze.Type { return analyze.TypeAI }

// Priority implements analyze.Analyzer.
func (a *Analyzer) Priority() int { return 50 }

const systemPrompt = `Você analisa publicações de diários oficiais municipais brasileiros. ` +
	`Responda SOMENTE com um array JSON de achados, sem texto adicional. ` +
	`Cada achado tem a forma {"type": string, "categories": [string], ` +
	`"confidence": number entre 0 e 1, "summary": string, "excerpt": string}. ` +
	`Use categorias como concurso_publico, licitacao, contrato, convenio, pessoal, orcamento. ` +
	`Responda [] quando não houver nada relevante.`

// Analyze prompts the model with the gazette text and the priors from
// earlier analyzers, and parses the response into findings.
func (a *Analyzer) Analyze(ctx context.Context, in analyze.Input) ([]gazette.Finding, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, nil
	}

	raw, err := a.model.Complete(ctx, systemPrompt, buildPrompt(in))
	if err != nil {
		return nil, fmt.Errorf("ai analyzer: %w", err)
	}

	parsed, err := parseModelFindings(raw)
	if err != nil {
		return nil, fmt.Errorf("ai analyzer: %w", err)
	}

	findings := make([]gazette.Finding, 0, len(parsed))

	for _, mf := range parsed {
		if len(findings) == maxFindings {
			break
		}

		findings = append(findings, mf.toFinding())
	}

	return findings, nil
}

// buildPrompt renders the priors section followed by the gazette text.
func buildPrompt(in analyze.Input) string {
	var b strings.Builder

	if in.TerritoryName != "" {
		fmt.Fprintf(&b, "Município: %s (%s)\n", in.TerritoryName, in.TerritoryID)
	} else if in.TerritoryID != "" {
		fmt.Fprintf(&b, "Território: %s\n", in.TerritoryID)
	}

	writePriors(&b, in.Prior)

	b.WriteString("\nTexto da publicação:\n")
	b.WriteString(textutil.Truncate(in.Text, maxInputBytes))

	return b.String()
}

func writePriors(b *strings.Builder, prior *analyze.Context) {
	if prior == nil {
		return
	}

	b.WriteString("\nAchados preliminares dos analisadores determinísticos:\n")

	if dt, conf := prior.PrimaryDocumentType(); dt != "" {
		fmt.Fprintf(b, "- tipo de documento provável: %s (confiança %.2f)\n", dt, conf)
	}

	if len(prior.Categories) > 0 {
		fmt.Fprintf(b, "- categorias detectadas: %s\n", strings.Join(prior.Categories, ", "))
	}

	for _, entityType := range sortedKeys(prior.Entities) {
		values := prior.Entities[entityType]
		if len(values) > maxPriorEntities {
			values = values[:maxPriorEntities]
		}

		fmt.Fprintf(b, "- %s: %s\n", entityType, strings.Join(values, "; "))
	}

	if n := len(prior.HighConfidence); n > 0 {
		fmt.Fprintf(b, "- achados de alta confiança: %d\n", n)
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// modelFinding is the shape the prompt asks the model to emit.
type modelFinding struct {
	Type       string   `json:"type"`
	Categories []string `json:"categories"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Summary    string   `json:"summary"`
	Excerpt    string   `json:"excerpt"`
}

func (mf modelFinding) toFinding() gazette.Finding {
	conf := mf.Confidence
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}

	categories := mf.Categories
	if len(categories) == 0 && mf.Category != "" {
		categories = []string{mf.Category}
	}

	data := map[string]any{}
	if len(categories) > 0 {
		data[analyze.DataCategory] = categories
	}

	if mf.Type != "" {
		data[analyze.DataDocumentType] = mf.Type
	}

	if mf.Summary != "" {
		data["summary"] = mf.Summary
	}

	return gazette.Finding{
		Type:       FindingType,
		Confidence: conf,
		Data:       data,
		Context:    mf.Excerpt,
	}
}

// parseModelFindings pulls the JSON array out of the response. Models
// occasionally wrap the array in code fences or prose despite the
// instructions; everything outside the outermost brackets is ignored.
func parseModelFindings(raw string) ([]modelFinding, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")

	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: %q", ErrBadModelResponse, textutil.Truncate(raw, 120))
	}

	var parsed []modelFinding
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadModelResponse, err)
	}

	return parsed, nil
}
