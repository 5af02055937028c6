package analyze

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

// RunStatus is the outcome of a single analyzer execution.
type RunStatus string

// Run statuses.
const (
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
)

// Run records one analyzer execution inside an orchestration pass. A
// failed analyzer contributes zero findings but still appears here, so
// results always account for every enabled analyzer.
type Run struct {
	AnalyzerID string        `json:"analyzerId"`
	Type       Type          `json:"type"`
	Status     RunStatus     `json:"status"`
	Findings   int           `json:"findings"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
}

// Outcome is the combined result of one orchestration pass.
type Outcome struct {
	Findings []gazette.Finding
	Runs     []Run
	Context  *Context
}

// Failed reports whether any analyzer run failed.
func (o Outcome) Failed() bool {
	for _, r := range o.Runs {
		if r.Status == RunFailure {
			return true
		}
	}

	return false
}

// Orchestrator executes a fixed set of analyzers in two phases:
// context builders first, AI analyzers second with the accumulated
// context as priors. Safe for concurrent use.
type Orchestrator struct {
	builders []Analyzer
	ai       []Analyzer
	logger   *slog.Logger
}

// NewOrchestrator validates the analyzer set and fixes the execution
// order: within each phase, higher priority first, ties broken by ID.
func NewOrchestrator(analyzers []Analyzer, logger *slog.Logger) (*Orchestrator, error) {
	seen := make(map[string]bool, len(analyzers))

	o := &Orchestrator{logger: logger}

	for _, a := range analyzers {
		if seen[a.ID()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAnalyzerID, a.ID())
		}

		seen[a.ID()] = true

		if a.Type() == TypeAI {
			o.ai = append(o.ai, a)
		} else {
			o.builders = append(o.builders, a)
		}
	}

	sortByPriority(o.builders)
	sortByPriority(o.ai)

	return o, nil
}

func sortByPriority(analyzers []Analyzer) {
	sort.SliceStable(analyzers, func(i, j int) bool {
		if analyzers[i].Priority() != analyzers[j].Priority() {
			return analyzers[i].Priority() > analyzers[j].Priority()
		}

		return analyzers[i].ID() < analyzers[j].ID()
	})
}

// AnalyzerIDs returns the enabled analyzer IDs in execution order.
func (o *Orchestrator) AnalyzerIDs() []string {
	ids := make([]string, 0, len(o.builders)+len(o.ai))

	for _, a := range o.builders {
		ids = append(ids, a.ID())
	}

	for _, a := range o.ai {
		ids = append(ids, a.ID())
	}

	return ids
}

// Run executes both phases over the input. Analyzer errors are isolated:
// a failing analyzer yields a failure Run and the pass continues.
func (o *Orchestrator) Run(ctx context.Context, in Input) Outcome {
	out := Outcome{
		Runs:    make([]Run, 0, len(o.builders)+len(o.ai)),
		Context: NewContext(),
	}

	in.Prior = nil

	for _, a := range o.builders {
		findings, run := o.runOne(ctx, a, in)
		out.Context.Absorb(findings)
		out.Findings = append(out.Findings, findings...)
		out.Runs = append(out.Runs, run)
	}

	in.Prior = out.Context

	for _, a := range o.ai {
		findings, run := o.runOne(ctx, a, in)
		out.Context.Absorb(findings)
		out.Findings = append(out.Findings, findings...)
		out.Runs = append(out.Runs, run)
	}

	return out
}

func (o *Orchestrator) runOne(ctx context.Context, a Analyzer, in Input) (findings []gazette.Finding, run Run) {
	run = Run{AnalyzerID: a.ID(), Type: a.Type(), Status: RunSuccess}

	if err := ctx.Err(); err != nil {
		run.Status = RunFailure
		run.Error = err.Error()

		return nil, run
	}

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			findings = nil
			run.Duration = time.Since(start)
			run.Status = RunFailure
			run.Error = fmt.Sprintf("panic: %v", r)
			run.Findings = 0
			o.logger.Error("analyzer panicked",
				slog.String("analyzer", a.ID()),
				slog.Any("panic", r))
		}
	}()

	findings, err := a.Analyze(ctx, in)
	run.Duration = time.Since(start)

	if err != nil {
		run.Status = RunFailure
		run.Error = err.Error()
		o.logger.Warn("analyzer failed",
			slog.String("analyzer", a.ID()),
			slog.String("territory", in.TerritoryID),
			slog.String("error", err.Error()))

		return nil, run
	}

	run.Findings = len(findings)
	o.logger.Debug("analyzer finished",
		slog.String("analyzer", a.ID()),
		slog.Int("findings", len(findings)),
		slog.Duration("elapsed", run.Duration))

	return findings, run
}
