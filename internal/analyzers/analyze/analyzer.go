// Package analyze defines the analyzer contract and the two-phase
// orchestrator that runs analyzers over recognized gazette text.
//
// Analyzers are small, independent detectors: each receives the OCR text
// of one gazette and returns findings. The orchestrator runs
// context-building analyzers first (keyword, entity, concurso) in
// priority order, accumulates what they learned into a Context, and then
// hands that context to AI analyzers so the expensive model call starts
// from structured priors instead of raw text.
package analyze

import (
	"context"
	"errors"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

// Type categorizes an analyzer by its detection strategy.
type Type string

// Analyzer types.
const (
	TypeKeyword  Type = "keyword"
	TypeEntity   Type = "entity"
	TypeConcurso Type = "concurso"
	TypeAI       Type = "ai"
)

// ErrDuplicateAnalyzerID is returned when an orchestrator receives two
// analyzers with the same ID.
var ErrDuplicateAnalyzerID = errors.New("duplicate analyzer id")

// ErrUnknownAnalyzer is returned when an enabled analyzer name has no
// registered constructor.
var ErrUnknownAnalyzer = errors.New("unknown analyzer")

// Well-known finding data keys. Analyzers that want their observations
// reflected in the accumulated Context use these keys in Finding.Data.
const (
	// DataDocumentType names the detected document type
	// ("convocacao", "edital_abertura", ...).
	DataDocumentType = "documentType"

	// DataCategory names the content category of a finding. Keyword
	// findings carry a single string, AI findings may carry a list.
	DataCategory = "category"

	// DataKeyword is the matched keyword of a keyword finding.
	DataKeyword = "keyword"

	// DataEntityType and DataEntityValue describe an extracted entity
	// ("cnpj" → "12.345.678/0001-90").
	DataEntityType  = "entityType"
	DataEntityValue = "value"
)

// Input is the unit of work handed to every analyzer: the recognized
// text of one gazette plus the identity of the territory it is being
// analyzed for. For state-level gazettes the text has already been
// narrowed to the target city before it gets here.
type Input struct {
	Text          string
	TerritoryID   string
	TerritoryName string
	GazetteID     int64

	// Prior is the context accumulated by earlier phases. It is nil for
	// context-building analyzers and set for AI analyzers.
	Prior *Context
}

// Analyzer inspects one gazette text and reports findings.
//
// Implementations must be safe for concurrent use: the orchestrator is
// shared across consumer goroutines and calls Analyze from all of them.
type Analyzer interface {
	// ID is the stable analyzer identifier recorded in results.
	ID() string

	// Type reports the detection strategy; TypeAI analyzers run in the
	// second phase with an accumulated Context.
	Type() Type

	// Priority orders analyzers within a phase; higher runs first.
	Priority() int

	// Analyze scans the input and returns findings. Returning an error
	// marks this analyzer's run as failed without aborting the pass.
	Analyze(ctx context.Context, in Input) ([]gazette.Finding, error)
}
