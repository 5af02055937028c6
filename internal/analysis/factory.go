package analysis

import (
	"fmt"

	"github.com/gazeta-aberta/gazeta/internal/analyzers/ai"
	"github.com/gazeta-aberta/gazeta/internal/analyzers/analyze"
	"github.com/gazeta-aberta/gazeta/internal/analyzers/concurso"
	"github.com/gazeta-aberta/gazeta/internal/analyzers/entity"
	"github.com/gazeta-aberta/gazeta/internal/analyzers/keyword"
	"github.com/gazeta-aberta/gazeta/internal/config"
)

// BuildAnalyzers constructs the analyzers enabled by configuration.
// The "ai" entry is skipped when the model is not enabled, so the same
// analyzer list works across environments with and without an API key.
func BuildAnalyzers(cfg config.AnalysisConfig) ([]analyze.Analyzer, error) {
	analyzers := make([]analyze.Analyzer, 0, len(cfg.Analyzers))

	for _, name := range cfg.Analyzers {
		switch name {
		case "keyword":
			analyzers = append(analyzers, keyword.New(cfg.Keywords))
		case "entity":
			analyzers = append(analyzers, entity.New())
		case "concurso":
			analyzers = append(analyzers, concurso.New())
		case "ai":
			if !cfg.AI.Enabled {
				continue
			}

			analyzers = append(analyzers, ai.New(ai.NewAnthropicModel(cfg.AI)))
		default:
			return nil, fmt.Errorf("%w: %s", analyze.ErrUnknownAnalyzer, name)
		}
	}

	return analyzers, nil
}
