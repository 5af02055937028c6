package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gazeta-aberta/gazeta/internal/spider"
)

// SpiderSummary is one catalog row in list_spiders output.
type SpiderSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TerritoryID string `json:"territoryId"`
	Scope       string `json:"scope"`
	Type        string `json:"type"`
	StartDate   string `json:"startDate,omitempty"`
}

// SpiderListResult is the list_spiders tool output.
type SpiderListResult struct {
	Spiders []SpiderSummary `json:"spiders"`
	Count   int             `json:"count"`
}

// handleListSpiders processes list_spiders tool calls.
func (s *Server) handleListSpiders(
	_ context.Context,
	_ *mcpsdk.CallToolRequest,
	input ListSpidersInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	var configs []spider.Config

	switch spider.Scope(input.Scope) {
	case "":
		configs = s.catalog.Spiders()
	case spider.ScopeCity, spider.ScopeState:
		configs = s.catalog.SpidersByScope(spider.Scope(input.Scope))
	default:
		return errorResult(fmt.Errorf("%w: %q", ErrUnknownScope, input.Scope))
	}

	rows := make([]SpiderSummary, 0, len(configs))
	for _, cfg := range configs {
		rows = append(rows, SpiderSummary{
			ID:          cfg.ID,
			Name:        cfg.Name,
			TerritoryID: cfg.TerritoryID,
			Scope:       string(cfg.Scope),
			Type:        cfg.SpiderType,
			StartDate:   cfg.StartDate,
		})
	}

	return jsonResult(SpiderListResult{Spiders: rows, Count: len(rows)})
}
