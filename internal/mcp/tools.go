package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool name constants.
const (
	ToolNameTriggerCrawl = "trigger_crawl"
	ToolNameCrawlStatus  = "crawl_status"
	ToolNameListSpiders  = "list_spiders"
)

// Sentinel errors for tool input validation.
var (
	// ErrNoCities indicates neither cities nor all was provided.
	ErrNoCities = errors.New("cities parameter is required unless all is set")
	// ErrEmptyJobID indicates the job_id parameter is empty.
	ErrEmptyJobID = errors.New("job_id parameter is required and must not be empty")
	// ErrUnknownScope indicates the scope parameter is not a known gazette scope.
	ErrUnknownScope = errors.New("scope must be city or state")
)

// Input types (auto-generate JSON schemas via struct tags).

// TriggerCrawlInput is the input schema for the trigger_crawl tool.
type TriggerCrawlInput struct {
	All         bool     `json:"all,omitempty"          jsonschema:"crawl every spider in the catalog"`
	Cities      []string `json:"cities,omitempty"       jsonschema:"spider or territory ids to crawl"`
	EndDate     string   `json:"end_date,omitempty"     jsonschema:"inclusive window end (YYYY-MM-DD, default today)"`
	ScopeFilter string   `json:"scope_filter,omitempty" jsonschema:"restrict to city or state gazettes"`
	StartDate   string   `json:"start_date,omitempty"   jsonschema:"inclusive window start (YYYY-MM-DD, default the configured lookback)"`
}

// CrawlStatusInput is the input schema for the crawl_status tool.
type CrawlStatusInput struct {
	JobID string `json:"job_id" jsonschema:"crawl job id returned by trigger_crawl"`
}

// ListSpidersInput is the input schema for the list_spiders tool.
type ListSpidersInput struct {
	Scope string `json:"scope,omitempty" jsonschema:"optional gazette scope filter (city or state)"`
}

// Output type (used as structured output for generic AddTool).

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// Result helpers.

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}
