package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gazeta-aberta/gazeta/internal/dispatch"
	"github.com/gazeta-aberta/gazeta/internal/registry"
)

// handleTriggerCrawl processes trigger_crawl tool calls. It rides the
// same dispatcher path as POST /crawl, so validation messages and
// partial-enqueue semantics match the HTTP API.
func (s *Server) handleTriggerCrawl(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input TriggerCrawlInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if !input.All && len(input.Cities) == 0 {
		return errorResult(ErrNoCities)
	}

	req := dispatch.CrawlRequest{
		Cities:      dispatch.CityList{IDs: input.Cities, All: input.All},
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		ScopeFilter: input.ScopeFilter,
	}

	resp, status := s.dispatcher.Dispatch(ctx, req)
	if status >= http.StatusBadRequest {
		return errorResult(errors.New(resp.Error))
	}

	// A 207 keeps the job id usable, so the partial failure travels
	// inside the payload rather than as a tool error.
	return jsonResult(resp)
}

// handleCrawlStatus processes crawl_status tool calls.
func (s *Server) handleCrawlStatus(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input CrawlStatusInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.JobID == "" {
		return errorResult(ErrEmptyJobID)
	}

	status, err := s.dispatcher.JobStatus(ctx, input.JobID)
	if errors.Is(err, registry.ErrNotFound) {
		return errorResult(fmt.Errorf("crawl job %s not found", input.JobID))
	}

	if err != nil {
		return errorResult(fmt.Errorf("load crawl job: %w", err))
	}

	return jsonResult(status)
}
