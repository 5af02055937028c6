// Package mcp implements a Model Context Protocol server exposing the
// gazette pipeline as MCP tools over stdio transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gazeta-aberta/gazeta/internal/dispatch"
	"github.com/gazeta-aberta/gazeta/internal/observability"
	"github.com/gazeta-aberta/gazeta/internal/spider"
	"github.com/gazeta-aberta/gazeta/pkg/version"
)

const (
	// serverName is the MCP server implementation name.
	serverName = "gazeta"

	// toolCount is the expected number of registered tools.
	toolCount = 3
)

// Dispatcher starts crawl jobs and reports on them. *dispatch.Server
// implements it; MCP tool calls take the same path as the HTTP API.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.CrawlRequest) (dispatch.CrawlResponse, int)
	JobStatus(ctx context.Context, id string) (*dispatch.JobStatusResponse, error)
}

// ServerDeps holds injectable dependencies for the MCP server.
// Dispatcher and Catalog are required; the rest default sensibly.
type ServerDeps struct {
	// Dispatcher handles trigger_crawl and crawl_status calls.
	Dispatcher Dispatcher

	// Catalog backs the list_spiders tool.
	Catalog *spider.Catalog

	// Logger is an optional structured logger. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is an optional RED metrics recorder. Nil disables per-tool metrics.
	Metrics *observability.REDMetrics

	// Tracer is an optional OTel tracer for per-tool-call spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Server wraps the MCP SDK server with gazette tool registrations.
type Server struct {
	inner      *mcpsdk.Server
	mu         sync.RWMutex
	tools      []string
	dispatcher Dispatcher
	catalog    *spider.Catalog
	metrics    *observability.REDMetrics
	tracer     trace.Tracer
}

// NewServer creates a new MCP server with all gazette tools registered.
func NewServer(deps ServerDeps) *Server {
	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		opts,
	)

	srv := &Server{
		inner:      inner,
		tools:      make([]string, 0, toolCount),
		dispatcher: deps.Dispatcher,
		catalog:    deps.Catalog,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
	}

	srv.registerTools()

	return srv
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tools))
	copy(names, s.tools)
	sort.Strings(names)

	return names
}

// Run starts the MCP server on stdio transport. It blocks until the context
// is canceled or the connection closes.
func (s *Server) Run(ctx context.Context) error {
	err := s.inner.Run(ctx, &mcpsdk.StdioTransport{})
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// RunWithTransport starts the MCP server on the given transport. It blocks
// until the context is canceled or the connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// registerTools adds all gazette MCP tools to the server.
func (s *Server) registerTools() {
	s.registerTriggerCrawlTool()
	s.registerCrawlStatusTool()
	s.registerListSpidersTool()
}

func (s *Server) registerTriggerCrawlTool() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameTriggerCrawl,
		Description: triggerCrawlToolDescription,
	}, withMetrics(s.metrics, ToolNameTriggerCrawl, withTracing(s.tracer, ToolNameTriggerCrawl, s.handleTriggerCrawl)))

	s.trackTool(ToolNameTriggerCrawl)
}

func (s *Server) registerCrawlStatusTool() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameCrawlStatus,
		Description: crawlStatusToolDescription,
	}, withMetrics(s.metrics, ToolNameCrawlStatus, withTracing(s.tracer, ToolNameCrawlStatus, s.handleCrawlStatus)))

	s.trackTool(ToolNameCrawlStatus)
}

func (s *Server) registerListSpidersTool() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameListSpiders,
		Description: listSpidersToolDescription,
	}, withMetrics(s.metrics, ToolNameListSpiders, withTracing(s.tracer, ToolNameListSpiders, s.handleListSpiders)))

	s.trackTool(ToolNameListSpiders)
}

// mcpSpanPrefix is the prefix for MCP tool span names.
const mcpSpanPrefix = "mcp."

// traceIDMetaKey is the metadata key for trace_id in MCP tool responses.
const traceIDMetaKey = "trace_id"

// withTracing wraps an MCP tool handler to create an OTel span per invocation
// and include trace_id in the response content when sampled.
func withTracing[Input any](
	tracer trace.Tracer,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, mcpSpanPrefix+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		result, output, err := handler(ctx, req, input)

		// Include trace_id in response when span is sampled.
		sc := span.SpanContext()
		if sc.IsSampled() && result != nil {
			traceContent := &mcpsdk.TextContent{Text: fmt.Sprintf("%s=%s", traceIDMetaKey, sc.TraceID().String())}
			result.Content = append(result.Content, traceContent)
		}

		return result, output, err
	}
}

// withMetrics wraps an MCP tool handler to record RED metrics per invocation.
func withMetrics[Input any](
	metrics *observability.REDMetrics,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if metrics == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		decInflight := metrics.TrackInflight(ctx, mcpSpanPrefix+toolName)
		defer decInflight()

		result, output, err := handler(ctx, req, input)

		status := "ok"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}

		metrics.RecordRequest(ctx, mcpSpanPrefix+toolName, status, time.Since(start))

		return result, output, err
	}
}

func (s *Server) trackTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, name)
}

// Tool description constants.
const (
	triggerCrawlToolDescription = "Start a crawl job for official gazettes. " +
		"Accepts spider or territory ids (or all) plus an optional date window " +
		"and scope filter, and returns the crawl job id."

	crawlStatusToolDescription = "Report the state of a crawl job: spider " +
		"counters, lifecycle status and the per-stage progress log."

	listSpidersToolDescription = "List the spiders in the catalog with their " +
		"territory, scope and platform type. Optionally filter by gazette scope."
)
