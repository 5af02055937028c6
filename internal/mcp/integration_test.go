package mcp_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gazeta-aberta/gazeta/internal/dispatch"
	"github.com/gazeta-aberta/gazeta/internal/mcp"
	"github.com/gazeta-aberta/gazeta/internal/registry"
	"github.com/gazeta-aberta/gazeta/internal/spider"
)

type stubDispatcher struct {
	resp   dispatch.CrawlResponse
	status int
}

func (s *stubDispatcher) Dispatch(context.Context, dispatch.CrawlRequest) (dispatch.CrawlResponse, int) {
	return s.resp, s.status
}

func (s *stubDispatcher) JobStatus(context.Context, string) (*dispatch.JobStatusResponse, error) {
	return nil, registry.ErrNotFound
}

func newIntegrationServer(tb testing.TB, dispatcher mcp.Dispatcher) *mcp.Server {
	tb.Helper()

	catalog, err := spider.LoadCatalog()
	require.NoError(tb, err)

	return mcp.NewServer(mcp.ServerDeps{Dispatcher: dispatcher, Catalog: catalog})
}

func TestMCPServer_InMemoryTransport_ToolsList(t *testing.T) {
	t.Parallel()

	srv := newIntegrationServer(t, &stubDispatcher{})

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Start server in background.
	serverDone := make(chan error, 1)

	go func() {
		serverDone <- srv.RunWithTransport(ctx, serverTransport)
	}()

	// Create client and connect.
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	defer func() {
		_ = session.Close()
	}()

	// List tools.
	toolsResult, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, toolsResult)

	toolNames := make([]string, 0, len(toolsResult.Tools))
	for _, tool := range toolsResult.Tools {
		toolNames = append(toolNames, tool.Name)
	}

	assert.Contains(t, toolNames, "trigger_crawl")
	assert.Contains(t, toolNames, "crawl_status")
	assert.Contains(t, toolNames, "list_spiders")
	assert.Len(t, toolNames, 3)

	// Verify each tool has an input schema.
	for _, tool := range toolsResult.Tools {
		assert.NotNil(t, tool.InputSchema, "tool %s missing input schema", tool.Name)
	}

	cancel()
	<-serverDone
}

func TestMCPServer_InMemoryTransport_CallListSpiders(t *testing.T) {
	t.Parallel()

	srv := newIntegrationServer(t, &stubDispatcher{})

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverDone := make(chan error, 1)

	go func() {
		serverDone <- srv.RunWithTransport(ctx, serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	defer func() {
		_ = session.Close()
	}()

	// Call list_spiders with no filter.
	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "list_spiders",
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
	assert.NotEmpty(t, result.Content)

	cancel()
	<-serverDone
}

func TestMCPServer_InMemoryTransport_CallTriggerCrawl(t *testing.T) {
	t.Parallel()

	srv := newIntegrationServer(t, &stubDispatcher{
		resp: dispatch.CrawlResponse{
			Success:       true,
			TasksEnqueued: 3,
			CrawlJobID:    "job-9",
		},
		status: http.StatusOK,
	})

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverDone := make(chan error, 1)

	go func() {
		serverDone <- srv.RunWithTransport(ctx, serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	defer func() {
		_ = session.Close()
	}()

	// Call trigger_crawl for the full catalog.
	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name: "trigger_crawl",
		Arguments: map[string]any{
			"all": true,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
	assert.NotEmpty(t, result.Content)

	cancel()
	<-serverDone
}

func TestMCPServer_InMemoryTransport_CallTriggerCrawl_Error(t *testing.T) {
	t.Parallel()

	srv := newIntegrationServer(t, &stubDispatcher{})

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverDone := make(chan error, 1)

	go func() {
		serverDone <- srv.RunWithTransport(ctx, serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	defer func() {
		_ = session.Close()
	}()

	// Call trigger_crawl with no target at all.
	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "trigger_crawl",
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)

	cancel()
	<-serverDone
}
