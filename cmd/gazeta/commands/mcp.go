package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/dispatch"
	"github.com/gazeta-aberta/gazeta/internal/mcp"
	"github.com/gazeta-aberta/gazeta/internal/observability"
	"github.com/gazeta-aberta/gazeta/internal/queue"
	"github.com/gazeta-aberta/gazeta/internal/registry"
	"github.com/gazeta-aberta/gazeta/internal/spider"
	"github.com/gazeta-aberta/gazeta/internal/urlx"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes pipeline operations as tools that AI agents can
discover and invoke:
  - trigger_crawl: dispatch a crawl job over cities or the whole catalog
  - crawl_status: read a crawl job aggregate and its progress log
  - list_spiders: browse the spider catalog

Tool calls share the dispatcher's validation and partial-enqueue
semantics with the HTTP API. Logs go to stderr; stdout carries the
transport.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			providers, err := initObservability(cfg, observability.ModeMCP, debug)
			if err != nil {
				return err
			}

			defer func() {
				shutdownErr := providers.Shutdown(context.Background())
				if shutdownErr != nil {
					providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
				}
			}()

			logger := providers.Logger

			red, err := observability.NewREDMetrics(providers.Meter)
			if err != nil {
				return err
			}

			metrics, err := observability.NewPipelineMetrics(providers.Meter)
			if err != nil {
				return err
			}

			ctx := cobraCmd.Context()

			db, err := registry.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}

			store := registry.New(db, urlx.NewResolver(logger), logger)
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					logger.Warn("store close failed", "error", closeErr)
				}
			}()

			queueClient, err := queue.Connect(cfg.Queue, logger, metrics)
			if err != nil {
				return err
			}

			defer func() {
				if closeErr := queueClient.Close(); closeErr != nil {
					logger.Warn("queue close failed", "error", closeErr)
				}
			}()

			catalog, err := spider.LoadCatalog()
			if err != nil {
				return err
			}

			dispatcher := dispatch.NewServer(dispatch.ServerDeps{
				Jobs:          store,
				Subscriptions: store,
				Queue:         queueClient,
				Catalog:       catalog,
				Config:        cfg.Crawl,
				Logger:        logger,
			})

			srv := mcp.NewServer(mcp.ServerDeps{
				Dispatcher: dispatcher,
				Catalog:    catalog,
				Logger:     logger,
				Metrics:    red,
				Tracer:     providers.Tracer,
			})

			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to stderr")

	return cmd
}
