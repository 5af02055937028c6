package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gazeta-aberta/gazeta/internal/analysis"
	"github.com/gazeta-aberta/gazeta/internal/analyzers/analyze"
	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/dispatch"
	"github.com/gazeta-aberta/gazeta/internal/objstore"
	"github.com/gazeta-aberta/gazeta/internal/observability"
	"github.com/gazeta-aberta/gazeta/internal/ocr"
	"github.com/gazeta-aberta/gazeta/internal/pipeline"
	"github.com/gazeta-aberta/gazeta/internal/queue"
	"github.com/gazeta-aberta/gazeta/internal/registry"
	"github.com/gazeta-aberta/gazeta/internal/spider"
	"github.com/gazeta-aberta/gazeta/internal/urlx"
	"github.com/gazeta-aberta/gazeta/internal/webhook"
)

// subscriptionCacheTTL bounds how stale the webhook stage's view of the
// subscription table can get when writes come from another process; the
// in-process dispatcher invalidates the cache directly.
const subscriptionCacheTTL = 30 * time.Second

// httpShutdownTimeout is how long in-flight dispatcher requests get to
// finish after the stop signal.
const httpShutdownTimeout = 10 * time.Second

// NewServeCommand creates the long-running pipeline service command: the
// crawl dispatcher HTTP API plus the four queue consumers under one
// process, sharing stores, caches, and shutdown.
func NewServeCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher HTTP API and the pipeline consumers",
		Long: `Start the gazeta pipeline service.

One process hosts:
  - the crawl dispatcher HTTP API (POST /crawl, subscriptions)
  - the crawl, OCR, analysis, and webhook queue consumers
  - a diagnostics listener (/healthz, /readyz, /metrics)

The process drains on SIGINT/SIGTERM: consumers stop fetching, in-flight
messages finish, the HTTP listener closes gracefully.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return runServe(cobraCmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default gazeta.yaml in ., ./config, /etc/gazeta)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func runServe(parent context.Context, configPath string, debug bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	providers, err := initObservability(cfg, observability.ModeServe, debug)
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

	metrics, err := observability.NewPipelineMetrics(providers.Meter)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	rdb := ocr.NewRedisClient(cfg.Redis)
	defer func() {
		if closeErr := rdb.Close(); closeErr != nil {
			logger.Warn("redis close failed", "error", closeErr)
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

	if err = queueClient.EnsureStream(); err != nil {
		return err
	}

	catalog, err := spider.LoadCatalog()
	if err != nil {
		return err
	}

	analyzers, err := analysis.BuildAnalyzers(cfg.Analysis)
	if err != nil {
		return err
	}

	orchestrator, err := analyze.NewOrchestrator(analyzers, logger)
	if err != nil {
		return err
	}

	ocrCache := ocr.NewCache(rdb, store, cfg.Redis.OCRTTL, logger)
	resultCache := analysis.NewCache(rdb, store, cfg.Redis.AnalysisTTL, logger)
	subCache := webhook.NewSubscriptionCache(store, subscriptionCacheTTL)

	ocrDeps := pipeline.OCRStageDeps{
		Registry: store,
		Queue:    queueClient,
		Cache:    ocrCache,
		OCR:      ocr.NewClient(cfg.OCR),
		Metrics:  metrics,
		Logger:   logger,
	}

	// Archival is optional: without a bucket the OCR provider fetches
	// the source URL itself and nothing is stored durably.
	if cfg.ObjectStore.Bucket != "" {
		bucket, bucketErr := objstore.New(ctx, cfg.ObjectStore)
		if bucketErr != nil {
			return bucketErr
		}

		ocrDeps.Archive = bucket
		ocrDeps.Fetcher = ocr.NewFetcher()
	}

	stages := map[queue.Stage]queue.Handler{
		queue.StageCrawl: pipeline.NewCrawlStage(store, queueClient, spider.New, metrics, logger).Handle,
		queue.StageOCR:   pipeline.NewOCRStage(ocrDeps).Handle,
		queue.StageAnalysis: pipeline.NewAnalysisStage(pipeline.AnalysisStageDeps{
			Registry:     store,
			Queue:        queueClient,
			Results:      resultCache,
			Texts:        ocrCache,
			Orchestrator: orchestrator,
			Catalog:      catalog,
			Config:       cfg.Analysis,
			Metrics:      metrics,
			Logger:       logger,
		}).Handle,
		queue.StageWebhook: pipeline.NewWebhookStage(pipeline.WebhookStageDeps{
			Registry:      store,
			Subscriptions: subCache,
			Deliverer:     webhook.NewDeliverer(cfg.Webhook, logger),
			Catalog:       catalog,
			Metrics:       metrics,
			Logger:        logger,
		}).Handle,
	}

	dispatcher := dispatch.NewServer(dispatch.ServerDeps{
		Jobs:          store,
		Subscriptions: store,
		Queue:         queueClient,
		Catalog:       catalog,
		Cache:         subCache,
		Config:        cfg.Crawl,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      observability.HTTPMiddleware(providers.Tracer, dispatcher.Handler()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Diagnostics.Enabled {
		diag, diagErr := observability.NewDiagnosticsServer(
			net.JoinHostPort(cfg.Diagnostics.Host, strconv.Itoa(cfg.Diagnostics.Port)),
			store.Ping,
			func(checkCtx context.Context) error { return rdb.Ping(checkCtx).Err() },
		)
		if diagErr != nil {
			return diagErr
		}

		defer func() {
			if closeErr := diag.Close(); closeErr != nil {
				logger.Warn("diagnostics close failed", "error", closeErr)
			}
		}()

		logger.Info("diagnostics listening", "addr", diag.Addr())
	}

	group, groupCtx := errgroup.WithContext(ctx)

	for stage, handler := range stages {
		group.Go(func() error {
			return queueClient.Consume(groupCtx, stage, handler)
		})
	}

	group.Go(func() error {
		logger.Info("dispatcher listening", "addr", httpServer.Addr)

		serveErr := httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("dispatcher: %w", serveErr)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("gazeta pipeline started",
		"spiders", len(catalog.Spiders()), "analyzers", orchestrator.AnalyzerIDs())

	return group.Wait()
}
