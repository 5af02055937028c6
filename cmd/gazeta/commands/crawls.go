package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/queue"
	"github.com/gazeta-aberta/gazeta/internal/registry"
	"github.com/gazeta-aberta/gazeta/internal/spider"
)

// NewCrawlsCommand creates the operator maintenance command group for
// crawl attempts.
func NewCrawlsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crawls",
		Short:         "Operator maintenance on crawl attempts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newCrawlsResetCommand())

	return cmd
}

func newCrawlsResetCommand() *cobra.Command {
	var (
		configPath string
		requeue    bool
	)

	cmd := &cobra.Command{
		Use:   "reset <crawl-id>",
		Short: "Reset a crawl attempt for replay",
		Long: `Reset a terminal crawl attempt and its gazette back to the start of
the pipeline. Stored OCR and analysis results are kept, so the replay
reuses them unless the analyzer configuration changed.

With --requeue an OCR message is published immediately; without it the
row waits for the next crawl over the same source to pick it up.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			crawlID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("crawl id must be numeric: %w", err)
			}

			return withStore(cobraCmd, configPath, func(store *registry.Store) error {
				ctx := cobraCmd.Context()

				if err := store.ResetCrawl(ctx, crawlID); err != nil {
					return err
				}

				fmt.Fprintf(cobraCmd.OutOrStdout(), "crawl %d reset\n", crawlID)

				if !requeue {
					return nil
				}

				return requeueOCR(cobraCmd, configPath, store, crawlID)
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().BoolVar(&requeue, "requeue", false, "Publish an OCR message for the reset attempt")

	return cmd
}

// requeueOCR republishes the reset attempt straight to the OCR stage,
// skipping a full re-crawl of the source site.
func requeueOCR(cobraCmd *cobra.Command, configPath string, store *registry.Store, crawlID int64) error {
	ctx := cobraCmd.Context()

	crawl, err := store.GetCrawl(ctx, crawlID)
	if err != nil {
		return err
	}

	catalog, err := spider.LoadCatalog()
	if err != nil {
		return err
	}

	spiderCfg, ok := catalog.Spider(crawl.SpiderID)
	if !ok {
		return fmt.Errorf("%w: %s (crawl %d predates the current catalog)", ErrUnknownSpider, crawl.SpiderID, crawlID)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	queueClient, err := queue.Connect(cfg.Queue, cliLogger(), nil)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := queueClient.Close(); closeErr != nil {
			cliLogger().Warn("queue close failed", "error", closeErr)
		}
	}()

	msg := queue.OCRMessage{
		JobID:          "ocr-" + strconv.FormatInt(crawl.GazetteID, 10),
		GazetteCrawlID: crawl.ID,
		GazetteID:      crawl.GazetteID,
		SpiderConfig:   spiderCfg,
		CrawlJobID:     crawl.JobID,
		QueuedAt:       time.Now().UTC(),
	}

	if err = queueClient.Publish(ctx, queue.StageOCR, msg); err != nil {
		return err
	}

	fmt.Fprintf(cobraCmd.OutOrStdout(), "ocr message enqueued for gazette %d\n", crawl.GazetteID)

	return nil
}
