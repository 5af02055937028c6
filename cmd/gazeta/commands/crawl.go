package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gazeta-aberta/gazeta/internal/dispatch"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

// defaultServerURL is where a local `gazeta serve` listens.
const defaultServerURL = "http://localhost:8080"

const crawlRequestTimeout = 30 * time.Second

// ErrDispatchFailed indicates the dispatcher rejected the crawl request.
var ErrDispatchFailed = errors.New("crawl dispatch failed")

// NewCrawlCommand creates the crawl trigger/status command group. Both
// subcommands talk to a running dispatcher over its HTTP API, so the
// CLI sees exactly the behaviour a programmatic client would.
func NewCrawlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crawl",
		Short:         "Trigger and inspect crawl jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newCrawlTriggerCommand())
	cmd.AddCommand(newCrawlStatusCommand())

	return cmd
}

func newCrawlTriggerCommand() *cobra.Command {
	var (
		serverURL string
		cities    []string
		all       bool
		startDate string
		endDate   string
		scope     string
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Dispatch a crawl job",
		Long: `Dispatch a crawl job to a running gazeta service.

Select spiders with --cities (spider or territory ids) or --all. Without
dates the dispatcher crawls the last 30 days ending today.`,
		Example: `  gazeta crawl trigger --all
  gazeta crawl trigger --cities ba_salvador,ba_camacari --start 2025-01-01 --end 2025-01-31
  gazeta crawl trigger --all --scope state`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			if !all && len(cities) == 0 {
				return fmt.Errorf("%w: pass --cities or --all", ErrDispatchFailed)
			}

			req := dispatch.CrawlRequest{
				Cities:      dispatch.CityList{IDs: cities, All: all},
				StartDate:   startDate,
				EndDate:     endDate,
				ScopeFilter: scope,
			}

			resp, status, err := postCrawl(cobraCmd.Context(), serverURL, req)
			if err != nil {
				return err
			}

			return printCrawlResponse(cobraCmd.OutOrStdout(), resp, status)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Dispatcher base URL")
	cmd.Flags().StringSliceVar(&cities, "cities", nil, "Spider or territory ids to crawl")
	cmd.Flags().BoolVar(&all, "all", false, "Crawl every spider in the catalog")
	cmd.Flags().StringVar(&startDate, "start", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "End date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&scope, "scope", "", "Restrict to scope: city or state")

	return cmd
}

func newCrawlStatusCommand() *cobra.Command {
	var (
		serverURL string
		format    string
	)

	cmd := &cobra.Command{
		Use:           "status <job-id>",
		Short:         "Show a crawl job aggregate and its progress log",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			status, err := fetchJobStatus(cobraCmd.Context(), serverURL, args[0])
			if err != nil {
				return err
			}

			out := cobraCmd.OutOrStdout()
			if format != formatTable {
				return renderStructured(out, format, status)
			}

			printJobStatus(out, status)

			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Dispatcher base URL")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json, yaml")

	return cmd
}

func postCrawl(ctx context.Context, serverURL string, req dispatch.CrawlRequest) (*dispatch.CrawlResponse, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("encode crawl request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(serverURL, "/")+"/crawl", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build crawl request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: crawlRequestTimeout}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("dispatcher unreachable at %s: %w", serverURL, err)
	}

	defer func() { _ = httpResp.Body.Close() }()

	var resp dispatch.CrawlResponse
	if err = json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("decode dispatcher reply (%d): %w", httpResp.StatusCode, err)
	}

	return &resp, httpResp.StatusCode, nil
}

func fetchJobStatus(ctx context.Context, serverURL, jobID string) (*dispatch.JobStatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(serverURL, "/")+"/crawl/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	client := &http.Client{Timeout: crawlRequestTimeout}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dispatcher unreachable at %s: %w", serverURL, err)
	}

	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))

		return nil, fmt.Errorf("%w: job %s: dispatcher returned %d: %s",
			ErrDispatchFailed, jobID, httpResp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var status dispatch.JobStatusResponse
	if err = json.NewDecoder(httpResp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}

	return &status, nil
}

func printCrawlResponse(w io.Writer, resp *dispatch.CrawlResponse, status int) error {
	switch status {
	case http.StatusOK:
		fmt.Fprintf(w, "crawl job %s dispatched: %d task(s) enqueued\n", resp.CrawlJobID, resp.TasksEnqueued)
	case http.StatusMultiStatus:
		fmt.Fprintf(w, "crawl job %s partially dispatched: %d task(s) enqueued, some failed\n",
			resp.CrawlJobID, resp.TasksEnqueued)
	default:
		return fmt.Errorf("%w (%d): %s", ErrDispatchFailed, status, resp.Error)
	}

	if len(resp.Cities) > 0 {
		fmt.Fprintf(w, "spiders: %s\n", strings.Join(resp.Cities, ", "))
	}

	return nil
}

func printJobStatus(w io.Writer, status *dispatch.JobStatusResponse) {
	job := status.Job

	fmt.Fprintf(w, "job %s  %s\n", job.ID, statusColor(string(job.Status)).Sprint(string(job.Status)))
	fmt.Fprintf(w, "spiders: %d total, %d completed, %d failed\n",
		job.TotalSpiders, job.CompletedSpiders, job.FailedSpiders)
	fmt.Fprintf(w, "range: %s to %s\n",
		job.StartDate.Format("2006-01-02"), job.EndDate.Format("2006-01-02"))
	fmt.Fprintf(w, "created: %s\n", humanize.Time(job.CreatedAt))

	if len(status.Progress) == 0 {
		return
	}

	fmt.Fprintln(w)

	tbl := newTable(w)
	tbl.AppendHeader(progressHeader())

	for _, ev := range status.Progress {
		tbl.AppendRow(progressRow(ev))
	}

	tbl.Render()
}

func progressHeader() []any {
	return []any{"WHEN", "STAGE", "SPIDER", "STATUS", "DURATION"}
}

func progressRow(ev gazette.ProgressEvent) []any {
	return []any{
		ev.CreatedAt.Format("15:04:05"),
		string(ev.Stage),
		ev.SpiderID,
		statusColor(ev.Status).Sprint(ev.Status),
		(time.Duration(ev.DurationMS) * time.Millisecond).String(),
	}
}
