// Package main provides the entry point for the gazeta pipeline CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gazeta-aberta/gazeta/cmd/gazeta/commands"
	"github.com/gazeta-aberta/gazeta/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "gazeta",
		Short: "Gazeta - official gazette ingestion pipeline",
		Long: `Gazeta discovers, retrieves, OCRs, analyses, and notifies on newly
published Brazilian municipal and state official gazettes.

Commands:
  serve          Run the dispatcher and the four pipeline consumers
  migrate        Apply database migrations
  crawl          Trigger and inspect crawl jobs against a running dispatcher
  spiders        Inspect the spider catalog
  subscriptions  Manage webhook subscriptions
  crawls         Operator maintenance on crawl attempts
  errors         Inspect the persistent error log
  mcp            MCP tool server over stdio`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(commands.NewCrawlCommand())
	rootCmd.AddCommand(commands.NewSpidersCommand())
	rootCmd.AddCommand(commands.NewSubscriptionsCommand())
	rootCmd.AddCommand(commands.NewCrawlsCommand())
	rootCmd.AddCommand(commands.NewErrorsCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "gazeta %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
