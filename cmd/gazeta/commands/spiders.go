package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gazeta-aberta/gazeta/internal/spider"
)

// ErrUnknownSpider indicates a spider id absent from the embedded catalog.
var ErrUnknownSpider = errors.New("unknown spider")

// NewSpidersCommand creates the spider catalog inspection command group.
func NewSpidersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "spiders",
		Short:         "Inspect the spider catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newSpidersListCommand())
	cmd.AddCommand(newSpidersShowCommand())

	return cmd
}

func newSpidersListCommand() *cobra.Command {
	var (
		format string
		scope  string
	)

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List the spiders in the embedded catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			catalog, err := spider.LoadCatalog()
			if err != nil {
				return err
			}

			spiders := catalog.Spiders()
			if scope != "" {
				spiders = catalog.SpidersByScope(spider.Scope(scope))
			}

			out := cobraCmd.OutOrStdout()
			if format != formatTable {
				return renderStructured(out, format, spiders)
			}

			renderSpiderTable(out, catalog, spiders)

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json, yaml")
	cmd.Flags().StringVar(&scope, "scope", "", "Filter by gazette scope: city or state")

	return cmd
}

func newSpidersShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:           "show <spider-id>",
		Short:         "Show one spider's full configuration",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			catalog, err := spider.LoadCatalog()
			if err != nil {
				return err
			}

			cfg, ok := catalog.Spider(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownSpider, args[0])
			}

			if format == formatTable {
				format = formatYAML
			}

			return renderStructured(cobraCmd.OutOrStdout(), format, cfg)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatYAML, "Output format: json, yaml")

	return cmd
}

func renderSpiderTable(w io.Writer, catalog *spider.Catalog, spiders []spider.Config) {
	tbl := newTable(w)
	tbl.AppendHeader([]any{"ID", "NAME", "TERRITORY", "TYPE", "SCOPE"})

	for _, cfg := range spiders {
		tbl.AppendRow([]any{
			cfg.ID,
			cfg.Name,
			catalog.TerritoryName(cfg.TerritoryID),
			cfg.SpiderType,
			string(cfg.Scope),
		})
	}

	tbl.Render()
	fmt.Fprintf(w, "%d spider(s)\n", len(spiders))
}
