package commands

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gazeta-aberta/gazeta/internal/registry"
	"github.com/gazeta-aberta/gazeta/internal/textutil"
)

// messageColumnWidth bounds the error message column in table output.
const messageColumnWidth = 72

// NewErrorsCommand creates the persistent error log inspection command
// group.
func NewErrorsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "errors",
		Short:         "Inspect the persistent error log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newErrorsRecentCommand())

	return cmd
}

func newErrorsRecentCommand() *cobra.Command {
	var (
		configPath string
		format     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:           "recent",
		Short:         "List the most recent pipeline errors",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return withStore(cobraCmd, configPath, func(store *registry.Store) error {
				records, err := store.ListRecentErrors(cobraCmd.Context(), limit)
				if err != nil {
					return err
				}

				out := cobraCmd.OutOrStdout()
				if format != formatTable {
					return renderStructured(out, format, records)
				}

				renderErrorTable(out, records)

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json, yaml")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records to list")

	return cmd
}

func renderErrorTable(w io.Writer, records []registry.ErrorRecord) {
	tbl := newTable(w)
	tbl.AppendHeader([]any{"WHEN", "KIND", "CODE", "MESSAGE"})

	for _, rec := range records {
		tbl.AppendRow([]any{
			humanize.Time(rec.OccurredAt),
			rec.Kind,
			rec.Code,
			textutil.Truncate(rec.Message, messageColumnWidth),
		})
	}

	tbl.Render()
	fmt.Fprintf(w, "%d error(s)\n", len(records))
}
