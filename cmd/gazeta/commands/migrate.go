package commands

import (
	"github.com/spf13/cobra"

	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/registry"
)

// NewMigrateCommand creates the database migration command.
func NewMigrateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply the embedded schema migrations to the configured Postgres
database. Safe to run repeatedly; already-applied migrations are skipped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			ctx := cobraCmd.Context()

			db, err := registry.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}

			defer func() {
				if closeErr := db.Close(); closeErr != nil {
					cliLogger().Warn("database close failed", "error", closeErr)
				}
			}()

			return registry.Migrate(ctx, db)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	return cmd
}
