package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/registry"
	"github.com/gazeta-aberta/gazeta/internal/urlx"
)

// Sentinel errors for the subscriptions command group.
var (
	ErrInvalidSubscription = errors.New("invalid subscription document")
	ErrMissingWebhookURL   = errors.New("subscription url is required")
)

// NewSubscriptionsCommand creates the webhook subscription management
// command group. Writes go straight to the store; the serving process
// notices them when its subscription cache TTL lapses.
func NewSubscriptionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "subscriptions",
		Short:         "Manage webhook subscriptions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newSubscriptionsListCommand())
	cmd.AddCommand(newSubscriptionsAddCommand())
	cmd.AddCommand(newSubscriptionsDeleteCommand())

	return cmd
}

func newSubscriptionsListCommand() *cobra.Command {
	var (
		configPath string
		format     string
	)

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List all webhook subscriptions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return withStore(cobraCmd, configPath, func(store *registry.Store) error {
				subs, err := store.ListSubscriptions(cobraCmd.Context())
				if err != nil {
					return err
				}

				out := cobraCmd.OutOrStdout()
				if format != formatTable {
					return renderStructured(out, format, subs)
				}

				renderSubscriptionTable(out, subs)

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json, yaml")

	return cmd
}

func newSubscriptionsAddCommand() *cobra.Command {
	var (
		configPath string
		filePath   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a webhook subscription from a JSON document",
		Long: `Register a webhook subscription. The subscription document is read
from --file, or from stdin when --file is "-" or omitted.

Document shape:

  {
    "url": "https://example.org/hooks/gazeta",
    "events": ["concurso.detected"],
    "filters": {"territories": ["2927408"], "minConfidence": 0.8},
    "auth": {"type": "bearer", "token": "..."},
    "retry": {"maxAttempts": 3, "backoffMs": 1000},
    "maxDeliveries": 1
  }

Omitting maxDeliveries means deliveries are unbounded. A missing id is
generated; active defaults to true.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			sub, err := readSubscription(filePath, cobraCmd.InOrStdin())
			if err != nil {
				return err
			}

			return withStore(cobraCmd, configPath, func(store *registry.Store) error {
				if err := store.CreateSubscription(cobraCmd.Context(), sub); err != nil {
					return err
				}

				fmt.Fprintf(cobraCmd.OutOrStdout(), "subscription %s created for %s\n", sub.ID, sub.URL)

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&filePath, "file", "", "Subscription JSON document (default stdin)")

	return cmd
}

func newSubscriptionsDeleteCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "delete <subscription-id>",
		Short:         "Deactivate a webhook subscription",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return withStore(cobraCmd, configPath, func(store *registry.Store) error {
				if err := store.DeleteSubscription(cobraCmd.Context(), args[0]); err != nil {
					return err
				}

				fmt.Fprintf(cobraCmd.OutOrStdout(), "subscription %s deleted\n", args[0])

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	return cmd
}

// withStore opens the registry for a one-shot CLI operation and closes it
// after fn returns.
func withStore(cobraCmd *cobra.Command, configPath string, fn func(*registry.Store) error) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := cliLogger()

	db, err := registry.Open(cobraCmd.Context(), cfg.Database)
	if err != nil {
		return err
	}

	store := registry.New(db, urlx.NewResolver(logger), logger)
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("store close failed", "error", closeErr)
		}
	}()

	return fn(store)
}

func readSubscription(filePath string, stdin io.Reader) (*gazette.Subscription, error) {
	reader := stdin

	if filePath != "" && filePath != "-" {
		f, err := os.Open(filePath)
		if err != nil {
			return nil, fmt.Errorf("open subscription document: %w", err)
		}

		defer func() { _ = f.Close() }()

		reader = f
	}

	var sub gazette.Subscription

	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&sub); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}

	if strings.TrimSpace(sub.URL) == "" {
		return nil, ErrMissingWebhookURL
	}

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	sub.Active = true

	return &sub, nil
}

func renderSubscriptionTable(w io.Writer, subs []gazette.Subscription) {
	tbl := newTable(w)
	tbl.AppendHeader([]any{"ID", "URL", "EVENTS", "ACTIVE", "MAX", "CREATED"})

	for _, sub := range subs {
		maxDeliveries := "always"
		if sub.MaxDeliveries != nil {
			maxDeliveries = fmt.Sprintf("%d", *sub.MaxDeliveries)
		}

		active := statusColor("success").Sprint("yes")
		if !sub.Active {
			active = statusColor("failed").Sprint("no")
		}

		tbl.AppendRow([]any{
			sub.ID,
			sub.URL,
			strings.Join(sub.Events, ","),
			active,
			maxDeliveries,
			humanize.Time(sub.CreatedAt),
		})
	}

	tbl.Render()
	fmt.Fprintf(w, "%d subscription(s)\n", len(subs))
}
