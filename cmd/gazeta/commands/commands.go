// Package commands implements CLI command handlers for gazeta.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/observability"
	"github.com/gazeta-aberta/gazeta/pkg/version"
)

// Output format names shared by the listing commands.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// ErrUnknownFormat indicates a --format value outside table/json/yaml.
var ErrUnknownFormat = errors.New("unknown output format")

// initObservability builds providers from the loaded configuration.
// CLI and MCP modes log to stderr, keeping stdout for command output
// and the stdio transport respectively.
func initObservability(cfg *config.Config, mode observability.AppMode, debug bool) (observability.Providers, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Mode = mode
	obsCfg.Environment = cfg.Observability.Environment
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Observability.OTLPHeaders)
	obsCfg.OTLPInsecure = cfg.Observability.OTLPInsecure
	obsCfg.SampleRatio = cfg.Observability.SampleRatio
	obsCfg.TraceVerbose = cfg.Observability.TraceVerbose
	obsCfg.LogLevel = parseLogLevel(cfg.Logging.Level)
	obsCfg.LogJSON = cfg.Logging.Format == "json"

	if debug {
		obsCfg.LogLevel = slog.LevelDebug
		obsCfg.DebugTrace = true
	}

	return observability.Init(obsCfg)
}

// parseLogLevel maps a configuration level name onto a slog level.
// Unknown names fall back to info.
func parseLogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// cliLogger returns the quiet logger for one-shot store access: warnings
// and errors to stderr, nothing else.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// renderStructured writes value as indented JSON or YAML.
func renderStructured(w io.Writer, format string, value any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if err := enc.Encode(value); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}

		return nil
	case formatYAML:
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(value); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}

		return enc.Close()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// newTable returns a go-pretty writer with the house style.
func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

// statusColor picks the color for a lifecycle status word. Terminal
// success is green, terminal failure red, everything in-flight yellow.
func statusColor(status string) *color.Color {
	switch status {
	case "completed", "success", "sent", "ocr_success", "ok":
		return color.New(color.FgGreen)
	case "failed", "failure", "ocr_failure":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}
