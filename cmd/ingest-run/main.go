// ingest-run executes a single collector run from the command line and
// prints the result envelope as JSON. It shares configuration and wiring
// with the mail-ingest service but needs no HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/core"
	"github.com/mikey/mail-ingest/internal/di"
	"github.com/mikey/mail-ingest/internal/logging"
	"github.com/mikey/mail-ingest/internal/ports"
)

var (
	mode        string
	limit       int
	batchSize   int
	order       string
	lookback    int
	since       string
	until       string
	reset       bool
	concurrency int
	dryRun      bool
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "ingest-run [collector]",
	Short: "Run one mail ingestion collector and print the result envelope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, warnings, err := buildRequest()
		if err != nil {
			return err
		}

		container, err := di.BuildContainer()
		if err != nil {
			return fmt.Errorf("failed to build dependency container: %w", err)
		}
		// The CLI swaps the configured logger for a console one.
		if err := container.Decorate(func(*zap.Logger) (*zap.Logger, error) {
			return logging.InitConsoleLogger(verbose, false)
		}); err != nil {
			return err
		}

		return container.Invoke(func(service *core.Service, logger *zap.Logger, states ports.SyncStateRepository) error {
			defer logger.Sync()
			defer states.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := service.Run(ctx, args[0], req, warnings)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if res.Status == core.StatusError {
				os.Exit(1)
			}
			return nil
		})
	},
}

// buildRequest funnels the flags through the same strict parser the HTTP
// endpoint uses, so CLI and API runs are validated identically.
func buildRequest() (*core.RunRequest, []string, error) {
	wire := map[string]any{}
	if mode != "" {
		wire["mode"] = mode
	}
	if limit > 0 {
		wire["limit"] = limit
	}
	if batchSize > 0 {
		wire["batch_size"] = batchSize
	}
	if order != "" {
		wire["order"] = order
	}
	if lookback > 0 {
		wire["time_window"] = map[string]any{"lookback_days": lookback}
	}
	if since != "" || until != "" {
		wire["date_range"] = map[string]any{"since": since, "until": until}
	}
	if reset {
		wire["reset"] = true
	}
	if concurrency > 0 {
		wire["concurrency"] = concurrency
	}
	if dryRun {
		wire["dry_run"] = true
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, nil, err
	}
	return core.ParseRunRequest(raw)
}

func init() {
	rootCmd.Flags().StringVar(&mode, "mode", "", "run mode (run|dry_run|tail|backfill)")
	rootCmd.Flags().IntVar(&limit, "limit", 0, "maximum messages to process")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", 0, "submission batch size")
	rootCmd.Flags().StringVar(&order, "order", "", "processing order (asc|desc)")
	rootCmd.Flags().IntVar(&lookback, "lookback-days", 0, "restrict to the last N days")
	rootCmd.Flags().StringVar(&since, "since", "", "start of explicit date range (ISO-8601 UTC)")
	rootCmd.Flags().StringVar(&until, "until", "", "end of explicit date range (ISO-8601 UTC)")
	rootCmd.Flags().BoolVar(&reset, "reset", false, "clear the stored cursor before running")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker count (clamped to 1-12)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "count matches without submitting")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
