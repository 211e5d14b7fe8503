// Package cli implements stsctl, an operator tool that works directly on
// the configured store: it migrates schemas, submits and inspects jobs,
// lists segments, runs searches and processes a stream in the foreground.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stsctl",
	Short: "Stream transcript search - operate on jobs, segments and searches",
	Long: `stsctl talks to the configured store directly, without the API server.

Example usage:
  stsctl migrate                                   # Create tables and keyspaces
  stsctl jobs submit https://example.com/a.mp3     # Create and dispatch a job
  stsctl segments list --user alice                # List a user's segments
  stsctl search --user alice -t "quarterly results" # Rank alice's segments
  stsctl process https://example.com/a.mp3         # Transcribe in the foreground`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// stdout carries command output, so logs go to stderr.
		slog.SetDefault(logger.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format))
		return nil
	},
}

// Execute runs the command line until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults plus STS_* environment overrides when empty)")
}

func openStore() (repo.Store, error) {
	store, err := bootstrap.OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	return store, nil
}

// timeRange parses the --after and --before flag values.
func timeRange(after, before string) (repo.TimeRange, error) {
	var r repo.TimeRange
	if after != "" {
		t, err := handler.ParseTime(after)
		if err != nil {
			return r, fmt.Errorf("--after: %w", err)
		}
		r.CreatedAfter = &t
	}
	if before != "" {
		t, err := handler.ParseTime(before)
		if err != nil {
			return r, fmt.Errorf("--before: %w", err)
		}
		r.CreatedBefore = &t
	}
	return r, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
