package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/validator"
)

var (
	processUser     string
	processQuiet    bool
	processWithVecs bool
)

var processCmd = &cobra.Command{
	Use:   "process <stream-url>",
	Short: "Fetch, transcribe, embed and store one stream in the foreground",
	Long: `Runs the ingestion pipeline without creating a job. Segment writes are shown
on a progress bar and the stored segments are printed when done.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processUser, "user", "u", "", "segment owner (default anonymous)")
	processCmd.Flags().BoolVarP(&processQuiet, "quiet", "q", false, "hide the progress bar")
	processCmd.Flags().BoolVar(&processWithVecs, "embeddings", false, "include segment embeddings in the output")

	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	if err := validator.ValidateStreamURL(args[0]); err != nil {
		return err
	}
	if msg := validator.CheckUser(processUser); msg != "" {
		return fmt.Errorf("--user: %s", msg)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	pipe, err := bootstrap.Pipeline(cfg, store, nil)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	if !processQuiet {
		pipe = pipe.WithProgress(progressReporter(cmd))
	}

	res, err := pipe.ProcessStream(cmd.Context(), args[0], processUser)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "transcript %s: %d segments\n", res.TranscriptID, len(res.Segments))
	return printJSON(cmd.OutOrStdout(), ingestion.SegmentsResponse{Segments: trimEmbeddings(res.Segments, !processWithVecs)})
}

// progressReporter draws a bar on stderr once the segment count is known.
// Writes finish out of order, so the bar only moves forward.
func progressReporter(cmd *cobra.Command) pipeline.ProgressFunc {
	var (
		mu        sync.Mutex
		bar       *progressbar.ProgressBar
		startTime time.Time
		highest   int
	)
	out := cmd.ErrOrStderr()

	return func(written, total int) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(out),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Storing segments[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(out)
				}),
			)
		}
		if written <= highest {
			return
		}
		highest = written
		_ = bar.Set(written)

		elapsed := time.Since(startTime)
		if rate := float64(written) / elapsed.Seconds(); rate > 0 && written < total {
			eta := time.Duration(float64(total-written)/rate) * time.Second
			bar.Describe(fmt.Sprintf("[cyan]Storing segments[reset] ETA: %s", formatDuration(eta)))
		}
	}
}
