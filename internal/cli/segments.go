package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
)

var (
	segmentsUser       string
	segmentsAfter      string
	segmentsBefore     string
	segmentsEmbeddings bool
)

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "Inspect stored transcript segments",
}

var segmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's segments ordered by creation time and segment id",
	Args:  cobra.NoArgs,
	RunE:  runSegmentsList,
}

var segmentsTranscriptCmd = &cobra.Command{
	Use:   "transcript <transcript-id>",
	Short: "List the segments of one transcript in order",
	Args:  cobra.ExactArgs(1),
	RunE:  runSegmentsTranscript,
}

func init() {
	segmentsCmd.PersistentFlags().BoolVar(&segmentsEmbeddings, "embeddings", false, "include the stored embeddings")
	segmentsListCmd.Flags().StringVarP(&segmentsUser, "user", "u", "", "segment owner (default anonymous)")
	segmentsListCmd.Flags().StringVar(&segmentsAfter, "after", "", "only segments created at or after this time")
	segmentsListCmd.Flags().StringVar(&segmentsBefore, "before", "", "only segments created at or before this time")

	segmentsCmd.AddCommand(segmentsListCmd, segmentsTranscriptCmd)
	rootCmd.AddCommand(segmentsCmd)
}

func runSegmentsList(cmd *cobra.Command, args []string) error {
	r, err := timeRange(segmentsAfter, segmentsBefore)
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	segs, err := store.Segments().GetByUser(cmd.Context(), userOrAnonymous(segmentsUser), r)
	if err != nil {
		return fmt.Errorf("failed to list segments: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), ingestion.SegmentsResponse{Segments: trimEmbeddings(segs, !segmentsEmbeddings)})
}

func runSegmentsTranscript(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	segs, err := store.Segments().GetByTranscript(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to list transcript %s: %w", args[0], err)
	}
	return printJSON(cmd.OutOrStdout(), ingestion.SegmentsResponse{Segments: trimEmbeddings(segs, !segmentsEmbeddings)})
}

func trimEmbeddings(segs []transcript.Segment, exclude bool) []transcript.Segment {
	out := make([]transcript.Segment, len(segs))
	for i, s := range segs {
		if exclude {
			s = s.WithoutEmbedding()
		}
		out[i] = s
	}
	return out
}
