package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/dispatch"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/submitter"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/redis"
)

var (
	jobsUser   string
	jobsAfter  string
	jobsBefore string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Submit and inspect ingestion jobs",
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <stream-url>...",
	Short: "Create one job per stream URL and dispatch it",
	Long: `Creates the jobs all-or-nothing and hands each to the configured dispatch
backend. With the inline backend the jobs run inside stsctl, which waits for
them before exiting.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runJobsSubmit,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's jobs ordered by creation time",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

func init() {
	jobsCmd.PersistentFlags().StringVarP(&jobsUser, "user", "u", "", "job owner (default anonymous)")
	jobsListCmd.Flags().StringVar(&jobsAfter, "after", "", "only jobs created at or after this time")
	jobsListCmd.Flags().StringVar(&jobsBefore, "before", "", "only jobs created at or before this time")

	jobsCmd.AddCommand(jobsSubmitCmd, jobsListCmd, jobsGetCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	req := &ingestion.JobsCreateRequest{}
	for _, u := range args {
		req.Jobs = append(req.Jobs, ingestion.JobCreate{StreamURL: u, User: jobsUser})
	}
	if err := validator.ValidateJobsCreate(req); err != nil {
		return fmt.Errorf("invalid jobs: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var redisClient *pkgredis.Client
	if bootstrap.NeedsRedis(cfg) {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		defer redisClient.Close()
	}

	var proc dispatch.Processor
	if cfg.Dispatch.Backend == config.DispatchInline {
		pipe, err := bootstrap.Pipeline(cfg, store, nil)
		if err != nil {
			return fmt.Errorf("failed to build pipeline: %w", err)
		}
		proc = pipe
	}
	dispatcher, err := bootstrap.Dispatcher(cfg, redisClient, proc, nil)
	if err != nil {
		return err
	}

	jobs, err := submitter.New(store.Jobs(), dispatcher, cfg.Dispatch, nil, nil).Submit(cmd.Context(), req.Jobs)
	if closeErr := dispatcher.Close(); closeErr != nil {
		slog.Warn("closing dispatcher", "error", closeErr)
	}
	if err != nil {
		return fmt.Errorf("failed to create jobs: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), ingestion.JobsResponse{Jobs: jobs})
}

func runJobsList(cmd *cobra.Command, args []string) error {
	r, err := timeRange(jobsAfter, jobsBefore)
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.Jobs().GetByUser(cmd.Context(), userOrAnonymous(jobsUser), r)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	if jobs == nil {
		jobs = []transcript.Job{}
	}
	return printJSON(cmd.OutOrStdout(), ingestion.JobsResponse{Jobs: jobs})
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	job, err := store.Jobs().GetByID(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get job %s: %w", args[0], err)
	}
	return printJSON(cmd.OutOrStdout(), job)
}

func userOrAnonymous(user string) string {
	if user == "" {
		return transcript.AnonymousUser
	}
	return user
}
