package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/murmur/internal/printer"
	"github.com/dyluth/murmur/internal/resolver"
	"github.com/dyluth/murmur/internal/watch"
	"github.com/dyluth/murmur/pkg/bus"
	"github.com/spf13/cobra"
)

var (
	watchRunID        string
	watchJob          string
	watchOutputFormat string
	watchUntilDone    bool
	watchRecent       int
	watchWaitState    string
	watchTimeout      time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow job runs in real time",
	Long: `Follow job runs published to the Redis event bus.

Every run started with redis.url configured publishes its state changes,
periodic progress snapshots and its final report. watch streams them as
they happen.

Output Formats:
  default - Human-readable lines with timestamps and emojis
  jsonl   - Line-delimited JSON events for programmatic processing

Examples:
  # Follow every run in the namespace
  murmur watch

  # Follow one run until it reports, by id prefix
  murmur watch --run=3f2a9c --until-done

  # Show the ten most recent runs
  murmur watch --recent=10

  # Block until a run is done (for scripts)
  murmur watch --run=3f2a9c1e-... --wait=done --timeout=1h`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRunID, "run", "", "Only show events for this run id (a unique prefix of 6+ characters works)")
	watchCmd.Flags().StringVar(&watchJob, "job", "", "Only show events for this job")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or jsonl)")
	watchCmd.Flags().BoolVar(&watchUntilDone, "until-done", false, "Exit after the first matching run reports")
	watchCmd.Flags().IntVar(&watchRecent, "recent", 0, "Print the N most recent runs and exit")
	watchCmd.Flags().StringVar(&watchWaitState, "wait", "", "Wait for --run to reach this state and exit")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 10*time.Minute, "Give up waiting after this long (with --wait)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	outputFormat, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}
	if watchWaitState != "" && watchRunID == "" {
		return printer.Error("missing run id", "--wait needs --run to know which run to wait for", nil)
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	if s.cfg.Redis.URL == "" {
		return printer.Error(
			"event bus not configured",
			"watch reads run events from Redis, but redis.url is empty.",
			[]string{
				"Set redis.url in murmur.yml",
				"Or export it:\n  export MURMUR_REDIS_URL=redis://localhost:6379",
			},
		)
	}

	client, err := bus.Dial(s.cfg.Redis.URL, s.cfg.Redis.Namespace)
	if err != nil {
		return fmt.Errorf("failed to create event bus client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return printer.Error(
			"event bus unreachable",
			fmt.Sprintf("Could not reach Redis at %s: %v", redactURL(s.cfg.Redis.URL), err),
			[]string{"Check that Redis is running and redis.url is correct"},
		)
	}

	runID := watchRunID
	if runID != "" && !resolver.IsFullID(runID) {
		runID, err = resolver.ResolveRunID(ctx, client, watchRunID)
		if err != nil {
			var amb *resolver.AmbiguousError
			if errors.As(err, &amb) {
				return printer.Error("ambiguous run id", resolver.FormatAmbiguousError(amb), nil)
			}
			return printer.Error("unknown run", err.Error(), []string{"List recent runs:\n  murmur watch --recent=10"})
		}
	}

	w := cmd.OutOrStdout()
	switch {
	case watchRecent > 0:
		runs, err := client.RecentRuns(ctx, watchRecent)
		if err != nil {
			return fmt.Errorf("failed to read recent runs: %w", err)
		}
		watch.FormatRuns(w, runs, time.Now())
		return nil

	case watchWaitState != "":
		status, err := watch.WaitForRun(ctx, client, runID, watchWaitState, watchTimeout)
		if err != nil {
			return err
		}
		watch.FormatRuns(w, []*bus.RunStatus{status}, time.Now())
		return nil
	}

	sub, err := client.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to run events: %w", err)
	}
	defer sub.Close()

	if outputFormat == watch.OutputFormatDefault {
		printer.Info("Watching run events in namespace %q (Ctrl+C to stop)", client.Namespace())
	}

	err = watch.Stream(ctx, sub, w, cmd.ErrOrStderr(), watch.Options{
		RunID:     runID,
		Job:       watchJob,
		UntilDone: watchUntilDone,
		Format:    outputFormat,
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
