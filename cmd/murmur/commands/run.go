package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/murmur/internal/jobs"
	"github.com/dyluth/murmur/internal/orchestrator"
	"github.com/dyluth/murmur/internal/printer"
	"github.com/dyluth/murmur/internal/registry"
	"github.com/dyluth/murmur/internal/synth"
	"github.com/dyluth/murmur/internal/timespec"
	"github.com/dyluth/murmur/pkg/bus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runImageFraction float64
	runReplyFraction float64
	runPerCategory   int
	runMinReplies    int
	runMaxReplies    int
	runWindow        string
	runSince         string
	runUntil         string
	runCategory      string
	runTitlePrefix   string
	runJSON          bool
	runStrict        bool
)

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run a bulk content job against the forum",
	Long: `Run one bulk content job and print its report.

Jobs:
  images         Append a category image to a fraction of answer posts
  repair         Replace leftover {placeholder} tokens in posts
  boost          Add boost replies to a few topics per category
  replies        Add replies from distinct synthetic identities
  populate       Create seed topics per category, with replies
  shuffle-dates  Spread topic creation dates across a window
  views          Adjust view counts (not supported by the forum API)

Every job skips items it already handled, so a job can be re-run after a
partial failure. Item failures are counted in the report and never stop the
run; use --strict to exit non-zero when anything failed.

Examples:
  # Preview which posts would get images
  murmur run images --dry-run

  # Repair placeholders in topics from the last week
  murmur run repair --since=7d

  # Boost two topics in every Scripts category
  murmur run boost --per-category=2 --category="*Scripts*"

  # Reproduce an earlier selection
  murmur run replies --seed=42 --reply-fraction=0.25`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: jobs.Names(),
	RunE:      runJob,
}

func init() {
	runCmd.Flags().Float64Var(&runImageFraction, "image-fraction", 0, "Share of answer posts considered by images (default from config)")
	runCmd.Flags().Float64Var(&runReplyFraction, "reply-fraction", 0, "Share of topics considered by replies (default from config)")
	runCmd.Flags().IntVar(&runPerCategory, "per-category", 0, "Topics per category for boost (default from config)")
	runCmd.Flags().IntVar(&runMinReplies, "min-replies", 0, "Fewest replies added per topic")
	runCmd.Flags().IntVar(&runMaxReplies, "max-replies", 0, "Most replies added per topic")
	runCmd.Flags().StringVar(&runWindow, "window", "", "Creation date window for shuffle-dates (e.g. 30d, 720h)")

	// Topic filters
	runCmd.Flags().StringVar(&runSince, "since", "", "Only topics created after time (duration or RFC3339)")
	runCmd.Flags().StringVar(&runUntil, "until", "", "Only topics created before time (duration or RFC3339)")
	runCmd.Flags().StringVar(&runCategory, "category", "", "Only topics whose category matches (glob pattern)")
	runCmd.Flags().StringVar(&runTitlePrefix, "title-prefix", "", "Only topics whose title starts with prefix (empty matches all)")

	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the report as JSON")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "Exit non-zero when any item failed or the listing was incomplete")
	rootCmd.AddCommand(runCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	name := args[0]

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	settings, err := runSettings(cmd, s.cfg.Jobs)
	if err != nil {
		return err
	}
	criteria := s.cfg.FilterCriteria()
	if cmd.Flags().Changed("title-prefix") {
		criteria.TitlePrefix = runTitlePrefix
	}
	if runCategory != "" {
		criteria.CategoryGlob = runCategory
	}
	criteria.Since, criteria.Until, err = timespec.ParseRange(runSince, runUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{
			"Use a duration like '2h' or '7d', or an RFC3339 timestamp",
		})
	}

	client, err := s.forumClient()
	if err != nil {
		return err
	}

	banks, err := s.cfg.LoadBanks()
	if err != nil {
		return printer.Error("invalid template banks", err.Error(), []string{
			"Check banks.path in murmur.yml",
			"Regenerate the default banks:\n  murmur init --force",
		})
	}
	synthesizer, err := synth.New(banks)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}

	reg, err := registry.Load(s.cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("failed to load identity registry: %w", err)
	}
	pool := registry.NewPool(reg.Records(), s.cfg.Forum.DefaultIdentity, s.logger)
	if pool.Size() == 0 && needsIdentities(name) {
		printer.Warning("No identities in %s; replies will be posted as %s", s.cfg.Registry.Path, pool.Default())
	}

	pageOpts := s.cfg.PaginationOptions(s.logger)
	job, err := jobs.New(name, jobs.Deps{
		Client:      client,
		Synth:       synthesizer,
		Pool:        pool,
		Filter:      criteria,
		Pagination:  pageOpts,
		DetailPause: s.cfg.Pagination.DetailPause,
		Logger:      s.logger,
	}, settings)
	if err != nil {
		return printer.Error("invalid job settings", err.Error(), nil)
	}

	publisher, closePublisher := s.publisher(ctx)
	defer closePublisher()

	engine := orchestrator.NewEngine(orchestrator.Options{
		Cadence:   s.cfg.Cadence,
		DryRun:    dryRun,
		Publisher: publisher,
		Logger:    s.logger,
		Rand:      s.rng,
	})

	s.logger.Info("starting job",
		zap.String("job", name),
		zap.Uint64("seed", s.seed),
		zap.Bool("dry_run", dryRun))
	report, runErr := engine.Run(ctx, job)
	if report == nil {
		return fmt.Errorf("job %s failed: %w", name, runErr)
	}

	if runJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
	} else {
		printer.Report(cmd.OutOrStdout(), report)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return printer.Error("run cancelled", "The run was interrupted; the report above covers the items processed so far.", []string{
				"Re-run the same job; items already handled are skipped",
			})
		}
		return fmt.Errorf("job %s failed: %w", name, runErr)
	}
	if runStrict && !report.Clean() {
		return printer.Error("run not clean", fmt.Sprintf("%d of %d attempted items failed", report.Failed, report.Attempted), nil)
	}
	return nil
}

// runSettings layers flags that were set explicitly over the configured
// job settings.
func runSettings(cmd *cobra.Command, settings jobs.Settings) (jobs.Settings, error) {
	flags := cmd.Flags()
	if flags.Changed("image-fraction") {
		settings.ImageFraction = runImageFraction
	}
	if flags.Changed("reply-fraction") {
		settings.ReplyFraction = runReplyFraction
	}
	if flags.Changed("per-category") {
		settings.PerCategory = runPerCategory
	}
	if flags.Changed("min-replies") {
		settings.MinReplies = runMinReplies
	}
	if flags.Changed("max-replies") {
		settings.MaxReplies = runMaxReplies
	}
	if flags.Changed("window") {
		d, err := timespec.ParseDuration(runWindow)
		if err != nil {
			return settings, printer.Error("invalid window", err.Error(), []string{
				"Use a duration like '720h' or a day count like '30d'",
			})
		}
		settings.Window = d
	}
	if err := settings.Validate(); err != nil {
		return settings, printer.Error("invalid job settings", err.Error(), nil)
	}
	return settings, nil
}

func needsIdentities(job string) bool {
	switch job {
	case jobs.NameReplies, jobs.NameBoost, jobs.NamePopulate:
		return true
	}
	return false
}

// publisher connects to the event bus when redis.url is configured. An
// unreachable bus is reported and the run continues without events.
func (s *session) publisher(ctx context.Context) (orchestrator.Publisher, func()) {
	nop := func() {}
	if s.cfg.Redis.URL == "" {
		return nil, nop
	}

	client, err := bus.Dial(s.cfg.Redis.URL, s.cfg.Redis.Namespace)
	if err != nil {
		printer.Warning("Event bus disabled: %v", err)
		return nil, nop
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		_ = client.Close()
		printer.Warning("Event bus unreachable at %s: %v", redactURL(s.cfg.Redis.URL), err)
		return nil, nop
	}
	return client, func() { _ = client.Close() }
}

// redactURL hides the password in a redis URL.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return raw
	}
	user, _, _ := strings.Cut(creds, ":")
	return scheme + "://" + user + ":***@" + host
}
