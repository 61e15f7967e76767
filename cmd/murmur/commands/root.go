package commands

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/dyluth/murmur/internal/config"
	"github.com/dyluth/murmur/internal/logging"
	"github.com/dyluth/murmur/internal/printer"
	"github.com/dyluth/murmur/pkg/forum"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath string
	dryRun     bool
	seedFlag   uint64
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "murmur",
	Short: "Murmur - bulk content orchestration for Discourse forums",
	Long: `Murmur runs bulk content jobs against a Discourse forum: populating
seed topics, adding replies from synthetic identities, repairing placeholder
text, attaching images and spreading creation dates.

Every job enumerates its candidates, skips what was already done, paces its
writes and ends with a report of what succeeded, what was skipped and why
anything failed. Runs can be previewed with --dry-run.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command with ctx, which is cancelled on interrupt.
func Execute(ctx context.Context) error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "", "Config file (default ./murmur.yml)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing to the forum")
	rootCmd.PersistentFlags().Uint64Var(&seedFlag, "seed", 0, "Random seed for a reproducible run (0 draws one)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// session is what every forum-facing command needs: configuration, a
// logger and the run's random source.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	rng    *rand.Rand
	seed   uint64
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{"Create a starter configuration:\n  murmur init"},
		)
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seedFlag
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Development: cfg.Log.Development,
		Output:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	rng, seed := cfg.Rand()
	logger.Debug("session ready", zap.Uint64("seed", seed), zap.Bool("dry_run", dryRun))
	return &session{cfg: cfg, logger: logger, rng: rng, seed: seed}, nil
}

// forumClient builds the API client. Its retry jitter draws from a source
// derived from the session seed so job selection stays reproducible.
func (s *session) forumClient() (*forum.Client, error) {
	if err := s.cfg.RequireForum(); err != nil {
		return nil, printer.Error(
			"forum not configured",
			err.Error(),
			[]string{
				"Set forum.base_url in murmur.yml",
				"Export the API key:\n  export MURMUR_FORUM_API_KEY=...",
			},
		)
	}
	jitter := rand.New(rand.NewPCG(s.rng.Uint64(), s.rng.Uint64()))
	client, err := forum.NewClient(s.cfg.ClientOptions(s.logger, jitter))
	if err != nil {
		return nil, fmt.Errorf("failed to create forum client: %w", err)
	}
	return client, nil
}

func (s *session) close() {
	_ = s.logger.Sync()
}
