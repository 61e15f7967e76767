package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/murmur/internal/listing"
	"github.com/dyluth/murmur/internal/printer"
	"github.com/dyluth/murmur/internal/timespec"
	"github.com/spf13/cobra"
)

var (
	listOutputFormat string
	listSince        string
	listUntil        string
	listCategory     string
	listTitlePrefix  string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List forum topics that jobs would consider",
	Long: `List forum topics after applying the same filters jobs use.

Output Formats:
  default - Human-readable table with ID, category, date, flags and title
  jsonl   - Line-delimited JSON, one topic per line

Flags column:
  C - topic is closed
  A - topic is archived

Examples:
  # Topics matching the configured title prefix
  murmur list

  # Every topic, regardless of prefix
  murmur list --title-prefix=""

  # Topics in Scripts categories from the last two days, for jq
  murmur list --category="*scripts*" --since=2d --output=jsonl | jq .id`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listOutputFormat, "output", "o", "default", "Output format: default or jsonl")

	// Time-based filters
	listCmd.Flags().StringVar(&listSince, "since", "", "Show topics created after time (duration or RFC3339)")
	listCmd.Flags().StringVar(&listUntil, "until", "", "Show topics created before time (duration or RFC3339)")

	// Content-based filters
	listCmd.Flags().StringVar(&listCategory, "category", "", "Filter by category name (glob pattern)")
	listCmd.Flags().StringVar(&listTitlePrefix, "title-prefix", "", "Filter by title prefix (default from config, empty matches all)")

	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var outputFormat listing.OutputFormat
	switch listOutputFormat {
	case "default":
		outputFormat = listing.OutputFormatDefault
	case "jsonl":
		outputFormat = listing.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", listOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	since, until, err := timespec.ParseRange(listSince, listUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{
			"Use a duration like '2h' or '7d', or an RFC3339 timestamp",
		})
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	criteria := s.cfg.FilterCriteria()
	if cmd.Flags().Changed("title-prefix") {
		criteria.TitlePrefix = listTitlePrefix
	}
	if listCategory != "" {
		criteria.CategoryGlob = listCategory
	}
	criteria.Since = since
	criteria.Until = until

	client, err := s.forumClient()
	if err != nil {
		return err
	}

	res, err := listing.ListTopics(ctx, client, listing.Options{
		Pagination: s.cfg.PaginationOptions(s.logger),
		Filter:     criteria,
		Format:     outputFormat,
		Logger:     s.logger,
	}, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}
	if res.Incomplete {
		printer.Warning("Listing stopped after %d pages and may be incomplete: %v", res.Pages, res.Err)
	}
	return nil
}
