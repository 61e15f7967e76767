// Package listing enumerates forum topics for the list command.
package listing

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/murmur/internal/filter"
	"github.com/dyluth/murmur/internal/pagination"
	"github.com/dyluth/murmur/pkg/forum"
	"go.uber.org/zap"
)

// OutputFormat specifies how to format the topic list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table format with truncated titles
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete topics as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Options configures ListTopics.
type Options struct {
	Pagination pagination.Options
	Filter     filter.Criteria
	Format     OutputFormat
	Logger     *zap.Logger
}

// Result summarizes a listing.
type Result struct {
	Listed     int
	Matched    int
	Pages      int
	Incomplete bool
	Err        error
}

// ListTopics walks every topic page, resolves category names, applies the
// filter and writes the matches to w. A walk that stops early still writes
// what it collected; the result reports it as incomplete.
func ListTopics(ctx context.Context, client *forum.Client, opts Options, w io.Writer) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Pagination.Logger == nil {
		opts.Pagination.Logger = opts.Logger
	}

	cats, err := client.ListCategories(ctx)
	if err != nil {
		opts.Logger.Warn("failed to list categories, using default category", zap.Error(err))
		cats = forum.Categories{}
	}

	walk := pagination.New(pagination.TopicLister(client), opts.Pagination)
	topics, incomplete := walk.Collect(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cats.Resolve(topics)
	matched := opts.Filter.Apply(topics)

	result := &Result{
		Listed:     len(topics),
		Matched:    len(matched),
		Pages:      walk.Pages(),
		Incomplete: incomplete,
		Err:        walk.Err(),
	}

	switch opts.Format {
	case "", OutputFormatDefault:
		FormatTable(w, matched)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, matched); err != nil {
			return result, fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return result, fmt.Errorf("unknown output format: %s", opts.Format)
	}
	return result, nil
}
