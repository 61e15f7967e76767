// Package pagination walks a paginated list operation lazily, one page at a
// time, pausing between pages.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/dyluth/murmur/pkg/forum"
	"go.uber.org/zap"
)

// FetchFunc fetches the page at cursor holding at most pageSize items.
type FetchFunc func(ctx context.Context, cursor, pageSize int) ([]forum.ContentUnit, error)

// ErrPageLimit is reported by Err when a walk stopped at Options.MaxPages.
var ErrPageLimit = errors.New("page limit reached")

// Options configures a Walk.
type Options struct {
	PageSize    int
	Pause       time.Duration
	StartCursor int
	// MaxPages caps the number of pages fetched. Zero means unbounded.
	MaxPages int
	Sleeper  forum.Sleeper
	Logger   *zap.Logger
}

// DefaultOptions returns page size 100 and a 500ms pause between pages.
func DefaultOptions() Options {
	return Options{PageSize: 100, Pause: 500 * time.Millisecond}
}

// Walk is a single lazy traversal. A Walk is not reusable; call New again to
// walk from the start.
type Walk struct {
	fetch FetchFunc
	opts  Options

	pages      int
	count      int
	incomplete bool
	err        error
}

// New creates a walk over fetch.
func New(fetch FetchFunc, opts Options) *Walk {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	if opts.Sleeper == nil {
		opts.Sleeper = forum.TimerSleeper
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Walk{fetch: fetch, opts: opts}
}

// TopicLister adapts a forum client's ListTopics to a FetchFunc.
func TopicLister(client *forum.Client) FetchFunc {
	return func(ctx context.Context, cursor, pageSize int) ([]forum.ContentUnit, error) {
		page, err := client.ListTopics(ctx, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		return page.Items, nil
	}
}

// Items yields every item in page order. A page that is empty or shorter
// than PageSize ends the walk. Any fetch error also ends it; Incomplete and
// Err then describe why.
func (w *Walk) Items(ctx context.Context) iter.Seq[forum.ContentUnit] {
	return func(yield func(forum.ContentUnit) bool) {
		cursor := w.opts.StartCursor
		for {
			if w.opts.MaxPages > 0 && w.pages >= w.opts.MaxPages {
				w.stop(ErrPageLimit)
				return
			}
			if w.pages > 0 && w.opts.Pause > 0 {
				if err := w.opts.Sleeper.Sleep(ctx, w.opts.Pause); err != nil {
					w.stop(err)
					return
				}
			}
			if err := ctx.Err(); err != nil {
				w.stop(err)
				return
			}

			items, err := w.fetch(ctx, cursor, w.opts.PageSize)
			if err != nil {
				w.stop(fmt.Errorf("failed to fetch page %d: %w", cursor, err))
				return
			}
			w.pages++
			w.opts.Logger.Debug("fetched page",
				zap.Int("cursor", cursor),
				zap.Int("items", len(items)),
				zap.Int("total", w.count+len(items)))

			for _, item := range items {
				w.count++
				if !yield(item) {
					return
				}
			}

			if len(items) == 0 || len(items) < w.opts.PageSize {
				return
			}
			cursor++
		}
	}
}

// Collect drains the walk into a slice and reports whether it was cut short.
func (w *Walk) Collect(ctx context.Context) ([]forum.ContentUnit, bool) {
	var out []forum.ContentUnit
	for item := range w.Items(ctx) {
		out = append(out, item)
	}
	return out, w.incomplete
}

// Incomplete reports whether the walk ended before the remote list was exhausted.
func (w *Walk) Incomplete() bool {
	return w.incomplete
}

// Err returns the error that ended the walk, if any.
func (w *Walk) Err() error {
	return w.err
}

// Pages returns the number of pages fetched so far.
func (w *Walk) Pages() int {
	return w.pages
}

// Count returns the number of items yielded so far.
func (w *Walk) Count() int {
	return w.count
}

func (w *Walk) stop(err error) {
	w.incomplete = true
	w.err = err
	w.opts.Logger.Warn("pagination stopped early",
		zap.Int("pages", w.pages),
		zap.Int("items", w.count),
		zap.Error(err))
}
