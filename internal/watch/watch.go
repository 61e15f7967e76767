// Package watch follows run events published on the bus and renders them
// for a terminal or as JSON lines.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/murmur/pkg/bus"
)

// OutputFormat selects how events are rendered.
type OutputFormat string

const (
	// OutputFormatDefault renders one human-readable line per event.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL renders every event as a JSON object on its own line.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputFormatDefault:
		return OutputFormatDefault, nil
	case OutputFormatJSONL:
		return OutputFormatJSONL, nil
	}
	return "", fmt.Errorf("unknown output format: %s (use 'default' or 'jsonl')", s)
}

// EventSource yields run events. *bus.Subscription satisfies it.
type EventSource interface {
	Events() <-chan bus.Event
	Errors() <-chan error
}

// Options filter and terminate a stream.
type Options struct {
	// RunID and Job restrict output to matching events when set.
	RunID string
	Job   string

	// UntilDone returns after the first matching report event.
	UntilDone bool

	Format OutputFormat
}

func (o Options) matches(ev bus.Event) bool {
	if o.RunID != "" && ev.RunID != o.RunID {
		return false
	}
	if o.Job != "" && ev.Job != o.Job {
		return false
	}
	return true
}

// Stream renders events from src to w until ctx is done, the source closes,
// or, with UntilDone, a matching run reports. Undecodable messages are
// written as warnings to errOut and do not end the stream.
func Stream(ctx context.Context, src EventSource, w, errOut io.Writer, opts Options) error {
	format := formatterFor(opts.Format, w)
	errs := src.Errors()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(errOut, "⚠️  %v\n", err)

		case ev, ok := <-src.Events():
			if !ok {
				return nil
			}
			if !opts.matches(ev) {
				continue
			}
			if err := format(ev); err != nil {
				return err
			}
			if opts.UntilDone && ev.Type == bus.EventReport {
				return nil
			}
		}
	}
}

func formatterFor(format OutputFormat, w io.Writer) func(bus.Event) error {
	if format == OutputFormatJSONL {
		enc := json.NewEncoder(w)
		return func(ev bus.Event) error {
			if err := enc.Encode(ev); err != nil {
				return fmt.Errorf("failed to write JSONL output: %w", err)
			}
			return nil
		}
	}
	return func(ev bus.Event) error {
		_, err := fmt.Fprintf(w, "[%s] %s\n", ev.At.Local().Format("15:04:05"), FormatEvent(ev))
		return err
	}
}

// FormatEvent renders one event as a single line without a timestamp.
func FormatEvent(ev bus.Event) string {
	run := fmt.Sprintf("%s %s", ev.Job, shortID(ev.RunID))
	if ev.DryRun {
		run += " (dry run)"
	}
	c := ev.Counts

	switch ev.Type {
	case bus.EventState:
		return fmt.Sprintf("▶ %s: %s", run, ev.State)
	case bus.EventProgress:
		return fmt.Sprintf("… %s: %d/%d attempted, %d succeeded, %d failed",
			run, c.Attempted, c.Selected, c.Succeeded, c.Failed)
	case bus.EventReport:
		icon := "✅"
		if c.Failed > 0 {
			icon = "❌"
		}
		return fmt.Sprintf("%s %s: finished, %d succeeded, %d skipped, %d failed of %d candidates",
			icon, run, c.Succeeded, c.Skipped, c.Failed, c.Candidates)
	}
	return fmt.Sprintf("? %s: %s", run, ev.Type)
}

// FormatRuns writes a table of run statuses, newest first.
func FormatRuns(w io.Writer, runs []*bus.RunStatus, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintf(w, "No runs recorded\n")
		return
	}

	fmt.Fprintf(w, "%-10s %-14s %-12s %-8s %-6s %-6s %-6s\n",
		"RUN", "JOB", "STATE", "AGE", "OK", "SKIP", "FAIL")
	for _, r := range runs {
		fmt.Fprintf(w, "%-10s %-14s %-12s %-8s %-6d %-6d %-6d\n",
			shortID(r.RunID), r.Job, r.State, formatAge(r.UpdatedAt, now),
			r.Counts.Succeeded, r.Counts.Skipped, r.Counts.Failed)
	}
}

// formatAge shows relative time like "2m ago".
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
