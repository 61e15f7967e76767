package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/murmur/pkg/bus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	events chan bus.Event
	errs   chan error
}

func newFakeSource(events ...bus.Event) *fakeSource {
	s := &fakeSource{events: make(chan bus.Event, len(events)), errs: make(chan error, 1)}
	for _, ev := range events {
		s.events <- ev
	}
	return s
}

func (s *fakeSource) Events() <-chan bus.Event { return s.events }
func (s *fakeSource) Errors() <-chan error     { return s.errs }

func event(runID string, typ bus.EventType, state string, counts bus.Counts) bus.Event {
	ev := bus.Event{RunID: runID, Job: "images", Type: typ, State: state, At: at, Counts: counts}
	if typ == bus.EventReport {
		ev.Report = json.RawMessage(`{}`)
	}
	return ev
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    bus.Event
		expected string
	}{
		{
			name:     "state",
			event:    event("3f2a9c1e-7b44", bus.EventState, "Enumerating", bus.Counts{}),
			expected: "▶ images 3f2a9c1e: Enumerating",
		},
		{
			name:     "progress",
			event:    event("run-1", bus.EventProgress, "Processing", bus.Counts{Selected: 20, Attempted: 10, Succeeded: 9, Failed: 1}),
			expected: "… images run-1: 10/20 attempted, 9 succeeded, 1 failed",
		},
		{
			name:     "clean report",
			event:    event("run-1", bus.EventReport, "Done", bus.Counts{Candidates: 40, Succeeded: 18, Skipped: 2}),
			expected: "✅ images run-1: finished, 18 succeeded, 2 skipped, 0 failed of 40 candidates",
		},
		{
			name:     "report with failures",
			event:    event("run-1", bus.EventReport, "Done", bus.Counts{Candidates: 4, Succeeded: 3, Failed: 1}),
			expected: "❌ images run-1: finished, 3 succeeded, 0 skipped, 1 failed of 4 candidates",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatEvent(tt.event))
		})
	}

	dry := event("run-1", bus.EventState, "Selecting", bus.Counts{})
	dry.DryRun = true
	assert.Equal(t, "▶ images run-1 (dry run): Selecting", FormatEvent(dry))
}

func TestStream_UntilDone(t *testing.T) {
	src := newFakeSource(
		event("other", bus.EventState, "Enumerating", bus.Counts{}),
		event("run-1", bus.EventState, "Enumerating", bus.Counts{}),
		event("run-1", bus.EventReport, "Done", bus.Counts{Succeeded: 1}),
		event("run-1", bus.EventState, "Enumerating", bus.Counts{}),
	)
	src.errs <- errors.New("failed to unmarshal run event: bad json")

	var out, errOut bytes.Buffer
	err := Stream(context.Background(), src, &out, &errOut, Options{RunID: "run-1", UntilDone: true})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "▶ images run-1: Enumerating")
	assert.Contains(t, lines[1], "✅ images run-1: finished")
	assert.Len(t, src.events, 1, "events after the report are not consumed")
}

func TestStream_JSONL(t *testing.T) {
	src := newFakeSource(
		event("run-1", bus.EventState, "Enumerating", bus.Counts{}),
		event("run-1", bus.EventProgress, "Processing", bus.Counts{Attempted: 10}),
	)
	close(src.events)

	var out bytes.Buffer
	err := Stream(context.Background(), src, &out, &bytes.Buffer{}, Options{Format: OutputFormatJSONL})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var ev bus.Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, 10, ev.Counts.Attempted)
	assert.Equal(t, bus.EventProgress, ev.Type)
}

func TestStream_JobFilterAndCancel(t *testing.T) {
	other := event("run-2", bus.EventState, "Enumerating", bus.Counts{})
	other.Job = "repair"
	src := newFakeSource(other)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := Stream(ctx, src, &out, &bytes.Buffer{}, Options{Job: "images"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, out.String())
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatDefault, f)

	f, err = ParseOutputFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSONL, f)

	_, err = ParseOutputFormat("yaml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestFormatRuns(t *testing.T) {
	var buf bytes.Buffer
	FormatRuns(&buf, nil, at)
	assert.Equal(t, "No runs recorded\n", buf.String())

	buf.Reset()
	FormatRuns(&buf, []*bus.RunStatus{
		{RunID: "3f2a9c1e-7b44", Job: "images", State: "Done", UpdatedAt: at.Add(-2 * time.Minute), Counts: bus.Counts{Succeeded: 18, Skipped: 2}},
		{RunID: "run-0", Job: "repair", State: "Processing", UpdatedAt: at.Add(-3 * time.Hour)},
	}, at)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "RUN"))
	assert.Contains(t, lines[1], "3f2a9c1e")
	assert.Contains(t, lines[1], "2m ago")
	assert.Contains(t, lines[2], "3h ago")
}

func setupBus(t *testing.T) *bus.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := bus.NewClient(&redis.Options{Addr: mr.Addr()}, "watch-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestStream_FromBus(t *testing.T) {
	client := setupBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, event("run-1", bus.EventState, "Processing", bus.Counts{})))
	require.NoError(t, client.Publish(ctx, event("run-1", bus.EventReport, "Done", bus.Counts{Succeeded: 2})))

	var out bytes.Buffer
	require.NoError(t, Stream(ctx, sub, &out, &bytes.Buffer{}, Options{UntilDone: true}))
	assert.Contains(t, out.String(), "▶ images run-1: Processing")
	assert.Contains(t, out.String(), "finished, 2 succeeded")
}

func TestWaitForRun(t *testing.T) {
	client := setupBus(t)
	ctx := context.Background()

	prev := PollInterval
	PollInterval = 10 * time.Millisecond
	t.Cleanup(func() { PollInterval = prev })

	t.Run("returns once the run reaches the state", func(t *testing.T) {
		require.NoError(t, client.Publish(ctx, event("run-1", bus.EventState, "Processing", bus.Counts{})))

		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = client.Publish(ctx, event("run-1", bus.EventReport, "Done", bus.Counts{Succeeded: 4}))
		}()

		status, err := WaitForRun(ctx, client, "run-1", "Done", 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 4, status.Counts.Succeeded)
	})

	t.Run("times out for an unknown run", func(t *testing.T) {
		_, err := WaitForRun(ctx, client, "missing", "Done", 50*time.Millisecond)
		assert.ErrorContains(t, err, "timeout waiting for run missing")
	})
}
