package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dyluth/murmur/internal/guard"
	"github.com/dyluth/murmur/internal/sampling"
	"github.com/dyluth/murmur/pkg/bus"
	"github.com/dyluth/murmur/pkg/forum"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cadence paces mutations against the remote rate-limit budget.
type Cadence struct {
	// ItemDelay is slept after every attempted mutation except the last.
	ItemDelay time.Duration `mapstructure:"item_delay" yaml:"item_delay"`

	// Every attempted mutations a progress snapshot is emitted and the
	// engine pauses for Pause.
	Every int           `mapstructure:"every" yaml:"every"`
	Pause time.Duration `mapstructure:"pause" yaml:"pause"`
}

// DefaultCadence waits 3s between items and pauses 5s every 10 attempts.
func DefaultCadence() Cadence {
	return Cadence{ItemDelay: 3 * time.Second, Every: 10, Pause: 5 * time.Second}
}

// Validate checks that delays are non-negative.
func (c Cadence) Validate() error {
	if c.ItemDelay < 0 || c.Pause < 0 {
		return fmt.Errorf("cadence delays must not be negative")
	}
	if c.Every < 0 {
		return fmt.Errorf("cadence every must not be negative, got %d", c.Every)
	}
	return nil
}

// Publisher receives run events. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev bus.Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, bus.Event) error { return nil }

// Options configures an Engine.
type Options struct {
	Cadence   Cadence
	DryRun    bool
	Sleeper   forum.Sleeper
	Publisher Publisher
	Logger    *zap.Logger
	Rand      *rand.Rand
	Now       func() time.Time
}

// Engine drives a Job through enumeration, selection and processing.
// It is strictly sequential: one network operation at a time.
type Engine struct {
	cadence   Cadence
	dryRun    bool
	sleeper   forum.Sleeper
	publisher Publisher
	logger    *zap.Logger
	rng       *rand.Rand
	now       func() time.Time
}

// NewEngine creates an engine, filling unset options with defaults.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		cadence:   opts.Cadence,
		dryRun:    opts.DryRun,
		sleeper:   opts.Sleeper,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		rng:       opts.Rand,
		now:       opts.Now,
	}
	if e.sleeper == nil {
		e.sleeper = forum.TimerSleeper
	}
	if e.publisher == nil {
		e.publisher = nopPublisher{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// run is the state of one Engine.Run call.
type run struct {
	*Engine
	job    Job
	report *Report
	log    *zap.Logger
}

// Run executes job and returns its report. Item failures are counted, never
// returned. The only errors are an invalid job configuration and context
// cancellation, in which case the partial report is returned as well.
func (e *Engine) Run(ctx context.Context, job Job) (*Report, error) {
	policy := job.Policy()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid selection policy for job %s: %w", job.Name(), err)
	}
	if err := e.cadence.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	r := &run{
		Engine: e,
		job:    job,
		report: newReport(runID, job.Name(), e.now().UTC(), e.dryRun),
		log: e.logger.With(
			zap.String("component", "orchestrator"),
			zap.String("run_id", runID),
			zap.String("job", job.Name())),
	}
	r.log.Info("run started", zap.Bool("dry_run", e.dryRun), zap.String("policy", policy.String()))

	// Enumerating
	r.transition(ctx, StateEnumerating)
	enum, err := job.Enumerate(ctx)
	if ctx.Err() != nil {
		return r.cancel(ctx)
	}
	if err != nil {
		r.report.PossiblyIncomplete = true
		r.report.EnumerationError = err.Error()
		r.log.Warn("enumeration stopped early", zap.Error(err), zap.Int("items", len(enum.Items)))
	}
	if enum.Incomplete {
		r.report.PossiblyIncomplete = true
	}

	gctx := guard.NewContext()
	for _, key := range enum.Seen {
		gctx.MarkSeen(key)
	}
	for group, n := range enum.Counts {
		gctx.Counts[group] = n
	}

	// Selecting
	if ctx.Err() != nil {
		return r.cancel(ctx)
	}
	r.transition(ctx, StateSelecting)
	candidates := r.validItems(enum.Items)

	selection, err := sampling.Select(candidates, policy, e.rng)
	if err != nil {
		return nil, fmt.Errorf("failed to select candidates: %w", err)
	}
	// Select drops duplicate ids, so count what it partitioned.
	r.report.Candidates = len(selection.Chosen) + len(selection.Rejected)
	r.report.Selected = len(selection.Chosen)
	r.log.Info("selection complete",
		zap.Int("candidates", r.report.Candidates),
		zap.Int("selected", r.report.Selected))

	// Processing
	if ctx.Err() != nil {
		return r.cancel(ctx)
	}
	r.transition(ctx, StateProcessing)
	g := job.Guard()
	for i, item := range selection.Chosen {
		if ctx.Err() != nil {
			return r.cancel(ctx)
		}

		attempted, err := r.process(ctx, g, gctx, item)
		if err != nil {
			return r.cancel(ctx)
		}
		if !attempted || i == len(selection.Chosen)-1 {
			continue
		}

		if err := e.sleeper.Sleep(ctx, e.cadence.ItemDelay); err != nil {
			return r.cancel(ctx)
		}
		if e.cadence.Every > 0 && r.report.Attempted%e.cadence.Every == 0 {
			r.progress(ctx)
			if err := e.sleeper.Sleep(ctx, e.cadence.Pause); err != nil {
				return r.cancel(ctx)
			}
		}
	}

	r.finish(ctx)
	return r.report, nil
}

// process runs the guard and, if it passes, the job's mutation for one item.
// It reports whether a mutation was attempted. A non-nil error means the run
// was cancelled.
func (r *run) process(ctx context.Context, g *guard.Guard, gctx *guard.Context, item forum.ContentUnit) (bool, error) {
	decision := g.Evaluate(item, gctx)
	if !decision.Process {
		r.report.skip(decision.Reason)
		r.log.Debug("item skipped", zap.String("item", item.ID), zap.String("reason", decision.Reason))
		return false, nil
	}

	if r.dryRun {
		r.report.skip(ReasonDryRun)
		r.markDone(gctx, item)
		r.log.Info("dry run: would apply", zap.String("item", item.ID), zap.String("title", item.Title))
		return false, nil
	}

	r.report.Attempted++
	err := r.job.Apply(ctx, item, r.rng)
	switch {
	case err == nil:
		r.report.Succeeded++
		r.markDone(gctx, item)
		r.log.Info("item applied", zap.String("item", item.ID))
	case errors.Is(err, ErrNoChange):
		r.report.Attempted--
		r.report.skip(ReasonUnchanged)
		r.markDone(gctx, item)
		return false, nil
	case forum.KindOf(err) == forum.KindCanceled && ctx.Err() != nil:
		r.report.Attempted--
		return false, ctx.Err()
	default:
		kind := forum.KindOf(err)
		r.report.fail(kind)
		if r.report.Attempted == 1 && kind == forum.KindPermissionDenied {
			r.report.LikelyMisconfigured = true
			r.log.Warn("first mutation was refused, the credential is likely misconfigured", zap.Error(err))
		}
		r.log.Warn("item failed",
			zap.String("item", item.ID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	return true, nil
}

func (r *run) markDone(gctx *guard.Context, item forum.ContentUnit) {
	if key := r.job.Key(item); key != "" {
		gctx.MarkSeen(key)
	}
	if group := r.job.GroupKey(item); group != "" {
		gctx.Increment(group)
	}
}

// validItems drops items that fail validation, counting them as skips.
func (r *run) validItems(items []forum.ContentUnit) []forum.ContentUnit {
	out := make([]forum.ContentUnit, 0, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			r.report.skip(ReasonInvalid)
			r.log.Warn("dropping invalid item", zap.Error(err))
			continue
		}
		out = append(out, item)
	}
	return out
}

func (r *run) transition(ctx context.Context, state State) {
	r.report.State = state
	r.log.Debug("state changed", zap.String("state", string(state)))
	r.publish(ctx, bus.EventState, nil)
}

func (r *run) progress(ctx context.Context) {
	r.log.Info("progress",
		zap.Int("attempted", r.report.Attempted),
		zap.Int("selected", r.report.Selected),
		zap.Int("succeeded", r.report.Succeeded),
		zap.Int("skipped", r.report.Skipped),
		zap.Int("failed", r.report.Failed))
	r.publish(ctx, bus.EventProgress, nil)
}

// finish moves the run through Reporting to Done and publishes the report.
func (r *run) finish(ctx context.Context) {
	r.transition(ctx, StateReporting)
	if ir, ok := r.job.(IdentityReporter); ok {
		r.report.IdentityDegraded = ir.IdentityDegraded()
	}
	r.report.FinishedAt = r.now().UTC()
	r.report.State = StateDone

	r.log.Info("run finished",
		zap.Int("candidates", r.report.Candidates),
		zap.Int("selected", r.report.Selected),
		zap.Int("succeeded", r.report.Succeeded),
		zap.Int("skipped", r.report.Skipped),
		zap.Int("failed", r.report.Failed),
		zap.Bool("possibly_incomplete", r.report.PossiblyIncomplete),
		zap.Bool("cancelled", r.report.Cancelled),
		zap.Duration("duration", r.report.Duration()))

	payload, err := json.Marshal(r.report)
	if err != nil {
		r.log.Error("failed to marshal report", zap.Error(err))
		return
	}
	r.publish(ctx, bus.EventReport, payload)
}

// cancel finalizes a cancelled run. Events are still published after
// cancellation so followers see how the run ended.
func (r *run) cancel(ctx context.Context) (*Report, error) {
	r.report.Cancelled = true
	r.log.Warn("run cancelled", zap.String("state", string(r.report.State)))
	r.finish(context.WithoutCancel(ctx))
	return r.report, ctx.Err()
}

func (r *run) publish(ctx context.Context, typ bus.EventType, report json.RawMessage) {
	ev := bus.Event{
		RunID:  r.report.RunID,
		Job:    r.report.Job,
		Type:   typ,
		State:  string(r.report.State),
		At:     r.now().UTC(),
		DryRun: r.report.DryRun,
		Counts: r.report.Counts(),
		Report: report,
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pctx, ev); err != nil {
		r.log.Warn("failed to publish run event", zap.String("type", string(typ)), zap.Error(err))
	}
}
