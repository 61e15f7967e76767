// Package jobs implements the bulk operations murmur runs against a forum.
// Each job is an orchestrator.Job: it enumerates candidates, names its
// selection policy and guard, and applies one mutation per item.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dyluth/murmur/internal/filter"
	"github.com/dyluth/murmur/internal/guard"
	"github.com/dyluth/murmur/internal/orchestrator"
	"github.com/dyluth/murmur/internal/pagination"
	"github.com/dyluth/murmur/internal/registry"
	"github.com/dyluth/murmur/internal/synth"
	"github.com/dyluth/murmur/pkg/forum"
	"go.uber.org/zap"
)

// Job names accepted by New.
const (
	NameImages       = "images"
	NameRepair       = "repair"
	NameBoost        = "boost"
	NameReplies      = "replies"
	NamePopulate     = "populate"
	NameShuffleDates = "shuffle-dates"
	NameViews        = "views"
)

// Names returns every job name, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deps are the collaborators shared by every job.
type Deps struct {
	Client *forum.Client
	Synth  *synth.Synthesizer
	Pool   *registry.Pool

	// Filter narrows the enumerated topics.
	Filter filter.Criteria

	Pagination pagination.Options

	// DetailPause is slept between topic detail fetches.
	DetailPause time.Duration

	Sleeper forum.Sleeper
	Logger  *zap.Logger
	Now     func() time.Time
}

// DefaultDetailPause is the pause between topic detail fetches.
const DefaultDetailPause = 300 * time.Millisecond

func (d *Deps) validate() error {
	if d.Client == nil {
		return errors.New("forum client is required")
	}
	if d.Synth == nil {
		return errors.New("synthesizer is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Sleeper == nil {
		d.Sleeper = forum.TimerSleeper
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Pool == nil {
		d.Pool = registry.NewPool(nil, d.Client.Identity(), d.Logger)
	}
	if d.Pagination.PageSize == 0 {
		d.Pagination = pagination.DefaultOptions()
	}
	if d.Pagination.Sleeper == nil {
		d.Pagination.Sleeper = d.Sleeper
	}
	if d.Pagination.Logger == nil {
		d.Pagination.Logger = d.Logger
	}
	return nil
}

// Settings tune individual jobs. Zero values take the defaults.
type Settings struct {
	// ImageFraction is the share of answer posts the images job considers.
	ImageFraction float64 `mapstructure:"image_fraction" yaml:"image_fraction"`

	// ReplyFraction is the share of topics the replies job considers.
	// 1 selects every topic.
	ReplyFraction float64 `mapstructure:"reply_fraction" yaml:"reply_fraction"`

	// PerCategory caps how many topics per category the boost job picks.
	PerCategory int `mapstructure:"per_category" yaml:"per_category"`

	// MinReplies and MaxReplies bound the replies added per topic.
	MinReplies int `mapstructure:"min_replies" yaml:"min_replies"`
	MaxReplies int `mapstructure:"max_replies" yaml:"max_replies"`

	// Window is how far back the shuffle-dates job spreads creation dates.
	Window time.Duration `mapstructure:"window" yaml:"window"`

	// EditReason is recorded on repaired posts.
	EditReason string `mapstructure:"edit_reason" yaml:"edit_reason"`

	// ReplyPause is slept between replies posted to the same topic.
	ReplyPause time.Duration `mapstructure:"reply_pause" yaml:"reply_pause"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		ImageFraction: 0.5,
		ReplyFraction: 1,
		PerCategory:   4,
		MinReplies:    1,
		MaxReplies:    2,
		Window:        30 * 24 * time.Hour,
		EditReason:    "Fixing placeholder text",
		ReplyPause:    2 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.ImageFraction == 0 {
		s.ImageFraction = d.ImageFraction
	}
	if s.ReplyFraction == 0 {
		s.ReplyFraction = d.ReplyFraction
	}
	if s.PerCategory == 0 {
		s.PerCategory = d.PerCategory
	}
	if s.MinReplies == 0 {
		s.MinReplies = d.MinReplies
	}
	if s.MaxReplies == 0 {
		s.MaxReplies = d.MaxReplies
	}
	if s.Window == 0 {
		s.Window = d.Window
	}
	if s.EditReason == "" {
		s.EditReason = d.EditReason
	}
	return s
}

// Validate checks the settings after defaults are applied.
func (s Settings) Validate() error {
	s = s.withDefaults()
	if s.ImageFraction < 0 || s.ImageFraction > 1 {
		return fmt.Errorf("image fraction must be within [0,1], got %v", s.ImageFraction)
	}
	if s.ReplyFraction < 0 || s.ReplyFraction > 1 {
		return fmt.Errorf("reply fraction must be within [0,1], got %v", s.ReplyFraction)
	}
	if s.PerCategory < 0 {
		return fmt.Errorf("per-category quota must not be negative, got %d", s.PerCategory)
	}
	if s.MinReplies < 1 || s.MaxReplies < s.MinReplies {
		return fmt.Errorf("invalid reply range %d-%d", s.MinReplies, s.MaxReplies)
	}
	if s.Window < 48*time.Hour {
		return fmt.Errorf("window must be at least 2 days, got %s", s.Window)
	}
	if s.ReplyPause < 0 {
		return errors.New("reply pause must not be negative")
	}
	return nil
}

type builder func(*base, Settings) orchestrator.Job

var builders = map[string]builder{
	NameImages:       newImages,
	NameRepair:       newRepair,
	NameBoost:        newBoost,
	NameReplies:      newReplies,
	NamePopulate:     newPopulate,
	NameShuffleDates: newShuffleDates,
	NameViews:        newViews,
}

// New builds the named job.
func New(name string, deps Deps, settings Settings) (orchestrator.Job, error) {
	build, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown job %q (available: %v)", name, Names())
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings for job %s: %w", name, err)
	}
	b := &base{name: name, deps: deps}
	b.log = deps.Logger.With(zap.String("job", name))
	return build(b, settings.withDefaults()), nil
}

// base carries what every job shares: its dependencies, the category cache
// and the enumeration helpers.
type base struct {
	name string
	deps Deps
	log  *zap.Logger

	cats forum.Categories
}

func (b *base) Name() string { return b.name }

// Key records items in the ledger by id.
func (b *base) Key(item forum.ContentUnit) string { return guard.ByID(item) }

// GroupKey is empty: most jobs keep no per-group counters.
func (b *base) GroupKey(forum.ContentUnit) string { return "" }

// IdentityDegraded reports whether impersonation was abandoned.
func (b *base) IdentityDegraded() bool { return b.deps.Pool.Degraded() }

// categories fetches the category names once per job. A failure is logged
// and every topic falls back to the default category.
func (b *base) categories(ctx context.Context) forum.Categories {
	if b.cats != nil {
		return b.cats
	}
	cats, err := b.deps.Client.ListCategories(ctx)
	if err != nil {
		b.log.Warn("failed to list categories, using default category", zap.Error(err))
		cats = forum.Categories{}
	}
	b.cats = cats
	return cats
}

// topics walks the topic listing, resolves category names and applies the
// filter. The returned flag is set when the walk stopped early.
func (b *base) topics(ctx context.Context) ([]forum.ContentUnit, bool, error) {
	cats := b.categories(ctx)

	walk := pagination.New(pagination.TopicLister(b.deps.Client), b.deps.Pagination)
	items, incomplete := walk.Collect(ctx)
	if err := ctx.Err(); err != nil {
		return nil, true, err
	}
	cats.Resolve(items)

	matched := b.deps.Filter.Apply(items)
	b.log.Info("topics enumerated",
		zap.Int("listed", len(items)),
		zap.Int("matched", len(matched)),
		zap.Int("pages", walk.Pages()),
		zap.Bool("incomplete", incomplete))

	if incomplete {
		return matched, true, walk.Err()
	}
	return matched, false, nil
}

// posts fetches the posts of each topic, pausing between fetches. When
// answersOnly is set the opening post of every topic is dropped. A topic
// that cannot be fetched marks the result incomplete.
func (b *base) posts(ctx context.Context, topics []forum.ContentUnit, answersOnly bool) ([]forum.ContentUnit, bool, error) {
	cats := b.categories(ctx)

	var out []forum.ContentUnit
	incomplete := false
	for i, topic := range topics {
		if i > 0 {
			if err := b.deps.Sleeper.Sleep(ctx, b.deps.DetailPause); err != nil {
				return out, true, err
			}
		}

		posts, err := b.deps.Client.TopicPosts(ctx, topic.ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, true, ctxErr
			}
			incomplete = true
			b.log.Warn("failed to fetch topic posts",
				zap.String("topic", topic.ID),
				zap.String("kind", string(forum.KindOf(err))),
				zap.Error(err))
			continue
		}

		cats.Resolve(posts)
		for _, p := range posts {
			if answersOnly && p.PostNumber <= 1 {
				continue
			}
			p.CreatedAt = topic.CreatedAt
			p.Flags = forum.Flags{
				HasImage:                 guard.ContainsImage(p.Text),
				HasUnresolvedPlaceholder: b.deps.Synth.NeedsRepair(p.Text),
			}
			out = append(out, p)
		}
	}
	return out, incomplete, nil
}

// reply posts text to topicID attributed to identity through the pool.
func (b *base) reply(ctx context.Context, topicID, identity, text string) (string, error) {
	return b.deps.Pool.Attribute(ctx, identity, func(ctx context.Context, actingAs string) error {
		_, err := b.deps.Client.CreatePost(ctx, forum.NewPost{TopicID: topicID, Raw: text}, actingAs)
		return err
	})
}

// pause sleeps d between replies to one topic.
func (b *base) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return b.deps.Sleeper.Sleep(ctx, d)
}

// enumeration wraps a topic or post listing into the engine's form.
func enumeration(items []forum.ContentUnit, incomplete bool) orchestrator.Enumeration {
	return orchestrator.Enumeration{Items: items, Incomplete: incomplete}
}
