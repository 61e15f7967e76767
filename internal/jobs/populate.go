package jobs

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dyluth/murmur/internal/guard"
	"github.com/dyluth/murmur/internal/orchestrator"
	"github.com/dyluth/murmur/internal/sampling"
	"github.com/dyluth/murmur/pkg/forum"
	"go.uber.org/zap"
)

// populateJob creates Q&A topics from the seed bank, then seeds each new
// topic with a few synthesized replies. Categories that already hold as many
// Q&A topics as they have seeds are left alone.
type populateJob struct {
	*base
	replyPause time.Duration
	quotas     map[string]int
}

func newPopulate(b *base, s Settings) orchestrator.Job {
	quotas := make(map[string]int)
	for category, seeds := range b.deps.Synth.Banks().Seeds {
		quotas[categoryGroup(category)] = len(seeds)
	}
	return &populateJob{base: b, replyPause: s.ReplyPause, quotas: quotas}
}

func categoryGroup(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

func (j *populateJob) Enumerate(ctx context.Context) (orchestrator.Enumeration, error) {
	cats := j.categories(ctx)
	existing, incomplete, err := j.topics(ctx)
	if err != nil && ctx.Err() != nil {
		return enumeration(nil, true), err
	}

	enum := orchestrator.Enumeration{Incomplete: incomplete, Counts: make(map[string]int)}
	for _, topic := range existing {
		enum.Seen = append(enum.Seen, guard.ByTitle(topic))
		enum.Counts[categoryGroup(topic.Category)]++
	}

	now := j.deps.Now()
	banks := j.deps.Synth.Banks()
	for _, category := range banks.SeedCategories() {
		categoryID := categoryIDFor(cats, category)
		if categoryID == "" {
			j.log.Warn("no remote category matches seed category", zap.String("category", category))
		}
		for n, seed := range banks.Seeds[category] {
			enum.Items = append(enum.Items, forum.ContentUnit{
				ID:         fmt.Sprintf("seed/%s/%d", category, n),
				Title:      seed.Title(),
				Category:   category,
				CategoryID: categoryID,
				Text:       seed.Body(now),
			})
		}
	}
	return enum, err
}

// categoryIDFor finds the remote id of a category by case-insensitive name.
func categoryIDFor(cats forum.Categories, name string) string {
	for id, n := range cats {
		if strings.EqualFold(n, name) {
			return id
		}
	}
	return ""
}

func (j *populateJob) Policy() sampling.Policy { return sampling.All() }

func (j *populateJob) Guard() *guard.Guard {
	return guard.New(
		guard.AlreadySeen(guard.ByTitle),
		guard.QuotaMet(j.GroupKey, j.quota),
	)
}

func (j *populateJob) quota(group string) int {
	if q, ok := j.quotas[group]; ok {
		return q
	}
	return -1
}

func (j *populateJob) Key(item forum.ContentUnit) string { return guard.ByTitle(item) }

func (j *populateJob) GroupKey(item forum.ContentUnit) string { return categoryGroup(item.Category) }

func (j *populateJob) Apply(ctx context.Context, item forum.ContentUnit, rng *rand.Rand) error {
	created, err := j.deps.Client.CreatePost(ctx, forum.NewPost{
		Title:      item.Title,
		CategoryID: item.CategoryID,
		Raw:        item.Text,
	}, "")
	if err != nil {
		return err
	}
	j.log.Info("topic created", zap.String("topic", created.TopicID), zap.String("title", item.Title))

	n := replyCount(2, 3, rng)
	for i, identity := range j.deps.Pool.PickN(n, rng) {
		if err := j.pause(ctx, j.replyPause); err != nil {
			return err
		}
		text, err := j.deps.Synth.Synthesize(item.Category, rng)
		if err != nil {
			return err
		}
		if _, err := j.reply(ctx, created.TopicID, identity, text); err != nil {
			return fmt.Errorf("topic %s created, reply %d of %d: %w", created.TopicID, i+1, n, err)
		}
	}
	return nil
}
