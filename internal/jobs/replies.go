package jobs

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dyluth/murmur/internal/guard"
	"github.com/dyluth/murmur/internal/orchestrator"
	"github.com/dyluth/murmur/internal/sampling"
	"github.com/dyluth/murmur/pkg/forum"
	"go.uber.org/zap"
)

// repliesJob adds synthesized replies from distinct identities.
type repliesJob struct {
	*base
	fraction   float64
	minReplies int
	maxReplies int
	replyPause time.Duration
}

func newReplies(b *base, s Settings) orchestrator.Job {
	return &repliesJob{base: b, fraction: s.ReplyFraction, minReplies: s.MinReplies, maxReplies: s.MaxReplies, replyPause: s.ReplyPause}
}

func (j *repliesJob) Enumerate(ctx context.Context) (orchestrator.Enumeration, error) {
	topics, incomplete, err := j.topics(ctx)
	return enumeration(topics, incomplete), err
}

func (j *repliesJob) Policy() sampling.Policy {
	if j.fraction >= 1 {
		return sampling.All()
	}
	return sampling.Fraction(j.fraction)
}

func (j *repliesJob) Guard() *guard.Guard {
	return guard.New(guard.AlreadySeen(guard.ByID), guard.ClosedOrArchived())
}

func (j *repliesJob) Apply(ctx context.Context, item forum.ContentUnit, rng *rand.Rand) error {
	n := replyCount(j.minReplies, j.maxReplies, rng)
	category := j.deps.Synth.CategoryFor(item)

	for i, identity := range j.deps.Pool.PickN(n, rng) {
		if i > 0 {
			if err := j.pause(ctx, j.replyPause); err != nil {
				return err
			}
		}
		text, err := j.deps.Synth.Synthesize(category, rng)
		if err != nil {
			return err
		}
		used, err := j.reply(ctx, item.ID, identity, text)
		if err != nil {
			return fmt.Errorf("reply %d of %d: %w", i+1, n, err)
		}
		j.log.Debug("reply posted", zap.String("topic", item.ID), zap.String("identity", used))
	}
	return nil
}

// replyCount draws a count uniformly from [lo, hi].
func replyCount(lo, hi int, rng *rand.Rand) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}
