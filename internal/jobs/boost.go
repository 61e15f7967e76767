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
)

// boostJob posts short engagement replies to a few topics in every category.
type boostJob struct {
	*base
	perCategory int
	replyPause  time.Duration
}

func newBoost(b *base, s Settings) orchestrator.Job {
	return &boostJob{base: b, perCategory: s.PerCategory, replyPause: s.ReplyPause}
}

func (j *boostJob) Enumerate(ctx context.Context) (orchestrator.Enumeration, error) {
	topics, incomplete, err := j.topics(ctx)
	return enumeration(topics, incomplete), err
}

func (j *boostJob) Policy() sampling.Policy {
	return sampling.PerGroupQuota(sampling.ByCategory, j.perCategory)
}

func (j *boostJob) Guard() *guard.Guard {
	return guard.New(guard.AlreadySeen(guard.ByID))
}

func (j *boostJob) Apply(ctx context.Context, item forum.ContentUnit, rng *rand.Rand) error {
	n := replyCount(1, 2, rng)
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := j.pause(ctx, j.replyPause); err != nil {
				return err
			}
		}
		text, err := j.deps.Synth.BoostReply(rng)
		if err != nil {
			return err
		}
		if _, err := j.reply(ctx, item.ID, j.deps.Pool.Pick(rng), text); err != nil {
			return fmt.Errorf("boost reply %d of %d: %w", i+1, n, err)
		}
	}
	return nil
}
