package jobs

import (
	"context"
	"math/rand/v2"

	"github.com/dyluth/murmur/internal/guard"
	"github.com/dyluth/murmur/internal/orchestrator"
	"github.com/dyluth/murmur/internal/sampling"
	"github.com/dyluth/murmur/pkg/forum"
	"go.uber.org/zap"
)

// viewsJob would raise topic view counters. The forum exposes no way to set
// them, so every attempt is reported as unsupported rather than silently
// counted as done.
type viewsJob struct {
	*base
}

func newViews(b *base, _ Settings) orchestrator.Job {
	return &viewsJob{base: b}
}

func (j *viewsJob) Enumerate(ctx context.Context) (orchestrator.Enumeration, error) {
	topics, incomplete, err := j.topics(ctx)
	return enumeration(topics, incomplete), err
}

func (j *viewsJob) Policy() sampling.Policy { return sampling.All() }

func (j *viewsJob) Guard() *guard.Guard {
	return guard.New(guard.AlreadySeen(guard.ByID))
}

func (j *viewsJob) Apply(ctx context.Context, item forum.ContentUnit, rng *rand.Rand) error {
	target := 300 + rng.IntN(10701)
	j.log.Info("would set topic views", zap.String("topic", item.ID), zap.Int("views", target))
	return j.deps.Client.SetViews(ctx, item.ID, target)
}
