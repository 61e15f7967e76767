package jobs

import (
	"context"
	"math/rand/v2"

	"github.com/dyluth/murmur/internal/guard"
	"github.com/dyluth/murmur/internal/orchestrator"
	"github.com/dyluth/murmur/internal/sampling"
	"github.com/dyluth/murmur/pkg/forum"
)

// repairJob resolves placeholder tokens left in published posts.
type repairJob struct {
	*base
	editReason string
}

func newRepair(b *base, s Settings) orchestrator.Job {
	return &repairJob{base: b, editReason: s.EditReason}
}

func (j *repairJob) Enumerate(ctx context.Context) (orchestrator.Enumeration, error) {
	topics, incomplete, err := j.topics(ctx)
	if err != nil && ctx.Err() != nil {
		return enumeration(nil, true), err
	}
	posts, postsIncomplete, perr := j.posts(ctx, topics, false)
	if perr != nil {
		err = perr
	}
	return enumeration(posts, incomplete || postsIncomplete), err
}

func (j *repairJob) Policy() sampling.Policy { return sampling.All() }

func (j *repairJob) Guard() *guard.Guard {
	return guard.New(guard.AlreadySeen(guard.ByID), guard.NoPlaceholders(j.deps.Synth.Resolver()))
}

func (j *repairJob) Apply(ctx context.Context, item forum.ContentUnit, rng *rand.Rand) error {
	post, err := j.deps.Client.GetPost(ctx, item.ID)
	if err != nil {
		return err
	}
	if !j.deps.Synth.NeedsRepair(post.Text) {
		return orchestrator.ErrNoChange
	}
	return j.deps.Client.UpdatePost(ctx, item.ID, j.deps.Synth.Repair(post.Text, rng), j.editReason)
}
