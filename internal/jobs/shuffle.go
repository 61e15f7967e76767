package jobs

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dyluth/murmur/internal/guard"
	"github.com/dyluth/murmur/internal/orchestrator"
	"github.com/dyluth/murmur/internal/sampling"
	"github.com/dyluth/murmur/pkg/forum"
)

// shuffleDatesJob spreads topic creation dates across a recent window so a
// bulk-created forum does not look like it appeared in one afternoon.
// Dates land between Window ago and one day ago. Topics already dated inside
// that band are left alone, so reruns converge.
type shuffleDatesJob struct {
	*base
	from time.Time
	to   time.Time
}

func newShuffleDates(b *base, s Settings) orchestrator.Job {
	now := b.deps.Now().UTC()
	return &shuffleDatesJob{
		base: b,
		from: now.Add(-s.Window),
		to:   now.Add(-24 * time.Hour),
	}
}

func (j *shuffleDatesJob) Enumerate(ctx context.Context) (orchestrator.Enumeration, error) {
	topics, incomplete, err := j.topics(ctx)
	return enumeration(topics, incomplete), err
}

func (j *shuffleDatesJob) Policy() sampling.Policy { return sampling.All() }

func (j *shuffleDatesJob) Guard() *guard.Guard {
	return guard.New(guard.AlreadySeen(guard.ByID), guard.CreatedWithin(j.from, j.to))
}

func (j *shuffleDatesJob) Apply(ctx context.Context, item forum.ContentUnit, rng *rand.Rand) error {
	span := j.to.Sub(j.from)
	at := j.from.Add(time.Duration(rng.Int64N(int64(span)))).Truncate(time.Second)
	if at.Before(j.from) {
		at = at.Add(time.Second)
	}
	return j.deps.Client.ChangeTimestamp(ctx, item.ID, at)
}
