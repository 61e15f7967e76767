package orchestrator

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/dyluth/murmur/internal/guard"
	"github.com/dyluth/murmur/internal/sampling"
	"github.com/dyluth/murmur/pkg/forum"
)

// ErrNoChange is returned by Job.Apply when the item turned out to need no
// mutation. The engine counts it as a skip.
var ErrNoChange = errors.New("no change required")

// Enumeration is the candidate set a job produced, plus what the job learned
// about the remote state while building it.
type Enumeration struct {
	Items []forum.ContentUnit

	// Incomplete is set when enumeration stopped early.
	Incomplete bool

	// Seen pre-seeds the guard ledger with keys already present remotely.
	Seen []string

	// Counts pre-seeds the per-group counters used by quota conditions.
	Counts map[string]int
}

// Job is one bulk operation the engine can drive.
type Job interface {
	Name() string

	// Enumerate lists candidates. A partial Enumeration may be returned
	// together with an error.
	Enumerate(ctx context.Context) (Enumeration, error)

	Policy() sampling.Policy
	Guard() *guard.Guard

	// Key is the ledger key recorded after a successful apply.
	Key(item forum.ContentUnit) string

	// GroupKey names the counter incremented after a successful apply.
	// An empty key increments nothing.
	GroupKey(item forum.ContentUnit) string

	// Apply performs the mutation for one item.
	Apply(ctx context.Context, item forum.ContentUnit, rng *rand.Rand) error
}

// IdentityReporter is implemented by jobs that attribute content through an
// identity pool.
type IdentityReporter interface {
	IdentityDegraded() bool
}
