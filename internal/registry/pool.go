package registry

import (
	"context"
	"math/rand/v2"

	"github.com/dyluth/murmur/pkg/forum"
	"go.uber.org/zap"
)

// Pool chooses identities for attribution and falls back to the default
// identity when the credential cannot impersonate.
type Pool struct {
	handles         []string
	defaultIdentity string
	degraded        bool
	logger          *zap.Logger
}

// NewPool builds a pool over the given records.
func NewPool(records []Record, defaultIdentity string, logger *zap.Logger) *Pool {
	if defaultIdentity == "" {
		defaultIdentity = forum.DefaultIdentity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handles := make([]string, 0, len(records))
	for _, r := range records {
		handles = append(handles, r.Handle)
	}
	return &Pool{handles: handles, defaultIdentity: defaultIdentity, logger: logger}
}

// Default returns the identity used when impersonation is unavailable.
func (p *Pool) Default() string {
	return p.defaultIdentity
}

// Size returns the number of impersonable identities.
func (p *Pool) Size() int {
	return len(p.handles)
}

// Degraded reports whether impersonation was disabled during this run.
func (p *Pool) Degraded() bool {
	return p.degraded
}

// Pick returns a random identity, or the default when none can be used.
func (p *Pool) Pick(rng *rand.Rand) string {
	if p.degraded || len(p.handles) == 0 {
		return p.defaultIdentity
	}
	return p.handles[rng.IntN(len(p.handles))]
}

// PickN returns min(n, Size()) distinct identities. When impersonation is
// unavailable it returns n copies of the default identity.
func (p *Pool) PickN(n int, rng *rand.Rand) []string {
	if n <= 0 {
		return nil
	}
	if p.degraded || len(p.handles) == 0 {
		out := make([]string, n)
		for i := range out {
			out[i] = p.defaultIdentity
		}
		return out
	}
	if n > len(p.handles) {
		n = len(p.handles)
	}
	out := make([]string, 0, n)
	for _, i := range rng.Perm(len(p.handles))[:n] {
		out = append(out, p.handles[i])
	}
	return out
}

// Attribute runs fn acting as handle. If the forum refuses the impersonation
// the pool degrades to the default identity for the rest of the run and
// fn is retried once as the default. It returns the identity that was used.
func (p *Pool) Attribute(ctx context.Context, handle string, fn func(ctx context.Context, actingAs string) error) (string, error) {
	if p.degraded || handle == "" {
		handle = p.defaultIdentity
	}

	err := fn(ctx, handle)
	if err == nil || handle == p.defaultIdentity || !forum.IsPermissionDenied(err) {
		return handle, err
	}

	p.degraded = true
	p.logger.Warn("impersonation refused, continuing as default identity",
		zap.String("identity", handle),
		zap.String("default", p.defaultIdentity),
		zap.Error(err))

	return p.defaultIdentity, fn(ctx, p.defaultIdentity)
}
