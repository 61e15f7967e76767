package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dyluth/murmur/internal/registry"
	"github.com/dyluth/murmur/pkg/forum"
	"go.uber.org/zap"
)

// ProvisionOptions configures identity provisioning.
type ProvisionOptions struct {
	Count int
	Names registry.Names

	// RegistryPath is written once, after every creation was attempted.
	RegistryPath string

	// Delay is slept between account creations.
	Delay  time.Duration
	DryRun bool
}

// ProvisionResult summarizes a provisioning pass.
type ProvisionResult struct {
	Requested      int
	Created        []registry.Record
	Failed         int
	FailuresByKind map[forum.FailureKind]int
	Cancelled      bool
}

// ProvisionIdentities generates synthetic identities, creates each one on
// the forum and records the ones that succeeded in reg. The registry file is
// saved once at the end, also when the pass is cancelled, so accounts that
// exist remotely are never forgotten.
func ProvisionIdentities(ctx context.Context, deps Deps, reg *registry.Registry, opts ProvisionOptions, rng *rand.Rand) (*ProvisionResult, error) {
	if deps.Client == nil {
		return nil, errors.New("forum client is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Sleeper == nil {
		deps.Sleeper = forum.TimerSleeper
	}
	log := deps.Logger.With(zap.String("job", "provision"))

	records, err := registry.Generate(opts.Count, opts.Names, rng, reg.Has)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identities: %w", err)
	}

	result := &ProvisionResult{Requested: len(records), FailuresByKind: make(map[forum.FailureKind]int)}
	if opts.DryRun {
		for _, rec := range records {
			log.Info("dry run: would create identity", zap.String("handle", rec.Handle))
		}
		return result, nil
	}

	for i, rec := range records {
		if i > 0 {
			if err := deps.Sleeper.Sleep(ctx, opts.Delay); err != nil {
				result.Cancelled = true
				break
			}
		}

		err := deps.Client.CreateUser(ctx, forum.UserSpec{
			Handle:      rec.Handle,
			DisplayName: rec.DisplayName,
			Email:       rec.Email,
			Password:    rec.CredentialSecret,
		})
		if err != nil {
			if ctx.Err() != nil {
				result.Cancelled = true
				break
			}
			kind := forum.KindOf(err)
			result.Failed++
			result.FailuresByKind[kind]++
			log.Warn("failed to create identity",
				zap.String("handle", rec.Handle),
				zap.String("kind", string(kind)),
				zap.Error(err))
			continue
		}

		if err := reg.Add(rec); err != nil {
			return result, err
		}
		result.Created = append(result.Created, rec)
		log.Info("identity created", zap.String("handle", rec.Handle))
	}

	if len(result.Created) > 0 && opts.RegistryPath != "" {
		if err := reg.Save(opts.RegistryPath); err != nil {
			return result, fmt.Errorf("failed to save registry: %w", err)
		}
	}
	if result.Cancelled {
		return result, ctx.Err()
	}
	return result, nil
}
