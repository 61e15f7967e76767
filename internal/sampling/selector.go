// Package sampling chooses which candidates a job acts on.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/dyluth/murmur/pkg/forum"
)

// Kind identifies a selection policy.
type Kind string

const (
	KindAll           Kind = "all"
	KindFraction      Kind = "fraction"
	KindFixedCount    Kind = "fixed_count"
	KindPerGroupQuota Kind = "per_group_quota"
)

// KeyFunc derives a grouping key from a candidate.
type KeyFunc func(forum.ContentUnit) string

// Policy describes how many candidates to choose. Construct with All,
// Fraction, FixedCount or PerGroupQuota.
type Policy struct {
	Kind  Kind
	P     float64
	K     int
	Group KeyFunc
}

// All chooses every candidate.
func All() Policy { return Policy{Kind: KindAll} }

// Fraction chooses floor(p*n) candidates uniformly at random.
func Fraction(p float64) Policy { return Policy{Kind: KindFraction, P: p} }

// FixedCount chooses min(k, n) candidates uniformly at random.
func FixedCount(k int) Policy { return Policy{Kind: KindFixedCount, K: k} }

// PerGroupQuota chooses min(k, size) candidates from each group.
func PerGroupQuota(key KeyFunc, k int) Policy {
	return Policy{Kind: KindPerGroupQuota, K: k, Group: key}
}

// ByCategory groups candidates by category name.
func ByCategory(u forum.ContentUnit) string { return u.Category }

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	switch p.Kind {
	case KindAll:
		return nil
	case KindFraction:
		if math.IsNaN(p.P) || p.P < 0 || p.P > 1 {
			return fmt.Errorf("fraction must be within [0, 1], got %v", p.P)
		}
	case KindFixedCount:
		if p.K < 0 {
			return fmt.Errorf("count must not be negative, got %d", p.K)
		}
	case KindPerGroupQuota:
		if p.K < 0 {
			return fmt.Errorf("quota must not be negative, got %d", p.K)
		}
		if p.Group == nil {
			return errors.New("per-group quota needs a key function")
		}
	default:
		return fmt.Errorf("unknown selection policy %q", p.Kind)
	}
	return nil
}

func (p Policy) String() string {
	switch p.Kind {
	case KindFraction:
		return fmt.Sprintf("fraction(%g)", p.P)
	case KindFixedCount:
		return fmt.Sprintf("fixed(%d)", p.K)
	case KindPerGroupQuota:
		return fmt.Sprintf("per-group(%d)", p.K)
	}
	return string(p.Kind)
}

// Result partitions the candidates. Both slices keep input order.
type Result struct {
	Chosen   []forum.ContentUnit
	Rejected []forum.ContentUnit
}

// ChosenIDs returns the ids of the chosen candidates.
func (r Result) ChosenIDs() []string { return ids(r.Chosen) }

// RejectedIDs returns the ids of the rejected candidates.
func (r Result) RejectedIDs() []string { return ids(r.Rejected) }

// Select applies policy to candidates. Candidates are de-duplicated by id
// first; later duplicates are dropped from both partitions.
func Select(candidates []forum.ContentUnit, policy Policy, rng *rand.Rand) (Result, error) {
	if err := policy.Validate(); err != nil {
		return Result{}, err
	}

	unique := dedupe(candidates)
	chosen := make([]bool, len(unique))

	switch policy.Kind {
	case KindAll:
		for i := range chosen {
			chosen[i] = true
		}
	case KindFraction:
		pick(chosen, indexes(len(unique)), fractionCount(policy.P, len(unique)), rng)
	case KindFixedCount:
		pick(chosen, indexes(len(unique)), policy.K, rng)
	case KindPerGroupQuota:
		var order []string
		groups := make(map[string][]int)
		for i, u := range unique {
			key := policy.Group(u)
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], i)
		}
		for _, key := range order {
			pick(chosen, groups[key], policy.K, rng)
		}
	}

	var res Result
	for i, u := range unique {
		if chosen[i] {
			res.Chosen = append(res.Chosen, u)
		} else {
			res.Rejected = append(res.Rejected, u)
		}
	}
	return res, nil
}

// fractionCount is floor(p*n). The epsilon absorbs binary rounding, so
// 0.29 of 100 is 29 rather than 28.
func fractionCount(p float64, n int) int {
	return int(math.Floor(p*float64(n) + 1e-9))
}

// pick marks min(k, len(scope)) members of scope chosen, uniformly at random.
func pick(chosen []bool, scope []int, k int, rng *rand.Rand) {
	if k >= len(scope) {
		for _, i := range scope {
			chosen[i] = true
		}
		return
	}
	for _, j := range rng.Perm(len(scope))[:k] {
		chosen[scope[j]] = true
	}
}

func dedupe(candidates []forum.ContentUnit) []forum.ContentUnit {
	seen := make(map[string]bool, len(candidates))
	out := make([]forum.ContentUnit, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func ids(units []forum.ContentUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.ID
	}
	return out
}
