// Package guard decides whether an item still needs to be processed, so
// that re-running a job converges instead of duplicating work.
package guard

import (
	"github.com/dyluth/murmur/pkg/forum"
)

// Decision is the outcome of evaluating a guard.
type Decision struct {
	Process bool
	Reason  string
}

// Condition reports whether item should be skipped.
type Condition struct {
	Name string
	Skip func(item forum.ContentUnit, ctx *Context) bool
}

// Guard is an ordered list of skip conditions. The first matching
// condition's name becomes the skip reason.
type Guard struct {
	conditions []Condition
}

// New builds a guard from conditions.
func New(conditions ...Condition) *Guard {
	return &Guard{conditions: conditions}
}

// With returns a new guard with extra conditions appended.
func (g *Guard) With(conditions ...Condition) *Guard {
	out := &Guard{conditions: append([]Condition(nil), g.conditions...)}
	out.conditions = append(out.conditions, conditions...)
	return out
}

// Evaluate returns whether item should be processed and, if not, why.
// Evaluation only reads ctx.
func (g *Guard) Evaluate(item forum.ContentUnit, ctx *Context) Decision {
	if ctx == nil {
		ctx = NewContext()
	}
	if g != nil {
		for _, c := range g.conditions {
			if c.Skip(item, ctx) {
				return Decision{Process: false, Reason: c.Name}
			}
		}
	}
	return Decision{Process: true}
}

// ShouldProcess reports whether item should be processed.
func (g *Guard) ShouldProcess(item forum.ContentUnit, ctx *Context) bool {
	return g.Evaluate(item, ctx).Process
}

// Names returns the condition names in evaluation order.
func (g *Guard) Names() []string {
	if g == nil {
		return nil
	}
	out := make([]string, len(g.conditions))
	for i, c := range g.conditions {
		out[i] = c.Name
	}
	return out
}

// Context is the run-scoped state conditions consult.
type Context struct {
	// Ledger holds keys already processed this run or already present remotely.
	Ledger map[string]bool
	// Counts holds the number of existing items per group.
	Counts map[string]int
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{Ledger: make(map[string]bool), Counts: make(map[string]int)}
}

// Seen reports whether key is in the ledger.
func (c *Context) Seen(key string) bool {
	return c.Ledger[key]
}

// MarkSeen adds key to the ledger.
func (c *Context) MarkSeen(key string) {
	if c.Ledger == nil {
		c.Ledger = make(map[string]bool)
	}
	c.Ledger[key] = true
}

// Increment adds one to the count for group.
func (c *Context) Increment(group string) {
	if c.Counts == nil {
		c.Counts = make(map[string]int)
	}
	c.Counts[group]++
}
