package guard

import (
	"testing"
	"time"

	"github.com/dyluth/murmur/internal/placeholder"
	"github.com/dyluth/murmur/pkg/forum"
	"github.com/stretchr/testify/assert"
)

func TestContainsImage(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"plain text", false},
		{"see ![shot](http://x/y.png)", true},
		{`<p>look <img src="x.png"></p>`, true},
		{`<p>look <IMG SRC="x.png"/></p>`, true},
		{"<p>no image, just a &lt;img&gt; mention</p>", false},
		{"a < b and c > d", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainsImage(tt.text))
		})
	}
}

func TestGuard_FirstMatchingReason(t *testing.T) {
	g := New(AlreadySeen(ByID), HasImage(), ClosedOrArchived())
	ctx := NewContext()
	ctx.MarkSeen("seen")

	assert.Equal(t, Decision{Process: false, Reason: ReasonAlreadySeen},
		g.Evaluate(forum.ContentUnit{ID: "seen", Text: "![x](y)"}, ctx))
	assert.Equal(t, Decision{Process: false, Reason: ReasonHasImage},
		g.Evaluate(forum.ContentUnit{ID: "new", Text: "![x](y)", Closed: true}, ctx))
	assert.Equal(t, Decision{Process: false, Reason: ReasonClosed},
		g.Evaluate(forum.ContentUnit{ID: "new", Archived: true}, ctx))
	assert.True(t, g.ShouldProcess(forum.ContentUnit{ID: "new"}, ctx))
	assert.Equal(t, []string{ReasonAlreadySeen, ReasonHasImage, ReasonClosed}, g.Names())
}

func TestGuard_Stability(t *testing.T) {
	r := placeholder.MustNew(placeholder.Map{"detail": {"x"}})
	g := New(AlreadySeen(ByID), NoPlaceholders(r), QuotaMet(func(u forum.ContentUnit) string { return u.Category }, func(string) int { return 2 }))
	ctx := NewContext()
	ctx.Counts["full"] = 2
	ctx.MarkSeen("old")

	items := []forum.ContentUnit{
		{ID: "old", Text: "{detail}"},
		{ID: "a", Text: "{detail}", Category: "open"},
		{ID: "b", Text: "clean", Category: "open"},
		{ID: "c", Text: "{detail}", Category: "full"},
	}
	for _, item := range items {
		first := g.Evaluate(item, ctx)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, g.Evaluate(item, ctx), "evaluation must not change without context mutation")
		}
	}
	assert.Equal(t, 2, ctx.Counts["full"])
	assert.Len(t, ctx.Ledger, 1)
}

func TestNoPlaceholders(t *testing.T) {
	r := placeholder.MustNew(placeholder.Map{"detail": {"x"}})
	g := New(NoPlaceholders(r))

	assert.True(t, g.ShouldProcess(forum.ContentUnit{ID: "1", Text: "fix {detail}"}, nil))
	assert.True(t, g.ShouldProcess(forum.ContentUnit{ID: "1", Flags: forum.Flags{HasUnresolvedPlaceholder: true}}, nil))
	assert.False(t, g.ShouldProcess(forum.ContentUnit{ID: "1", Text: "fine {other}"}, nil))
}

func TestQuotaMet(t *testing.T) {
	quotas := map[string]int{"small": 1, "big": 3}
	c := QuotaMet(func(u forum.ContentUnit) string { return u.Category }, func(g string) int {
		if q, ok := quotas[g]; ok {
			return q
		}
		return -1
	})
	g := New(c)
	ctx := NewContext()

	assert.True(t, g.ShouldProcess(forum.ContentUnit{Category: "small"}, ctx))
	ctx.Increment("small")
	assert.False(t, g.ShouldProcess(forum.ContentUnit{Category: "small"}, ctx))

	ctx.Counts["big"] = 2
	assert.True(t, g.ShouldProcess(forum.ContentUnit{Category: "big"}, ctx))
	ctx.Counts["unbounded"] = 1000
	assert.True(t, g.ShouldProcess(forum.ContentUnit{Category: "unbounded"}, ctx))
}

func TestCreatedWithin(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	g := New(CreatedWithin(now.AddDate(0, 0, -30), now.AddDate(0, 0, -1)))

	assert.False(t, g.ShouldProcess(forum.ContentUnit{CreatedAt: now.AddDate(0, 0, -10)}, nil))
	assert.True(t, g.ShouldProcess(forum.ContentUnit{CreatedAt: now.Add(-time.Hour)}, nil))
	assert.True(t, g.ShouldProcess(forum.ContentUnit{CreatedAt: now.AddDate(0, -3, 0)}, nil))
	assert.True(t, g.ShouldProcess(forum.ContentUnit{}, nil))
}

func TestByTitle(t *testing.T) {
	assert.Equal(t, "[q&a] hello", ByTitle(forum.ContentUnit{Title: "  [Q&A] Hello "}))
}

func TestGuard_WithAndNil(t *testing.T) {
	base := New(HasImage())
	extended := base.With(ClosedOrArchived())
	assert.Len(t, base.Names(), 1)
	assert.Len(t, extended.Names(), 2)

	var g *Guard
	assert.True(t, g.ShouldProcess(forum.ContentUnit{ID: "x"}, nil))
	assert.Nil(t, g.Names())
}
