package guard

import (
	"strings"
	"time"

	"github.com/dyluth/murmur/internal/placeholder"
	"github.com/dyluth/murmur/pkg/forum"
	"golang.org/x/net/html"
)

// Skip reasons reported by the built-in conditions.
const (
	ReasonHasImage       = "has-image"
	ReasonNoPlaceholders = "no-placeholders"
	ReasonQuotaMet       = "quota-met"
	ReasonAlreadySeen    = "already-seen"
	ReasonClosed         = "closed-or-archived"
	ReasonInWindow       = "already-in-window"
)

// HasImage skips items whose text already embeds an image, either as
// markdown or as an <img> element.
func HasImage() Condition {
	return Condition{
		Name: ReasonHasImage,
		Skip: func(item forum.ContentUnit, _ *Context) bool {
			return item.Flags.HasImage || ContainsImage(item.Text)
		},
	}
}

// NoPlaceholders skips items with nothing for r to resolve.
func NoPlaceholders(r *placeholder.Resolver) Condition {
	return Condition{
		Name: ReasonNoPlaceholders,
		Skip: func(item forum.ContentUnit, _ *Context) bool {
			return !item.Flags.HasUnresolvedPlaceholder && !r.Contains(item.Text)
		},
	}
}

// QuotaMet skips items whose group already holds at least quota(group)
// items. A negative quota never skips.
func QuotaMet(key func(forum.ContentUnit) string, quota func(group string) int) Condition {
	return Condition{
		Name: ReasonQuotaMet,
		Skip: func(item forum.ContentUnit, ctx *Context) bool {
			group := key(item)
			q := quota(group)
			return q >= 0 && ctx.Counts[group] >= q
		},
	}
}

// AlreadySeen skips items whose key is in the ledger.
func AlreadySeen(key func(forum.ContentUnit) string) Condition {
	return Condition{
		Name: ReasonAlreadySeen,
		Skip: func(item forum.ContentUnit, ctx *Context) bool {
			return ctx.Seen(key(item))
		},
	}
}

// ByID keys items by id.
func ByID(u forum.ContentUnit) string { return u.ID }

// ByTitle keys items by case-insensitive title.
func ByTitle(u forum.ContentUnit) string { return strings.ToLower(strings.TrimSpace(u.Title)) }

// ClosedOrArchived skips closed or archived topics.
func ClosedOrArchived() Condition {
	return Condition{
		Name: ReasonClosed,
		Skip: func(item forum.ContentUnit, _ *Context) bool {
			return item.Closed || item.Archived
		},
	}
}

// CreatedWithin skips items created inside [from, to]. Items with no
// creation time are never skipped.
func CreatedWithin(from, to time.Time) Condition {
	return Condition{
		Name: ReasonInWindow,
		Skip: func(item forum.ContentUnit, _ *Context) bool {
			if item.CreatedAt.IsZero() {
				return false
			}
			return !item.CreatedAt.Before(from) && !item.CreatedAt.After(to)
		},
	}
}

// ContainsImage reports whether text embeds an image as markdown or HTML.
func ContainsImage(text string) bool {
	if strings.Contains(text, "![") {
		return true
	}
	if !strings.Contains(text, "<") {
		return false
	}
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) == "img" {
				return true
			}
		}
	}
}
