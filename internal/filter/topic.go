package filter

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/murmur/pkg/forum"
)

// Criteria defines filtering criteria for content units.
// All filters are ANDed together - a unit must match ALL criteria to pass.
type Criteria struct {
	TitlePrefix  string    // Required title prefix, empty = no filter
	CategoryGlob string    // Case-insensitive glob on the category name, empty = no filter
	Since        time.Time // Earliest creation time, zero = no filter
	Until        time.Time // Latest creation time, zero = no filter
}

// Matches returns true if the unit matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(u forum.ContentUnit) bool {
	if c.TitlePrefix != "" && !strings.HasPrefix(strings.TrimSpace(u.Title), c.TitlePrefix) {
		return false
	}

	// Time filtering - units without a creation time fail any time bound
	if !c.Since.IsZero() && u.CreatedAt.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && (u.CreatedAt.IsZero() || u.CreatedAt.After(c.Until)) {
		return false
	}

	if c.CategoryGlob != "" {
		matched, err := filepath.Match(strings.ToLower(c.CategoryGlob), strings.ToLower(u.Category))
		if err != nil || !matched {
			return false
		}
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.TitlePrefix != "" ||
		c.CategoryGlob != "" ||
		!c.Since.IsZero() ||
		!c.Until.IsZero()
}

// Apply returns the units that match, in order.
func (c *Criteria) Apply(units []forum.ContentUnit) []forum.ContentUnit {
	if !c.HasFilters() {
		return units
	}
	out := make([]forum.ContentUnit, 0, len(units))
	for _, u := range units {
		if c.Matches(u) {
			out = append(out, u)
		}
	}
	return out
}
