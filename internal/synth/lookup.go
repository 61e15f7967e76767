package synth

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

func fold(s string) string {
	return strings.TrimSpace(folder.String(s))
}

// lookupKey finds the bank key for category: a case-insensitive exact match
// first, then the longest key contained in the category or containing it,
// ties broken lexicographically. It returns "" when nothing matches.
func lookupKey(keys []string, category string) string {
	want := fold(category)
	if want == "" {
		return ""
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	for _, k := range sorted {
		if fold(k) == want {
			return k
		}
	}

	best := ""
	for _, k := range sorted {
		fk := fold(k)
		if fk == "" {
			continue
		}
		if strings.Contains(want, fk) || strings.Contains(fk, want) {
			if len(k) > len(best) {
				best = k
			}
		}
	}
	return best
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
