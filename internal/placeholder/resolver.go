// Package placeholder substitutes named template tokens such as {detail} or
// {{metric}} with phrases drawn at random from per-token option lists.
package placeholder

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"sort"
	"strings"
)

// Map maps a token name to its candidate phrases. A name with no phrases is
// not recognized and is left untouched in text.
type Map map[string][]string

// Merge returns a copy of m with the entries of other added or replaced.
func (m Map) Merge(other Map) Map {
	out := make(Map, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Resolver replaces recognized tokens in text. The zero value recognizes
// nothing. A Resolver is immutable and safe for concurrent use.
type Resolver struct {
	options Map
	names   []string
	pattern *regexp.Regexp
}

// New validates m and compiles the token grammar. Phrases must not contain
// braces so that every substitution strictly reduces the number of tokens.
func New(m Map) (*Resolver, error) {
	r := &Resolver{options: make(Map)}
	for name, phrases := range m {
		if len(phrases) == 0 {
			continue
		}
		if !validName.MatchString(name) {
			return nil, fmt.Errorf("invalid placeholder name %q", name)
		}
		for _, p := range phrases {
			if strings.ContainsAny(p, "{}") {
				return nil, fmt.Errorf("phrase for placeholder %q contains a brace: %q", name, p)
			}
		}
		r.options[name] = append([]string(nil), phrases...)
		r.names = append(r.names, name)
	}
	if len(r.names) == 0 {
		return r, nil
	}

	sort.Slice(r.names, func(i, j int) bool {
		if len(r.names[i]) != len(r.names[j]) {
			return len(r.names[i]) > len(r.names[j])
		}
		return r.names[i] < r.names[j]
	})

	quoted := make([]string, len(r.names))
	for i, n := range r.names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	alt := strings.Join(quoted, "|")
	r.pattern = regexp.MustCompile(`\{\{(?:` + alt + `)\}\}|\{(?:` + alt + `)\}`)
	return r, nil
}

// MustNew is like New but panics on an invalid map.
func MustNew(m Map) *Resolver {
	r, err := New(m)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve replaces every recognized token with a phrase chosen by rng and
// repeats until none remain. Unrecognized tokens are left untouched.
func (r *Resolver) Resolve(text string, rng *rand.Rand) string {
	if r == nil || r.pattern == nil {
		return text
	}
	for r.pattern.MatchString(text) {
		text = r.pattern.ReplaceAllStringFunc(text, func(token string) string {
			opts := r.options[strings.Trim(token, "{}")]
			return opts[rng.IntN(len(opts))]
		})
	}
	return text
}

// Contains reports whether text holds at least one recognized token.
func (r *Resolver) Contains(text string) bool {
	if r == nil || r.pattern == nil {
		return false
	}
	return r.pattern.MatchString(text)
}

// Tokens returns the recognized token names found in text, in order of first
// appearance, without duplicates.
func (r *Resolver) Tokens(text string) []string {
	if r == nil || r.pattern == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, tok := range r.pattern.FindAllString(text, -1) {
		name := strings.Trim(tok, "{}")
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Names returns the recognized token names.
func (r *Resolver) Names() []string {
	if r == nil {
		return nil
	}
	names := append([]string(nil), r.names...)
	sort.Strings(names)
	return names
}

// Resolve is a one-shot helper that builds a Resolver from m.
func Resolve(text string, m Map, rng *rand.Rand) (string, error) {
	r, err := New(m)
	if err != nil {
		return "", err
	}
	return r.Resolve(text, rng), nil
}
