// Package synth produces plausible text for a category from template banks
// and repairs existing text that still holds unresolved placeholders.
package synth

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/dyluth/murmur/internal/placeholder"
	"github.com/dyluth/murmur/pkg/forum"
)

// ErrNoTemplates is returned when no template bank applies to a category.
var ErrNoTemplates = errors.New("no templates for category")

// Synthesizer generates and repairs text from a Banks document.
type Synthesizer struct {
	banks *Banks
	base  *placeholder.Resolver

	mu        sync.Mutex
	resolvers map[string]*placeholder.Resolver
}

// New builds a Synthesizer. banks must have passed Validate.
func New(banks *Banks) (*Synthesizer, error) {
	if banks == nil {
		return nil, errors.New("banks cannot be nil")
	}
	base, err := placeholder.New(banks.Placeholders)
	if err != nil {
		return nil, fmt.Errorf("failed to build placeholder resolver: %w", err)
	}
	return &Synthesizer{
		banks:     banks,
		base:      base,
		resolvers: make(map[string]*placeholder.Resolver),
	}, nil
}

// Banks returns the underlying banks document.
func (s *Synthesizer) Banks() *Banks {
	return s.banks
}

// Resolver returns the resolver for the global placeholder map.
func (s *Synthesizer) Resolver() *placeholder.Resolver {
	return s.base
}

// TemplateKey returns the template bank used for category.
func (s *Synthesizer) TemplateKey(category string) string {
	if key := lookupKey(mapKeys(s.banks.Templates), category); key != "" {
		return key
	}
	return s.banks.Fallback
}

// Synthesize picks a template for category and resolves its placeholders.
// The result contains no recognized tokens.
func (s *Synthesizer) Synthesize(category string, rng *rand.Rand) (string, error) {
	templates := s.banks.Templates[s.TemplateKey(category)]
	if len(templates) == 0 {
		return "", fmt.Errorf("%w: %q", ErrNoTemplates, category)
	}
	tmpl := templates[rng.IntN(len(templates))]
	return s.resolverFor(category).Resolve(tmpl, rng), nil
}

// Repair resolves every placeholder left in text. Text without tokens is
// returned unchanged.
func (s *Synthesizer) Repair(text string, rng *rand.Rand) string {
	return s.base.Resolve(text, rng)
}

// NeedsRepair reports whether text holds an unresolved placeholder.
func (s *Synthesizer) NeedsRepair(text string) bool {
	return s.base.Contains(text)
}

// CategoryFor returns the category used to synthesize text for unit: the
// remote category when known, otherwise the classifier's pick from the title.
func (s *Synthesizer) CategoryFor(unit forum.ContentUnit) string {
	if unit.Category != "" && unit.Category != forum.DefaultCategory {
		return unit.Category
	}
	return s.banks.Classifier.Classify(unit.Title)
}

// BoostReply picks an engagement reply.
func (s *Synthesizer) BoostReply(rng *rand.Rand) (string, error) {
	if len(s.banks.Boost) == 0 {
		return "", errors.New("no boost replies configured")
	}
	return s.banks.Boost[rng.IntN(len(s.banks.Boost))], nil
}

// PickImage chooses an image source for category.
func (s *Synthesizer) PickImage(category string, rng *rand.Rand) (string, bool) {
	return s.banks.Images.Pick(category, rng)
}

// resolverFor returns the global resolver merged with the overrides that
// apply to category, building and caching it on first use.
func (s *Synthesizer) resolverFor(category string) *placeholder.Resolver {
	key := lookupKey(mapKeys(s.banks.CategoryPlaceholders), category)
	if key == "" {
		return s.base
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.resolvers[key]; ok {
		return r
	}
	// Overrides were checked by Banks.Validate.
	r := placeholder.MustNew(s.banks.Placeholders.Merge(s.banks.CategoryPlaceholders[key]))
	s.resolvers[key] = r
	return r
}
