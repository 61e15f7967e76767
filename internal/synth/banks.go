package synth

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/dyluth/murmur/internal/placeholder"
	"github.com/dyluth/murmur/internal/registry"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/banks.yml
var defaultBanksYAML []byte

// DefaultBanksYAML returns the embedded default banks document.
func DefaultBanksYAML() []byte {
	return append([]byte(nil), defaultBanksYAML...)
}

// Banks is the full content configuration used to synthesize text.
type Banks struct {
	Fallback             string                     `yaml:"fallback"`
	Templates            map[string][]string        `yaml:"templates"`
	Placeholders         placeholder.Map            `yaml:"placeholders"`
	CategoryPlaceholders map[string]placeholder.Map `yaml:"category_placeholders"`
	Classifier           Classifier                 `yaml:"classifier"`
	Seeds                map[string][]Seed          `yaml:"seeds"`
	Boost                []string                   `yaml:"boost"`
	Images               ImageSet                   `yaml:"images"`
	Identities           registry.Names             `yaml:"identities"`
}

// DefaultBanks parses the embedded default document.
func DefaultBanks() (*Banks, error) {
	return ParseBanks(defaultBanksYAML)
}

// ParseBanks decodes and validates a banks document.
func ParseBanks(data []byte) (*Banks, error) {
	var b Banks
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to parse banks: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid banks: %w", err)
	}
	return &b, nil
}

// LoadBanks reads a banks file and overlays it on the embedded defaults:
// map entries in the file add to or replace the defaults, lists replace them.
// An empty path returns the defaults.
func LoadBanks(path string) (*Banks, error) {
	b, err := DefaultBanks()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return b, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read banks file: %w", err)
	}
	if err := yaml.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("failed to parse banks file %s: %w", path, err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid banks file %s: %w", path, err)
	}
	return b, nil
}

var anyToken = regexp.MustCompile(`\{\{?([A-Za-z0-9_]+)\}?\}`)

// Validate checks that every template can be fully resolved and that the
// fallback and classifier keys name existing template banks.
func (b *Banks) Validate() error {
	if len(b.Templates) == 0 {
		return errors.New("at least one template bank is required")
	}
	if b.Fallback == "" {
		return errors.New("fallback is required")
	}
	if len(b.Templates[b.Fallback]) == 0 {
		return fmt.Errorf("fallback template bank %q is missing or empty", b.Fallback)
	}

	if _, err := placeholder.New(b.Placeholders); err != nil {
		return err
	}
	for category, overrides := range b.CategoryPlaceholders {
		if _, err := placeholder.New(overrides); err != nil {
			return fmt.Errorf("category %q: %w", category, err)
		}
	}

	keys := make([]string, 0, len(b.Templates))
	for k := range b.Templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		known := b.Placeholders
		if overrides, ok := b.CategoryPlaceholders[key]; ok {
			known = known.Merge(overrides)
		}
		for _, tmpl := range b.Templates[key] {
			for _, m := range anyToken.FindAllStringSubmatch(tmpl, -1) {
				if len(known[m[1]]) == 0 {
					return fmt.Errorf("template in %q uses unknown placeholder %q", key, m[1])
				}
			}
		}
	}

	if err := b.Classifier.Validate(); err != nil {
		return err
	}
	for _, phrase := range b.Boost {
		if anyToken.MatchString(phrase) {
			return fmt.Errorf("boost reply contains a placeholder: %q", phrase)
		}
	}
	for category, seeds := range b.Seeds {
		for i, s := range seeds {
			if s.Question == "" || s.Answer == "" {
				return fmt.Errorf("seed %d in %q needs a question and an answer", i, category)
			}
		}
	}
	return nil
}

// SeedCategories returns the seed category names in sorted order.
func (b *Banks) SeedCategories() []string {
	out := make([]string, 0, len(b.Seeds))
	for k := range b.Seeds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
