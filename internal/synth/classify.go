package synth

import (
	"errors"
	"fmt"
	"strings"
)

// Rule maps any of its keywords, found in a lower-cased title, to Key.
type Rule struct {
	Key      string   `yaml:"key"`
	Keywords []string `yaml:"keywords"`
}

// Classifier picks a template key for a topic from its title. Rules are
// evaluated in order; the first rule with a matching keyword wins.
type Classifier struct {
	Default string `yaml:"default"`
	Rules   []Rule `yaml:"rules"`
}

// Validate checks that the classifier has a default and well-formed rules.
func (c Classifier) Validate() error {
	if c.Default == "" {
		return errors.New("classifier default is required")
	}
	for i, r := range c.Rules {
		if r.Key == "" || len(r.Keywords) == 0 {
			return fmt.Errorf("classifier rule %d needs a key and keywords", i)
		}
	}
	return nil
}

// Classify returns the key of the first rule matching title, or Default.
func (c Classifier) Classify(title string) string {
	lower := strings.ToLower(title)
	for _, r := range c.Rules {
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return r.Key
			}
		}
	}
	return c.Default
}
