package synth

import (
	"math/rand/v2"
	"strings"
)

// ImageMarker is the alt text of images embedded by AppendImage.
const ImageMarker = "Relevant Screenshot"

// ImageSet holds image sources per category. A source is either an absolute
// URL or a local file path that must be uploaded before embedding.
type ImageSet struct {
	Default    []string            `yaml:"default"`
	Categories map[string][]string `yaml:"categories"`
}

// Pick chooses an image source for category, falling back to Default.
func (s ImageSet) Pick(category string, rng *rand.Rand) (string, bool) {
	pool := s.Default
	if key := lookupKey(mapKeys(s.Categories), category); key != "" && len(s.Categories[key]) > 0 {
		pool = s.Categories[key]
	}
	if len(pool) == 0 {
		return "", false
	}
	return pool[rng.IntN(len(pool))], true
}

// IsRemote reports whether source is a URL that can be embedded directly.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") ||
		strings.HasPrefix(source, "https://") ||
		strings.HasPrefix(source, "upload://") ||
		strings.HasPrefix(source, "/uploads/")
}

// AppendImage returns text with an image embed appended. text is always a
// prefix of the result.
func AppendImage(text, url string) string {
	return text + "\n\n![" + ImageMarker + "](" + url + ")"
}
