package registry

import (
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MaxHandleLength is the longest handle the forum accepts.
const MaxHandleLength = 20

// Names are the banks synthetic identities are drawn from.
type Names struct {
	FirstNames  []string `yaml:"first_names"`
	LastNames   []string `yaml:"last_names"`
	Suffixes    []string `yaml:"suffixes"`
	EmailDomain string   `yaml:"email_domain"`
}

// Generate creates n identities whose handles are unique among themselves
// and not taken according to taken. Handles are first name, the first three
// letters of the last name and a suffix, lower-cased with underscores
// removed, de-duplicated with a counter and capped at MaxHandleLength.
func Generate(n int, names Names, rng *rand.Rand, taken func(string) bool) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	if len(names.FirstNames) == 0 || len(names.LastNames) == 0 {
		return nil, errors.New("first and last name banks are required")
	}
	suffixes := names.Suffixes
	if len(suffixes) == 0 {
		suffixes = []string{""}
	}
	domain := names.EmailDomain
	if domain == "" {
		domain = "example.com"
	}
	if taken == nil {
		taken = func(string) bool { return false }
	}

	used := make(map[string]bool, n)
	inUse := func(h string) bool { return used[h] || taken(h) }

	out := make([]Record, 0, n)
	for len(out) < n {
		first := names.FirstNames[rng.IntN(len(names.FirstNames))]
		last := names.LastNames[rng.IntN(len(names.LastNames))]
		suffix := suffixes[rng.IntN(len(suffixes))]

		handle := uniqueHandle(baseHandle(first, last, suffix), inUse)
		used[handle] = true

		out = append(out, Record{
			Handle:           handle,
			DisplayName:      first + " " + last,
			CredentialSecret: secret(rng),
			Email:            handle + "@" + domain,
		})
	}
	return out, nil
}

func baseHandle(first, last, suffix string) string {
	lastRunes := []rune(strings.ToLower(last))
	if len(lastRunes) > 3 {
		lastRunes = lastRunes[:3]
	}
	h := strings.ToLower(first) + string(lastRunes) + suffix
	h = strings.ReplaceAll(h, "_", "")
	h = strings.ReplaceAll(h, " ", "")
	return truncate(h, MaxHandleLength)
}

// uniqueHandle appends the smallest counter that makes base unused, trimming
// base so the result still fits MaxHandleLength.
func uniqueHandle(base string, inUse func(string) bool) string {
	if !inUse(base) {
		return base
	}
	for counter := 1; ; counter++ {
		c := strconv.Itoa(counter)
		candidate := truncate(base, MaxHandleLength-len(c)) + c
		if !inUse(candidate) {
			return candidate
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// secret derives a credential from a random UUID drawn from rng so seeded
// runs are reproducible.
func secret(rng *rand.Rand) string {
	u, err := uuid.NewRandomFromReader(randReader{rng})
	if err != nil {
		u = uuid.New()
	}
	return "Mm!" + strings.ReplaceAll(u.String(), "-", "")[:17]
}

type randReader struct {
	rng *rand.Rand
}

func (r randReader) Read(p []byte) (int, error) {
	var buf [8]byte
	for i := 0; i < len(p); i += 8 {
		binary.LittleEndian.PutUint64(buf[:], r.rng.Uint64())
		copy(p[i:], buf[:])
	}
	return len(p), nil
}
