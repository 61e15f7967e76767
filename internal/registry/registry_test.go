package registry

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dyluth/murmur/pkg/forum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "created_users.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestLoad_LegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "created_users.json")
	legacy := `[
  {"username": "alexsmiads", "name": "Alex Smith", "email": "alexsmiads@example.com", "password": "TempPass12345!", "title": "PPC Manager", "company": "Freelance"},
  {"username": "priyapatpro", "name": "Priya Patel", "email": "priyapatpro@example.com", "password": "TempPass54321!"}
]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"alexsmiads", "priyapatpro"}, r.Handles())

	rec, ok := r.Get("alexsmiads")
	require.True(t, ok)
	assert.Equal(t, "Alex Smith", rec.DisplayName)
	assert.Equal(t, "TempPass12345!", rec.CredentialSecret)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err := Load(bad)
	assert.Error(t, err)

	dup := filepath.Join(dir, "dup.json")
	require.NoError(t, os.WriteFile(dup, []byte(`[{"username":"a"},{"username":"a"}]`), 0644))
	_, err = Load(dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateHandle))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identities.json")
	r := New()
	require.NoError(t, r.Add(Record{Handle: "alexsmi", DisplayName: "Alex Smith", CredentialSecret: "s", Email: "a@example.com"}))
	require.NoError(t, r.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"username": "alexsmi"`)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, r.Records(), loaded.Records())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestAdd_Validation(t *testing.T) {
	r := New()
	assert.Error(t, r.Add(Record{}))
	assert.Error(t, r.Add(Record{Handle: strings.Repeat("x", 21)}))
	require.NoError(t, r.Add(Record{Handle: "a"}))
	assert.ErrorIs(t, r.Add(Record{Handle: "a"}), ErrDuplicateHandle)
	assert.True(t, r.Has("a"))
}

func TestGenerate(t *testing.T) {
	names := Names{
		FirstNames: []string{"Alexandria"},
		LastNames:  []string{"Montgomery"},
		Suffixes:   []string{"_marketing"},
	}
	existing := map[string]bool{"alexandriamonmarketi": true}

	recs, err := Generate(15, names, rand.New(rand.NewPCG(1, 2)), func(h string) bool { return existing[h] })
	require.NoError(t, err)
	require.Len(t, recs, 15)

	seen := map[string]bool{}
	for _, rec := range recs {
		assert.LessOrEqual(t, len(rec.Handle), MaxHandleLength)
		assert.NotContains(t, rec.Handle, "_")
		assert.False(t, seen[rec.Handle], "duplicate handle %s", rec.Handle)
		assert.False(t, existing[rec.Handle], "handle %s already taken", rec.Handle)
		seen[rec.Handle] = true
		assert.Equal(t, "Alexandria Montgomery", rec.DisplayName)
		assert.Equal(t, rec.Handle+"@example.com", rec.Email)
		assert.NotEmpty(t, rec.CredentialSecret)
		assert.NoError(t, rec.Validate())
	}
	assert.Equal(t, "alexandriamonmarket1", recs[0].Handle)
}

func TestGenerate_Deterministic(t *testing.T) {
	names := Names{FirstNames: []string{"Alex", "Sam"}, LastNames: []string{"Smith", "Lee"}, Suffixes: []string{"Pro", ""}}
	a, err := Generate(5, names, rand.New(rand.NewPCG(4, 4)), nil)
	require.NoError(t, err)
	b, err := Generate(5, names, rand.New(rand.NewPCG(4, 4)), nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = Generate(1, Names{}, rand.New(rand.NewPCG(1, 1)), nil)
	assert.Error(t, err)
}

func TestPool_PickN(t *testing.T) {
	p := NewPool([]Record{{Handle: "a"}, {Handle: "b"}, {Handle: "c"}}, "", nil)
	rng := rand.New(rand.NewPCG(1, 1))

	picked := p.PickN(2, rng)
	assert.Len(t, picked, 2)
	assert.NotEqual(t, picked[0], picked[1])
	assert.Len(t, p.PickN(10, rng), 3)
	assert.Equal(t, forum.DefaultIdentity, p.Default())

	empty := NewPool(nil, "system", nil)
	assert.Equal(t, []string{"system", "system"}, empty.PickN(2, rng))
	assert.Equal(t, "system", empty.Pick(rng))
}

func TestPool_AttributeDegradesOnPermissionDenied(t *testing.T) {
	p := NewPool([]Record{{Handle: "alice"}}, "system", nil)
	var calls []string
	fn := func(_ context.Context, actingAs string) error {
		calls = append(calls, actingAs)
		if actingAs != "system" {
			return &forum.Failure{Kind: forum.KindPermissionDenied, Op: forum.OpCreate, Target: "/posts.json", StatusCode: 403}
		}
		return nil
	}

	used, err := p.Attribute(context.Background(), "alice", fn)
	require.NoError(t, err)
	assert.Equal(t, "system", used)
	assert.True(t, p.Degraded())
	assert.Equal(t, []string{"alice", "system"}, calls)

	used, err = p.Attribute(context.Background(), "alice", fn)
	require.NoError(t, err)
	assert.Equal(t, "system", used)
	assert.Equal(t, []string{"alice", "system", "system"}, calls, "degraded pool skips impersonation")
	assert.Equal(t, "system", p.Pick(rand.New(rand.NewPCG(1, 1))))
}

func TestPool_AttributeKeepsOtherErrors(t *testing.T) {
	p := NewPool([]Record{{Handle: "alice"}}, "system", nil)
	boom := &forum.Failure{Kind: forum.KindOther, StatusCode: 500}

	used, err := p.Attribute(context.Background(), "alice", func(context.Context, string) error { return boom })
	assert.Equal(t, "alice", used)
	assert.ErrorIs(t, err, boom)
	assert.False(t, p.Degraded())

	used, err = p.Attribute(context.Background(), "system", func(context.Context, string) error {
		return &forum.Failure{Kind: forum.KindPermissionDenied}
	})
	assert.Equal(t, "system", used)
	assert.True(t, forum.IsPermissionDenied(err))
	assert.False(t, p.Degraded(), "a refusal for the default identity is not an impersonation failure")
}
