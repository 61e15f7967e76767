// Package registry persists the synthetic identities murmur acts as and
// chooses among them when attributing content.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrDuplicateHandle is returned when a handle is already registered.
var ErrDuplicateHandle = errors.New("handle already registered")

// Record is one synthetic identity. The JSON keys match the identity files
// written by earlier provisioning tools.
type Record struct {
	Handle           string `json:"username"`
	DisplayName      string `json:"name"`
	CredentialSecret string `json:"password"`
	Email            string `json:"email"`
}

// Validate checks the required fields.
func (r Record) Validate() error {
	if r.Handle == "" {
		return errors.New("handle is required")
	}
	if len([]rune(r.Handle)) > MaxHandleLength {
		return fmt.Errorf("handle %q exceeds %d characters", r.Handle, MaxHandleLength)
	}
	return nil
}

// Registry is the set of known identities, keyed by handle.
type Registry struct {
	records []Record
	index   map[string]int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Load reads a registry file. A missing file yields an empty registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}

	r := New()
	for i, rec := range records {
		if err := r.Add(rec); err != nil {
			return nil, fmt.Errorf("registry %s entry %d: %w", path, i, err)
		}
	}
	return r, nil
}

// Save writes the registry as indented JSON. The file is replaced atomically.
func (r *Registry) Save(path string) error {
	records := r.Records()
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

// Add registers rec. Handles are unique.
func (r *Registry) Add(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, ok := r.index[rec.Handle]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandle, rec.Handle)
	}
	r.index[rec.Handle] = len(r.records)
	r.records = append(r.records, rec)
	return nil
}

// Has reports whether handle is registered.
func (r *Registry) Has(handle string) bool {
	_, ok := r.index[handle]
	return ok
}

// Get returns the record for handle.
func (r *Registry) Get(handle string) (Record, bool) {
	i, ok := r.index[handle]
	if !ok {
		return Record{}, false
	}
	return r.records[i], true
}

// Len returns the number of identities.
func (r *Registry) Len() int {
	return len(r.records)
}

// Records returns a copy of all records in insertion order.
func (r *Registry) Records() []Record {
	return append([]Record(nil), r.records...)
}

// Handles returns the registered handles, sorted.
func (r *Registry) Handles() []string {
	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Handle)
	}
	sort.Strings(out)
	return out
}
