// Package catalog loads the test-universe snapshot: every known test id with
// its capability tags.
package catalog

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/me/testfleet/pkg/model"
)

// snapshot is the on-disk document. JSON snapshots parse as YAML too.
type snapshot struct {
	Tests []model.TestRecord `yaml:"tests"`
}

// Universe is an immutable, id-indexed set of test records.
type Universe struct {
	records map[string]*model.TestRecord
}

// New builds a Universe from records. Duplicate ids are rejected.
func New(records []model.TestRecord) (*Universe, error) {
	u := &Universe{records: make(map[string]*model.TestRecord, len(records))}
	for i := range records {
		rec := records[i]
		if rec.ID == "" {
			return nil, fmt.Errorf("test record %d: empty id", i)
		}
		if _, dup := u.records[rec.ID]; dup {
			return nil, fmt.Errorf("test record %d: duplicate id %q", i, rec.ID)
		}
		rec.Tags = append([]string(nil), rec.Tags...)
		rec.ComponentTags = append([]string(nil), rec.ComponentTags...)
		u.records[rec.ID] = &rec
	}
	return u, nil
}

// Load reads a YAML or JSON snapshot file.
func Load(path string) (*Universe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open universe %s: %w", path, err)
	}
	defer f.Close()

	u, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("universe %s: %w", path, err)
	}
	return u, nil
}

// Read parses a snapshot document from r.
func Read(r io.Reader) (*Universe, error) {
	var doc snapshot
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return New(nil)
		}
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return New(doc.Tests)
}

// Get returns the record for id, or nil.
func (u *Universe) Get(id string) *model.TestRecord {
	return u.records[id]
}

// Has reports whether id is part of the universe.
func (u *Universe) Has(id string) bool {
	_, ok := u.records[id]
	return ok
}

// Len returns the number of records.
func (u *Universe) Len() int {
	return len(u.records)
}

// IDs returns every test id in sorted order.
func (u *Universe) IDs() []string {
	ids := make([]string, 0, len(u.records))
	for id := range u.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Records returns every record in id order.
func (u *Universe) Records() []*model.TestRecord {
	out := make([]*model.TestRecord, 0, len(u.records))
	for _, id := range u.IDs() {
		out = append(out, u.records[id])
	}
	return out
}
