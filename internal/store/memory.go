package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-memory DocumentStore used for development seeds
// and tests. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
	index       map[string]map[string]int // collection -> id -> position
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		collections: make(map[string][]Document),
		index:       make(map[string]map[string]int),
	}
}

// ReadSeedFile parses a JSON seed file shaped as
// {"posts": [...], "locations": [...], ...}.
func ReadSeedFile(path string) (map[string][]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed map[string][]Document
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return seed, nil
}

// LoadSeedFile builds an in-memory store from a seed file.
func LoadSeedFile(path string) (*InMemoryStore, error) {
	seed, err := ReadSeedFile(path)
	if err != nil {
		return nil, err
	}

	s := NewInMemoryStore()
	for collection, docs := range seed {
		for _, d := range docs {
			s.Put(collection, d)
		}
	}
	return s, nil
}

// Put inserts or replaces a document. A document without an id is assigned
// a new UUID. The stored copy is returned.
func (s *InMemoryStore) Put(collection string, doc Document) Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := doc.Clone()
	id := stored.ID()
	if id == "" {
		id = uuid.New().String()
	}
	stored["id"] = id

	idx, ok := s.index[collection]
	if !ok {
		idx = make(map[string]int)
		s.index[collection] = idx
	}
	if pos, exists := idx[id]; exists {
		s.collections[collection][pos] = stored
	} else {
		idx[id] = len(s.collections[collection])
		s.collections[collection] = append(s.collections[collection], stored)
	}
	return stored.Clone()
}

// Find returns matching documents sorted and paginated per q.
func (s *InMemoryStore) Find(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var matched []Document
	for _, d := range s.collections[q.Collection] {
		if matchesAll(d, q.Where) {
			matched = append(matched, d.Clone())
		}
	}
	s.mu.RUnlock()

	field, desc := q.sortField()
	sort.SliceStable(matched, func(i, j int) bool {
		return less(matched[i], matched[j], field, desc)
	})

	offset := q.Offset()
	if offset >= len(matched) {
		return []Document{}, nil
	}
	matched = matched[offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// FindByID returns the document with id or ErrNotFound.
func (s *InMemoryStore) FindByID(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.collections[collection][pos].Clone(), nil
}

// less orders by field with id as the tie-breaker so pages are stable.
func less(a, b Document, field string, desc bool) bool {
	if field == "createdAt" {
		ta, tb := a.CreatedAt(), b.CreatedAt()
		if !ta.Equal(tb) {
			if desc {
				return ta.After(tb)
			}
			return ta.Before(tb)
		}
		return a.ID() < b.ID()
	}

	fa, okA := a.Float(field)
	fb, okB := b.Float(field)
	if okA || okB {
		if fa != fb {
			if desc {
				return fa > fb
			}
			return fa < fb
		}
		return a.ID() < b.ID()
	}

	sa, sb := a.String(field), b.String(field)
	if sa != sb {
		if desc {
			return sa > sb
		}
		return sa < sb
	}
	return a.ID() < b.ID()
}

func matchesAll(d Document, where []Condition) bool {
	for _, c := range where {
		if !matches(d, c) {
			return false
		}
	}
	return true
}

func matches(d Document, c Condition) bool {
	switch c.Op {
	case OpEq:
		return fieldString(d, c.Field) == c.Value
	case OpIn:
		v := fieldString(d, c.Field)
		for _, want := range c.Values {
			if v == want {
				return true
			}
		}
		return false
	case OpNotIn:
		v := fieldString(d, c.Field)
		for _, excluded := range c.Values {
			if v == excluded {
				return false
			}
		}
		return true
	case OpBefore:
		var t time.Time
		if c.Field == "createdAt" {
			t = d.CreatedAt()
		} else {
			parsed, ok := d.Time(c.Field)
			if !ok {
				return false
			}
			t = parsed
		}
		return t.Before(c.Time)
	case OpMatches:
		for _, f := range c.Fields {
			hay := strings.ToLower(fieldText(d, f))
			if hay == "" {
				continue
			}
			for _, term := range c.Values {
				term = strings.ToLower(strings.TrimSpace(term))
				if term != "" && strings.Contains(hay, term) {
					return true
				}
			}
		}
		return false
	case OpNotEqFold:
		return !strings.EqualFold(fieldString(d, c.Field), c.Value)
	case OpContains:
		for _, id := range d.RefIDs(c.Field) {
			if id == c.Value {
				return true
			}
		}
		return false
	}
	return false
}

// fieldString resolves a field for equality tests. Relationship fields
// compare by id so "author" matches both "u1" and {"id":"u1"}.
func fieldString(d Document, field string) string {
	if field == "id" {
		return d.ID()
	}
	if s := d.String(field); s != "" {
		return s
	}
	id, _ := d.Ref(field)
	return id
}

// fieldText flattens a field into searchable text, joining array entries.
func fieldText(d Document, field string) string {
	if s := d.String(field); s != "" {
		return s
	}
	items := d.Slice(field)
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			parts = append(parts, v)
		case map[string]any:
			parts = append(parts, Document(v).FirstString("name", "title", "label", "tag", "slug", "value"))
		}
	}
	return strings.Join(parts, " ")
}
