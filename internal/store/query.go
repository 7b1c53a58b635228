package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by FindByID when no record matches.
var ErrNotFound = errors.New("document not found")

// Op is a condition operator.
type Op int

const (
	// OpEq matches a field equal to Value.
	OpEq Op = iota
	// OpIn matches a field equal to any of Values.
	OpIn
	// OpNotIn matches a field absent or equal to none of Values.
	OpNotIn
	// OpBefore matches a timestamp field strictly before Time.
	OpBefore
	// OpMatches matches when any of Fields contains any of Values,
	// case-insensitively.
	OpMatches
	// OpNotEqFold matches a field absent or not equal to Value ignoring case.
	OpNotEqFold
	// OpContains matches a to-many relationship field that includes Value,
	// whether entries are ids or embedded documents.
	OpContains
)

// Condition is a single filter clause. Conditions in a Query are ANDed.
type Condition struct {
	Op     Op
	Field  string
	Fields []string
	Value  string
	Values []string
	Time   time.Time
}

// Eq builds an equality condition.
func Eq(field, value string) Condition {
	return Condition{Op: OpEq, Field: field, Value: value}
}

// In builds a set-membership condition.
func In(field string, values []string) Condition {
	return Condition{Op: OpIn, Field: field, Values: values}
}

// NotIn builds a set-exclusion condition.
func NotIn(field string, values []string) Condition {
	return Condition{Op: OpNotIn, Field: field, Values: values}
}

// Before builds a timestamp upper bound (exclusive).
func Before(field string, t time.Time) Condition {
	return Condition{Op: OpBefore, Field: field, Time: t}
}

// Matches builds a case-insensitive substring match across fields.
func Matches(fields []string, terms []string) Condition {
	return Condition{Op: OpMatches, Fields: fields, Values: terms}
}

// NotEqualFold excludes records whose field equals value ignoring case.
func NotEqualFold(field, value string) Condition {
	return Condition{Op: OpNotEqFold, Field: field, Value: value}
}

// Contains builds a to-many relationship membership condition.
func Contains(field, value string) Condition {
	return Condition{Op: OpContains, Field: field, Value: value}
}

// Query describes a collection read. Sort is a field name optionally
// prefixed with "-" for descending order; the default is "-createdAt".
// Page is 1-based. A Limit of 0 means no limit. Skip, when positive, is an
// explicit offset and takes precedence over Page.
type Query struct {
	Collection string
	Where      []Condition
	Sort       string
	Page       int
	Skip       int
	Limit      int
}

// Offset returns the number of records skipped for the query.
func (q Query) Offset() int {
	if q.Skip > 0 {
		return q.Skip
	}
	if q.Page <= 1 || q.Limit <= 0 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

func (q Query) sortField() (field string, desc bool) {
	s := strings.TrimSpace(q.Sort)
	if s == "" {
		return "createdAt", true
	}
	if strings.HasPrefix(s, "-") {
		return s[1:], true
	}
	return s, false
}

// DocumentStore is the read interface the pipelines use against the
// content database. Implementations must be safe for concurrent use.
type DocumentStore interface {
	// Find returns the records matching q in sort order.
	Find(ctx context.Context, q Query) ([]Document, error)

	// FindByID returns a single record or ErrNotFound.
	FindByID(ctx context.Context, collection, id string) (Document, error)
}

// FindByIDs fetches the records with the given ids from collection and
// returns them keyed by id. Missing ids are simply absent from the map.
func FindByIDs(ctx context.Context, s DocumentStore, collection string, ids []string) (map[string]Document, error) {
	out := make(map[string]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	docs, err := s.Find(ctx, Query{Collection: collection, Where: []Condition{In("id", dedupe(ids))}})
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		out[d.ID()] = d
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
