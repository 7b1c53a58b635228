// Package store provides access to the content collections (posts, locations,
// users, guides) backing the feed and search pipelines. Records are schemaless
// documents as produced by the CMS; relationship fields may hold either an id
// or an embedded document.
package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/nearby/internal/geo"
)

// Collection names used by the pipelines.
const (
	CollectionPosts     = "posts"
	CollectionLocations = "locations"
	CollectionUsers     = "users"
	CollectionGuides    = "guides"
	CollectionBlocks    = "user-blocks"
)

// Document is a raw record. Accessors never panic; a missing or mistyped
// field yields the zero value.
type Document map[string]any

// Lookup resolves a dotted path such as "location.privacy" through embedded
// documents.
func (d Document) Lookup(path string) (any, bool) {
	if d == nil {
		return nil, false
	}
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// ID returns the record id from "id" or "_id". Numeric ids are formatted
// without a fractional part.
func (d Document) ID() string {
	for _, key := range []string{"id", "_id"} {
		if v, ok := d[key]; ok {
			if s := scalarString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// String returns the string at path, or "".
func (d Document) String(path string) string {
	v, ok := d.Lookup(path)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// FirstString returns the first non-empty string among paths.
func (d Document) FirstString(paths ...string) string {
	for _, p := range paths {
		if s := strings.TrimSpace(d.String(p)); s != "" {
			return s
		}
	}
	return ""
}

// Float returns the number at path. Numeric strings are accepted.
func (d Document) Float(path string) (float64, bool) {
	v, ok := d.Lookup(path)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Int returns the number at path truncated to an int, or 0.
func (d Document) Int(path string) int {
	f, ok := d.Float(path)
	if !ok {
		return 0
	}
	return int(f)
}

// Bool returns the boolean at path. The strings "true"/"1"/"yes" count as true.
func (d Document) Bool(path string) bool {
	v, ok := d.Lookup(path)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true
		}
	case float64:
		return b != 0
	}
	return false
}

// Time parses the timestamp at path. RFC3339 strings, time.Time values and
// unix milliseconds are accepted.
func (d Document) Time(path string) (time.Time, bool) {
	v, ok := d.Lookup(path)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	default:
		if ms, ok := toFloat(v); ok && ms > 0 {
			return time.UnixMilli(int64(ms)).UTC(), true
		}
	}
	return time.Time{}, false
}

// CreatedAt returns the record creation time or the unix epoch when it is
// missing or unparseable, so ordering by it is always defined.
func (d Document) CreatedAt() time.Time {
	if t, ok := d.Time("createdAt"); ok {
		return t
	}
	return time.Unix(0, 0).UTC()
}

// Doc returns the embedded document at path.
func (d Document) Doc(path string) (Document, bool) {
	v, ok := d.Lookup(path)
	if !ok {
		return nil, false
	}
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	return Document(m), true
}

// Slice returns the array at path, or nil.
func (d Document) Slice(path string) []any {
	v, ok := d.Lookup(path)
	if !ok {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	if s, ok := v.([]string); ok {
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	}
	return nil
}

// Ref returns a relationship field. A string or number yields an id; an
// embedded object yields both its id and the document itself.
func (d Document) Ref(path string) (string, Document) {
	v, ok := d.Lookup(path)
	if !ok {
		return "", nil
	}
	if m, ok := asMap(v); ok {
		doc := Document(m)
		return doc.ID(), doc
	}
	return scalarString(v), nil
}

// RefIDs returns the ids of a to-many relationship field regardless of
// whether entries are ids or embedded documents.
func (d Document) RefIDs(path string) []string {
	items := d.Slice(path)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if m, ok := asMap(item); ok {
			if id := Document(m).ID(); id != "" {
				ids = append(ids, id)
			}
			continue
		}
		if s := scalarString(item); s != "" {
			ids = append(ids, s)
		}
	}
	return ids
}

// Coordinates extracts a point stored as {latitude, longitude}, {lat, lng}
// or a GeoJSON point ([lng, lat] or {"type":"Point","coordinates":[lng, lat]}).
// Invalid points return nil.
func (d Document) Coordinates(path string) *geo.Coordinates {
	v, ok := d.Lookup(path)
	if !ok {
		return nil
	}
	var c geo.Coordinates
	switch p := v.(type) {
	case []any:
		if len(p) != 2 {
			return nil
		}
		lng, ok1 := toFloat(p[0])
		lat, ok2 := toFloat(p[1])
		if !ok1 || !ok2 {
			return nil
		}
		c = geo.Coordinates{Latitude: lat, Longitude: lng}
	default:
		m, ok := asMap(v)
		if !ok {
			return nil
		}
		doc := Document(m)
		if _, ok := doc["coordinates"]; ok {
			return doc.Coordinates("coordinates")
		}
		lat, ok1 := doc.Float("latitude")
		if !ok1 {
			lat, ok1 = doc.Float("lat")
		}
		lng, ok2 := doc.Float("longitude")
		if !ok2 {
			lng, ok2 = doc.Float("lng")
		}
		if !ok1 || !ok2 {
			return nil
		}
		c = geo.Coordinates{Latitude: lat, Longitude: lng}
	}
	if !c.Valid() {
		return nil
	}
	return &c
}

// Clone returns a shallow copy of d.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

// Scalar formats a string or numeric value as text, or returns "".
func Scalar(v any) string {
	return scalarString(v)
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		if s == math.Trunc(s) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case json.Number:
		return s.String()
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// GoString keeps %#v output down to the record id.
func (d Document) GoString() string {
	return fmt.Sprintf("store.Document{id:%q}", d.ID())
}
