package search

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/onnwee/nearby/internal/geo"
	"github.com/onnwee/nearby/internal/pipeline"
)

// Result types a request can be narrowed to.
const (
	TypeAll       = "all"
	TypeLocations = "locations"
	TypeGuides    = "guides"
	TypeUsers     = "users"
)

// Query length bounds, counted in runes after trimming.
const (
	MinQueryLength = 2
	MaxQueryLength = 200
)

// Request is a search call.
type Request struct {
	Query       string           `json:"query"`
	Type        string           `json:"type,omitempty"`
	Coordinates *geo.Coordinates `json:"coordinates,omitempty"`

	ViewerID string `json:"-"`
}

// Validate trims and checks the request in place. Invalid coordinates are
// dropped rather than rejected.
func (r *Request) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	switch n := utf8.RuneCountInString(r.Query); {
	case n < MinQueryLength:
		return pipeline.NewValidationError("query", "query must be at least 2 characters")
	case n > MaxQueryLength:
		return pipeline.NewValidationError("query", "query must be at most 200 characters")
	}

	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	switch r.Type {
	case "":
		r.Type = TypeAll
	case TypeAll, TypeLocations, TypeGuides, TypeUsers:
	default:
		return pipeline.NewValidationError("type", "type must be one of all, locations, guides, users")
	}

	if r.Coordinates != nil && !r.Coordinates.Valid() {
		r.Coordinates = nil
	}
	return nil
}

// CacheKey is a canonical form of the request parameters. The viewer is
// not part of it. Coordinates are kept exact since distances and proximity
// scores depend on them.
func (r Request) CacheKey() string {
	var b strings.Builder
	b.WriteString("q=")
	b.WriteString(strings.ToLower(r.Query))
	b.WriteString("&type=")
	b.WriteString(r.Type)
	if r.Coordinates != nil {
		b.WriteString("&at=")
		b.WriteString(strconv.FormatFloat(r.Coordinates.Latitude, 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(r.Coordinates.Longitude, 'f', -1, 64))
	}
	return b.String()
}
