package feed

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/nearby/internal/pipeline"
)

// FeedType selects which posts a feed draws from.
type FeedType string

const (
	FeedPersonalized FeedType = "personalized"
	FeedDiscover     FeedType = "discover"
	FeedPopular      FeedType = "popular"
	FeedLatest       FeedType = "latest"
	FeedFollowing    FeedType = "following"
)

// Request limits.
const (
	DefaultLimit = 20
	MaxLimit     = 50
	MaxCategory  = 100
)

// Request is a validated feed request.
type Request struct {
	ViewerID     string
	Page         int
	Limit        int
	FeedType     FeedType
	Category     string
	SortBy       SortMode
	LastSeen     time.Time
	IncludeTypes []ItemType
}

// Includes reports whether t was requested.
func (r Request) Includes(t ItemType) bool {
	for _, it := range r.IncludeTypes {
		if it == t {
			return true
		}
	}
	return false
}

// ParseRequest validates query parameters. Absent parameters take their
// defaults; present but invalid ones yield a *pipeline.ValidationError.
func ParseRequest(q url.Values) (Request, error) {
	req := Request{
		Page:         1,
		Limit:        DefaultLimit,
		FeedType:     FeedPersonalized,
		SortBy:       SortCreatedAt,
		IncludeTypes: append([]ItemType(nil), AllTypes...),
	}

	if v := strings.TrimSpace(q.Get("page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return req, pipeline.NewValidationError("page", "must be a positive integer")
		}
		req.Page = n
	}

	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxLimit {
			return req, pipeline.NewValidationError("limit", "must be between 1 and 50")
		}
		req.Limit = n
	}

	if v := strings.TrimSpace(q.Get("feedType")); v != "" {
		switch FeedType(v) {
		case FeedPersonalized, FeedDiscover, FeedPopular, FeedLatest, FeedFollowing:
			req.FeedType = FeedType(v)
		default:
			return req, pipeline.NewValidationError("feedType", "must be one of personalized, discover, popular, latest, following")
		}
	}

	if v := strings.TrimSpace(q.Get("sortBy")); v != "" {
		mode, ok := ParseSortMode(v)
		if !ok {
			return req, pipeline.NewValidationError("sortBy", "must be one of createdAt, popularity, trending")
		}
		req.SortBy = mode
	} else if req.FeedType == FeedPopular {
		req.SortBy = SortPopularity
	}

	if v := strings.TrimSpace(q.Get("category")); v != "" {
		if len(v) > MaxCategory {
			return req, pipeline.NewValidationError("category", "is too long")
		}
		req.Category = v
	}

	if v := strings.TrimSpace(q.Get("lastSeen")); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return req, pipeline.NewValidationError("lastSeen", "must be an RFC3339 timestamp")
		}
		req.LastSeen = t.UTC()
	}

	if v := strings.TrimSpace(q.Get("includeTypes")); v != "" {
		var types []ItemType
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, ok := ParseItemType(part)
			if !ok {
				return req, pipeline.NewValidationError("includeTypes", "unknown type "+strconv.Quote(part))
			}
			if !containsType(types, t) {
				types = append(types, t)
			}
		}
		if len(types) == 0 {
			return req, pipeline.NewValidationError("includeTypes", "must name at least one type")
		}
		req.IncludeTypes = types
	}

	return req, nil
}

// CacheKey returns the canonical form of the request parameters, with
// the viewer identity kept separate.
func (r Request) CacheKey() string {
	types := make([]string, len(r.IncludeTypes))
	for i, t := range r.IncludeTypes {
		types[i] = string(t)
	}
	v := url.Values{}
	v.Set("page", strconv.Itoa(r.Page))
	v.Set("limit", strconv.Itoa(r.Limit))
	v.Set("feedType", string(r.FeedType))
	v.Set("sortBy", string(r.SortBy))
	v.Set("category", r.Category)
	v.Set("includeTypes", strings.Join(types, ","))
	if !r.LastSeen.IsZero() {
		v.Set("lastSeen", r.LastSeen.Format(time.RFC3339Nano))
	}
	return v.Encode()
}

func containsType(types []ItemType, t ItemType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
