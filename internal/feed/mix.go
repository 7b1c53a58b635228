package feed

import (
	"math"
	"sort"
	"time"
)

// SortMode selects the authoritative order of the mixed feed.
type SortMode string

const (
	SortCreatedAt  SortMode = "createdAt"
	SortPopularity SortMode = "popularity"
	SortTrending   SortMode = "trending"
)

// ParseSortMode validates a sortBy value.
func ParseSortMode(s string) (SortMode, bool) {
	switch SortMode(s) {
	case SortCreatedAt, SortPopularity, SortTrending:
		return SortMode(s), true
	}
	return "", false
}

// Pattern is the interleave ratio: posts, places, people groups per cycle.
var Pattern = [3]int{2, 1, 1}

// Streams are the per-source inputs to the mixer, each already in store
// order.
type Streams struct {
	Posts  []*PostItem
	Places []*PlaceItem
	People []*PeopleGroupItem
}

// Len returns the total number of items across streams.
func (s Streams) Len() int {
	return len(s.Posts) + len(s.Places) + len(s.People)
}

// FilterPrivate drops posts attached to private locations and private
// places. It runs before mixing.
func FilterPrivate(s Streams) Streams {
	out := Streams{
		Posts:  make([]*PostItem, 0, len(s.Posts)),
		Places: make([]*PlaceItem, 0, len(s.Places)),
		People: s.People,
	}
	for _, p := range s.Posts {
		if !p.Private {
			out.Posts = append(out.Posts, p)
		}
	}
	for _, p := range s.Places {
		if !p.Private {
			out.Places = append(out.Places, p)
		}
	}
	return out
}

// Interleave merges the streams following Pattern. An exhausted stream
// stops contributing; the others continue until all are drained. The
// output always has exactly s.Len() items.
func Interleave(s Streams) []Item {
	out := make([]Item, 0, s.Len())
	var pi, li, gi int
	for pi < len(s.Posts) || li < len(s.Places) || gi < len(s.People) {
		for n := 0; n < Pattern[0] && pi < len(s.Posts); n++ {
			out = append(out, s.Posts[pi])
			pi++
		}
		for n := 0; n < Pattern[1] && li < len(s.Places); n++ {
			out = append(out, s.Places[li])
			li++
		}
		for n := 0; n < Pattern[2] && gi < len(s.People); n++ {
			out = append(out, s.People[gi])
			gi++
		}
	}
	return out
}

// Dedupe removes repeated (type, id) pairs keeping the first occurrence.
func Dedupe(items []Item) []Item {
	type key struct {
		t  ItemType
		id string
	}
	seen := make(map[key]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		k := key{it.Kind(), it.Key()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Sort orders items in place. The sort is stable so the interleave order
// breaks ties.
func Sort(items []Item, mode SortMode) {
	newer := func(a, b Item) bool { return a.Created().After(b.Created()) }
	var less func(i, j int) bool
	switch mode {
	case SortPopularity:
		less = func(i, j int) bool {
			a, b := items[i].Score(), items[j].Score()
			if a != b {
				return a > b
			}
			return newer(items[i], items[j])
		}
	case SortTrending:
		less = func(i, j int) bool {
			a, b := trending(items[i]), trending(items[j])
			if a != b {
				return a > b
			}
			return newer(items[i], items[j])
		}
	default:
		less = func(i, j int) bool { return newer(items[i], items[j]) }
	}
	sort.SliceStable(items, less)
}

// Mix runs the full mixing stage: privacy filter, interleave, dedupe and
// the global sort.
func Mix(s Streams, mode SortMode) []Item {
	items := Dedupe(Interleave(FilterPrivate(s)))
	Sort(items, mode)
	return items
}

// Pagination describes the returned page of a mixed feed.
type Pagination struct {
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	Total      int    `json:"total"`
	TotalPages int    `json:"totalPages"`
	HasNext    bool   `json:"hasNext"`
	HasPrev    bool   `json:"hasPrev"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// Paginate truncates the mixed list to limit items. Sources are fetched
// from offset (page-1)*limit, so items is the window that starts at the
// page and total counts the items before it plus the window.
func Paginate(items []Item, page, limit int) ([]Item, Pagination) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	total := (page-1)*limit + len(items)
	if len(items) > limit {
		items = items[:limit]
	}

	p := Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		HasNext:    page*limit < total,
		HasPrev:    page > 1,
	}
	if len(items) > 0 {
		p.NextCursor = items[len(items)-1].Created().UTC().Format(time.RFC3339Nano)
	}
	return items, p
}
