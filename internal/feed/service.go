package feed

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/nearby/internal/auth"
	"github.com/onnwee/nearby/internal/pipeline"
	"github.com/onnwee/nearby/internal/store"
)

// Endpoint labels feed metrics.
const Endpoint = "feed"

// Source names used in metrics and response metadata.
const (
	SourcePosts  = "posts"
	SourcePlaces = "places"
	SourcePeople = "people"
)

// HiddenStatuses are record states never shown to readers.
var HiddenStatuses = []string{"draft", "archived", "removed", "pending", "rejected"}

// Config tunes the feed pipeline.
type Config struct {
	FetchTimeout time.Duration // per-source fetch deadline
	Overfetch    int           // per-source limit multiplier
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{FetchTimeout: 3 * time.Second, Overfetch: 2}
}

// SourceMeta reports what one source contributed.
type SourceMeta struct {
	Count   int    `json:"count"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Meta describes how a feed page was produced.
type Meta struct {
	FeedType     FeedType              `json:"feedType"`
	SortBy       SortMode              `json:"sortBy"`
	IncludeTypes []ItemType            `json:"includeTypes"`
	Sources      map[string]SourceMeta `json:"sources"`
	GeneratedAt  time.Time             `json:"generatedAt"`
}

// Response is the feed payload.
type Response struct {
	Posts      Items      `json:"posts"`
	Pagination Pagination `json:"pagination"`
	Meta       Meta       `json:"meta"`
}

// Degraded reports whether any source failed or timed out.
func (r *Response) Degraded() bool {
	for _, m := range r.Meta.Sources {
		if m.Error != "" {
			return true
		}
	}
	return false
}

// Fallback returns the empty-but-valid payload served when the pipeline
// fails outright.
func Fallback(req Request) *Response {
	limit := req.Limit
	if limit < 1 {
		limit = DefaultLimit
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	return &Response{
		Posts:      Items{},
		Pagination: Pagination{Page: page, Limit: limit, HasPrev: page > 1},
		Meta: Meta{
			FeedType:     req.FeedType,
			SortBy:       req.SortBy,
			IncludeTypes: req.IncludeTypes,
			Sources:      map[string]SourceMeta{},
			GeneratedAt:  time.Now().UTC(),
		},
	}
}

// Service assembles feed pages.
type Service struct {
	store      store.DocumentStore
	blocks     store.BlockLookup
	profiles   *auth.ProfileLoader
	normalizer *Normalizer
	people     *PeopleSuggester
	metrics    *pipeline.Metrics
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
}

// NewService creates a feed Service. metrics may be nil.
func NewService(s store.DocumentStore, blocks store.BlockLookup, n *Normalizer, people *PeopleSuggester, cfg Config, metrics *pipeline.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Overfetch < 1 {
		cfg.Overfetch = 1
	}
	return &Service{
		store:      s,
		blocks:     blocks,
		profiles:   auth.NewProfileLoader(s),
		normalizer: n,
		people:     people,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Feed builds one page. Source failures degrade to empty streams; the
// returned error is reserved for failures of the pipeline itself.
func (s *Service) Feed(ctx context.Context, req Request) (*Response, error) {
	viewer, blocks, blocksErr := auth.LoadContext(ctx, s.profiles, s.blocks, req.ViewerID, s.logger)

	var (
		posts  = pipeline.Skip[*PostItem](SourcePosts)
		places = pipeline.Skip[*PlaceItem](SourcePlaces)
		people = pipeline.Skip[*PeopleGroupItem](SourcePeople)
	)

	var g errgroup.Group
	if req.Includes(TypePost) {
		g.Go(func() error {
			posts = pipeline.Fetch(ctx, SourcePosts, s.cfg.FetchTimeout, func(ctx context.Context) ([]*PostItem, error) {
				return s.fetchPosts(ctx, req, viewer, blocks)
			})
			return nil
		})
	}
	if req.Includes(TypePlace) {
		g.Go(func() error {
			places = pipeline.Fetch(ctx, SourcePlaces, s.cfg.FetchTimeout, func(ctx context.Context) ([]*PlaceItem, error) {
				return s.fetchPlaces(ctx, req, viewer)
			})
			return nil
		})
	}
	if req.Includes(TypePeople) {
		g.Go(func() error {
			people = pipeline.Fetch(ctx, SourcePeople, s.cfg.FetchTimeout, func(ctx context.Context) ([]*PeopleGroupItem, error) {
				if blocksErr != nil {
					return nil, blocksErr
				}
				return s.fetchPeople(ctx, req, viewer, blocks)
			})
			return nil
		})
	}
	_ = g.Wait()

	streams := Streams{
		Posts:  posts.OrEmpty(ctx, s.logger, s.metrics, Endpoint),
		Places: places.OrEmpty(ctx, s.logger, s.metrics, Endpoint),
		People: people.OrEmpty(ctx, s.logger, s.metrics, Endpoint),
	}

	mixed := Mix(streams, req.SortBy)
	page, pagination := Paginate(mixed, req.Page, req.Limit)

	return &Response{
		Posts:      Items(page),
		Pagination: pagination,
		Meta: Meta{
			FeedType:     req.FeedType,
			SortBy:       req.SortBy,
			IncludeTypes: req.IncludeTypes,
			Sources: map[string]SourceMeta{
				SourcePosts:  sourceMeta(posts),
				SourcePlaces: sourceMeta(places),
				SourcePeople: sourceMeta(people),
			},
			GeneratedAt: s.now().UTC(),
		},
	}, nil
}

func sourceMeta[T any](r pipeline.Result[T]) SourceMeta {
	m := SourceMeta{Count: len(r.Values), Skipped: r.Skipped}
	if r.Err != nil {
		m.Count = 0
		m.Error = r.Outcome()
	}
	return m
}

func (s *Service) sourceQuery(collection string, req Request) store.Query {
	where := []store.Condition{store.NotIn("status", HiddenStatuses)}
	if req.Category != "" {
		where = append(where, store.Matches([]string{"categories", "tags"}, []string{req.Category}))
	}
	if !req.LastSeen.IsZero() {
		where = append(where, store.Before("createdAt", req.LastSeen))
	}
	return store.Query{
		Collection: collection,
		Where:      where,
		Skip:       (req.Page - 1) * req.Limit,
		Limit:      req.Limit * s.cfg.Overfetch,
	}
}

func (s *Service) fetchPosts(ctx context.Context, req Request, viewer *auth.Viewer, blocks store.BlockSets) ([]*PostItem, error) {
	q := s.sourceQuery(store.CollectionPosts, req)

	switch req.FeedType {
	case FeedFollowing:
		if viewer == nil || len(viewer.Following) == 0 {
			return []*PostItem{}, nil
		}
		q.Where = append(q.Where, store.In("author", viewer.Following))
	case FeedDiscover:
		if viewer != nil {
			q.Where = append(q.Where, store.NotIn("author", append([]string{viewer.ID}, viewer.Following...)))
		}
	}
	if blocked := blocks.IDs(); len(blocked) > 0 {
		q.Where = append(q.Where, store.NotIn("author", blocked))
	}

	docs, err := s.store.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	rel := s.resolveRelations(ctx, docs, []string{"author"}, []string{"location"})
	return s.normalizer.Posts(ctx, docs, rel, viewer), nil
}

func (s *Service) fetchPlaces(ctx context.Context, req Request, viewer *auth.Viewer) ([]*PlaceItem, error) {
	docs, err := s.store.Find(ctx, s.sourceQuery(store.CollectionLocations, req))
	if err != nil {
		return nil, err
	}
	rel := s.resolveRelations(ctx, docs, []string{"createdBy"}, nil)
	return s.normalizer.Places(ctx, docs, rel, viewer), nil
}

func (s *Service) fetchPeople(ctx context.Context, req Request, viewer *auth.Viewer, blocks store.BlockSets) ([]*PeopleGroupItem, error) {
	docs, err := s.people.Candidates(ctx, viewer, blocks, req.Page, req.Limit)
	if err != nil {
		return nil, err
	}
	return s.people.Groups(ctx, docs, viewer, req.Page), nil
}

// resolveRelations batch-loads the users and locations referenced by id
// only. Lookup failures leave the maps empty so the normalizer falls back
// to defaults.
func (s *Service) resolveRelations(ctx context.Context, docs []store.Document, userFields, locationFields []string) Relations {
	rel := Relations{Users: map[string]store.Document{}, Locations: map[string]store.Document{}}
	userIDs := unresolvedRefs(docs, userFields)
	locationIDs := unresolvedRefs(docs, locationFields)

	var g errgroup.Group
	g.Go(func() error {
		m, err := store.FindByIDs(ctx, s.store, store.CollectionUsers, userIDs)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to resolve users", "error", err)
			return nil
		}
		rel.Users = m
		return nil
	})
	g.Go(func() error {
		m, err := store.FindByIDs(ctx, s.store, store.CollectionLocations, locationIDs)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to resolve locations", "error", err)
			return nil
		}
		rel.Locations = m
		return nil
	})
	_ = g.Wait()
	return rel
}

// unresolvedRefs collects ids of relations stored as bare ids (or id-only
// stubs) that need a lookup.
func unresolvedRefs(docs []store.Document, fields []string) []string {
	var ids []string
	for _, d := range docs {
		for _, f := range fields {
			id, embedded := d.Ref(f)
			if id != "" && len(embedded) <= 1 {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
