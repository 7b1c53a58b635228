package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/nearby/internal/auth"
	"github.com/onnwee/nearby/internal/feed"
	"github.com/onnwee/nearby/internal/geo"
	"github.com/onnwee/nearby/internal/pipeline"
	"github.com/onnwee/nearby/internal/store"
)

// Endpoint labels search metrics.
const Endpoint = "search"

// Source names used in metrics.
const (
	SourceLocations = "locations"
	SourceGuides    = "guides"
	SourceUsers     = "users"
)

const typeGuide = "guide"

var (
	locationFields = []string{"name", "title", "description", "categories", "tags", "neighborhood", "address.city"}
	guideFields    = []string{"title", "name", "description", "categories", "tags"}
	userFields     = []string{"name", "displayName", "username", "bio", "interests"}
)

// Config tunes the search pipeline.
type Config struct {
	FetchTimeout   time.Duration // per-source fetch deadline
	CandidateLimit int           // records scored per source
}

// DefaultConfig returns the default search settings.
func DefaultConfig() Config {
	return Config{FetchTimeout: 3 * time.Second, CandidateLimit: 50}
}

// GuideResult is a ranked guide.
type GuideResult struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	Description    string             `json:"description,omitempty"`
	Author         feed.AuthorSummary `json:"author"`
	Image          *string            `json:"image"`
	Categories     []string           `json:"categories"`
	Tags           []string           `json:"tags"`
	IsFeatured     bool               `json:"isFeatured"`
	CreatedAt      time.Time          `json:"createdAt"`
	RelevanceScore float64            `json:"relevanceScore"`
}

// Response is the search payload.
type Response struct {
	Guides           []*GuideResult          `json:"guides"`
	Locations        []*feed.PlaceItem       `json:"locations"`
	Users            []feed.PersonSuggestion `json:"users"`
	SuggestedQueries []string                `json:"suggestedQueries"`
	AIInsights       Insights                `json:"aiInsights"`

	degraded bool
}

// Degraded reports whether any source failed or timed out.
func (r *Response) Degraded() bool { return r.degraded }

// Fallback returns the empty-but-valid payload served when search fails
// outright.
func Fallback() *Response {
	suggestions := make([]string, len(DefaultSuggestions))
	copy(suggestions, DefaultSuggestions)
	return &Response{
		Guides:           []*GuideResult{},
		Locations:        []*feed.PlaceItem{},
		Users:            []feed.PersonSuggestion{},
		SuggestedQueries: suggestions,
		AIInsights:       InsightsFor(GeneralAnalysis("")),
	}
}

// Service runs searches.
type Service struct {
	store      store.DocumentStore
	blocks     store.BlockLookup
	profiles   *auth.ProfileLoader
	normalizer *feed.Normalizer
	scorer     *Scorer
	metrics    *pipeline.Metrics
	logger     *slog.Logger
	cfg        Config
}

// NewService creates a search Service. metrics may be nil.
func NewService(s store.DocumentStore, blocks store.BlockLookup, n *feed.Normalizer, scorer *Scorer, cfg Config, metrics *pipeline.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if scorer == nil {
		scorer = NewScorer(nil)
	}
	if cfg.CandidateLimit < 1 {
		cfg.CandidateLimit = DefaultConfig().CandidateLimit
	}
	return &Service{
		store:      s,
		blocks:     blocks,
		profiles:   auth.NewProfileLoader(s),
		normalizer: n,
		scorer:     scorer,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// Search analyzes the query and ranks each enabled source. req must have
// passed Validate. Source failures degrade to empty lists.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	analysis := Analyze(req.Query).Narrow(req.Type)
	terms := searchTerms(analysis)

	viewer, blocks, blocksErr := auth.LoadContext(ctx, s.profiles, s.blocks, req.ViewerID, s.logger)
	origin := req.Coordinates
	if origin == nil && viewer != nil {
		origin = viewer.Coordinates
	}
	viewer = withCoordinates(viewer, origin)

	var (
		locations = pipeline.Skip[*feed.PlaceItem](SourceLocations)
		guides    = pipeline.Skip[*GuideResult](SourceGuides)
		users     = pipeline.Skip[feed.PersonSuggestion](SourceUsers)
	)

	var g errgroup.Group
	if analysis.ShouldSearchLocations {
		g.Go(func() error {
			locations = pipeline.Fetch(ctx, SourceLocations, s.cfg.FetchTimeout, func(ctx context.Context) ([]*feed.PlaceItem, error) {
				return s.searchLocations(ctx, analysis, terms, viewer, origin)
			})
			return nil
		})
	}
	if analysis.ShouldSearchGuides {
		g.Go(func() error {
			guides = pipeline.Fetch(ctx, SourceGuides, s.cfg.FetchTimeout, func(ctx context.Context) ([]*GuideResult, error) {
				return s.searchGuides(ctx, analysis, terms, origin)
			})
			return nil
		})
	}
	if analysis.ShouldSearchUsers {
		g.Go(func() error {
			users = pipeline.Fetch(ctx, SourceUsers, s.cfg.FetchTimeout, func(ctx context.Context) ([]feed.PersonSuggestion, error) {
				if blocksErr != nil {
					return nil, blocksErr
				}
				return s.searchUsers(ctx, analysis, terms, viewer, blocks, origin)
			})
			return nil
		})
	}
	_ = g.Wait()

	return &Response{
		Guides:           guides.OrEmpty(ctx, s.logger, s.metrics, Endpoint),
		Locations:        locations.OrEmpty(ctx, s.logger, s.metrics, Endpoint),
		Users:            users.OrEmpty(ctx, s.logger, s.metrics, Endpoint),
		SuggestedQueries: Suggestions(analysis),
		AIInsights:       InsightsFor(analysis),
		degraded:         locations.Err != nil || guides.Err != nil || users.Err != nil,
	}, nil
}

// hit pairs a result with its relevance score.
type hit[T any] struct {
	item  T
	score float64
}

func (h hit[T]) relevance() float64 { return h.score }

func (s *Service) searchLocations(ctx context.Context, a QueryAnalysis, terms []string, viewer *auth.Viewer, origin *geo.Coordinates) ([]*feed.PlaceItem, error) {
	docs, err := s.store.Find(ctx, store.Query{
		Collection: store.CollectionLocations,
		Where: []store.Condition{
			store.NotIn("status", feed.HiddenStatuses),
			store.Matches(locationFields, terms),
		},
		Limit: s.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, err
	}
	rel := s.relations(ctx, docs, "createdBy")

	hits := make([]hit[*feed.PlaceItem], 0, len(docs))
	for _, doc := range docs {
		if feed.IsPrivate(doc) {
			continue
		}
		item, err := s.normalizer.Place(doc, rel, viewer)
		if err != nil {
			s.normalizer.Skip(ctx, err)
			continue
		}
		hits = append(hits, hit[*feed.PlaceItem]{item, s.scorer.Score(locationCandidate(doc), a, origin)})
	}

	ranked := rank(hits, s.scorer.MaxResults())
	out := make([]*feed.PlaceItem, len(ranked))
	for i, h := range ranked {
		score := h.score
		h.item.RelevanceScore = &score
		out[i] = h.item
	}
	return out, nil
}

func (s *Service) searchGuides(ctx context.Context, a QueryAnalysis, terms []string, origin *geo.Coordinates) ([]*GuideResult, error) {
	docs, err := s.store.Find(ctx, store.Query{
		Collection: store.CollectionGuides,
		Where: []store.Condition{
			store.NotIn("status", feed.HiddenStatuses),
			store.Matches(guideFields, terms),
		},
		Limit: s.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, err
	}
	rel := s.relations(ctx, docs, "author")

	hits := make([]hit[*GuideResult], 0, len(docs))
	for _, doc := range docs {
		if feed.IsPrivate(doc) {
			continue
		}
		g, err := s.guide(doc, rel)
		if err != nil {
			s.normalizer.Skip(ctx, err)
			continue
		}
		hits = append(hits, hit[*GuideResult]{g, s.scorer.Score(guideCandidate(doc), a, origin)})
	}

	ranked := rank(hits, s.scorer.MaxResults())
	out := make([]*GuideResult, len(ranked))
	for i, h := range ranked {
		h.item.RelevanceScore = h.score
		out[i] = h.item
	}
	return out, nil
}

func (s *Service) searchUsers(ctx context.Context, a QueryAnalysis, terms []string, viewer *auth.Viewer, blocks store.BlockSets, origin *geo.Coordinates) ([]feed.PersonSuggestion, error) {
	where := []store.Condition{
		store.NotEqualFold("status", "suspended"),
		store.Matches(userFields, terms),
	}
	excluded := blocks.IDs()
	if viewer != nil && viewer.ID != "" {
		excluded = append(excluded, viewer.ID)
	}
	if len(excluded) > 0 {
		where = append(where, store.NotIn("id", excluded))
	}

	docs, err := s.store.Find(ctx, store.Query{
		Collection: store.CollectionUsers,
		Where:      where,
		Limit:      s.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]hit[feed.PersonSuggestion], 0, len(docs))
	for _, doc := range docs {
		p, err := s.normalizer.Person(doc, viewer)
		if err != nil {
			s.normalizer.Skip(ctx, err)
			continue
		}
		p.MutualFollowers = mutualCount(doc, viewer)
		hits = append(hits, hit[feed.PersonSuggestion]{p, s.scorer.Score(userCandidate(doc), a, origin)})
	}

	ranked := rank(hits, s.scorer.MaxResults())
	out := make([]feed.PersonSuggestion, len(ranked))
	for i, h := range ranked {
		h.item.Score = h.score
		out[i] = h.item
	}
	return out, nil
}

func (s *Service) guide(doc store.Document, rel feed.Relations) (*GuideResult, error) {
	id := doc.ID()
	if id == "" {
		return nil, &pipeline.NormalizationError{Type: typeGuide, Reason: "record has no id"}
	}
	g := &GuideResult{
		ID:          id,
		Title:       doc.FirstString("title", "name"),
		Description: doc.FirstString("description", "summary", "excerpt"),
		Author:      s.normalizer.Author(doc, "author", rel),
		Categories:  feed.StringList(doc, "categories"),
		Tags:        feed.StringList(doc, "tags"),
		IsFeatured:  doc.Bool("isFeatured"),
		CreatedAt:   doc.CreatedAt(),
	}
	if img := s.normalizer.UploadURL(doc, "featuredImage", "coverImage", "image"); img != "" {
		g.Image = &img
	}
	return g, nil
}

// relations resolves the user references in field that are stored as bare
// ids. Lookup failures leave the map empty.
func (s *Service) relations(ctx context.Context, docs []store.Document, field string) feed.Relations {
	rel := feed.Relations{Users: map[string]store.Document{}, Locations: map[string]store.Document{}}
	var ids []string
	for _, d := range docs {
		if id, embedded := d.Ref(field); id != "" && len(embedded) <= 1 {
			ids = append(ids, id)
		}
	}
	users, err := store.FindByIDs(ctx, s.store, store.CollectionUsers, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to resolve users", "error", err)
		return rel
	}
	rel.Users = users
	return rel
}

// mutualCount counts the candidate's followers the viewer also follows,
// using the candidate's embedded followers list only.
func mutualCount(doc store.Document, viewer *auth.Viewer) int {
	if viewer == nil || len(viewer.Following) == 0 {
		return 0
	}
	n := 0
	for _, id := range doc.RefIDs("followers") {
		if viewer.Follows(id) {
			n++
		}
	}
	return n
}

// searchTerms is the deduplicated set of strings matched against records
// before scoring.
func searchTerms(a QueryAnalysis) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(terms []string) {
		for _, t := range terms {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	add(a.Tokens())
	add(a.LocationSearchTerms)
	add(a.Categories)
	return out
}

// withCoordinates returns a copy of viewer positioned at origin. Anonymous
// callers get an id-less viewer when they supplied coordinates.
func withCoordinates(viewer *auth.Viewer, origin *geo.Coordinates) *auth.Viewer {
	if origin == nil {
		return viewer
	}
	v := auth.Viewer{}
	if viewer != nil {
		v = *viewer
	}
	v.Coordinates = origin
	return &v
}
