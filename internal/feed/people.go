package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/nearby/internal/auth"
	"github.com/onnwee/nearby/internal/ranking"
	"github.com/onnwee/nearby/internal/store"
)

// PeopleGroupTitle is shown above every people group.
const PeopleGroupTitle = "People you may know"

// Default people suggestion settings.
const (
	DefaultPeopleGroupSize       = 3
	DefaultEnrichmentConcurrency = 8
)

// PeopleSuggester finds, scores and groups people the viewer may know.
type PeopleSuggester struct {
	store       store.DocumentStore
	normalizer  *Normalizer
	weights     *ranking.Weights
	groupSize   int
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewPeopleSuggester creates a PeopleSuggester. Non-positive groupSize or
// concurrency use the defaults.
func NewPeopleSuggester(s store.DocumentStore, n *Normalizer, weights *ranking.Weights, groupSize, concurrency int, logger *slog.Logger) *PeopleSuggester {
	if weights == nil {
		weights = ranking.DefaultWeights()
	}
	if groupSize <= 0 {
		groupSize = DefaultPeopleGroupSize
	}
	if concurrency <= 0 {
		concurrency = DefaultEnrichmentConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PeopleSuggester{
		store:       s,
		normalizer:  n,
		weights:     weights,
		groupSize:   groupSize,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Candidates fetches suggestion candidates: everyone except the viewer,
// people they already follow and anyone on either side of a block.
func (s *PeopleSuggester) Candidates(ctx context.Context, viewer *auth.Viewer, blocks store.BlockSets, page, limit int) ([]store.Document, error) {
	var exclude []string
	if viewer != nil {
		exclude = append(exclude, viewer.ID)
		exclude = append(exclude, viewer.Following...)
	}
	exclude = append(exclude, blocks.IDs()...)

	where := []store.Condition{store.NotEqualFold("status", "suspended")}
	if len(exclude) > 0 {
		where = append(where, store.NotIn("id", exclude))
	}
	return s.store.Find(ctx, store.Query{
		Collection: store.CollectionUsers,
		Where:      where,
		Page:       page,
		Limit:      limit,
	})
}

// Groups normalizes and scores candidates and packs them into groups.
// Mutual-follower lookups run concurrently with a bounded number of
// in-flight queries; a failed lookup counts as zero mutuals.
func (s *PeopleSuggester) Groups(ctx context.Context, docs []store.Document, viewer *auth.Viewer, page int) []*PeopleGroupItem {
	type candidate struct {
		doc    store.Document
		person PersonSuggestion
	}
	cands := make([]candidate, 0, len(docs))
	for _, d := range docs {
		p, err := s.normalizer.Person(d, viewer)
		if err != nil {
			s.normalizer.Skip(ctx, err)
			continue
		}
		cands = append(cands, candidate{doc: d, person: p})
	}

	if viewer != nil && len(viewer.Following) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for i := range cands {
			c := &cands[i]
			g.Go(func() error {
				n, err := s.mutualFollowers(gctx, c.doc, viewer)
				if err != nil {
					s.logger.DebugContext(ctx, "mutual follower lookup failed", "user_id", c.person.ID, "error", err)
					return nil
				}
				c.person.MutualFollowers = n
				return nil
			})
		}
		_ = g.Wait()
	}

	now := s.now()
	people := make([]PersonSuggestion, len(cands))
	for i, c := range cands {
		p := c.person
		params := ranking.PeopleParams{
			MutualFollowers: p.MutualFollowers,
			LastLogin:       p.lastLogin,
			HasAvatar:       p.Avatar != nil,
			HasBio:          p.Bio != "",
			HasUsername:     p.Username != "",
		}
		if p.DistanceMiles != nil {
			params.DistanceMiles = *p.DistanceMiles
			params.HasDistance = true
		}
		p.Score = ranking.PeopleScore(params, now, s.weights)
		people[i] = p
	}
	sort.SliceStable(people, func(i, j int) bool { return people[i].Score > people[j].Score })

	return s.pack(people, page)
}

// mutualFollowers counts the viewer's followees who also follow the
// candidate. A followers list on the candidate record answers directly;
// otherwise the users collection is queried.
func (s *PeopleSuggester) mutualFollowers(ctx context.Context, doc store.Document, viewer *auth.Viewer) (int, error) {
	if _, ok := doc.Lookup("followers"); ok {
		n := 0
		for _, id := range doc.RefIDs("followers") {
			if viewer.Follows(id) {
				n++
			}
		}
		return n, nil
	}

	docs, err := s.store.Find(ctx, store.Query{
		Collection: store.CollectionUsers,
		Where: []store.Condition{
			store.In("id", viewer.Following),
			store.Contains("following", doc.ID()),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count mutual followers: %w", err)
	}
	return len(docs), nil
}

func (s *PeopleSuggester) pack(people []PersonSuggestion, page int) []*PeopleGroupItem {
	if page < 1 {
		page = 1
	}
	var groups []*PeopleGroupItem
	for start := 0; start < len(people); start += s.groupSize {
		end := min(start+s.groupSize, len(people))
		members := people[start:end]

		g := &PeopleGroupItem{
			ID:        fmt.Sprintf("people-%d-%d", page, len(groups)+1),
			CreatedAt: time.Unix(0, 0).UTC(),
			Title:     PeopleGroupTitle,
			People:    members,
		}
		for _, m := range members {
			if m.CreatedAt.After(g.CreatedAt) {
				g.CreatedAt = m.CreatedAt
			}
		}
		groups = append(groups, g)
	}
	return groups
}
