package search

import (
	"sort"
	"strings"

	"github.com/onnwee/nearby/internal/geo"
	"github.com/onnwee/nearby/internal/ranking"
)

// Candidate is the scorer's view of a guide, location or user.
type Candidate struct {
	Text        string   // lowercase searchable text
	Words       []string // significant words of Text
	Categories  []string
	Intents     map[Intent]bool
	Verified    bool
	Featured    bool
	Rating      float64
	PriceRange  string // normalized with NormalizePrice
	Coordinates *geo.Coordinates
}

// Scorer computes additive relevance scores.
type Scorer struct {
	w ranking.SearchWeights
}

// NewScorer creates a Scorer. A nil weights value uses the defaults.
func NewScorer(weights *ranking.Weights) *Scorer {
	if weights == nil {
		weights = ranking.DefaultWeights()
	}
	return &Scorer{w: weights.Search}
}

// MaxResults is the number of results kept per source.
func (s *Scorer) MaxResults() int {
	if s.w.MaxResults < 1 {
		return ranking.DefaultWeights().Search.MaxResults
	}
	return s.w.MaxResults
}

// Score rates c against the analyzed query. origin may be nil. A candidate
// no rule rewards gets the floor score.
func (s *Scorer) Score(c Candidate, a QueryAnalysis, origin *geo.Coordinates) float64 {
	var score float64

	for _, tok := range a.Tokens() {
		for _, word := range c.Words {
			if strings.Contains(word, tok) || strings.Contains(tok, word) {
				score += s.w.TokenMatch
			}
		}
	}

	if phrase := a.Phrase(); phrase != "" && strings.Contains(c.Text, phrase) {
		score += s.w.PhraseMatch
	}

	if len(a.Categories) > 0 {
		wanted := make(map[string]struct{}, len(a.Categories))
		for _, cat := range a.Categories {
			wanted[categoryKey(cat)] = struct{}{}
		}
		for _, cat := range c.Categories {
			if _, ok := wanted[categoryKey(cat)]; ok {
				score += s.w.CategoryMatch
			}
		}
	}

	for _, intent := range a.Intents() {
		if c.Intents[intent] {
			score += s.w.IntentMatch
		}
	}

	if c.Verified {
		score += s.w.Verified
	}
	score += ranking.RatingBonus(c.Rating, s.w)
	if c.Featured {
		score += s.w.Featured
	}
	if a.PricePreference != "" && c.PriceRange == a.PricePreference {
		score += s.w.PriceMatch
	}

	miles, ok := geo.DistanceBetween(origin, c.Coordinates)
	score += ranking.ProximityBonus(miles, ok, s.w.ProximityRadiusMiles, s.w.ProximityPerMile)

	if score == 0 {
		score = s.w.Floor
	}
	return score
}

// scored is implemented by result types carrying a relevance score.
type scored interface {
	relevance() float64
}

// rank keeps results with a positive score, stable-sorts them by score
// descending and truncates to max.
func rank[T scored](results []T, max int) []T {
	kept := make([]T, 0, len(results))
	for _, r := range results {
		if r.relevance() > 0 {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].relevance() > kept[j].relevance()
	})
	if max > 0 && len(kept) > max {
		kept = kept[:max]
	}
	return kept
}

// NormalizePrice maps stored price labels ("$", "$$$", "Upscale") onto the
// analyzer's price preferences. Unknown labels are returned lowercased.
func NormalizePrice(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return ""
	case "$", "budget", "cheap", "inexpensive", "free", "low":
		return PriceBudget
	case "$$", "moderate", "mid", "medium":
		return PriceModerate
	case "$$$", "$$$$", "luxury", "upscale", "expensive", "high", "high-end":
		return PriceLuxury
	}
	return s
}

// categoryKey folds case and a trailing plural so "Restaurant" matches
// "restaurants".
func categoryKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > 3 && strings.HasSuffix(s, "s") {
		s = s[:len(s)-1]
	}
	return s
}
