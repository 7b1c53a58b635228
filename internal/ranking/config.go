package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// SearchWeights are the additive points awarded by the search relevance
// scorer. Every rule contributes independently.
type SearchWeights struct {
	TokenMatch           float64 `json:"token_match"`            // per (query token, candidate word) containment pair (default: 15)
	PhraseMatch          float64 `json:"phrase_match"`           // whole query found in candidate text (default: 60)
	CategoryMatch        float64 `json:"category_match"`         // per candidate category in the analyzed set (default: 35)
	IntentMatch          float64 `json:"intent_match"`           // per matching intent flag (default: 40)
	Verified             float64 `json:"verified"`               // verified candidate (default: 20)
	RatingExcellent      float64 `json:"rating_excellent"`       // rating >= 4.5 (default: 15)
	RatingGood           float64 `json:"rating_good"`            // 4.0 <= rating < 4.5 (default: 8)
	Featured             float64 `json:"featured"`               // featured candidate (default: 10)
	PriceMatch           float64 `json:"price_match"`            // exact price preference match (default: 20)
	ProximityPerMile     float64 `json:"proximity_per_mile"`     // bonus per mile inside the radius (default: 2)
	ProximityRadiusMiles float64 `json:"proximity_radius_miles"` // proximity cutoff (default: 25)
	Floor                float64 `json:"floor"`                  // score assigned when no rule fired (default: 5)
	MaxResults           int     `json:"max_results"`            // results kept per source (default: 10)
}

// PeopleWeights score people suggestions in the feed.
type PeopleWeights struct {
	MutualFollower       float64 `json:"mutual_follower"`        // per mutual connection (default: 10)
	ProximityPerMile     float64 `json:"proximity_per_mile"`     // bonus per mile inside the radius (default: 2)
	ProximityRadiusMiles float64 `json:"proximity_radius_miles"` // proximity cutoff (default: 25)
	LoginWithinWeek      float64 `json:"login_within_week"`      // last login within 7 days (default: 5)
	LoginWithinMonth     float64 `json:"login_within_month"`     // last login within 30 days (default: 2)
	Avatar               float64 `json:"avatar"`                 // profile has an avatar (default: 3)
	Bio                  float64 `json:"bio"`                    // profile has a bio (default: 2)
	Username             float64 `json:"username"`               // profile has a username (default: 1)
}

// EngagementWeights define the feed engagement and trending scores.
type EngagementWeights struct {
	Like            float64 `json:"like"`             // default: 1
	Comment         float64 `json:"comment"`          // default: 2
	Save            float64 `json:"save"`             // default: 3
	TrendingGravity float64 `json:"trending_gravity"` // age decay exponent (default: 1.5)
	TrendingOffset  float64 `json:"trending_offset"`  // hours added to age before decay (default: 2)
}

// Weights holds all ranking weight configurations.
type Weights struct {
	Search     SearchWeights     `json:"search"`
	People     PeopleWeights     `json:"people"`
	Engagement EngagementWeights `json:"engagement"`
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"`
	Weights Weights `json:"weights"`
}

// DefaultWeights returns the default ranking weight configuration.
func DefaultWeights() *Weights {
	return &Weights{
		Search: SearchWeights{
			TokenMatch:           15,
			PhraseMatch:          60,
			CategoryMatch:        35,
			IntentMatch:          40,
			Verified:             20,
			RatingExcellent:      15,
			RatingGood:           8,
			Featured:             10,
			PriceMatch:           20,
			ProximityPerMile:     2,
			ProximityRadiusMiles: 25,
			Floor:                5,
			MaxResults:           10,
		},
		People: PeopleWeights{
			MutualFollower:       10,
			ProximityPerMile:     2,
			ProximityRadiusMiles: 25,
			LoginWithinWeek:      5,
			LoginWithinMonth:     2,
			Avatar:               3,
			Bio:                  2,
			Username:             1,
		},
		Engagement: EngagementWeights{
			Like:            1,
			Comment:         2,
			Save:            3,
			TrendingGravity: 1.5,
			TrendingOffset:  2,
		},
	}
}

// LoadCalibration loads ranking weights from a JSON calibration file.
// An empty path returns the defaults. On read or parse failure the defaults
// are returned together with the error so callers can degrade gracefully.
// Partial configurations are merged over the defaults.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, &config.Weights)
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// namedWeight pairs a calibration key with the field it controls.
type namedWeight struct {
	name  string
	value *float64
}

func (w *Weights) fields() []namedWeight {
	return []namedWeight{
		{"search.token_match", &w.Search.TokenMatch},
		{"search.phrase_match", &w.Search.PhraseMatch},
		{"search.category_match", &w.Search.CategoryMatch},
		{"search.intent_match", &w.Search.IntentMatch},
		{"search.verified", &w.Search.Verified},
		{"search.rating_excellent", &w.Search.RatingExcellent},
		{"search.rating_good", &w.Search.RatingGood},
		{"search.featured", &w.Search.Featured},
		{"search.price_match", &w.Search.PriceMatch},
		{"search.proximity_per_mile", &w.Search.ProximityPerMile},
		{"search.proximity_radius_miles", &w.Search.ProximityRadiusMiles},
		{"search.floor", &w.Search.Floor},
		{"people.mutual_follower", &w.People.MutualFollower},
		{"people.proximity_per_mile", &w.People.ProximityPerMile},
		{"people.proximity_radius_miles", &w.People.ProximityRadiusMiles},
		{"people.login_within_week", &w.People.LoginWithinWeek},
		{"people.login_within_month", &w.People.LoginWithinMonth},
		{"people.avatar", &w.People.Avatar},
		{"people.bio", &w.People.Bio},
		{"people.username", &w.People.Username},
		{"engagement.like", &w.Engagement.Like},
		{"engagement.comment", &w.Engagement.Comment},
		{"engagement.save", &w.Engagement.Save},
		{"engagement.trending_gravity", &w.Engagement.TrendingGravity},
		{"engagement.trending_offset", &w.Engagement.TrendingOffset},
	}
}

// MergeCalibration merges override weights with base weights.
// Only non-zero values from the override are applied, which allows partial
// overrides in the calibration file.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		return DefaultWeights()
	}

	result := *base
	if override == nil {
		return &result
	}

	dst := result.fields()
	src := override.fields()
	for i := range dst {
		if *src[i].value != 0 {
			*dst[i].value = *src[i].value
		}
	}
	if override.Search.MaxResults > 0 {
		result.Search.MaxResults = override.Search.MaxResults
	}

	return &result
}

// logCalibrationOverrides logs which weights were overridden from defaults.
func logCalibrationOverrides(defaults *Weights, loaded *Weights) {
	var overrides []string

	before := defaults.fields()
	after := loaded.fields()
	for i := range before {
		if *before[i].value != *after[i].value {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f",
				before[i].name, *before[i].value, *after[i].value))
		}
	}
	if defaults.Search.MaxResults != loaded.Search.MaxResults {
		overrides = append(overrides, fmt.Sprintf("search.max_results: %d -> %d",
			defaults.Search.MaxResults, loaded.Search.MaxResults))
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
