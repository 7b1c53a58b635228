// Package search implements rule-based query analysis and relevance ranking
// over guides, locations and users.
package search

import (
	"regexp"
	"strings"
	"unicode"
)

// Intent is an audience or occasion detected in a query.
type Intent string

const (
	IntentFamily Intent = "family"
	IntentDate   Intent = "date"
	IntentGroup  Intent = "group"
	IntentSolo   Intent = "solo"
)

// Price preferences.
const (
	PriceBudget   = "budget"
	PriceModerate = "moderate"
	PriceLuxury   = "luxury"
)

// ContextGeneral is the analysis context when no rule matched.
const ContextGeneral = "general"

// QueryAnalysis is the immutable result of analyzing a query.
type QueryAnalysis struct {
	LocationSearchTerms []string `json:"locationSearchTerms"`
	Categories          []string `json:"categories"`
	Context             string   `json:"context"`
	IsFamilyQuery       bool     `json:"isFamilyQuery"`
	IsDateQuery         bool     `json:"isDateQuery"`
	IsGroupQuery        bool     `json:"isGroupQuery"`
	IsSoloQuery         bool     `json:"isSoloQuery"`
	PricePreference     string   `json:"pricePreference,omitempty"`
	ActivityType        string   `json:"activityType,omitempty"`
	PlaceType           string   `json:"placeType,omitempty"`
	PlaceName           string   `json:"placeName,omitempty"`

	ShouldSearchLocations bool `json:"shouldSearchLocations"`
	ShouldSearchGuides    bool `json:"shouldSearchGuides"`
	ShouldSearchUsers     bool `json:"shouldSearchUsers"`

	tokens []string
	phrase string
}

// Intents lists the intent flags that are set, in a fixed order.
func (a QueryAnalysis) Intents() []Intent {
	out := []Intent{}
	if a.IsFamilyQuery {
		out = append(out, IntentFamily)
	}
	if a.IsDateQuery {
		out = append(out, IntentDate)
	}
	if a.IsGroupQuery {
		out = append(out, IntentGroup)
	}
	if a.IsSoloQuery {
		out = append(out, IntentSolo)
	}
	return out
}

// Tokens returns the query's significant lowercase words.
func (a QueryAnalysis) Tokens() []string { return a.tokens }

// Phrase returns the normalized full query.
func (a QueryAnalysis) Phrase() string { return a.phrase }

// Narrow restricts the searched sources to the requested result type.
// "all" and "" leave the flags as analyzed.
func (a QueryAnalysis) Narrow(resultType string) QueryAnalysis {
	switch resultType {
	case TypeLocations:
		a.ShouldSearchGuides, a.ShouldSearchUsers = false, false
		a.ShouldSearchLocations = true
	case TypeGuides:
		a.ShouldSearchLocations, a.ShouldSearchUsers = false, false
		a.ShouldSearchGuides = true
	case TypeUsers:
		a.ShouldSearchLocations, a.ShouldSearchGuides = false, false
		a.ShouldSearchUsers = true
	}
	return a
}

// intentRule maps keywords to an intent flag plus category hints.
type intentRule struct {
	keywords      []string
	intent        Intent
	categoryHints []string
	context       string
}

var intentRules = []intentRule{
	{
		keywords:      []string{"family", "families", "kid", "kids", "child", "children", "toddler", "baby", "stroller"},
		intent:        IntentFamily,
		categoryHints: []string{"family-friendly"},
		context:       "family outing",
	},
	{
		keywords:      []string{"date night", "date", "romantic", "couple", "couples", "anniversary", "proposal"},
		intent:        IntentDate,
		categoryHints: []string{"romantic"},
		context:       "date night",
	},
	{
		keywords:      []string{"group", "groups", "friends", "party", "team", "birthday", "crew", "gang"},
		intent:        IntentGroup,
		categoryHints: []string{"group-friendly"},
		context:       "group outing",
	},
	{
		keywords:      []string{"solo", "alone", "by myself", "quiet", "study", "studying", "work from", "laptop"},
		intent:        IntentSolo,
		categoryHints: []string{"quiet"},
		context:       "solo visit",
	},
}

// categoryRule maps keywords to a place category.
type categoryRule struct {
	keywords []string
	category string
}

var categoryRules = []categoryRule{
	{[]string{"restaurant", "restaurants", "food", "eat", "dinner", "lunch", "brunch", "breakfast", "pizza", "sushi", "burger", "tacos", "diner"}, "restaurants"},
	{[]string{"cafe", "cafes", "café", "coffee", "espresso", "latte", "tea", "bakery"}, "cafes"},
	{[]string{"bar", "bars", "pub", "brewery", "cocktail", "cocktails", "wine", "beer", "drinks"}, "bars"},
	{[]string{"park", "parks", "playground", "trail", "trails", "hike", "hiking", "beach", "garden", "outdoor", "outdoors"}, "parks"},
	{[]string{"museum", "museums", "gallery", "art", "exhibit", "history", "historic"}, "museums"},
	{[]string{"shop", "shops", "shopping", "store", "boutique", "mall", "market"}, "shopping"},
	{[]string{"music", "concert", "live music", "theater", "theatre", "comedy", "show", "movie"}, "entertainment"},
	{[]string{"gym", "yoga", "fitness", "workout", "climbing"}, "fitness"},
	{[]string{"hotel", "hotels", "inn", "bnb", "stay", "lodging"}, "hotels"},
}

// priceRule maps keywords to a price preference.
type priceRule struct {
	keywords   []string
	preference string
}

var priceRules = []priceRule{
	{[]string{"cheap", "budget", "affordable", "inexpensive", "free", "deal", "deals"}, PriceBudget},
	{[]string{"luxury", "upscale", "fancy", "fine dining", "expensive", "high-end", "high end", "splurge"}, PriceLuxury},
}

// activityRule maps keywords to an activity type.
type activityRule struct {
	keywords []string
	activity string
}

var activityRules = []activityRule{
	{[]string{"eat", "dinner", "lunch", "brunch", "breakfast", "food", "restaurant", "dining"}, "dining"},
	{[]string{"coffee", "cafe", "cafes", "café", "espresso", "latte"}, "coffee"},
	{[]string{"hike", "hiking", "trail", "park", "beach", "outdoor", "outdoors", "bike"}, "outdoor"},
	{[]string{"bar", "club", "drinks", "nightlife", "cocktail", "dancing"}, "nightlife"},
	{[]string{"museum", "gallery", "art", "history", "exhibit"}, "cultural"},
	{[]string{"shop", "shopping", "boutique", "mall", "market"}, "shopping"},
}

var peopleKeywords = []string{"people", "person", "user", "users", "friends to follow", "who to follow", "profile"}

const placeTypes = `restaurant|cafe|café|coffee shop|diner|bakery|bar|pub|brewery|park|museum|gallery|hotel|gym|store|shop|theater|theatre|beach|market`

var (
	// "a quincy restaurant", "the harbor cafe"
	namedPlacePattern = regexp.MustCompile(`(?:^|\s)(?:a|an|the)?\s*([a-z][a-z'&-]+)\s+(` + placeTypes + `)s?\b`)

	// "restaurants in quincy", "cafes near harvard square"
	placeInPattern = regexp.MustCompile(`\b(` + placeTypes + `)s?\s+(?:in|near|around|by)\s+([a-z][a-z .'-]*)`)

	handlePattern = regexp.MustCompile(`^@[a-z0-9_.]{2,}$`)
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "for": {}, "to": {}, "of": {}, "in": {}, "on": {},
	"at": {}, "with": {}, "near": {}, "me": {}, "my": {}, "i": {}, "is": {}, "are": {}, "best": {},
	"good": {}, "some": {}, "find": {}, "where": {}, "what": {}, "place": {}, "places": {}, "spot": {},
	"spots": {}, "around": {}, "by": {}, "nearby": {}, "go": {}, "want": {}, "looking": {}, "any": {},
}

// GeneralAnalysis is the fallback for queries that match no rule or whose
// analysis failed.
func GeneralAnalysis(query string) QueryAnalysis {
	raw := strings.TrimSpace(query)
	terms := []string{}
	if raw != "" {
		terms = append(terms, raw)
	}
	return QueryAnalysis{
		LocationSearchTerms:   terms,
		Categories:            []string{},
		Context:               ContextGeneral,
		ShouldSearchLocations: true,
		ShouldSearchGuides:    true,
		ShouldSearchUsers:     true,
		tokens:                Tokenize(raw),
		phrase:                normalizePhrase(raw),
	}
}

// Analyze classifies a free-text query. It never panics: any internal
// failure yields GeneralAnalysis(query).
func Analyze(query string) (a QueryAnalysis) {
	defer func() {
		if recover() != nil {
			a = GeneralAnalysis(query)
		}
	}()
	return analyze(query)
}

func analyze(query string) QueryAnalysis {
	a := GeneralAnalysis(query)
	phrase := a.phrase
	if phrase == "" {
		return a
	}
	words := strings.Fields(phrase)
	matched := false

	var categories []string
	addCategory := func(c string) {
		for _, existing := range categories {
			if existing == c {
				return
			}
		}
		categories = append(categories, c)
	}

	for _, rule := range intentRules {
		if !containsAny(phrase, words, rule.keywords) {
			continue
		}
		matched = true
		switch rule.intent {
		case IntentFamily:
			a.IsFamilyQuery = true
		case IntentDate:
			a.IsDateQuery = true
		case IntentGroup:
			a.IsGroupQuery = true
		case IntentSolo:
			a.IsSoloQuery = true
		}
		if a.Context == ContextGeneral {
			a.Context = rule.context
		}
		for _, c := range rule.categoryHints {
			addCategory(c)
		}
	}

	for _, rule := range categoryRules {
		if containsAny(phrase, words, rule.keywords) {
			matched = true
			addCategory(rule.category)
		}
	}

	for _, rule := range priceRules {
		if containsAny(phrase, words, rule.keywords) {
			matched = true
			a.PricePreference = rule.preference
			break
		}
	}

	for _, rule := range activityRules {
		if containsAny(phrase, words, rule.keywords) {
			matched = true
			a.ActivityType = rule.activity
			break
		}
	}

	if m := placeInPattern.FindStringSubmatch(phrase); m != nil {
		matched = true
		a.PlaceType = m[1]
		a.PlaceName = strings.TrimSpace(m[2])
	} else if m := namedPlacePattern.FindStringSubmatch(phrase); m != nil {
		a.PlaceType = m[2]
		if !isKeyword(m[1]) {
			matched = true
			a.PlaceName = m[1]
		}
	}

	if handlePattern.MatchString(phrase) {
		matched = true
		a.ShouldSearchLocations, a.ShouldSearchGuides = false, false
		a.Context = "people"
	} else if containsAny(phrase, words, peopleKeywords) {
		matched = true
		if a.Context == ContextGeneral {
			a.Context = "people"
		}
	}

	if categories != nil {
		a.Categories = categories
	}
	if a.Context == ContextGeneral && a.ActivityType != "" {
		a.Context = a.ActivityType
	}
	if !matched {
		return a
	}

	terms := []string{}
	if a.PlaceName != "" {
		terms = append(terms, a.PlaceName)
	}
	for _, tok := range a.tokens {
		if !isKeyword(tok) && tok != a.PlaceName {
			terms = append(terms, tok)
		}
	}
	if len(terms) == 0 {
		terms = append(terms, strings.TrimSpace(query))
	}
	a.LocationSearchTerms = terms
	return a
}

// Tokenize lowercases s and splits it into words of at least two
// characters, dropping stopwords.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'-")
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func normalizePhrase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// containsAny matches single-word keywords against whole words and
// multi-word keywords against the phrase.
func containsAny(phrase string, words []string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(phrase, kw) {
				return true
			}
			continue
		}
		for _, w := range words {
			if strings.Trim(w, ".,!?;:'\"()@#") == kw {
				return true
			}
		}
	}
	return false
}

var keywordSet = func() map[string]struct{} {
	set := map[string]struct{}{}
	add := func(kws []string) {
		for _, k := range kws {
			if !strings.Contains(k, " ") {
				set[k] = struct{}{}
			}
		}
	}
	for _, r := range intentRules {
		add(r.keywords)
	}
	for _, r := range priceRules {
		add(r.keywords)
	}
	for _, r := range activityRules {
		add(r.keywords)
	}
	for _, r := range categoryRules {
		add(r.keywords)
	}
	return set
}()

func isKeyword(w string) bool {
	if _, ok := keywordSet[w]; ok {
		return true
	}
	_, stop := stopwords[w]
	return stop
}
