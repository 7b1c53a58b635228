package search

import (
	"strings"
)

// DefaultSuggestions pad suggested queries and make up the fallback list.
var DefaultSuggestions = []string{
	"coffee shops nearby",
	"family-friendly parks",
	"date night restaurants",
	"things to do this weekend",
	"live music tonight",
}

const maxSuggestions = 5

// Insights explains how a query was interpreted.
type Insights struct {
	Context       string   `json:"context"`
	Intents       []Intent `json:"intents"`
	Categories    []string `json:"categories"`
	Summary       string   `json:"summary"`
	LocationTerms []string `json:"locationTerms"`
}

// InsightsFor summarizes an analysis for display.
func InsightsFor(a QueryAnalysis) Insights {
	categories := a.Categories
	if categories == nil {
		categories = []string{}
	}
	terms := a.LocationSearchTerms
	if terms == nil {
		terms = []string{}
	}
	return Insights{
		Context:       a.Context,
		Intents:       a.Intents(),
		Categories:    categories,
		Summary:       summarize(a),
		LocationTerms: terms,
	}
}

var intentPhrases = map[Intent]string{
	IntentFamily: "for the whole family",
	IntentDate:   "for a date",
	IntentGroup:  "for a group",
	IntentSolo:   "for some time on your own",
}

func summarize(a QueryAnalysis) string {
	subject := subjectOf(a)
	if a.Context == ContextGeneral && len(a.Categories) == 0 {
		if a.Phrase() == "" {
			return "Showing popular places nearby"
		}
		return "Showing the best matches for \"" + a.Phrase() + "\""
	}

	parts := []string{"Showing " + subject}
	if intents := a.Intents(); len(intents) > 0 {
		parts = append(parts, intentPhrases[intents[0]])
	}
	switch a.PricePreference {
	case PriceBudget:
		parts = append(parts, "on a budget")
	case PriceLuxury:
		parts = append(parts, "with an upscale feel")
	}
	if a.PlaceName != "" {
		parts = append(parts, "near "+a.PlaceName)
	}
	return strings.Join(parts, " ")
}

// subjectOf names what the query is after, using the first place category
// found or "places".
func subjectOf(a QueryAnalysis) string {
	for _, c := range a.Categories {
		for _, rule := range categoryRules {
			if rule.category == c {
				return c
			}
		}
	}
	if a.PlaceType != "" {
		return a.PlaceType + "s"
	}
	return "places"
}

// Suggestions proposes follow-up queries derived from an analysis, padded
// with DefaultSuggestions. The query itself is never suggested.
func Suggestions(a QueryAnalysis) []string {
	subject := subjectOf(a)
	out := make([]string, 0, maxSuggestions)
	seen := map[string]struct{}{a.Phrase(): {}}
	add := func(s string) {
		if len(out) >= maxSuggestions {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if a.IsFamilyQuery {
		add("family-friendly " + subject)
	}
	if a.IsDateQuery {
		add("romantic " + subject)
	}
	if a.IsGroupQuery {
		add(subject + " for groups")
	}
	if a.IsSoloQuery {
		add("quiet " + subject)
	}
	switch a.PricePreference {
	case PriceBudget:
		add("cheap " + subject)
	case PriceLuxury:
		add("upscale " + subject)
	}
	if a.PlaceName != "" && a.PlaceType != "" {
		add(a.PlaceType + "s in " + a.PlaceName)
	}
	if subject != "places" {
		add("best " + subject + " nearby")
		add("new " + subject + " this week")
	}
	for _, s := range DefaultSuggestions {
		add(s)
	}
	return out
}
