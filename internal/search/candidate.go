package search

import (
	"strings"

	"github.com/onnwee/nearby/internal/auth"
	"github.com/onnwee/nearby/internal/feed"
	"github.com/onnwee/nearby/internal/store"
)

// intentSignal lists the boolean flags and tag values that mark a record
// as suited to an intent.
type intentSignal struct {
	intent Intent
	flags  []string
	tags   []string
}

var intentSignals = []intentSignal{
	{IntentFamily, []string{"isFamilyFriendly", "familyFriendly", "kidFriendly"}, []string{"family-friendly", "family friendly", "kid-friendly", "kids", "family", "families"}},
	{IntentDate, []string{"isRomantic", "romantic", "dateFriendly"}, []string{"romantic", "date night", "date-night", "dates", "couples"}},
	{IntentGroup, []string{"isGroupFriendly", "groupFriendly", "goodForGroups"}, []string{"group-friendly", "groups", "good for groups", "large groups"}},
	{IntentSolo, []string{"isSoloFriendly", "soloFriendly", "quiet"}, []string{"quiet", "solo", "wifi", "work-friendly"}},
}

// intentsOf reads intent suitability from flags and from the categories,
// tags and bestFor lists.
func intentsOf(doc store.Document, labels []string) map[Intent]bool {
	out := map[Intent]bool{}
	lower := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		lower[strings.ToLower(l)] = struct{}{}
	}
	for _, sig := range intentSignals {
		for _, f := range sig.flags {
			if doc.Bool(f) {
				out[sig.intent] = true
			}
		}
		for _, t := range sig.tags {
			if _, ok := lower[t]; ok {
				out[sig.intent] = true
			}
		}
	}
	return out
}

func labelsOf(doc store.Document, paths ...string) []string {
	var out []string
	for _, p := range paths {
		out = append(out, feed.StringList(doc, p)...)
	}
	return out
}

func textCandidate(parts ...string) Candidate {
	text := strings.ToLower(strings.Join(strings.Fields(strings.Join(parts, " ")), " "))
	return Candidate{Text: text, Words: Tokenize(text)}
}

// locationCandidate builds the scoring view of a location record.
func locationCandidate(doc store.Document) Candidate {
	categories := labelsOf(doc, "categories", "tags")
	c := textCandidate(append([]string{
		doc.FirstString("name", "title"),
		doc.FirstString("description", "shortDescription", "summary"),
		doc.String("neighborhood"),
		doc.String("address.city"),
	}, categories...)...)
	c.Categories = categories
	c.Intents = intentsOf(doc, append(categories, feed.StringList(doc, "bestFor")...))
	c.Verified = doc.Bool("isVerified")
	c.Featured = doc.Bool("isFeatured")
	if r, ok := doc.Float("averageRating"); ok {
		c.Rating = r
	} else if r, ok := doc.Float("rating"); ok {
		c.Rating = r
	}
	c.PriceRange = NormalizePrice(doc.FirstString("priceRange", "price"))
	c.Coordinates = feed.PlaceCoordinates(doc)
	return c
}

// guideCandidate builds the scoring view of a guide record.
func guideCandidate(doc store.Document) Candidate {
	categories := labelsOf(doc, "categories", "tags")
	c := textCandidate(append([]string{
		doc.FirstString("title", "name"),
		doc.FirstString("description", "summary", "excerpt"),
		doc.String("primaryLocation.name"),
	}, categories...)...)
	c.Categories = categories
	c.Intents = intentsOf(doc, append(categories, feed.StringList(doc, "bestFor")...))
	c.Verified = doc.Bool("isVerified")
	c.Featured = doc.Bool("isFeatured")
	if r, ok := doc.Float("rating"); ok {
		c.Rating = r
	}
	c.PriceRange = NormalizePrice(doc.FirstString("priceRange", "budget"))
	c.Coordinates = feed.PlaceCoordinates(doc)
	return c
}

// userCandidate builds the scoring view of a user record.
func userCandidate(doc store.Document) Candidate {
	interests := labelsOf(doc, "interests")
	c := textCandidate(append([]string{
		doc.FirstString("name", "displayName"),
		doc.String("username"),
		doc.String("bio"),
		doc.String("location.name"),
	}, interests...)...)
	c.Categories = interests
	c.Verified = doc.Bool("isVerified")
	c.Coordinates = auth.UserCoordinates(doc)
	return c
}
