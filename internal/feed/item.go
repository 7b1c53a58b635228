// Package feed builds the ranked discovery feed: it normalizes posts, places
// and people from the content store into one item shape, scores them, mixes
// the three streams and paginates the result.
package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// ItemType discriminates feed item variants on the wire.
type ItemType string

const (
	TypePost   ItemType = "post"
	TypePlace  ItemType = "place_recommendation"
	TypePeople ItemType = "people_suggestion"
)

// AllTypes lists every item type in mixing order.
var AllTypes = []ItemType{TypePost, TypePlace, TypePeople}

// ParseItemType validates a wire type name.
func ParseItemType(s string) (ItemType, bool) {
	for _, t := range AllTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Item is a normalized feed entry. The set of implementations is closed:
// *PostItem, *PlaceItem and *PeopleGroupItem.
type Item interface {
	Kind() ItemType
	Key() string
	Created() time.Time
	// Score is the engagement score used by the popularity sort.
	Score() float64
	sealed()
}

// AuthorSummary identifies the author of a post or owner of a place.
type AuthorSummary struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
}

// Anonymous is used when an author relation cannot be resolved.
func Anonymous() AuthorSummary {
	return AuthorSummary{Name: "Anonymous"}
}

// MediaType is image or video.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Media is one attachment. Videos sort before images.
type Media struct {
	Type      MediaType `json:"type"`
	URL       string    `json:"url"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	Alt       string    `json:"alt,omitempty"`
}

// Engagement holds interaction counts and the viewer's own interactions.
type Engagement struct {
	LikeCount    int  `json:"likeCount"`
	CommentCount int  `json:"commentCount"`
	SaveCount    int  `json:"saveCount"`
	IsLiked      bool `json:"isLiked"`
	IsSaved      bool `json:"isSaved"`
}

// LocationSummary is the place attached to a post.
type LocationSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Address    string   `json:"address,omitempty"`
	Geohash    string   `json:"geohash,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// PostItem is a user post.
type PostItem struct {
	ID              string           `json:"id"`
	CreatedAt       time.Time        `json:"createdAt"`
	Caption         string           `json:"caption"`
	Author          AuthorSummary    `json:"author"`
	Location        *LocationSummary `json:"location,omitempty"`
	Media           []Media          `json:"media"`
	Engagement      Engagement       `json:"engagement"`
	Categories      []string         `json:"categories"`
	Tags            []string         `json:"tags"`
	Rating          *float64         `json:"rating,omitempty"`
	EngagementScore float64          `json:"engagementScore"`
	TrendingScore   float64          `json:"trendingScore,omitempty"`
	RelevanceScore  *float64         `json:"relevanceScore,omitempty"`

	Private bool `json:"-"`
}

// PlaceItem is a recommended location.
type PlaceItem struct {
	ID              string         `json:"id"`
	CreatedAt       time.Time      `json:"createdAt"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Address         string         `json:"address,omitempty"`
	Owner           *AuthorSummary `json:"owner,omitempty"`
	Media           []Media        `json:"media"`
	Engagement      Engagement     `json:"engagement"`
	Categories      []string       `json:"categories"`
	Tags            []string       `json:"tags"`
	Rating          *float64       `json:"rating,omitempty"`
	ReviewCount     int            `json:"reviewCount"`
	PriceRange      string         `json:"priceRange,omitempty"`
	IsVerified      bool           `json:"isVerified"`
	IsFeatured      bool           `json:"isFeatured"`
	Geohash         string         `json:"geohash,omitempty"`
	DistanceMiles   *float64       `json:"distanceMiles,omitempty"`
	EngagementScore float64        `json:"engagementScore"`
	TrendingScore   float64        `json:"trendingScore,omitempty"`
	RelevanceScore  *float64       `json:"relevanceScore,omitempty"`

	Private bool `json:"-"`
}

// PersonSuggestion is one member of a people group.
type PersonSuggestion struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Username        string    `json:"username,omitempty"`
	Avatar          *string   `json:"avatar"`
	Bio             string    `json:"bio,omitempty"`
	IsVerified      bool      `json:"isVerified"`
	MutualFollowers int       `json:"mutualFollowers"`
	DistanceMiles   *float64  `json:"distanceMiles,omitempty"`
	Geohash         string    `json:"geohash,omitempty"`
	Score           float64   `json:"score"`
	CreatedAt       time.Time `json:"createdAt"`

	lastLogin time.Time
}

// PeopleGroupItem bundles several people suggestions into one feed slot.
type PeopleGroupItem struct {
	ID             string             `json:"id"`
	CreatedAt      time.Time          `json:"createdAt"`
	Title          string             `json:"title"`
	People         []PersonSuggestion `json:"people"`
	RelevanceScore *float64           `json:"relevanceScore,omitempty"`
}

func (p *PostItem) Kind() ItemType     { return TypePost }
func (p *PostItem) Key() string        { return p.ID }
func (p *PostItem) Created() time.Time { return p.CreatedAt }
func (p *PostItem) Score() float64     { return p.EngagementScore }
func (p *PostItem) sealed()            {}

func (p *PlaceItem) Kind() ItemType     { return TypePlace }
func (p *PlaceItem) Key() string        { return p.ID }
func (p *PlaceItem) Created() time.Time { return p.CreatedAt }
func (p *PlaceItem) Score() float64     { return p.EngagementScore }
func (p *PlaceItem) sealed()            {}

func (g *PeopleGroupItem) Kind() ItemType     { return TypePeople }
func (g *PeopleGroupItem) Key() string        { return g.ID }
func (g *PeopleGroupItem) Created() time.Time { return g.CreatedAt }
func (g *PeopleGroupItem) sealed()            {}

// Score is 0 for people groups: member suggestion scores are on a different
// scale from post and place engagement.
func (g *PeopleGroupItem) Score() float64 { return 0 }

// trending returns the trending score of an item, 0 for people groups.
func trending(it Item) float64 {
	switch v := it.(type) {
	case *PostItem:
		return v.TrendingScore
	case *PlaceItem:
		return v.TrendingScore
	default:
		return 0
	}
}

// Items is a list of feed items that encodes with a "type" discriminator on
// every element.
type Items []Item

// MarshalJSON implements json.Marshaler.
func (items Items) MarshalJSON() ([]byte, error) {
	out := make([]any, 0, len(items))
	for _, it := range items {
		wire, err := encodeItem(it)
		if err != nil {
			return nil, err
		}
		out = append(out, wire)
	}
	return json.Marshal(out)
}

func encodeItem(it Item) (any, error) {
	switch v := it.(type) {
	case *PostItem:
		return struct {
			Type ItemType `json:"type"`
			*PostItem
		}{TypePost, v}, nil
	case *PlaceItem:
		return struct {
			Type ItemType `json:"type"`
			*PlaceItem
		}{TypePlace, v}, nil
	case *PeopleGroupItem:
		return struct {
			Type ItemType `json:"type"`
			*PeopleGroupItem
		}{TypePeople, v}, nil
	default:
		return nil, fmt.Errorf("feed: unknown item type %T", it)
	}
}
