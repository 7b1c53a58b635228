package ranking

import (
	"math"
	"time"
)

// ProximityBonus awards perMile points for every mile closer than
// radiusMiles. Candidates at or beyond the radius, or without a computable
// distance, get 0.
//
// Formula: max(0, radius - miles) * perMile
func ProximityBonus(miles float64, ok bool, radiusMiles, perMile float64) float64 {
	if !ok || miles < 0 || miles >= radiusMiles {
		return 0
	}
	return (radiusMiles - miles) * perMile
}

// RatingBonus returns the bonus for a 0-5 star rating.
func RatingBonus(rating float64, w SearchWeights) float64 {
	switch {
	case rating >= 4.5:
		return w.RatingExcellent
	case rating >= 4.0:
		return w.RatingGood
	default:
		return 0
	}
}

// EngagementScore computes likes + comments*2 + saves*3 with the default
// weights.
func EngagementScore(likes, comments, saves int, w EngagementWeights) float64 {
	return float64(likes)*w.Like + float64(comments)*w.Comment + float64(saves)*w.Save
}

// TrendingScore decays an engagement score by age so recent activity ranks
// above older totals.
//
// Formula: engagement / (ageHours + offset) ^ gravity
func TrendingScore(engagement float64, createdAt, now time.Time, w EngagementWeights) float64 {
	age := now.Sub(createdAt).Hours()
	if age < 0 {
		age = 0
	}
	denom := math.Pow(age+w.TrendingOffset, w.TrendingGravity)
	if denom <= 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return 0
	}
	return engagement / denom
}

// LoginRecencyBonus rewards people who were active recently. A zero
// lastLogin gets nothing.
func LoginRecencyBonus(lastLogin, now time.Time, w PeopleWeights) float64 {
	if lastLogin.IsZero() {
		return 0
	}
	since := now.Sub(lastLogin)
	switch {
	case since <= 7*24*time.Hour:
		return w.LoginWithinWeek
	case since <= 30*24*time.Hour:
		return w.LoginWithinMonth
	default:
		return 0
	}
}

// CompletenessBonus rewards filled-in profiles.
func CompletenessBonus(hasAvatar, hasBio, hasUsername bool, w PeopleWeights) float64 {
	var score float64
	if hasAvatar {
		score += w.Avatar
	}
	if hasBio {
		score += w.Bio
	}
	if hasUsername {
		score += w.Username
	}
	return score
}

// PeopleParams holds the inputs for a people-suggestion score.
type PeopleParams struct {
	MutualFollowers int
	DistanceMiles   float64
	HasDistance     bool
	LastLogin       time.Time
	HasAvatar       bool
	HasBio          bool
	HasUsername     bool
}

// PeopleScore combines mutual connections, proximity, login recency and
// profile completeness into one score.
func PeopleScore(p PeopleParams, now time.Time, weights *Weights) float64 {
	if weights == nil {
		weights = DefaultWeights()
	}
	w := weights.People

	return float64(p.MutualFollowers)*w.MutualFollower +
		ProximityBonus(p.DistanceMiles, p.HasDistance, w.ProximityRadiusMiles, w.ProximityPerMile) +
		LoginRecencyBonus(p.LastLogin, now, w) +
		CompletenessBonus(p.HasAvatar, p.HasBio, p.HasUsername, w)
}
