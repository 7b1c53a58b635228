// Package ranking provides the scoring primitives shared by the feed and
// search pipelines, with calibration support.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		slog.Warn("using default weights", "error", err)
//	}
//
//	// Feed engagement
//	score := ranking.EngagementScore(likes, comments, saves, weights.Engagement)
//
//	// People suggestions
//	score := ranking.PeopleScore(ranking.PeopleParams{
//		MutualFollowers: 2,
//		DistanceMiles:   miles,
//		HasDistance:     ok,
//		LastLogin:       lastLogin,
//	}, time.Now(), weights)
//
// All search relevance rules are additive point values (see SearchWeights);
// the scorer itself lives in the search package.
//
// Calibration:
//
// Weights can be tuned at deploy time with a JSON file loaded at startup.
// Zero values in the file keep the default. See
// configs/ranking.calibration.json for the full default configuration.
package ranking
