// Package rating computes Elo ratings by replaying an identity's full game
// history, and caches the results.
package rating

import "math"

const (
	InitialRating = 1200
	KFactor       = 32
)

// Score values for a single game.
const (
	ScoreWin  = 1.0
	ScoreDraw = 0.5
	ScoreLoss = 0.0
)

// Expected is the expected score of a player rated own against opp.
func Expected(own, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-own)/400))
}

// Update returns the new rating after scoring actual against opp.
func Update(own, opp int, actual float64) int {
	return int(math.Round(float64(own) + KFactor*(actual-Expected(own, opp))))
}
