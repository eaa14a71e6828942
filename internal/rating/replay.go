package rating

import (
	"sort"

	"github.com/park285/Cheese-Relay-Chess/internal/domain"
)

// Replay folds every completed game in records, oldest first, and returns
// subject's final rating and tally. Only terminal records naming two seats
// count. Each game id is rated once, at its earliest terminal record; later
// terminal records for the same game (republished or re-signed copies) are
// ignored rather than each being rated as another game. Opponents' ratings
// evolve from the same stream, starting at InitialRating.
func Replay(subject string, records []domain.GameRecord) domain.RatingRecord {
	sorted := append([]domain.GameRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ClaimedAt != b.ClaimedAt {
			return a.ClaimedAt < b.ClaimedAt
		}
		if a.GameID != b.GameID {
			return a.GameID < b.GameID
		}
		return a.EventID < b.EventID
	})

	ratings := make(map[string]int)
	get := func(id string) int {
		if r, ok := ratings[id]; ok {
			return r
		}
		return InitialRating
	}

	out := domain.RatingRecord{Identity: subject}
	counted := make(map[string]struct{})
	for _, rec := range sorted {
		if !rec.Status.Terminal() || !rec.HasOpponent() {
			continue
		}
		if _, dup := counted[rec.GameID]; dup {
			continue
		}
		counted[rec.GameID] = struct{}{}

		result := rec.Outcome()
		white, black := get(rec.White), get(rec.Black)
		whiteScore, blackScore := scores(result)
		ratings[rec.White] = Update(white, black, whiteScore)
		ratings[rec.Black] = Update(black, white, blackScore)

		side, seated := rec.SideOf(subject)
		if !seated {
			continue
		}
		out.GamesPlayed++
		switch {
		case result == domain.ResultDraw:
			out.Draws++
		case (result == domain.ResultWhiteWins) == (side == domain.White):
			out.Wins++
		default:
			out.Losses++
		}
	}
	out.Rating = get(subject)
	return out
}

func scores(r domain.Result) (white, black float64) {
	switch r {
	case domain.ResultWhiteWins:
		return ScoreWin, ScoreLoss
	case domain.ResultBlackWins:
		return ScoreLoss, ScoreWin
	default:
		return ScoreDraw, ScoreDraw
	}
}
