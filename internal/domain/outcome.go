package domain

// Result is the classified outcome of a completed game.
type Result string

const (
	ResultNone      Result = ""
	ResultWhiteWins Result = "white"
	ResultBlackWins Result = "black"
	ResultDraw      Result = "draw"
)

// Outcome classifies a terminal record. For checkmate and resignation the side
// to move in the final position is the losing side.
func (r GameRecord) Outcome() Result {
	switch r.Status {
	case StatusDraw:
		return ResultDraw
	case StatusCheckmate, StatusResigned:
		if r.SideToMove() == White {
			return ResultBlackWins
		}
		return ResultWhiteWins
	default:
		return ResultNone
	}
}

// PGNResult renders a result token as used in PGN headers.
func (res Result) PGNResult() string {
	switch res {
	case ResultWhiteWins:
		return "1-0"
	case ResultBlackWins:
		return "0-1"
	case ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// RatingRecord is the derived per-identity aggregate from a full replay.
type RatingRecord struct {
	Identity    string `json:"identity"`
	Rating      int    `json:"rating"`
	GamesPlayed int    `json:"games_played"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Draws       int    `json:"draws"`
}
