package chessdto

import (
	"time"

	"github.com/park285/Cheese-Relay-Chess/internal/archive"
)

// ArchivedGame is a finished game read back from the archive.
type ArchivedGame struct {
	GameID     string    `json:"game_id"`
	White      string    `json:"white"`
	Black      string    `json:"black"`
	Status     string    `json:"status"`
	Result     string    `json:"result"`
	Moves      []string  `json:"moves,omitempty"`
	PGN        string    `json:"pgn"`
	FinishedAt time.Time `json:"finished_at"`
}

func NewArchivedGame(g archive.FinishedGame) ArchivedGame {
	return ArchivedGame{
		GameID:     g.GameID,
		White:      g.White,
		Black:      g.Black,
		Status:     string(g.Status),
		Result:     g.Result.PGNResult(),
		Moves:      append([]string(nil), g.Moves...),
		PGN:        g.PGN,
		FinishedAt: g.FinishedAt,
	}
}
