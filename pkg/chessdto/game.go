package chessdto

import (
	"github.com/park285/Cheese-Relay-Chess/internal/domain"
	"github.com/park285/Cheese-Relay-Chess/internal/reconcile"
)

// GameView is the JSON form of a game as one client sees it.
type GameView struct {
	GameID     string `json:"game_id"`
	White      string `json:"white"`
	Black      string `json:"black,omitempty"`
	Status     string `json:"status"`
	Position   string `json:"fen"`
	SideToMove string `json:"side_to_move"`
	LastMove   string `json:"last_move,omitempty"`
	Endpoint   string `json:"relay,omitempty"`
	ClaimedAt  int64  `json:"created_at"`
	Result     string `json:"result,omitempty"`
	Sync       string `json:"sync,omitempty"`
}

func NewGameView(rec domain.GameRecord) GameView {
	v := GameView{
		GameID:     rec.GameID,
		White:      rec.White,
		Black:      rec.Black,
		Status:     string(rec.Status),
		Position:   rec.Position,
		SideToMove: string(rec.SideToMove()),
		LastMove:   rec.LastMove,
		Endpoint:   rec.PreferredEndpoint,
		ClaimedAt:  rec.ClaimedAt,
	}
	if rec.Status.Terminal() {
		v.Result = rec.Outcome().PGNResult()
	}
	return v
}

// NewSyncedGameView adds the confirmed/pending marker.
func NewSyncedGameView(view reconcile.View) GameView {
	v := NewGameView(view.Record)
	v.Sync = view.Sync.String()
	return v
}
