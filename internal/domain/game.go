package domain

import (
	"strings"
)

// Status is the lifecycle state carried by every game record.
type Status string

const (
	StatusAwaitingSecondPlayer Status = "awaiting-second-player"
	StatusInProgress           Status = "in-progress"
	StatusCheckmate            Status = "checkmate"
	StatusDraw                 Status = "draw"
	StatusResigned             Status = "resigned"
)

// ParseStatus maps a wire value to a Status. Empty input means in-progress.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return StatusInProgress, true
	case "awaiting-player", string(StatusAwaitingSecondPlayer):
		return StatusAwaitingSecondPlayer, true
	case string(StatusInProgress):
		return StatusInProgress, true
	case string(StatusCheckmate):
		return StatusCheckmate, true
	case string(StatusDraw):
		return StatusDraw, true
	case string(StatusResigned):
		return StatusResigned, true
	default:
		return "", false
	}
}

// Terminal reports whether the game has concluded.
func (s Status) Terminal() bool {
	return s == StatusCheckmate || s == StatusDraw || s == StatusResigned
}

// Side identifies a seat.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

// Opposite returns the other seat.
func (s Side) Opposite() Side {
	if s == White {
		return Black
	}
	return White
}

// InitialPosition is the standard starting FEN.
const InitialPosition = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// GameRecord is one published snapshot of a match.
type GameRecord struct {
	GameID            string
	Position          string
	White             string
	Black             string
	Status            Status
	LastMove          string
	PreferredEndpoint string
	// ClaimedAt is the publisher-asserted creation time in unix seconds.
	ClaimedAt int64

	// Envelope fields; informational only.
	Publisher string
	EventID   string
}

// SideToMove reads the active color field of the position. Anything that is not
// an explicit "b" is treated as white.
func (r GameRecord) SideToMove() Side {
	return SideToMove(r.Position)
}

// SideToMove reads the active color of a FEN string.
func SideToMove(fen string) Side {
	fields := strings.Fields(fen)
	if len(fields) > 1 && fields[1] == "b" {
		return Black
	}
	return White
}

// Seat returns the identity occupying the given side.
func (r GameRecord) Seat(s Side) string {
	if s == Black {
		return r.Black
	}
	return r.White
}

// SideOf returns the seat held by identity, if any.
func (r GameRecord) SideOf(identity string) (Side, bool) {
	if IsPlaceholder(identity) {
		return "", false
	}
	switch identity {
	case r.White:
		return White, true
	case r.Black:
		return Black, true
	}
	return "", false
}

// HasOpponent reports whether both seats name concrete identities.
func (r GameRecord) HasOpponent() bool {
	return !IsPlaceholder(r.White) && !IsPlaceholder(r.Black)
}

// SameContent compares everything except envelope fields.
func (r GameRecord) SameContent(o GameRecord) bool {
	return r.GameID == o.GameID &&
		r.Position == o.Position &&
		r.White == o.White &&
		r.Black == o.Black &&
		r.Status == o.Status &&
		r.LastMove == o.LastMove &&
		r.PreferredEndpoint == o.PreferredEndpoint
}

var placeholderIdentities = map[string]struct{}{
	"":         {},
	"player 1": {},
	"player 2": {},
}

// IsPlaceholder reports whether an identity is unset or a display placeholder.
func IsPlaceholder(identity string) bool {
	_, ok := placeholderIdentities[strings.ToLower(strings.TrimSpace(identity))]
	return ok
}
