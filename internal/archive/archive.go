// Package archive keeps finished games for later review.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/Cheese-Relay-Chess/internal/domain"
)

var ErrNotFound = errors.New("archived game not found")

// FinishedGame is the archived form of a game's terminal record.
type FinishedGame struct {
	GameID        string
	White         string
	Black         string
	Status        domain.Status
	Result        domain.Result
	FinalPosition string
	// Moves holds the SAN notations observed by this client, in order. It
	// can be incomplete when the session joined mid-game.
	Moves      []string
	PGN        string
	Endpoint   string
	FinishedAt time.Time
}

// Repository stores finished games, keyed by game id. Saving the same game
// again replaces the previous entry.
type Repository interface {
	Save(ctx context.Context, g FinishedGame) error
	Get(ctx context.Context, gameID string) (FinishedGame, error)
	Recent(ctx context.Context, identity string, limit int) ([]FinishedGame, error)
	Close() error
}

// NewFinishedGame builds the archive entry for a terminal record.
func NewFinishedGame(rec domain.GameRecord, moves []string) FinishedGame {
	g := FinishedGame{
		GameID:        rec.GameID,
		White:         rec.White,
		Black:         rec.Black,
		Status:        rec.Status,
		Result:        rec.Outcome(),
		FinalPosition: rec.Position,
		Moves:         append([]string(nil), moves...),
		Endpoint:      rec.PreferredEndpoint,
		FinishedAt:    time.Unix(rec.ClaimedAt, 0).UTC(),
	}
	g.PGN = BuildPGN(g)
	return g
}

// BuildPGN renders headers plus numbered SAN movetext. When the move list is
// incomplete the final position goes into a FEN header instead.
func BuildPGN(g FinishedGame) string {
	var b strings.Builder
	date := g.FinishedAt
	if date.IsZero() {
		date = time.Now().UTC()
	}
	pgnResult := g.Result.PGNResult()

	b.WriteString("[Event \"Relay Chess\"]\n")
	if g.Endpoint != "" {
		b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(g.Endpoint)))
	}
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.White)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.Black)))
	if g.Status != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(g.Status))))
	}
	if len(g.Moves) == 0 && g.FinalPosition != "" && g.FinalPosition != domain.InitialPosition {
		b.WriteString("[SetUp \"1\"]\n")
		b.WriteString(fmt.Sprintf("[FEN \"%s\"]\n", sanitizePGN(g.FinalPosition)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(g.Moves); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(g.Moves[i])))
		if i+1 < len(g.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(g.Moves[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
