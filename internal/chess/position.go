package chess

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove     = errors.New("illegal chess move")
	ErrInvalidPosition = errors.New("invalid chess position")
)

// Terminal describes whether a position ends the game.
type Terminal struct {
	Checkmate bool
	Draw      bool
}

// Over reports whether either terminal flag is set.
func (t Terminal) Over() bool { return t.Checkmate || t.Draw }

// Applied is the outcome of a legal move.
type Applied struct {
	Position string
	SAN      string
	UCI      string
	Terminal Terminal
}

// Candidate is a move described by squares, as produced by a board UI.
// An empty Promotion on a pawn reaching the last rank resolves to a queen.
type Candidate struct {
	From      string
	To        string
	Promotion string
}

// String renders the candidate in UCI long algebraic form.
func (c Candidate) String() string {
	return strings.ToLower(strings.TrimSpace(c.From) + strings.TrimSpace(c.To) + strings.TrimSpace(c.Promotion))
}

var (
	uciPattern    = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)
	sanPawnToLast = regexp.MustCompile(`^([a-h](?:x[a-h])?[18])([+#]?)$`)
)

// ApplyCandidate applies a square-based move to fen.
func ApplyCandidate(fen string, c Candidate) (Applied, error) {
	return Apply(fen, c.String())
}

// Apply applies a move given in UCI ("e2e4", "e7e8q") or SAN ("Nf3", "e8=Q") to
// fen. A pawn move to the last rank without a promotion piece is promoted to a queen.
func Apply(fen, move string) (Applied, error) {
	game, err := load(fen)
	if err != nil {
		return Applied{}, err
	}
	raw := strings.TrimSpace(move)
	if raw == "" {
		return Applied{}, fmt.Errorf("%w: empty move", ErrIllegalMove)
	}
	pos := game.Position()
	mv, err := decode(pos, raw)
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
	}
	if err := game.Move(mv, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
	}
	return Applied{
		Position: game.FEN(),
		SAN:      nchess.AlgebraicNotation{}.Encode(pos, mv),
		UCI:      strings.ToLower(nchess.UCINotation{}.Encode(pos, mv)),
		Terminal: terminalOf(game),
	}, nil
}

// Classify reports the terminal status of fen. Repetition needs history and
// cannot be observed from a single snapshot.
func Classify(fen string) (Terminal, error) {
	game, err := load(fen)
	if err != nil {
		return Terminal{}, err
	}
	return terminalOf(game), nil
}

// Validate checks that fen parses.
func Validate(fen string) error {
	_, err := load(fen)
	return err
}

func load(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	return nchess.NewGame(opt), nil
}

// decode tries UCI first, then SAN, resolving bare promotions to queen.
func decode(pos *nchess.Position, raw string) (*nchess.Move, error) {
	lower := strings.ToLower(raw)
	if uciPattern.MatchString(lower) {
		if len(lower) == 4 && isPromotionPush(pos, lower) {
			lower += "q"
		}
		if mv, err := (nchess.UCINotation{}).Decode(pos, lower); err == nil {
			return mv, nil
		}
	}
	mv, err := nchess.AlgebraicNotation{}.Decode(pos, raw)
	if err == nil {
		return mv, nil
	}
	if m := sanPawnToLast.FindStringSubmatch(raw); m != nil {
		return nchess.AlgebraicNotation{}.Decode(pos, m[1]+"=Q"+m[2])
	}
	return nil, err
}

func isPromotionPush(pos *nchess.Position, uci string) bool {
	from, ok := parseSquare(uci[0:2])
	if !ok {
		return false
	}
	piece := pos.Board().Piece(from)
	if piece.Type() != nchess.Pawn {
		return false
	}
	switch uci[3] {
	case '8':
		return piece.Color() == nchess.White
	case '1':
		return piece.Color() == nchess.Black
	}
	return false
}

func parseSquare(s string) (nchess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

func terminalOf(game *nchess.Game) Terminal {
	switch game.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		return Terminal{Checkmate: game.Method() == nchess.Checkmate}
	case nchess.Draw:
		return Terminal{Draw: true}
	}
	return Terminal{}
}
