// Package reconcile derives the single current state of a game from a stream
// of possibly out-of-order, duplicated or conflicting snapshots.
package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/park285/Cheese-Relay-Chess/internal/domain"
)

var (
	ErrInvalidJoin  = errors.New("invalid join")
	ErrGameMismatch = errors.New("record belongs to another game")
)

// Supersedes reports whether candidate replaces current. A newer claimed
// timestamp always wins; at equal timestamps any difference in content wins
// (last applied), and identical content is a no-op.
func Supersedes(current *domain.GameRecord, candidate domain.GameRecord) bool {
	if current == nil {
		return true
	}
	if candidate.ClaimedAt != current.ClaimedAt {
		return candidate.ClaimedAt > current.ClaimedAt
	}
	return !candidate.SameContent(*current)
}

// CanMove reports whether identity owns the side to move in rec.
func CanMove(identity string, rec domain.GameRecord) bool {
	if domain.IsPlaceholder(identity) {
		return false
	}
	return identity == rec.Seat(rec.SideToMove())
}

// CanJoin checks that joiner may take the open black seat of rec.
func CanJoin(rec domain.GameRecord, joiner string) error {
	switch {
	case rec.Status != domain.StatusAwaitingSecondPlayer:
		return fmt.Errorf("%w: game is %s", ErrInvalidJoin, rec.Status)
	case domain.IsPlaceholder(rec.White):
		return fmt.Errorf("%w: creator seat is unset", ErrInvalidJoin)
	case !domain.IsPlaceholder(rec.Black):
		return fmt.Errorf("%w: seat already taken", ErrInvalidJoin)
	case domain.IsPlaceholder(joiner):
		return fmt.Errorf("%w: joiner identity is unset", ErrInvalidJoin)
	case strings.EqualFold(joiner, rec.White):
		return fmt.Errorf("%w: cannot join own game", ErrInvalidJoin)
	}
	return nil
}
