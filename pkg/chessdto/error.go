package chessdto

import (
	"errors"

	"github.com/park285/Cheese-Relay-Chess/internal/chess"
	"github.com/park285/Cheese-Relay-Chess/internal/gamesync"
	"github.com/park285/Cheese-Relay-Chess/internal/reconcile"
)

// Error codes reported in DomainError.Code.
const (
	CodeNotYourTurn   = "not_your_turn"
	CodeIllegalMove   = "illegal_move"
	CodeGameOver      = "game_over"
	CodeNoState       = "no_state"
	CodeInvalidJoin   = "invalid_join"
	CodeNoOpponent    = "no_opponent"
	CodePublishFailed = "publish_failed"
	CodeInternal      = "internal"
)

type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "chess error"
}

// FromError classifies err into a stable code. Only publish failures are
// retryable; the local change is still pending when they happen.
func FromError(err error) DomainError {
	if err == nil {
		return DomainError{}
	}
	out := DomainError{Code: CodeInternal, Message: err.Error()}
	switch {
	case errors.Is(err, gamesync.ErrNotYourTurn):
		out.Code = CodeNotYourTurn
	case errors.Is(err, chess.ErrIllegalMove):
		out.Code = CodeIllegalMove
	case errors.Is(err, gamesync.ErrGameOver):
		out.Code = CodeGameOver
	case errors.Is(err, gamesync.ErrNoState):
		out.Code = CodeNoState
	case errors.Is(err, reconcile.ErrInvalidJoin):
		out.Code = CodeInvalidJoin
	case errors.Is(err, gamesync.ErrNoOpponent):
		out.Code = CodeNoOpponent
	case errors.Is(err, gamesync.ErrPublishFailed):
		out.Code = CodePublishFailed
		out.Retryable = true
	}
	return out
}
