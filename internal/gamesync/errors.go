package gamesync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

var (
	ErrNotYourTurn   = errors.New("not your turn")
	ErrPublishFailed = errors.New("publish failed on every endpoint")
	ErrNoState       = errors.New("game state not available yet")
	ErrGameOver      = errors.New("game is already over")
	ErrNoOpponent    = errors.New("game has no opponent")
	ErrNoEndpoint    = errors.New("no endpoint to publish to")
	ErrSessionClosed = errors.New("session closed")
	ErrConflict      = errors.New("game state changed during the operation")
)

// PublishError reports a record that no endpoint accepted. The local
// optimistic state is kept.
type PublishError struct {
	GameID  string
	Results []relay.PublishResult
}

func (e *PublishError) Error() string {
	parts := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		if r.Err != nil {
			parts = append(parts, r.Err.Error())
		}
	}
	return fmt.Sprintf("publish game %s: %s (%s)", e.GameID, ErrPublishFailed, strings.Join(parts, "; "))
}

func (e *PublishError) Unwrap() []error {
	errs := []error{ErrPublishFailed}
	for _, r := range e.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
