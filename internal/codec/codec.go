// Package codec maps game records to and from relay events.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/park285/Cheese-Relay-Chess/internal/domain"
	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

// Kind scopes game records within the shared relay namespace.
const Kind = 3064

const (
	TagGame     = "d"
	TagPlayer   = "p"
	TagPosition = "fen"
	TagStatus   = "status"
	TagMove     = "move"
	TagEndpoint = "relay"
)

const (
	ContentCreated = "New Chess Game"
	ContentJoined  = "Joined Chess Game"
	ContentResign  = "Resigned"
	contentMove    = "Move: "
)

// wireAwaiting is how deployed clients spell the awaiting-second-player status.
const wireAwaiting = "awaiting-player"

var ErrMalformedRecord = errors.New("malformed game record")

// Encode builds the unsigned event for rec. The signer fills pubkey, id and sig.
func Encode(rec domain.GameRecord) relay.Event {
	tags := [][]string{{TagGame, rec.GameID}}
	white := strings.TrimSpace(rec.White)
	black := strings.TrimSpace(rec.Black)
	if white != "" || black != "" {
		tags = append(tags, []string{TagPlayer, white})
	}
	if black != "" {
		tags = append(tags, []string{TagPlayer, black})
	}
	tags = append(tags,
		[]string{TagPosition, rec.Position},
		[]string{TagStatus, wireStatus(rec.Status)},
	)
	if rec.LastMove != "" {
		tags = append(tags, []string{TagMove, rec.LastMove})
	}
	if rec.PreferredEndpoint != "" {
		tags = append(tags, []string{TagEndpoint, rec.PreferredEndpoint})
	}

	return relay.Event{
		CreatedAt: rec.ClaimedAt,
		Kind:      Kind,
		Tags:      tags,
		Content:   Content(rec),
	}
}

// Content is the human-readable note carried alongside the tags.
func Content(rec domain.GameRecord) string {
	switch {
	case rec.Status == domain.StatusAwaitingSecondPlayer:
		return ContentCreated
	case rec.Status == domain.StatusResigned:
		return ContentResign
	case rec.LastMove != "":
		return contentMove + rec.LastMove
	default:
		return ContentJoined
	}
}

// Decode reads a game record out of ev. Records without a game id or a
// position, or with an unknown status, are malformed.
func Decode(ev relay.Event) (domain.GameRecord, error) {
	if ev.Kind != Kind {
		return domain.GameRecord{}, fmt.Errorf("%w: kind %d", ErrMalformedRecord, ev.Kind)
	}
	gameID, _ := ev.TagValue(TagGame)
	if strings.TrimSpace(gameID) == "" {
		return domain.GameRecord{}, fmt.Errorf("%w: missing game id", ErrMalformedRecord)
	}
	position, _ := ev.TagValue(TagPosition)
	if strings.TrimSpace(position) == "" {
		return domain.GameRecord{}, fmt.Errorf("%w: missing position", ErrMalformedRecord)
	}
	rawStatus, _ := ev.TagValue(TagStatus)
	status, ok := domain.ParseStatus(rawStatus)
	if !ok {
		return domain.GameRecord{}, fmt.Errorf("%w: unknown status %q", ErrMalformedRecord, rawStatus)
	}

	rec := domain.GameRecord{
		GameID:    gameID,
		Position:  position,
		Status:    status,
		ClaimedAt: ev.CreatedAt,
		Publisher: ev.PubKey,
		EventID:   ev.ID,
	}
	players := ev.TagValues(TagPlayer)
	if len(players) > 0 {
		rec.White = strings.TrimSpace(players[0])
	}
	if len(players) > 1 {
		rec.Black = strings.TrimSpace(players[1])
	}
	rec.LastMove, _ = ev.TagValue(TagMove)
	rec.PreferredEndpoint, _ = ev.TagValue(TagEndpoint)
	return rec, nil
}

func wireStatus(s domain.Status) string {
	switch s {
	case domain.StatusAwaitingSecondPlayer:
		return wireAwaiting
	case "":
		return string(domain.StatusInProgress)
	default:
		return string(s)
	}
}
