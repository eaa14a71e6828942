package codec

import "github.com/park285/Cheese-Relay-Chess/internal/relay"

// GameFilter selects every record of one game.
func GameFilter(gameID string, limit int) relay.Filter {
	return relay.Filter{
		Kinds: []int{Kind},
		Tags:  map[string][]string{TagGame: {gameID}},
		Limit: limit,
	}
}

// ParticipantFilter selects records naming identity in either seat.
func ParticipantFilter(identity string, limit int) relay.Filter {
	return relay.Filter{
		Kinds: []int{Kind},
		Tags:  map[string][]string{TagPlayer: {identity}},
		Limit: limit,
	}
}

// LobbyFilter selects the most recent records across all games.
func LobbyFilter(limit int) relay.Filter {
	return relay.Filter{Kinds: []int{Kind}, Limit: limit}
}
