package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Relay-Chess/internal/chessbuilder"
	"github.com/park285/Cheese-Relay-Chess/internal/config"
	"github.com/park285/Cheese-Relay-Chess/internal/identity"
	"github.com/park285/Cheese-Relay-Chess/internal/relay"
	"github.com/park285/Cheese-Relay-Chess/pkg/chessdto"
)

const relayURL = "wss://relay.test"

func run(t *testing.T, hub *relay.Hub, key string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CHESS_RELAYS", relayURL)
	t.Setenv("CHESS_SECRET_KEY", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("DATABASE_URL", "")

	factory := func(ctx context.Context, cfg *config.AppConfig) (*chessbuilder.Deps, error) {
		opts := []chessbuilder.Option{chessbuilder.WithTransport(hub)}
		if key != "" {
			s, err := identity.ParseSecretKey(key)
			if err != nil {
				return nil, err
			}
			opts = append(opts, chessbuilder.WithSigner(s))
		}
		return chessbuilder.New(ctx, cfg, opts...)
	}
	var out bytes.Buffer
	cmd := NewRootCommand(factory)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const (
	aliceKey = "0000000000000000000000000000000000000000000000000000000000000001"
	bobKey   = "0000000000000000000000000000000000000000000000000000000000000002"
)

func TestCLI_CreateJoinMove(t *testing.T) {
	hub := relay.NewHub()

	out, err := run(t, hub, aliceKey, "create", "--format", "json")
	require.NoError(t, err)
	var created chessdto.GameView
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.NotEmpty(t, created.GameID)
	assert.Equal(t, "awaiting-second-player", created.Status)
	assert.Equal(t, relayURL, created.Endpoint)

	out, err = run(t, hub, bobKey, "join", created.GameID)
	require.NoError(t, err)
	assert.Contains(t, out, "Joined game "+created.GameID)

	// black cannot open the game
	out, err = run(t, hub, bobKey, "move", created.GameID, "e5")
	require.Error(t, err)
	assert.Contains(t, out, "It is not your turn.")

	out, err = run(t, hub, aliceKey, "move", created.GameID, "e2e4", "--format", "json")
	require.NoError(t, err)
	var moved chessdto.GameView
	require.NoError(t, json.Unmarshal([]byte(out), &moved))
	assert.Equal(t, "e4", moved.LastMove)
	assert.Equal(t, "black", moved.SideToMove)
	assert.Equal(t, "confirmed", moved.Sync)

	out, err = run(t, hub, "", "games", "--format", "json")
	require.NoError(t, err)
	var listed []chessdto.GameView
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "e4", listed[0].LastMove)
}

func TestCLI_IllegalMoveJSONError(t *testing.T) {
	hub := relay.NewHub()
	out, err := run(t, hub, aliceKey, "practice", "e4", "e4", "--format", "json")
	require.Error(t, err)

	var payload struct {
		Error chessdto.DomainError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, chessdto.CodeIllegalMove, payload.Error.Code)
	assert.Empty(t, hub.Events(relayURL))
}

func TestCLI_WriteNeedsKey(t *testing.T) {
	out, err := run(t, relay.NewHub(), "", "create")
	require.Error(t, err)
	assert.Contains(t, out, "CHESS_SECRET_KEY is required")
}

func TestCLI_RatingText(t *testing.T) {
	out, err := run(t, relay.NewHub(), "", "rating", "abcdef0123456789")
	require.NoError(t, err)
	assert.Contains(t, out, "abcdef01  rating 1200  games 0")
}

func TestCLI_InvalidFormat(t *testing.T) {
	_, err := run(t, relay.NewHub(), "", "games", "--format", "xml")
	require.Error(t, err)
}
