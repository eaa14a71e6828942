package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

// eoseRelay answers every REQ with an immediate EOSE.
func eoseRelay(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "application/nostr+json" {
			w.Header().Set("Content-Type", "application/nostr+json")
			_, _ = w.Write([]byte(`{"name":"probe","software":"stub","version":"1.0"}`))
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			var msg []any
			if err := wsjson.Read(r.Context(), conn, &msg); err != nil {
				return
			}
			if len(msg) >= 2 && msg[0] == "REQ" {
				_ = wsjson.Write(r.Context(), conn, []any{"EOSE", msg[1]})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCheck(t *testing.T) {
	up := eoseRelay(t)
	down := "ws://127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results := check(ctx, []string{up, down}, 4*time.Second)
	require.Len(t, results, 2)

	require.NoError(t, results[0].Err)
	assert.Equal(t, "probe", results[0].Info.Name)
	assert.Equal(t, relay.StateConnected, results[0].State)

	assert.Error(t, results[1].Err)
}

func TestCommand_NoneReachable(t *testing.T) {
	t.Setenv("CHESS_RELAYS", "")
	var out bytes.Buffer
	cmd := newCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"ws://127.0.0.1:1", "--timeout", "2s"})
	require.Error(t, cmd.Execute())
	assert.Contains(t, out.String(), "ws://127.0.0.1:1")
}
