package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const stubStore = "stub"

// stubRelay speaks enough of the relay protocol for pool tests, backed by a Hub.
type stubRelay struct {
	hub *Hub
	srv *httptest.Server
	url string

	mu       sync.Mutex
	conns    []*websocket.Conn
	noEOSE   bool
	rejectOn string
	accept   string
}

func newStubRelay(t *testing.T) *stubRelay {
	t.Helper()
	s := &stubRelay{hub: NewHub()}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	s.url = "ws" + strings.TrimPrefix(s.srv.URL, "http")
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubRelay) store(ev Event) {
	s.hub.Publish(context.Background(), []string{stubStore}, ev)
}

func (s *stubRelay) setNoEOSE(v bool) {
	s.mu.Lock()
	s.noEOSE = v
	s.mu.Unlock()
}

func (s *stubRelay) rejectContent(content string) {
	s.mu.Lock()
	s.rejectOn = content
	s.mu.Unlock()
}

// dropAll closes every live socket as if the relay restarted.
func (s *stubRelay) dropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "restart")
	}
}

func (s *stubRelay) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") == "application/nostr+json" {
		s.mu.Lock()
		s.accept = r.Header.Get("Accept")
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/nostr+json")
		_, _ = w.Write([]byte(`{"name":"stub","supported_nips":[1,11],"software":"stub","limitation":{"max_limit":500}}`))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	ctx := r.Context()
	var writeM sync.Mutex
	send := func(v any) {
		writeM.Lock()
		defer writeM.Unlock()
		_ = wsjson.Write(context.Background(), conn, v)
	}
	subs := make(map[string]Subscription)
	defer func() {
		for _, sub := range subs {
			sub.Close()
		}
	}()

	for {
		var frame []json.RawMessage
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}
		if len(frame) < 2 {
			continue
		}
		var label string
		_ = json.Unmarshal(frame[0], &label)
		switch label {
		case "REQ":
			var subID string
			var f Filter
			_ = json.Unmarshal(frame[1], &subID)
			if len(frame) > 2 {
				_ = json.Unmarshal(frame[2], &f)
			}
			stored, _ := s.hub.Query(ctx, []string{stubStore}, f)
			for _, ev := range stored {
				send([]any{"EVENT", subID, ev})
			}
			s.mu.Lock()
			noEOSE := s.noEOSE
			s.mu.Unlock()
			if !noEOSE {
				send([]any{"EOSE", subID})
			}
			if old, ok := subs[subID]; ok {
				old.Close()
			}
			sub, _ := s.hub.Subscribe(context.Background(), []string{stubStore}, f, func(ev Event) {
				send([]any{"EVENT", subID, ev})
			})
			subs[subID] = sub
		case "CLOSE":
			var subID string
			_ = json.Unmarshal(frame[1], &subID)
			if sub, ok := subs[subID]; ok {
				sub.Close()
				delete(subs, subID)
			}
		case "EVENT":
			var ev Event
			_ = json.Unmarshal(frame[1], &ev)
			s.mu.Lock()
			reject := s.rejectOn != "" && ev.Content == s.rejectOn
			s.mu.Unlock()
			if reject {
				send([]any{"OK", ev.ID, false, "blocked: not allowed"})
				continue
			}
			s.hub.Publish(ctx, []string{stubStore}, ev)
			send([]any{"OK", ev.ID, true, ""})
		}
	}
}
