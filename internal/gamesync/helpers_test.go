package gamesync

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Relay-Chess/internal/codec"
	"github.com/park285/Cheese-Relay-Chess/internal/domain"
	"github.com/park285/Cheese-Relay-Chess/internal/identity"
	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

const (
	aliceKey = "0000000000000000000000000000000000000000000000000000000000000001"
	bobKey   = "0000000000000000000000000000000000000000000000000000000000000002"
	carolKey = "0000000000000000000000000000000000000000000000000000000000000003"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func signer(t *testing.T, key string) *identity.KeySigner {
	t.Helper()
	s, err := identity.ParseSecretKey(key)
	require.NoError(t, err)
	return s
}

func newTestController(t *testing.T, tr relay.Transport, key string, clock *fakeClock, defaults []string, opts ...Option) *Controller {
	t.Helper()
	return NewController(tr, signer(t, key), Config{
		DefaultEndpoints: defaults,
		QueryLimit:       10,
		Now:              clock.Now,
	}, opts...)
}

func openReady(t *testing.T, c *Controller, gameID, preferred string) *Session {
	t.Helper()
	s, err := c.Open(gameID, preferred)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitReady(ctx))
	return s
}

func waitFor(t *testing.T, s *Session, cond func(domain.GameRecord) bool) domain.GameRecord {
	t.Helper()
	var last domain.GameRecord
	require.Eventually(t, func() bool {
		cur, ok := s.Current()
		if !ok {
			return false
		}
		last = cur
		return cond(cur)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func publishRecord(t *testing.T, tr relay.Transport, key string, rec domain.GameRecord, endpoints ...string) relay.Event {
	t.Helper()
	ev := codec.Encode(rec)
	require.NoError(t, signer(t, key).Sign(context.Background(), &ev))
	res := tr.Publish(context.Background(), endpoints, ev)
	require.Positive(t, relay.Accepted(res))
	return ev
}

// manualTransport stores publishes in a hub but only delivers live events
// when the test says so. Publishes can be made to look unacknowledged.
type manualTransport struct {
	*relay.Hub

	mu      sync.Mutex
	fns     []func(relay.Event)
	dropAck bool
}

func newManualTransport() *manualTransport {
	return &manualTransport{Hub: relay.NewHub()}
}

func (m *manualTransport) Subscribe(_ context.Context, _ []string, _ relay.Filter, fn func(relay.Event)) (relay.Subscription, error) {
	m.mu.Lock()
	m.fns = append(m.fns, fn)
	m.mu.Unlock()
	return noopSub{}, nil
}

func (m *manualTransport) Publish(ctx context.Context, endpoints []string, ev relay.Event) []relay.PublishResult {
	res := m.Hub.Publish(ctx, endpoints, ev)
	m.mu.Lock()
	drop := m.dropAck
	m.mu.Unlock()
	if drop {
		for i := range res {
			res[i].Err = relay.ErrAckTimeout
		}
	}
	return res
}

func (m *manualTransport) setDropAck(v bool) {
	m.mu.Lock()
	m.dropAck = v
	m.mu.Unlock()
}

func (m *manualTransport) deliver(ev relay.Event) {
	m.mu.Lock()
	fns := slices.Clone(m.fns)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type noopSub struct{}

func (noopSub) Close() {}
