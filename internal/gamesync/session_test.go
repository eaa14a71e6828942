package gamesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Relay-Chess/internal/archive"
	"github.com/park285/Cheese-Relay-Chess/internal/chess"
	"github.com/park285/Cheese-Relay-Chess/internal/codec"
	"github.com/park285/Cheese-Relay-Chess/internal/domain"
	"github.com/park285/Cheese-Relay-Chess/internal/reconcile"
	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

const (
	relayA = "wss://a.example"
	relayB = "wss://b.example"
	relayX = "wss://x.example"
)

// startGame creates a game pinned to relayX and has bob join it.
func startGame(t *testing.T, hub *relay.Hub, clock *fakeClock, opts ...Option) (alice, bob *Session, aliceCtl, bobCtl *Controller) {
	t.Helper()
	ctx := context.Background()
	aliceCtl = newTestController(t, hub, aliceKey, clock, []string{relayA, relayB})
	bobCtl = newTestController(t, hub, bobKey, clock, []string{relayB}, opts...)

	created, err := aliceCtl.CreateGame(ctx, relayX)
	require.NoError(t, err)

	bob = openReady(t, bobCtl, created.GameID, relayX)
	_, err = bob.Join(ctx)
	require.NoError(t, err)

	alice = openReady(t, aliceCtl, created.GameID, relayX)
	waitFor(t, alice, func(r domain.GameRecord) bool { return r.Status == domain.StatusInProgress })
	return alice, bob, aliceCtl, bobCtl
}

func TestCreateGame_PinsPreferredEndpoint(t *testing.T) {
	hub := relay.NewHub()
	clock := newClock()
	ctl := newTestController(t, hub, aliceKey, clock, []string{relayA, relayB},
		WithIDGenerator(func() string { return "game-1" }))

	rec, err := ctl.CreateGame(context.Background(), relayX)
	require.NoError(t, err)
	assert.Equal(t, "game-1", rec.GameID)
	assert.Equal(t, ctl.Identity(), rec.White)
	assert.Empty(t, rec.Black)
	assert.Equal(t, domain.StatusAwaitingSecondPlayer, rec.Status)
	assert.Equal(t, relayX, rec.PreferredEndpoint)
	assert.NotEmpty(t, rec.EventID)

	assert.Len(t, hub.Events(relayX), 1)
	assert.Empty(t, hub.Events(relayA))
	assert.Empty(t, hub.Events(relayB))
}

func TestCreateGame_DefaultsToFirstEndpoint(t *testing.T) {
	hub := relay.NewHub()
	ctl := newTestController(t, hub, aliceKey, newClock(), []string{relayB, relayA})
	rec, err := ctl.CreateGame(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, relayB, rec.PreferredEndpoint)
	assert.Len(t, hub.Events(relayB), 1)
}

func TestCreateGame_NoEndpoint(t *testing.T) {
	ctl := newTestController(t, relay.NewHub(), aliceKey, newClock(), nil)
	_, err := ctl.CreateGame(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestEveryUpdateTargetsPreferredEndpoint(t *testing.T) {
	hub := relay.NewHub()
	alice, bob, _, _ := startGame(t, hub, newClock())
	ctx := context.Background()

	_, err := alice.Move(ctx, "e2e4")
	require.NoError(t, err)
	waitFor(t, bob, func(r domain.GameRecord) bool { return r.LastMove == "e4" })
	_, err = bob.Move(ctx, "e5")
	require.NoError(t, err)
	waitFor(t, alice, func(r domain.GameRecord) bool { return r.LastMove == "e5" })
	_, err = alice.Resign(ctx)
	require.NoError(t, err)

	assert.Len(t, hub.Events(relayX), 5)
	assert.Empty(t, hub.Events(relayA))
	assert.Empty(t, hub.Events(relayB))
}

func TestFoolsMateEndsInCheckmate(t *testing.T) {
	hub := relay.NewHub()
	repo := archive.NewMemoryRepository()
	alice, bob, _, _ := startGame(t, hub, newClock(), WithArchive(repo))
	ctx := context.Background()

	play := []struct {
		s    *Session
		move string
		san  string
	}{
		{alice, "f2f3", "f3"},
		{bob, "e7e5", "e5"},
		{alice, "g2g4", "g4"},
		{bob, "d8h4", "Qh4#"},
	}
	for _, p := range play {
		rec, err := p.s.Move(ctx, p.move)
		require.NoError(t, err, p.move)
		assert.Equal(t, p.san, rec.LastMove)
		for _, other := range []*Session{alice, bob} {
			waitFor(t, other, func(r domain.GameRecord) bool { return r.LastMove == p.san })
		}
	}

	for _, s := range []*Session{alice, bob} {
		cur, _ := s.Current()
		assert.Equal(t, domain.StatusCheckmate, cur.Status)
		assert.Equal(t, domain.ResultBlackWins, cur.Outcome())
	}
	_, err := alice.Move(ctx, "a2a3")
	assert.ErrorIs(t, err, ErrGameOver)

	bob.WaitArchived()
	g, err := repo.Get(ctx, bob.GameID())
	require.NoError(t, err)
	assert.Equal(t, []string{"f3", "e5", "g4", "Qh4#"}, g.Moves)
	assert.Equal(t, domain.ResultBlackWins, g.Result)
}

func TestMove_TurnAndLegality(t *testing.T) {
	hub := relay.NewHub()
	clock := newClock()
	alice, bob, _, _ := startGame(t, hub, clock)
	ctx := context.Background()
	before := len(hub.Events(relayX))

	_, err := bob.Move(ctx, "e7e5")
	assert.ErrorIs(t, err, ErrNotYourTurn)

	carolCtl := newTestController(t, hub, carolKey, clock, []string{relayB})
	carol := openReady(t, carolCtl, alice.GameID(), relayX)
	waitFor(t, carol, func(r domain.GameRecord) bool { return r.HasOpponent() })
	_, err = carol.Move(ctx, "e2e4")
	assert.ErrorIs(t, err, ErrNotYourTurn)
	assert.False(t, carol.CanMove())

	_, err = alice.Move(ctx, "e2e5")
	assert.ErrorIs(t, err, chess.ErrIllegalMove)

	assert.Len(t, hub.Events(relayX), before)
	cur, _ := alice.Current()
	assert.Equal(t, domain.InitialPosition, cur.Position)
	assert.True(t, alice.CanMove())
}

func TestMove_PromotionDefaultsToQueen(t *testing.T) {
	hub := relay.NewHub()
	clock := newClock()
	ctl := newTestController(t, hub, aliceKey, clock, []string{relayA})
	bobCtl := newTestController(t, hub, bobKey, clock, []string{relayA})

	publishRecord(t, hub, aliceKey, domain.GameRecord{
		GameID:    "promo",
		Position:  "8/4P3/8/8/8/8/k7/4K3 w - - 0 1",
		White:     ctl.Identity(),
		Black:     bobCtl.Identity(),
		Status:    domain.StatusInProgress,
		ClaimedAt: clock.Now().Unix(),
	}, relayA)

	s := openReady(t, ctl, "promo", "")
	rec, err := s.Move(context.Background(), "e7e8")
	require.NoError(t, err)
	assert.Equal(t, "4Q3/8/8/8/8/8/k7/4K3 b - - 0 1", rec.Position)
	assert.Equal(t, "e8=Q", rec.LastMove)
}

func TestPublishFailureKeepsOptimisticState(t *testing.T) {
	hub := relay.NewHub()
	alice, _, _, _ := startGame(t, hub, newClock())
	hub.SetFailing(relayX, errors.New("down"))

	rec, err := alice.Move(context.Background(), "e2e4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailed)
	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, alice.GameID(), pubErr.GameID)
	require.Len(t, pubErr.Results, 1)
	assert.Equal(t, relayX, pubErr.Results[0].Endpoint)

	v, ok := alice.View()
	require.True(t, ok)
	assert.Equal(t, reconcile.Pending, v.Sync)
	assert.Equal(t, rec.Position, v.Record.Position)
	assert.Equal(t, "e4", v.Record.LastMove)
}

func TestSelfEchoDoesNotRevertOptimisticState(t *testing.T) {
	tr := newManualTransport()
	clock := newClock()
	ctx := context.Background()
	aliceCtl := newTestController(t, tr, aliceKey, clock, []string{relayA})
	bobCtl := newTestController(t, tr, bobKey, clock, []string{relayA})

	joined := publishRecord(t, tr, bobKey, domain.GameRecord{
		GameID:            "echo",
		Position:          domain.InitialPosition,
		White:             aliceCtl.Identity(),
		Black:             bobCtl.Identity(),
		Status:            domain.StatusInProgress,
		PreferredEndpoint: relayA,
		ClaimedAt:         clock.Now().Unix(),
	}, relayA)

	alice := openReady(t, aliceCtl, "echo", "")
	tr.setDropAck(true)

	moved, err := alice.Move(ctx, "e2e4")
	require.ErrorIs(t, err, ErrPublishFailed)
	assert.Greater(t, moved.ClaimedAt, joined.CreatedAt)

	stored := tr.Events(relayA)
	require.Len(t, stored, 2)
	echo := stored[1]

	// A stale record and then the exact echo arrive after the optimistic update.
	tr.deliver(joined)
	v, _ := alice.View()
	assert.Equal(t, reconcile.Pending, v.Sync)
	assert.Equal(t, moved.Position, v.Record.Position)

	tr.deliver(echo)
	v, _ = alice.View()
	assert.Equal(t, reconcile.Confirmed, v.Sync)
	assert.Equal(t, moved.Position, v.Record.Position)
	assert.Equal(t, echo.ID, v.Record.EventID)

	tr.deliver(echo)
	tr.deliver(joined)
	cur, _ := alice.Current()
	assert.Equal(t, moved.Position, cur.Position)
}

func TestLocalTimestampsStayAheadOfRemoteClock(t *testing.T) {
	tr := newManualTransport()
	clock := newClock()
	aliceCtl := newTestController(t, tr, aliceKey, clock, []string{relayA})
	bobCtl := newTestController(t, tr, bobKey, clock, []string{relayA})

	future := clock.Now().Unix() + 500
	publishRecord(t, tr, bobKey, domain.GameRecord{
		GameID:    "skew",
		Position:  domain.InitialPosition,
		White:     aliceCtl.Identity(),
		Black:     bobCtl.Identity(),
		Status:    domain.StatusInProgress,
		ClaimedAt: future,
	}, relayA)

	alice := openReady(t, aliceCtl, "skew", "")
	rec, err := alice.Move(context.Background(), "e4")
	require.NoError(t, err)
	assert.Equal(t, future+1, rec.ClaimedAt)

	v, _ := alice.View()
	assert.Equal(t, reconcile.Confirmed, v.Sync)
}

func TestJoin_Rejections(t *testing.T) {
	hub := relay.NewHub()
	clock := newClock()
	ctx := context.Background()
	aliceCtl := newTestController(t, hub, aliceKey, clock, []string{relayA})
	created, err := aliceCtl.CreateGame(ctx, "")
	require.NoError(t, err)

	own := openReady(t, aliceCtl, created.GameID, "")
	_, err = own.Join(ctx)
	assert.ErrorIs(t, err, reconcile.ErrInvalidJoin)

	bob := openReady(t, newTestController(t, hub, bobKey, clock, []string{relayA}), created.GameID, "")
	_, err = bob.Join(ctx)
	require.NoError(t, err)

	carol := openReady(t, newTestController(t, hub, carolKey, clock, []string{relayA}), created.GameID, "")
	waitFor(t, carol, func(r domain.GameRecord) bool { return r.Status == domain.StatusInProgress })
	before := len(hub.Events(relayA))
	_, err = carol.Join(ctx)
	assert.ErrorIs(t, err, reconcile.ErrInvalidJoin)
	assert.Len(t, hub.Events(relayA), before)

	placeholder := "placeholder-game"
	publishRecord(t, hub, aliceKey, domain.GameRecord{
		GameID:    placeholder,
		Position:  domain.InitialPosition,
		White:     "",
		Status:    domain.StatusAwaitingSecondPlayer,
		ClaimedAt: clock.Now().Unix(),
	}, relayA)
	s := openReady(t, newTestController(t, hub, bobKey, clock, []string{relayA}), placeholder, "")
	_, err = s.Join(ctx)
	assert.ErrorIs(t, err, reconcile.ErrInvalidJoin)
}

func TestResign(t *testing.T) {
	hub := relay.NewHub()
	alice, bob, _, _ := startGame(t, hub, newClock())
	ctx := context.Background()

	_, err := bob.Resign(ctx)
	assert.ErrorIs(t, err, ErrNotYourTurn)

	rec, err := alice.Resign(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResigned, rec.Status)
	assert.Equal(t, domain.ResultBlackWins, rec.Outcome())

	got := waitFor(t, bob, func(r domain.GameRecord) bool { return r.Status == domain.StatusResigned })
	assert.Equal(t, domain.ResultBlackWins, got.Outcome())

	_, err = alice.Resign(ctx)
	assert.ErrorIs(t, err, ErrGameOver)
}

func TestResign_RequiresOpponent(t *testing.T) {
	hub := relay.NewHub()
	ctl := newTestController(t, hub, aliceKey, newClock(), []string{relayA})
	created, err := ctl.CreateGame(context.Background(), "")
	require.NoError(t, err)
	s := openReady(t, ctl, created.GameID, "")
	_, err = s.Resign(context.Background())
	assert.ErrorIs(t, err, ErrNoOpponent)
}

func TestOpen_FollowsRecordEndpoint(t *testing.T) {
	hub := relay.NewHub()
	clock := newClock()
	aliceCtl := newTestController(t, hub, aliceKey, clock, []string{relayA})
	bobCtl := newTestController(t, hub, bobKey, clock, []string{relayA})

	rec := domain.GameRecord{
		GameID:            "g-follow",
		Position:          domain.InitialPosition,
		White:             aliceCtl.Identity(),
		Black:             bobCtl.Identity(),
		Status:            domain.StatusInProgress,
		PreferredEndpoint: relayX,
		ClaimedAt:         clock.Now().Unix(),
	}
	publishRecord(t, hub, aliceKey, rec, relayA, relayX)

	bob := openReady(t, bobCtl, "g-follow", "")
	assert.Contains(t, bob.Endpoints(), relayX)

	alice := openReady(t, aliceCtl, "g-follow", "")
	_, err := alice.Move(context.Background(), "d4")
	require.NoError(t, err)
	assert.Empty(t, hub.Events(relayA)[1:])
	waitFor(t, bob, func(r domain.GameRecord) bool { return r.LastMove == "d4" })
}

func TestOpen_QueryUsesNewestRecord(t *testing.T) {
	tr := newManualTransport()
	clock := newClock()
	base := domain.GameRecord{
		GameID:    "g-newest",
		Position:  domain.InitialPosition,
		White:     "alice",
		Black:     "bob",
		Status:    domain.StatusInProgress,
		ClaimedAt: 100,
	}
	newer := base
	newer.Position = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	newer.LastMove = "e4"
	newer.ClaimedAt = 200
	publishRecord(t, tr, aliceKey, newer, relayA)
	publishRecord(t, tr, aliceKey, base, relayA)
	bad := relay.Event{ID: "junk", Kind: codec.Kind, CreatedAt: 300, Tags: [][]string{{"d", "g-newest"}}}
	tr.Hub.Publish(context.Background(), []string{relayA}, bad)

	s := openReady(t, newTestController(t, tr, carolKey, clock, []string{relayA}), "g-newest", "")
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, int64(200), cur.ClaimedAt)
	assert.Equal(t, []string{"e4"}, s.Moves())

	tr.deliver(bad)
	cur, _ = s.Current()
	assert.Equal(t, int64(200), cur.ClaimedAt)
}

func TestSession_CloseStopsProcessing(t *testing.T) {
	hub := relay.NewHub()
	alice, bob, _, _ := startGame(t, hub, newClock())
	ctx := context.Background()

	bob.Close()
	select {
	case <-bob.Done():
	default:
		t.Fatal("done not closed")
	}

	_, err := alice.Move(ctx, "e4")
	require.NoError(t, err)
	cur, _ := bob.Current()
	assert.Empty(t, cur.LastMove)

	_, err = bob.Move(ctx, "e5")
	assert.ErrorIs(t, err, ErrSessionClosed)
	bob.Close()
}

func TestChangesDeliversLatestView(t *testing.T) {
	hub := relay.NewHub()
	alice, bob, _, _ := startGame(t, hub, newClock())
	ctx := context.Background()

	_, err := alice.Move(ctx, "e4")
	require.NoError(t, err)
	waitFor(t, bob, func(r domain.GameRecord) bool { return r.LastMove == "e4" })
	_, err = bob.Move(ctx, "e5")
	require.NoError(t, err)

	select {
	case v := <-bob.Changes():
		assert.Equal(t, "e5", v.Record.LastMove)
		assert.Equal(t, reconcile.Confirmed, v.Sync)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}

func TestPractice_NeverTouchesNetwork(t *testing.T) {
	hub := relay.NewHub()
	repo := archive.NewMemoryRepository()
	ctl := newTestController(t, hub, aliceKey, newClock(), []string{relayA}, WithArchive(repo))
	s := ctl.Practice()
	defer s.Close()

	for _, mv := range []string{"f3", "e5", "g4", "Qh4#"} {
		_, err := s.Move(context.Background(), mv)
		require.NoError(t, err, mv)
	}
	cur, _ := s.Current()
	assert.Equal(t, domain.StatusCheckmate, cur.Status)
	v, _ := s.View()
	assert.Equal(t, reconcile.Confirmed, v.Sync)
	assert.Empty(t, hub.Events(relayA))

	s.WaitArchived()
	g, err := repo.Get(context.Background(), s.GameID())
	require.NoError(t, err)
	assert.Equal(t, []string{"f3", "e5", "g4", "Qh4#"}, g.Moves)
}

type blockingArchive struct {
	release chan struct{}
	saved   chan archive.FinishedGame
}

func (b *blockingArchive) Save(ctx context.Context, g archive.FinishedGame) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.saved <- g
	return nil
}

func TestSlowArchiveDoesNotBlockFinishingMove(t *testing.T) {
	arc := &blockingArchive{release: make(chan struct{}), saved: make(chan archive.FinishedGame, 1)}
	ctl := newTestController(t, relay.NewHub(), aliceKey, newClock(), []string{relayA}, WithArchive(arc))
	s := ctl.Practice()
	defer s.Close()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for _, mv := range []string{"f3", "e5", "g4", "Qh4#"} {
			_, err := s.Move(context.Background(), mv)
			assert.NoError(t, err, mv)
		}
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		close(arc.release)
		t.Fatal("finishing move waited on the archive")
	}

	close(arc.release)
	s.WaitArchived()
	g := <-arc.saved
	assert.Equal(t, domain.ResultBlackWins, g.Result)
}

func TestMove_WaitsForOpponentSoLateJoinStillLands(t *testing.T) {
	hub := relay.NewHub()
	ctx := context.Background()
	aliceClock, bobClock := newClock(), newClock()
	aliceCtl := newTestController(t, hub, aliceKey, aliceClock, []string{relayA})
	created, err := aliceCtl.CreateGame(ctx, "")
	require.NoError(t, err)
	alice := openReady(t, aliceCtl, created.GameID, "")

	// alice runs ahead of bob; an early move must not outdate his join
	aliceClock.Advance(5 * time.Second)
	_, err = alice.Move(ctx, "e4")
	assert.ErrorIs(t, err, ErrNoOpponent)
	assert.Len(t, hub.Events(relayA), 1)
	cur, _ := alice.Current()
	assert.Equal(t, domain.InitialPosition, cur.Position)

	bobClock.Advance(3 * time.Second)
	bobCtl := newTestController(t, hub, bobKey, bobClock, []string{relayA})
	bob := openReady(t, bobCtl, created.GameID, "")
	_, err = bob.Join(ctx)
	require.NoError(t, err)

	joined := waitFor(t, alice, func(r domain.GameRecord) bool { return r.Status == domain.StatusInProgress })
	assert.Equal(t, bobCtl.Identity(), joined.Black)
	assert.True(t, alice.CanMove())

	rec, err := alice.Move(ctx, "e4")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, rec.Status)
	waitFor(t, bob, func(r domain.GameRecord) bool { return r.LastMove == "e4" })
	assert.True(t, bob.CanMove())
}

func TestPublishTargets(t *testing.T) {
	ctl := newTestController(t, relay.NewHub(), aliceKey, newClock(), []string{relayA, relayB})
	assert.Equal(t, []string{relayX}, ctl.PublishTargets(domain.GameRecord{PreferredEndpoint: relayX + "/"}))
	assert.Equal(t, []string{relayA}, ctl.PublishTargets(domain.GameRecord{}))
}
