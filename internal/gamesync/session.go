package gamesync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Relay-Chess/internal/archive"
	"github.com/park285/Cheese-Relay-Chess/internal/chess"
	"github.com/park285/Cheese-Relay-Chess/internal/codec"
	"github.com/park285/Cheese-Relay-Chess/internal/domain"
	"github.com/park285/Cheese-Relay-Chess/internal/obslog"
	"github.com/park285/Cheese-Relay-Chess/internal/reconcile"
	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

// Session follows one game. Remote records and local actions both go through
// the same reconciliation engine; local actions are serialized.
type Session struct {
	ctl       *Controller
	gameID    string
	endpoints []string
	local     bool
	engine    *reconcile.Engine

	opMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	sub        relay.Subscription
	watermark  int64
	moves      []string
	lastMoveAt int64
	archived   bool
	saves      sync.WaitGroup

	notifyMu sync.Mutex
	changes  chan reconcile.View

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

func newSession(c *Controller, gameID string, endpoints []string, local bool) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ctl:       c,
		gameID:    gameID,
		endpoints: endpoints,
		local:     local,
		engine:    reconcile.NewEngine(gameID),
		changes:   make(chan reconcile.View, 1),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Session) GameID() string { return s.gameID }

// Endpoints is the set the session queries and subscribes to.
func (s *Session) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.endpoints...)
}

// Current returns the game as it should be shown, optimistic moves included.
func (s *Session) Current() (domain.GameRecord, bool) {
	return s.engine.Current()
}

func (s *Session) View() (reconcile.View, bool) {
	return s.engine.View()
}

// Changes delivers the latest view whenever it changes. Undelivered views are
// replaced by newer ones, so a slow reader only ever sees the newest.
func (s *Session) Changes() <-chan reconcile.View { return s.changes }

// Ready is closed once the initial query finished and the live subscription
// was attempted.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Done is closed by Close.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Moves returns the SAN moves this session observed, oldest first.
func (s *Session) Moves() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.moves...)
}

// CanMove reports whether the local identity owns the side to move.
func (s *Session) CanMove() bool {
	cur, ok := s.engine.Current()
	if !ok || cur.Status.Terminal() {
		return false
	}
	return reconcile.CanMove(s.ctl.Identity(), cur)
}

// Close stops the subscription and waits for pending archive saves. Records
// delivered afterwards are ignored and an initial query still in flight is
// discarded when it returns.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.cancel()
	if sub != nil {
		sub.Close()
	}
	s.saves.Wait()
	close(s.done)
	obslog.L().Debug("game_session_closed", zap.String("game_id", s.gameID))
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Session) run() {
	defer s.markReady()

	// The query is not bound to the session: if the session closes first the
	// result is simply dropped.
	events, err := s.ctl.transport.Query(context.Background(), s.endpoints, codec.GameFilter(s.gameID, s.ctl.cfg.QueryLimit))
	if s.isClosed() {
		return
	}
	if err != nil {
		obslog.L().Warn("game_query_failed", zap.String("game_id", s.gameID), zap.Error(err))
	} else if rec, ok := newestRecord(s.gameID, events); ok {
		s.ingest(rec, "query")
	}

	s.mu.Lock()
	if cur, ok := s.engine.Current(); ok && cur.PreferredEndpoint != "" {
		s.endpoints = relay.Endpoints(s.endpoints, []string{cur.PreferredEndpoint})
	}
	endpoints := append([]string(nil), s.endpoints...)
	s.mu.Unlock()

	sub, err := s.ctl.transport.Subscribe(s.ctx, endpoints, codec.GameFilter(s.gameID, 0), s.handleEvent)
	if err != nil {
		if !s.isClosed() {
			obslog.L().Warn("game_subscribe_failed", zap.String("game_id", s.gameID), zap.Error(err))
		}
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

// newestRecord picks the record with the highest claimed timestamp. events
// arrive newest first, so the first of equal timestamps is kept.
func newestRecord(gameID string, events []relay.Event) (domain.GameRecord, bool) {
	var best domain.GameRecord
	found := false
	for _, ev := range events {
		rec, err := codec.Decode(ev)
		if err != nil || rec.GameID != gameID {
			continue
		}
		if !found || rec.ClaimedAt > best.ClaimedAt {
			best = rec
			found = true
		}
	}
	return best, found
}

func (s *Session) handleEvent(ev relay.Event) {
	if s.isClosed() {
		return
	}
	rec, err := codec.Decode(ev)
	if err != nil {
		obslog.L().Debug("game_record_dropped",
			zap.String("game_id", s.gameID),
			zap.String("event", ev.ID),
			zap.Error(err),
		)
		return
	}
	if rec.GameID != s.gameID {
		return
	}
	s.ingest(rec, "live")
}

func (s *Session) ingest(rec domain.GameRecord, source string) {
	changed, err := s.engine.Ingest(rec)
	if err != nil || !changed {
		return
	}
	obslog.L().Debug("game_ingest",
		zap.String("game_id", s.gameID),
		zap.String("source", source),
		zap.String("status", string(rec.Status)),
		zap.Int64("claimed_at", rec.ClaimedAt),
	)
	s.recordMove(rec)
	s.notify()
	s.persistIfFinal(rec)
}

func (s *Session) recordMove(rec domain.GameRecord) {
	if rec.LastMove == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case rec.ClaimedAt < s.lastMoveAt:
		return
	case rec.ClaimedAt == s.lastMoveAt && len(s.moves) > 0:
		s.moves[len(s.moves)-1] = rec.LastMove
	default:
		s.moves = append(s.moves, rec.LastMove)
	}
	s.lastMoveAt = rec.ClaimedAt
}

func (s *Session) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	v, ok := s.engine.View()
	if !ok {
		return
	}
	for {
		select {
		case s.changes <- v:
			return
		default:
		}
		select {
		case <-s.changes:
		default:
		}
	}
}

// persistIfFinal hands a terminal record to the archive once. The save runs
// on its own goroutine so the relay read loop never waits on storage.
func (s *Session) persistIfFinal(rec domain.GameRecord) {
	if s.ctl.archive == nil || !rec.Status.Terminal() {
		return
	}
	s.mu.Lock()
	if s.archived || s.closed {
		s.mu.Unlock()
		return
	}
	s.archived = true
	moves := append([]string(nil), s.moves...)
	s.saves.Add(1)
	s.mu.Unlock()

	g := archive.NewFinishedGame(rec, moves)
	go func() {
		defer s.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.ctl.archive.Save(ctx, g); err != nil {
			obslog.L().Warn("game_archive_failed", zap.String("game_id", s.gameID), zap.Error(err))
			return
		}
		obslog.L().Info("game_archived",
			zap.String("game_id", s.gameID),
			zap.String("result", string(g.Result)),
		)
	}()
}

// WaitArchived blocks until archive saves started so far have finished.
func (s *Session) WaitArchived() {
	s.saves.Wait()
}

func (s *Session) checkOpen() error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return nil
}

// nextTimestamp keeps local records strictly after everything seen or
// published, so a late echo of an earlier record can never win the merge.
func (s *Session) nextTimestamp(cur domain.GameRecord) int64 {
	s.mu.Lock()
	floor := s.watermark
	s.mu.Unlock()
	if cur.ClaimedAt > floor {
		floor = cur.ClaimedAt
	}
	now := s.ctl.cfg.Now().Unix()
	if now > floor {
		return now
	}
	return floor + 1
}

func (s *Session) bumpWatermark(ts int64) {
	s.mu.Lock()
	if ts > s.watermark {
		s.watermark = ts
	}
	s.mu.Unlock()
}

// multiParty reports whether rec has an opponent for the local identity.
func (s *Session) multiParty(rec domain.GameRecord) bool {
	if s.local {
		return false
	}
	me := s.ctl.Identity()
	side, ok := rec.SideOf(me)
	if !ok {
		return false
	}
	other := rec.Seat(side.Opposite())
	return !domain.IsPlaceholder(other) && other != me
}

// Move validates and applies move against the current position, shows the
// result immediately and publishes it. Network games accept moves only once
// the black seat is taken. A publish failure keeps the optimistic state and
// is returned as *PublishError.
func (s *Session) Move(ctx context.Context, move string) (domain.GameRecord, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return domain.GameRecord{}, err
	}
	cur, ok := s.engine.Current()
	if !ok {
		return domain.GameRecord{}, ErrNoState
	}
	if cur.Status.Terminal() {
		return cur, ErrGameOver
	}
	if !s.local && cur.Status == domain.StatusAwaitingSecondPlayer {
		return cur, ErrNoOpponent
	}
	if !reconcile.CanMove(s.ctl.Identity(), cur) {
		return cur, ErrNotYourTurn
	}
	applied, err := chess.Apply(cur.Position, move)
	if err != nil {
		return cur, err
	}

	next := cur
	next.Position = applied.Position
	next.LastMove = applied.SAN
	switch {
	case applied.Terminal.Checkmate:
		next.Status = domain.StatusCheckmate
	case applied.Terminal.Draw:
		next.Status = domain.StatusDraw
	default:
		next.Status = domain.StatusInProgress
	}
	return s.commit(ctx, next, cur)
}

// Join takes the open black seat and publishes the joined record.
func (s *Session) Join(ctx context.Context) (domain.GameRecord, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return domain.GameRecord{}, err
	}
	cur, ok := s.engine.Current()
	if !ok {
		return domain.GameRecord{}, ErrNoState
	}
	if err := reconcile.CanJoin(cur, s.ctl.Identity()); err != nil {
		return cur, err
	}

	next := cur
	next.Black = s.ctl.Identity()
	next.Status = domain.StatusInProgress
	next.LastMove = ""
	next.PreferredEndpoint = s.ctl.fallbackEndpoint(cur.PreferredEndpoint)
	return s.commit(ctx, next, cur)
}

// Resign concedes the game. Only the side to move may resign, so the final
// record names the resigner as the side to move.
func (s *Session) Resign(ctx context.Context) (domain.GameRecord, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return domain.GameRecord{}, err
	}
	cur, ok := s.engine.Current()
	if !ok {
		return domain.GameRecord{}, ErrNoState
	}
	if cur.Status.Terminal() {
		return cur, ErrGameOver
	}
	if cur.Status == domain.StatusAwaitingSecondPlayer || !cur.HasOpponent() {
		return cur, ErrNoOpponent
	}
	if !reconcile.CanMove(s.ctl.Identity(), cur) {
		return cur, ErrNotYourTurn
	}

	next := cur
	next.Status = domain.StatusResigned
	next.LastMove = ""
	return s.commit(ctx, next, cur)
}

func (s *Session) commit(ctx context.Context, next, cur domain.GameRecord) (domain.GameRecord, error) {
	next.ClaimedAt = s.nextTimestamp(cur)
	next.Publisher = s.ctl.Identity()
	next.EventID = ""

	if !s.multiParty(next) {
		if changed, _ := s.engine.Ingest(next); !changed {
			return cur, ErrConflict
		}
		s.bumpWatermark(next.ClaimedAt)
		s.recordMove(next)
		s.notify()
		s.persistIfFinal(next)
		obslog.L().Debug("game_local_update",
			zap.String("game_id", s.gameID),
			zap.String("status", string(next.Status)),
		)
		return next, nil
	}

	if ok, _ := s.engine.ApplyLocal(next); !ok {
		return cur, ErrConflict
	}
	s.bumpWatermark(next.ClaimedAt)
	s.recordMove(next)
	s.notify()

	ev, err := s.ctl.publish(ctx, next)
	if err != nil {
		obslog.L().Warn("game_publish_failed", zap.String("game_id", s.gameID), zap.Error(err))
		return next, err
	}
	next.EventID = ev.ID
	if s.engine.Confirm(next) {
		s.notify()
	}
	s.persistIfFinal(next)
	return next, nil
}
