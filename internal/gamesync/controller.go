// Package gamesync runs game sessions over a relay transport: it loads and
// follows a game's records, applies local moves optimistically and publishes
// them.
package gamesync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Relay-Chess/internal/archive"
	"github.com/park285/Cheese-Relay-Chess/internal/codec"
	"github.com/park285/Cheese-Relay-Chess/internal/domain"
	"github.com/park285/Cheese-Relay-Chess/internal/identity"
	"github.com/park285/Cheese-Relay-Chess/internal/obslog"
	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

// Archiver receives every game a session sees finish.
type Archiver interface {
	Save(ctx context.Context, g archive.FinishedGame) error
}

type Config struct {
	// DefaultEndpoints are queried and subscribed for every game; the first
	// one is the publish target for games without a preferred endpoint.
	DefaultEndpoints []string
	// QueryLimit bounds the initial historical query per game.
	QueryLimit int
	// Now is the clock used for claimed timestamps.
	Now func() time.Time
}

type Controller struct {
	transport relay.Transport
	signer    identity.Signer
	cfg       Config
	archive   Archiver
	newID     func() string
}

type Option func(*Controller)

func WithArchive(a Archiver) Option {
	return func(c *Controller) { c.archive = a }
}

func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

func NewController(t relay.Transport, s identity.Signer, cfg Config, opts ...Option) *Controller {
	cfg.DefaultEndpoints = relay.Endpoints(cfg.DefaultEndpoints)
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Controller{
		transport: t,
		signer:    s,
		cfg:       cfg,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity is the local player's public key.
func (c *Controller) Identity() string { return c.signer.PublicKey() }

func (c *Controller) DefaultEndpoints() []string {
	return append([]string(nil), c.cfg.DefaultEndpoints...)
}

// PublishTargets pins publishing to the game's preferred endpoint, falling
// back to the first default endpoint.
func (c *Controller) PublishTargets(rec domain.GameRecord) []string {
	if ep := relay.NormalizeURL(rec.PreferredEndpoint); ep != "" {
		return []string{ep}
	}
	if len(c.cfg.DefaultEndpoints) > 0 {
		return []string{c.cfg.DefaultEndpoints[0]}
	}
	return nil
}

func (c *Controller) fallbackEndpoint(preferred string) string {
	if ep := relay.NormalizeURL(preferred); ep != "" {
		return ep
	}
	if len(c.cfg.DefaultEndpoints) > 0 {
		return c.cfg.DefaultEndpoints[0]
	}
	return ""
}

// CreateGame publishes a new game with the local identity in the white seat
// and pins it to preferred, or to the first default endpoint.
func (c *Controller) CreateGame(ctx context.Context, preferred string) (domain.GameRecord, error) {
	endpoint := c.fallbackEndpoint(preferred)
	if endpoint == "" {
		return domain.GameRecord{}, ErrNoEndpoint
	}
	rec := domain.GameRecord{
		GameID:            c.newID(),
		Position:          domain.InitialPosition,
		White:             c.Identity(),
		Status:            domain.StatusAwaitingSecondPlayer,
		PreferredEndpoint: endpoint,
		ClaimedAt:         c.cfg.Now().Unix(),
	}
	ev, err := c.publish(ctx, rec)
	if err != nil {
		return rec, err
	}
	rec.EventID = ev.ID
	rec.Publisher = ev.PubKey

	obslog.L().Info("game_create",
		zap.String("game_id", rec.GameID),
		zap.String("white", rec.White),
		zap.String("relay", endpoint),
	)
	return rec, nil
}

// publish signs rec and sends it to its publish targets.
func (c *Controller) publish(ctx context.Context, rec domain.GameRecord) (relay.Event, error) {
	targets := c.PublishTargets(rec)
	if len(targets) == 0 {
		return relay.Event{}, ErrNoEndpoint
	}
	ev := codec.Encode(rec)
	if err := c.signer.Sign(ctx, &ev); err != nil {
		return relay.Event{}, fmt.Errorf("sign record: %w", err)
	}
	results := c.transport.Publish(ctx, targets, ev)
	accepted := relay.Accepted(results)
	obslog.L().Info("game_publish",
		zap.String("game_id", rec.GameID),
		zap.String("event", ev.ID),
		zap.String("status", string(rec.Status)),
		zap.Strings("targets", targets),
		zap.Int("accepted", accepted),
	)
	if accepted == 0 {
		return ev, &PublishError{GameID: rec.GameID, Results: results}
	}
	return ev, nil
}

// Open starts a session for gameID. Loading and following happen in the
// background; Open itself does no network I/O.
func (c *Controller) Open(gameID, preferred string) (*Session, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, fmt.Errorf("game id is required")
	}
	s := newSession(c, gameID, relay.Endpoints(c.cfg.DefaultEndpoints, []string{preferred}), false)
	if len(s.endpoints) == 0 {
		return nil, relay.ErrNoEndpoints
	}
	go s.run()
	return s, nil
}

// Practice starts a local game in which the local identity holds both seats.
// Nothing is ever published or subscribed.
func (c *Controller) Practice() *Session {
	me := c.Identity()
	s := newSession(c, c.newID(), nil, true)
	rec := domain.GameRecord{
		GameID:    s.gameID,
		Position:  domain.InitialPosition,
		White:     me,
		Black:     me,
		Status:    domain.StatusInProgress,
		ClaimedAt: c.cfg.Now().Unix(),
	}
	_, _ = s.engine.Ingest(rec)
	s.markReady()
	s.notify()
	return s
}
