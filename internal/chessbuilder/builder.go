// Package chessbuilder wires the relay chess components from configuration.
package chessbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Relay-Chess/internal/archive"
	"github.com/park285/Cheese-Relay-Chess/internal/config"
	"github.com/park285/Cheese-Relay-Chess/internal/gamesync"
	"github.com/park285/Cheese-Relay-Chess/internal/identity"
	"github.com/park285/Cheese-Relay-Chess/internal/msgcat"
	"github.com/park285/Cheese-Relay-Chess/internal/obslog"
	"github.com/park285/Cheese-Relay-Chess/internal/rating"
	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

// ErrReadOnly is returned by RequireKey when no secret key is configured.
var ErrReadOnly = errors.New("CHESS_SECRET_KEY is not set")

type Deps struct {
	Config     *config.AppConfig
	Transport  relay.Transport
	Signer     identity.Signer
	Controller *gamesync.Controller
	Archive    archive.Repository
	Ratings    *rating.Service
	Profiles   *rating.Cache
	Messages   *msgcat.Catalog

	// Ephemeral is set when the signer was generated for this process only.
	Ephemeral bool

	pool  *relay.Pool
	redis *redis.Client
}

type Option func(*options)

type options struct {
	transport relay.Transport
	signer    identity.Signer
}

// WithTransport replaces the websocket pool, e.g. with a relay.Hub.
func WithTransport(t relay.Transport) Option {
	return func(o *options) { o.transport = t }
}

func WithSigner(s identity.Signer) Option {
	return func(o *options) { o.signer = s }
}

func New(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Deps{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close(context.Background())
		}
	}()

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	d.Messages = msgs

	d.Transport = o.transport
	if d.Transport == nil {
		d.pool = relay.NewPool(relay.PoolConfig{
			QueryTimeout: cfg.QueryTimeout,
			AckTimeout:   cfg.AckTimeout,
		})
		d.Transport = d.pool
	}

	d.Signer = o.signer
	if d.Signer == nil {
		if d.Signer, d.Ephemeral, err = loadSigner(cfg.SecretKey); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		repo, err := archive.NewPostgresRepository(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		d.Archive = repo
	} else {
		d.Archive = archive.NewMemoryRepository()
	}

	d.Controller = gamesync.NewController(d.Transport, d.Signer, gamesync.Config{
		DefaultEndpoints: cfg.Relays,
		QueryLimit:       cfg.QueryLimit,
	}, gamesync.WithArchive(d.Archive))

	d.Ratings = rating.NewService(d.Transport, cfg.Relays, 0)
	var cacheOpts []rating.CacheOption
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rdb, err := rating.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init rating store: %w", err)
		}
		d.redis = rdb
		cacheOpts = append(cacheOpts, rating.WithStore(rating.NewRedisStore(rdb, cfg.RatingCacheTTL)))
	}
	d.Profiles = rating.NewCache(d.Ratings.Profile, cacheOpts...)

	obslog.L().Info("chess_deps_ready",
		zap.Strings("relays", cfg.Relays),
		zap.String("identity", d.Signer.PublicKey()),
		zap.Bool("ephemeral", d.Ephemeral),
		zap.Bool("redis", d.redis != nil),
		zap.Bool("postgres", strings.TrimSpace(cfg.DatabaseURL) != ""),
	)
	ok = true
	return d, nil
}

func loadSigner(secret string) (identity.Signer, bool, error) {
	if strings.TrimSpace(secret) == "" {
		s, err := identity.Generate()
		if err != nil {
			return nil, false, fmt.Errorf("generate key: %w", err)
		}
		return s, true, nil
	}
	s, err := identity.ParseSecretKey(secret)
	if err != nil {
		return nil, false, err
	}
	return s, false, nil
}

// RequireKey fails for ephemeral identities, which cannot own games beyond
// this process.
func (d *Deps) RequireKey() error {
	if d.Ephemeral {
		return ErrReadOnly
	}
	return nil
}

func (d *Deps) Close(ctx context.Context) error {
	var errs []error
	if d.pool != nil {
		errs = append(errs, d.pool.Close(ctx))
	}
	if d.Archive != nil {
		errs = append(errs, d.Archive.Close())
	}
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
	}
	return errors.Join(errs...)
}
