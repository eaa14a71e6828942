package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultRelays is used when CHESS_RELAYS is unset.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}

type AppConfig struct {
	Relays    []string
	SecretKey string

	QueryLimit   int
	LobbyLimit   int
	AckTimeout   time.Duration
	QueryTimeout time.Duration

	RedisURL       string
	RatingCacheTTL time.Duration
	DatabaseURL    string

	MessagesDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Relays:         append([]string(nil), DefaultRelays...),
		QueryLimit:     10,
		LobbyLimit:     50,
		AckTimeout:     10 * time.Second,
		QueryTimeout:   8 * time.Second,
		RatingCacheTTL: 600 * time.Second,
	}

	if v := splitList(os.Getenv("CHESS_RELAYS")); len(v) > 0 {
		cfg.Relays = v
	}
	cfg.SecretKey = strings.TrimSpace(os.Getenv("CHESS_SECRET_KEY"))

	if n, ok := positiveInt("CHESS_QUERY_LIMIT"); ok {
		cfg.QueryLimit = n
	}
	if n, ok := positiveInt("CHESS_LOBBY_LIMIT"); ok {
		cfg.LobbyLimit = n
	}
	if n, ok := positiveInt("CHESS_ACK_TIMEOUT_SEC"); ok {
		cfg.AckTimeout = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt("CHESS_QUERY_TIMEOUT_SEC"); ok {
		cfg.QueryTimeout = time.Duration(n) * time.Second
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if n, ok := positiveInt("RATING_CACHE_TTL_SEC"); ok {
		cfg.RatingCacheTTL = time.Duration(n) * time.Second
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	for _, r := range cfg.Relays {
		if !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
			return nil, errors.New("CHESS_RELAYS entries must be ws:// or wss:// URLs: " + r)
		}
	}
	if cfg.SecretKey != "" && len(cfg.SecretKey) != 64 {
		return nil, errors.New("CHESS_SECRET_KEY must be 64 hex characters")
	}

	return cfg, nil
}

// OverrideRelays replaces the relay list when flags name any.
func (c *AppConfig) OverrideRelays(relays []string) {
	if v := splitList(strings.Join(relays, ",")); len(v) > 0 {
		c.Relays = v
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func positiveInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
