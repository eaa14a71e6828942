// Package lobby lists recent games seen on the relays.
package lobby

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Relay-Chess/internal/codec"
	"github.com/park285/Cheese-Relay-Chess/internal/domain"
	"github.com/park285/Cheese-Relay-Chess/internal/obslog"
	"github.com/park285/Cheese-Relay-Chess/internal/reconcile"
	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

const DefaultLimit = 50

type Options struct {
	// Limit bounds the relay query, not the number of games returned.
	Limit int
	// OpenOnly keeps games still waiting for a second player.
	OpenOnly bool
	// Exclude drops games created by this identity.
	Exclude string
}

// List queries recent chess records, keeps the current record of each game
// under the usual merge rules and returns them newest first.
func List(ctx context.Context, t relay.Transport, endpoints []string, opts Options) ([]domain.GameRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	events, err := t.Query(ctx, endpoints, codec.LobbyFilter(limit))
	if err != nil {
		return nil, fmt.Errorf("query lobby: %w", err)
	}

	idx := reconcile.NewIndex()
	for _, ev := range events {
		rec, err := codec.Decode(ev)
		if err != nil {
			obslog.L().Debug("lobby_record_dropped", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		idx.Ingest(rec)
	}

	records := idx.Records()
	out := records[:0]
	for _, rec := range records {
		if opts.OpenOnly && !joinable(rec) {
			continue
		}
		if opts.Exclude != "" && rec.White == opts.Exclude {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func joinable(rec domain.GameRecord) bool {
	return rec.Status == domain.StatusAwaitingSecondPlayer &&
		!domain.IsPlaceholder(rec.White) &&
		domain.IsPlaceholder(rec.Black)
}
