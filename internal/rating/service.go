package rating

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Relay-Chess/internal/codec"
	"github.com/park285/Cheese-Relay-Chess/internal/domain"
	"github.com/park285/Cheese-Relay-Chess/internal/obslog"
	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

// KindMetadata is the profile metadata event kind.
const KindMetadata = 0

// Profile is an identity's display metadata plus its replayed rating.
type Profile struct {
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	domain.RatingRecord
}

// Service answers rating and profile questions with bulk historical queries.
// It never publishes.
type Service struct {
	transport relay.Transport
	endpoints []string
	limit     int
}

// NewService queries endpoints. historyLimit bounds the bulk history query;
// zero leaves the bound to each relay.
func NewService(t relay.Transport, endpoints []string, historyLimit int) *Service {
	return &Service{
		transport: t,
		endpoints: relay.Endpoints(endpoints),
		limit:     historyLimit,
	}
}

// History returns every decodable record naming identity in either seat.
func (s *Service) History(ctx context.Context, identity string) ([]domain.GameRecord, error) {
	events, err := s.transport.Query(ctx, s.endpoints, codec.ParticipantFilter(identity, s.limit))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	records := make([]domain.GameRecord, 0, len(events))
	dropped := 0
	for _, ev := range events {
		rec, err := codec.Decode(ev)
		if err != nil {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	if dropped > 0 {
		obslog.L().Debug("rating_history_dropped", zap.String("identity", identity), zap.Int("dropped", dropped))
	}
	return records, nil
}

func (s *Service) Rating(ctx context.Context, identity string) (domain.RatingRecord, error) {
	records, err := s.History(ctx, identity)
	if err != nil {
		return domain.RatingRecord{}, err
	}
	return Replay(identity, records), nil
}

// Metadata reads the newest kind-0 metadata of identity. The name falls back
// to a short form of the identity.
func (s *Service) Metadata(ctx context.Context, identity string) (name, picture string) {
	name = ShortName(identity)
	events, err := s.transport.Query(ctx, s.endpoints, relay.Filter{
		Kinds:   []int{KindMetadata},
		Authors: []string{identity},
		Limit:   1,
	})
	if err != nil || len(events) == 0 {
		if err != nil {
			obslog.L().Debug("profile_metadata_failed", zap.String("identity", identity), zap.Error(err))
		}
		return name, ""
	}

	var meta struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Picture     string `json:"picture"`
	}
	if err := json.Unmarshal([]byte(events[0].Content), &meta); err != nil {
		obslog.L().Debug("profile_metadata_invalid", zap.String("identity", identity), zap.Error(err))
		return name, ""
	}
	switch {
	case strings.TrimSpace(meta.Name) != "":
		name = meta.Name
	case strings.TrimSpace(meta.DisplayName) != "":
		name = meta.DisplayName
	}
	return name, meta.Picture
}

func (s *Service) Profile(ctx context.Context, identity string) (Profile, error) {
	rec, err := s.Rating(ctx, identity)
	if err != nil {
		return Profile{}, err
	}
	name, picture := s.Metadata(ctx, identity)
	return Profile{Name: name, Picture: picture, RatingRecord: rec}, nil
}

// ShortName is the first eight characters of identity.
func ShortName(identity string) string {
	if len(identity) > 8 {
		return identity[:8]
	}
	return identity
}
