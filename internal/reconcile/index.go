package reconcile

import (
	"sort"
	"sync"

	"github.com/park285/Cheese-Relay-Chess/internal/domain"
)

// Index applies the merge policy independently per game id.
type Index struct {
	mu    sync.Mutex
	games map[string]domain.GameRecord
}

func NewIndex() *Index {
	return &Index{games: make(map[string]domain.GameRecord)}
}

// Ingest reports whether rec became the current record of its game.
func (x *Index) Ingest(rec domain.GameRecord) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	var cur *domain.GameRecord
	if held, ok := x.games[rec.GameID]; ok {
		cur = &held
	}
	if !Supersedes(cur, rec) {
		return false
	}
	x.games[rec.GameID] = rec
	return true
}

func (x *Index) Get(gameID string) (domain.GameRecord, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.games[gameID]
	return rec, ok
}

func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.games)
}

// Records returns the current record of every game, newest first.
func (x *Index) Records() []domain.GameRecord {
	x.mu.Lock()
	out := make([]domain.GameRecord, 0, len(x.games))
	for _, rec := range x.games {
		out = append(out, rec)
	}
	x.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ClaimedAt != out[j].ClaimedAt {
			return out[i].ClaimedAt > out[j].ClaimedAt
		}
		return out[i].GameID < out[j].GameID
	})
	return out
}
