package archive

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is used when no database is configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	games map[string]FinishedGame
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{games: make(map[string]FinishedGame)}
}

func (m *MemoryRepository) Save(_ context.Context, g FinishedGame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.Moves = append([]string(nil), g.Moves...)
	m.games[g.GameID] = g
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, gameID string) (FinishedGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[gameID]
	if !ok {
		return FinishedGame{}, ErrNotFound
	}
	return g, nil
}

func (m *MemoryRepository) Recent(_ context.Context, identity string, limit int) ([]FinishedGame, error) {
	m.mu.RLock()
	items := make([]FinishedGame, 0)
	for _, g := range m.games {
		if identity == "" || g.White == identity || g.Black == identity {
			items = append(items, g)
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].FinishedAt.Equal(items[j].FinishedAt) {
			return items[i].FinishedAt.After(items[j].FinishedAt)
		}
		return items[i].GameID < items[j].GameID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryRepository) Close() error { return nil }
