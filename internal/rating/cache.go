package rating

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/park285/Cheese-Relay-Chess/internal/obslog"
)

// ComputeFunc produces a profile on a cache miss.
type ComputeFunc func(ctx context.Context, identity string) (Profile, error)

// Store is an optional shared second level behind the in-process map.
type Store interface {
	Get(ctx context.Context, identity string) (Profile, bool, error)
	Set(ctx context.Context, identity string, p Profile) error
}

// Cache memoizes profiles per identity for the life of the process.
// Concurrent misses for one identity share a single computation.
type Cache struct {
	compute ComputeFunc
	store   Store

	mu      sync.RWMutex
	entries map[string]Profile
	group   singleflight.Group
}

type CacheOption func(*Cache)

func WithStore(s Store) CacheOption {
	return func(c *Cache) { c.store = s }
}

func NewCache(compute ComputeFunc, opts ...CacheOption) *Cache {
	c := &Cache{
		compute: compute,
		entries: make(map[string]Profile),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached profile or computes it. Failed computations are not
// cached.
func (c *Cache) Get(ctx context.Context, identity string) (Profile, error) {
	if p, ok := c.lookup(identity); ok {
		return p, nil
	}
	v, err, shared := c.group.Do(identity, func() (any, error) {
		if p, ok := c.lookup(identity); ok {
			return p, nil
		}
		if c.store != nil {
			p, ok, err := c.store.Get(ctx, identity)
			if err != nil {
				obslog.L().Warn("rating_store_get_failed", zap.String("identity", identity), zap.Error(err))
			} else if ok {
				c.put(identity, p)
				return p, nil
			}
		}
		p, err := c.compute(ctx, identity)
		if err != nil {
			return Profile{}, err
		}
		c.put(identity, p)
		if c.store != nil {
			if err := c.store.Set(ctx, identity, p); err != nil {
				obslog.L().Warn("rating_store_set_failed", zap.String("identity", identity), zap.Error(err))
			}
		}
		return p, nil
	})
	if err != nil {
		return Profile{}, err
	}
	if shared {
		obslog.L().Debug("rating_cache_shared", zap.String("identity", identity))
	}
	return v.(Profile), nil
}

func (c *Cache) lookup(identity string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[identity]
	return p, ok
}

func (c *Cache) put(identity string, p Profile) {
	c.mu.Lock()
	c.entries[identity] = p
	c.mu.Unlock()
}

// Forget drops one identity from the in-process map.
func (c *Cache) Forget(identity string) {
	c.mu.Lock()
	delete(c.entries, identity)
	c.mu.Unlock()
}

// Clear drops every in-process entry. The shared store keeps its own TTL.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Profile)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
