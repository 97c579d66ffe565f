package cache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vocallabs/golang_services/internal/forwarding_service/domain"
)

// MemoryCache keeps encoded entries in a map. Entries are stored as JSON so
// callers never share mutable state with the cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	logger  *slog.Logger
}

func NewMemoryCache(logger *slog.Logger) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string][]byte),
		logger:  logger.With("component", "state_cache_memory"),
	}
}

func (c *MemoryCache) Get(ctx context.Context, clientID string) (*domain.CachedState, bool) {
	c.mu.Lock()
	raw, ok := c.entries[clientID]
	c.mu.Unlock()
	if !ok {
		recordLookup("memory", false)
		return nil, false
	}
	cs, err := decodeEntry(raw)
	if err != nil {
		discardCorrupt(ctx, c, c.logger, clientID, err)
		recordLookup("memory", false)
		return nil, false
	}
	recordLookup("memory", true)
	return cs, true
}

func (c *MemoryCache) Set(ctx context.Context, clientID string, state domain.CachedState) error {
	raw, err := encodeEntry(state)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[clientID] = raw
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context, clientID string) error {
	c.mu.Lock()
	delete(c.entries, clientID)
	c.mu.Unlock()
	return nil
}
