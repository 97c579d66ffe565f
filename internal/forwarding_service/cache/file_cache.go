package cache

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/vocallabs/golang_services/internal/forwarding_service/domain"
)

// FileCache stores one JSON file per client under Dir.
type FileCache struct {
	Dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

func NewFileCache(dir string, logger *slog.Logger) *FileCache {
	return &FileCache{Dir: dir, logger: logger.With("component", "state_cache_file")}
}

func (c *FileCache) path(clientID string) string {
	return filepath.Join(c.Dir, url.PathEscape(clientID)+".json")
}

func (c *FileCache) Get(ctx context.Context, clientID string) (*domain.CachedState, bool) {
	c.mu.Lock()
	data, err := os.ReadFile(c.path(clientID))
	c.mu.Unlock()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.WarnContext(ctx, "Failed to read cached forwarding state", "client_id", clientID, "error", err)
		}
		recordLookup("file", false)
		return nil, false
	}
	cs, err := decodeEntry(data)
	if err != nil {
		discardCorrupt(ctx, c, c.logger, clientID, err)
		recordLookup("file", false)
		return nil, false
	}
	recordLookup("file", true)
	return cs, true
}

func (c *FileCache) Set(ctx context.Context, clientID string, state domain.CachedState) error {
	data, err := encodeEntry(state)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.Dir, ".state-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(clientID))
}

func (c *FileCache) Clear(ctx context.Context, clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path(clientID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
