package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/vocallabs/golang_services/internal/forwarding_service/domain"
	"github.com/vocallabs/golang_services/internal/platform/database"
)

// LocalStateCache is the per-user fallback store for forwarding state.
// Entries never expire; they live until Clear. Get never fails: unreadable
// entries are logged, discarded and reported as absent.
type LocalStateCache interface {
	Get(ctx context.Context, clientID string) (*domain.CachedState, bool)
	Set(ctx context.Context, clientID string, state domain.CachedState) error
	Clear(ctx context.Context, clientID string) error
}

// decodeEntry parses a stored payload. A nil result means the payload is corrupt.
func decodeEntry(raw []byte) (*domain.CachedState, error) {
	var cs domain.CachedState
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

func encodeEntry(state domain.CachedState) ([]byte, error) {
	return json.Marshal(state)
}

// discardCorrupt logs and clears an unreadable entry.
func discardCorrupt(ctx context.Context, c LocalStateCache, logger *slog.Logger, clientID string, cause error) {
	cacheCorruptEntries.Inc()
	logger.WarnContext(ctx, "Discarding unreadable cached forwarding state", "client_id", clientID, "error", cause)
	if err := c.Clear(ctx, clientID); err != nil {
		logger.WarnContext(ctx, "Failed to clear unreadable cache entry", "client_id", clientID, "error", err)
	}
}

// Open builds a cache from a DSN. Supported schemes: memory://, file:///dir, postgres://.
// The returned close func releases any pool the cache opened.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (LocalStateCache, func(), error) {
	noop := func() {}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryCache(logger), noop, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, noop, fmt.Errorf("parsing state cache dsn: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory", "mem", "inmem":
		return NewMemoryCache(logger), noop, nil
	case "", "file":
		dir := parsed.Path
		if parsed.Scheme == "" {
			dir = dsn
		}
		if strings.TrimSpace(dir) == "" {
			return nil, noop, fmt.Errorf("file state cache dsn has no path: %s", dsn)
		}
		return NewFileCache(dir, logger), noop, nil
	case "postgres", "postgresql":
		pool, err := database.NewDBPool(ctx, dsn)
		if err != nil {
			return nil, noop, err
		}
		return NewPgCache(pool, logger), pool.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported state cache scheme: %s", parsed.Scheme)
	}
}
