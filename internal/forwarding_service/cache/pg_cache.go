package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/vocallabs/golang_services/internal/forwarding_service/domain"
	"github.com/vocallabs/golang_services/internal/platform/database"
)

// PgCache persists cached state in the forwarding_state_cache table.
type PgCache struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgCache(db database.Querier, logger *slog.Logger) *PgCache {
	return &PgCache{db: db, logger: logger.With("component", "state_cache_pg")}
}

func (c *PgCache) Get(ctx context.Context, clientID string) (*domain.CachedState, bool) {
	var payload []byte
	err := c.db.QueryRow(ctx, `SELECT payload FROM forwarding_state_cache WHERE client_id = $1`, clientID).Scan(&payload)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			c.logger.WarnContext(ctx, "Failed to read cached forwarding state", "client_id", clientID, "error", err)
		}
		recordLookup("postgres", false)
		return nil, false
	}
	cs, err := decodeEntry(payload)
	if err != nil {
		discardCorrupt(ctx, c, c.logger, clientID, err)
		recordLookup("postgres", false)
		return nil, false
	}
	recordLookup("postgres", true)
	return cs, true
}

func (c *PgCache) Set(ctx context.Context, clientID string, state domain.CachedState) error {
	payload, err := encodeEntry(state)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO forwarding_state_cache (client_id, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (client_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()
	`
	if _, err := c.db.Exec(ctx, query, clientID, payload); err != nil {
		c.logger.ErrorContext(ctx, "Error writing cached forwarding state", "client_id", clientID, "error", err)
		return err
	}
	return nil
}

func (c *PgCache) Clear(ctx context.Context, clientID string) error {
	if _, err := c.db.Exec(ctx, `DELETE FROM forwarding_state_cache WHERE client_id = $1`, clientID); err != nil {
		c.logger.ErrorContext(ctx, "Error clearing cached forwarding state", "client_id", clientID, "error", err)
		return err
	}
	return nil
}
