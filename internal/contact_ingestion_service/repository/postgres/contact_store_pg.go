package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/domain"
	"github.com/vocallabs/golang_services/internal/platform/database"
)

var contactColumns = []string{"id", "run_id", "client_id", "source_etag", "display_name", "phone_numbers", "created_at"}

// PgContactStore writes a run's contacts into user_contacts in one transaction.
type PgContactStore struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgContactStore(db database.Querier, logger *slog.Logger) *PgContactStore {
	return &PgContactStore{db: db, logger: logger.With("component", "contact_store_pg")}
}

// SaveBatch copies every record or none.
func (s *PgContactStore) SaveBatch(ctx context.Context, records []domain.ContactRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	var copied int64
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		copied, err = tx.CopyFrom(ctx,
			pgx.Identifier{"user_contacts"},
			contactColumns,
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{r.ID, r.RunID, r.ClientID, r.SourceEtag, r.DisplayName, r.PhoneNumbers, r.CreatedAt}, nil
			}),
		)
		if err != nil {
			return err
		}
		if int(copied) != len(records) {
			return fmt.Errorf("copied %d of %d contacts", copied, len(records))
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error storing contact batch", "records", len(records), "run_id", records[0].RunID, "error", err)
		return 0, fmt.Errorf("%w: %w", domain.ErrStoreFailed, err)
	}
	s.logger.InfoContext(ctx, "Contact batch stored", "records", copied, "run_id", records[0].RunID)
	return int(copied), nil
}
