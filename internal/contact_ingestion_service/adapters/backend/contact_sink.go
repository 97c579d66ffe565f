package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/domain"
)

// Doer executes one GraphQL operation. *graphql.Client implements it.
type Doer interface {
	Do(ctx context.Context, operation, query string, variables map[string]any, out any) error
}

const insertContactsMutation = `
mutation InsertContacts($objects: [vocallabs_users_contacts_data_insert_input!]!) {
  insert_vocallabs_users_contacts_data(objects: $objects) {
    affected_rows
  }
}`

type contactObject struct {
	ClientID     string   `json:"client_id"`
	RunID        string   `json:"run_id"`
	Name         string   `json:"name"`
	PhoneNumbers []string `json:"phone_numbers"`
	Etag         string   `json:"etag,omitempty"`
}

// ContactSink stores a run's contacts through the backend in a single
// mutation, which the backend applies atomically.
type ContactSink struct {
	gql    Doer
	logger *slog.Logger
}

func NewContactSink(gql Doer, logger *slog.Logger) *ContactSink {
	return &ContactSink{gql: gql, logger: logger.With("component", "contact_sink_backend")}
}

func (s *ContactSink) SaveBatch(ctx context.Context, records []domain.ContactRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	objects := make([]contactObject, 0, len(records))
	for _, r := range records {
		objects = append(objects, contactObject{
			ClientID:     r.ClientID,
			RunID:        r.RunID.String(),
			Name:         r.DisplayName,
			PhoneNumbers: r.PhoneNumbers,
			Etag:         r.SourceEtag,
		})
	}

	var out struct {
		Insert struct {
			AffectedRows int `json:"affected_rows"`
		} `json:"insert_vocallabs_users_contacts_data"`
	}
	if err := s.gql.Do(ctx, "insert_contacts", insertContactsMutation, map[string]any{"objects": objects}, &out); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrStoreFailed, err)
	}
	s.logger.InfoContext(ctx, "Contact batch sent to backend", "records", len(records), "affected_rows", out.Insert.AffectedRows)
	return out.Insert.AffectedRows, nil
}
