package domain

import "github.com/google/uuid"

const (
	NATSIngestionCompletedV1 = "contacts.ingestion.completed.v1"
	NATSIngestionFailedV1    = "contacts.ingestion.failed.v1"
)

// AccountLinkedEvent is published by the auth side once a user links an
// external contacts account.
type AccountLinkedEvent struct {
	RunID       uuid.UUID `json:"run_id,omitempty"`
	ClientID    string    `json:"client_id"`
	AccessToken string    `json:"access_token"`
	Provider    string    `json:"provider,omitempty"` // e.g. "google"
}

// IngestionCompletedEvent is published when a run stored its batch.
type IngestionCompletedEvent struct {
	RunID      uuid.UUID `json:"run_id"`
	ClientID   string    `json:"client_id"`
	Pages      int       `json:"pages"`
	Fetched    int       `json:"fetched"`
	Stored     int       `json:"stored"`
	Duplicates int       `json:"duplicates"`
}

// IngestionFailedEvent is published when a run aborted. Nothing was stored.
type IngestionFailedEvent struct {
	RunID        uuid.UUID `json:"run_id,omitempty"`
	ClientID     string    `json:"client_id"`
	ErrorKind    string    `json:"error_kind"`
	ErrorMessage string    `json:"error_message"`
}
