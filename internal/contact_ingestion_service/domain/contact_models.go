package domain

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// RawContact is one directory entry as the external source returns it.
type RawContact struct {
	ResourceName string
	Etag         string
	DisplayName  string
	PhoneNumbers []string
}

// ContactPage is one page of the external directory.
// An empty NextPageToken marks the last page.
type ContactPage struct {
	Contacts      []RawContact
	NextPageToken string
}

// ContactRecord is a normalized contact ready to persist. Records are created
// per ingestion run and never updated in place.
type ContactRecord struct {
	ID           uuid.UUID `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	ClientID     string    `json:"client_id"`
	SourceEtag   string    `json:"source_etag,omitempty"`
	DisplayName  string    `json:"display_name"`
	PhoneNumbers []string  `json:"phone_numbers"`
	CreatedAt    time.Time `json:"created_at"`
}

// NormalizePhone strips all whitespace from a phone number.
func NormalizePhone(number string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, number)
}

// IngestionRequest starts one ingestion run. A zero RunID is replaced by a fresh one.
type IngestionRequest struct {
	RunID       uuid.UUID `json:"run_id"`
	ClientID    string    `json:"client_id"`
	AccessToken string    `json:"access_token"`
}

// IngestionResult summarizes a finished run.
type IngestionResult struct {
	RunID      uuid.UUID `json:"run_id"`
	ClientID   string    `json:"client_id"`
	Pages      int       `json:"pages"`
	Fetched    int       `json:"fetched"`
	Stored     int       `json:"stored"`
	Duplicates int       `json:"duplicates"`
	Skipped    int       `json:"skipped"`
}

// ContactSource opens an external contacts directory with the user's credential.
// One pager serves a whole run.
type ContactSource interface {
	Open(ctx context.Context, accessToken string) (ContactPager, error)
}

// ContactPager pages through the directory opened by a ContactSource.
type ContactPager interface {
	FetchPage(ctx context.Context, pageToken string, pageSize int) (*ContactPage, error)
}

// ContactStore persists one run's records as a single batch; either every
// record is stored or none is.
type ContactStore interface {
	SaveBatch(ctx context.Context, records []ContactRecord) (int, error)
}
