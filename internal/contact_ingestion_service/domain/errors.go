package domain

import "errors"

var (
	// ErrPartialData indicates a page fetch failed mid-run. Nothing from the run is persisted.
	ErrPartialData = errors.New("partial contact data")
	// ErrInvalidRequest indicates a run that cannot start (missing client or credential).
	ErrInvalidRequest = errors.New("invalid ingestion request")
	// ErrStoreFailed indicates the batch write failed.
	ErrStoreFailed = errors.New("contact batch store failed")
)
