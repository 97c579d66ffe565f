package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/domain"
)

const defaultPageSize = 200

// Pipeline pages through a contact source, deduplicates the entries and
// stores them as one batch.
type Pipeline struct {
	source   domain.ContactSource
	store    domain.ContactStore
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
}

func NewPipeline(source domain.ContactSource, store domain.ContactStore, pageSize int, logger *slog.Logger) *Pipeline {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Pipeline{
		source:   source,
		store:    store,
		pageSize: pageSize,
		logger:   logger.With("service", "contact_ingestion_pipeline"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one ingestion. Cancellation is checked between pages. Any page
// failure aborts the run with ErrPartialData before anything is stored.
func (p *Pipeline) Run(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionResult, error) {
	start := time.Now()
	defer func() { ingestionRunDurationHist.Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(req.ClientID) == "" || strings.TrimSpace(req.AccessToken) == "" {
		ingestionRunsCounter.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: client id and access token are required", domain.ErrInvalidRequest)
	}
	runID := req.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	result := &domain.IngestionResult{RunID: runID, ClientID: req.ClientID}
	logger := p.logger.With("run_id", runID.String(), "client_id", req.ClientID)
	logger.InfoContext(ctx, "Starting contact ingestion", "page_size", p.pageSize)

	pager, err := p.source.Open(ctx, req.AccessToken)
	if err != nil {
		ingestionRunsCounter.WithLabelValues("partial_data").Inc()
		logger.WarnContext(ctx, "Opening contact source failed", "error", err)
		return result, fmt.Errorf("%w: opening source: %w", domain.ErrPartialData, err)
	}

	dedup := newDeduper()
	seenTokens := make(map[string]struct{})
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			ingestionRunsCounter.WithLabelValues("partial_data").Inc()
			logger.WarnContext(ctx, "Contact ingestion cancelled", "pages", result.Pages, "error", err)
			return result, fmt.Errorf("%w: cancelled after %d pages: %w", domain.ErrPartialData, result.Pages, err)
		}

		page, err := pager.FetchPage(ctx, pageToken, p.pageSize)
		if err != nil {
			ingestionRunsCounter.WithLabelValues("partial_data").Inc()
			logger.WarnContext(ctx, "Contact page fetch failed, aborting run", "page", result.Pages+1, "error", err)
			return result, fmt.Errorf("%w: page %d: %w", domain.ErrPartialData, result.Pages+1, err)
		}
		result.Pages++
		result.Fetched += len(page.Contacts)
		ingestionPagesCounter.Inc()
		for _, raw := range page.Contacts {
			dedup.add(raw)
		}

		if page.NextPageToken == "" {
			break
		}
		if _, repeat := seenTokens[page.NextPageToken]; repeat {
			ingestionRunsCounter.WithLabelValues("partial_data").Inc()
			return result, fmt.Errorf("%w: source repeated page token after %d pages", domain.ErrPartialData, result.Pages)
		}
		seenTokens[page.NextPageToken] = struct{}{}
		pageToken = page.NextPageToken
	}

	result.Duplicates = dedup.dropped
	result.Skipped = dedup.rejected
	ingestionContactsCounter.WithLabelValues("duplicate").Add(float64(dedup.dropped))
	ingestionContactsCounter.WithLabelValues("skipped").Add(float64(dedup.rejected))

	records := p.buildRecords(runID, req.ClientID, dedup.kept)
	if len(records) > 0 {
		stored, err := p.store.SaveBatch(ctx, records)
		if err != nil {
			ingestionRunsCounter.WithLabelValues("store_failed").Inc()
			logger.ErrorContext(ctx, "Failed to store contact batch", "records", len(records), "error", err)
			if errors.Is(err, domain.ErrStoreFailed) {
				return result, err
			}
			return result, fmt.Errorf("%w: %w", domain.ErrStoreFailed, err)
		}
		result.Stored = stored
	}
	ingestionContactsCounter.WithLabelValues("stored").Add(float64(result.Stored))
	ingestionRunsCounter.WithLabelValues("success").Inc()

	logger.InfoContext(ctx, "Contact ingestion finished",
		"pages", result.Pages, "fetched", result.Fetched, "stored", result.Stored, "duplicates", result.Duplicates)
	return result, nil
}

func (p *Pipeline) buildRecords(runID uuid.UUID, clientID string, kept []normalizedContact) []domain.ContactRecord {
	now := p.now()
	records := make([]domain.ContactRecord, 0, len(kept))
	for _, nc := range kept {
		phones := nc.phones
		if phones == nil {
			phones = []string{}
		}
		records = append(records, domain.ContactRecord{
			ID:           uuid.New(),
			RunID:        runID,
			ClientID:     clientID,
			SourceEtag:   nc.etag,
			DisplayName:  nc.displayName,
			PhoneNumbers: phones,
			CreatedAt:    now,
		})
	}
	return records
}
