package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/domain"
	"github.com/vocallabs/golang_services/internal/platform/messagebroker"
)

// Runner runs one ingestion. *Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionResult, error)
}

// NATSConsumer runs ingestion on account-linked events and reports the outcome.
type NATSConsumer struct {
	runner     Runner
	natsClient messagebroker.NATSClient
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewNATSConsumer(runner Runner, natsClient messagebroker.NATSClient, runTimeout time.Duration, logger *slog.Logger) *NATSConsumer {
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	return &NATSConsumer{
		runner:     runner,
		natsClient: natsClient,
		runTimeout: runTimeout,
		logger:     logger.With("component", "nats_consumer"),
	}
}

// Start subscribes HandleAccountLinked to subject within queueGroup.
func (c *NATSConsumer) Start(ctx context.Context, subject, queueGroup string) (messagebroker.Subscription, error) {
	sub, err := c.natsClient.Subscribe(ctx, subject, queueGroup, c.HandleAccountLinked)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to NATS subject '%s': %w", subject, err)
	}
	return sub, nil
}

// HandleAccountLinked runs one ingestion for the linked account and publishes
// a completed or failed event.
func (c *NATSConsumer) HandleAccountLinked(ctx context.Context, subject string, data []byte) {
	natsAccountLinkedReceived.WithLabelValues(subject).Inc()

	c.logger.InfoContext(ctx, "Received account linked event", "subject", subject, "data_len", len(data))
	var event domain.AccountLinkedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		// Not publishing a failure here: there is no client to report it to.
		c.logger.ErrorContext(ctx, "Failed to unmarshal account linked event", "error", err)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	result, err := c.runner.Run(runCtx, domain.IngestionRequest{
		RunID:       event.RunID,
		ClientID:    event.ClientID,
		AccessToken: event.AccessToken,
	})
	if err != nil {
		failed := domain.IngestionFailedEvent{
			RunID:        event.RunID,
			ClientID:     event.ClientID,
			ErrorKind:    errorKind(err),
			ErrorMessage: err.Error(),
		}
		if result != nil {
			failed.RunID = result.RunID
		}
		c.logger.ErrorContext(ctx, "Contact ingestion failed", "client_id", event.ClientID, "error_kind", failed.ErrorKind, "error", err)
		c.publish(domain.NATSIngestionFailedV1, failed)
		return
	}

	c.publish(domain.NATSIngestionCompletedV1, domain.IngestionCompletedEvent{
		RunID:      result.RunID,
		ClientID:   result.ClientID,
		Pages:      result.Pages,
		Fetched:    result.Fetched,
		Stored:     result.Stored,
		Duplicates: result.Duplicates,
	})
}

func (c *NATSConsumer) publish(subject string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("Failed to marshal ingestion event", "subject", subject, "error", err)
		return
	}
	// Fresh context: the run context may already be cancelled.
	if err := c.natsClient.Publish(context.Background(), subject, payload); err != nil {
		c.logger.Error("Failed to publish ingestion event", "subject", subject, "error", err)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrPartialData):
		return "partial_data"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, domain.ErrStoreFailed):
		return "store_failed"
	default:
		return "internal"
	}
}
