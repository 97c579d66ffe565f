package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	contactsDomain "github.com/vocallabs/golang_services/internal/contact_ingestion_service/domain"
	"github.com/vocallabs/golang_services/internal/platform/auth"
	"github.com/vocallabs/golang_services/internal/platform/messagebroker"
)

// ContactsHandler queues contact ingestion runs for the ingestion worker.
type ContactsHandler struct {
	natsClient messagebroker.NATSClient
	subject    string
	logger     *slog.Logger
	validate   *validator.Validate
}

func NewContactsHandler(natsClient messagebroker.NATSClient, subject string, logger *slog.Logger, validate *validator.Validate) *ContactsHandler {
	return &ContactsHandler{
		natsClient: natsClient,
		subject:    subject,
		logger:     logger.With("component", "contacts_handler"),
		validate:   validate,
	}
}

func (h *ContactsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/contacts/ingestions", h.StartIngestion)
}

// StartIngestion publishes an account-linked event and answers 202 with the run ID
// the worker will report in its completed or failed event.
func (h *ContactsHandler) StartIngestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	session, ok := auth.SessionFromContext(ctx)
	if !ok || session.ClientID == "" {
		logger.WarnContext(ctx, "Unauthorized ingestion request: missing session")
		writeJSON(ctx, logger, w, http.StatusUnauthorized, ErrorResponseDTO{Error: codeUnauthorized})
		return
	}
	logger = logger.With("client_id", session.ClientID)

	var reqDTO StartIngestionRequestDTO
	if !decodeAndValidate(ctx, logger, h.validate, w, r, &reqDTO) {
		return
	}

	event := contactsDomain.AccountLinkedEvent{
		RunID:       uuid.New(),
		ClientID:    session.ClientID,
		AccessToken: reqDTO.AccessToken,
		Provider:    "google",
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to marshal account linked event", "error", err)
		writeJSON(ctx, logger, w, http.StatusInternalServerError, ErrorResponseDTO{Error: codeInternal})
		return
	}

	if err := h.natsClient.Publish(ctx, h.subject, payload); err != nil {
		logger.ErrorContext(ctx, "Failed to publish account linked event", "error", err)
		writeJSON(ctx, logger, w, http.StatusServiceUnavailable, ErrorResponseDTO{Error: codeRemoteUnavailable})
		return
	}

	logger.InfoContext(ctx, "Contact ingestion queued", "run_id", event.RunID.String())
	writeJSON(ctx, logger, w, http.StatusAccepted, StartIngestionResponseDTO{RunID: event.RunID.String()})
}
