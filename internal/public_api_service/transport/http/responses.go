package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	contactsDomain "github.com/vocallabs/golang_services/internal/contact_ingestion_service/domain"
	forwardingDomain "github.com/vocallabs/golang_services/internal/forwarding_service/domain"
)

// Error codes returned in ErrorResponseDTO.Error.
const (
	codeInvalidRequest    = "invalid_request"
	codeValidation        = "validation_failed"
	codeNotConfigured     = "forwarding_not_configured"
	codeRemoteUnavailable = "remote_unavailable"
	codeReprogramPending  = "reprogram_incomplete"
	codePartialData       = "partial_data"
	codeUnauthorized      = "unauthorized"
	codeInternal          = "internal_error"
)

func writeJSON(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.ErrorContext(ctx, "Failed to write response", "error", err)
	}
}

// errorStatus maps a domain error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, forwardingDomain.ErrNotConfigured):
		return http.StatusUnprocessableEntity, codeNotConfigured
	case errors.Is(err, forwardingDomain.ErrValidation):
		return http.StatusUnprocessableEntity, codeValidation
	case errors.Is(err, forwardingDomain.ErrReprogramIncomplete):
		return http.StatusServiceUnavailable, codeReprogramPending
	case errors.Is(err, forwardingDomain.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable, codeRemoteUnavailable
	case errors.Is(err, contactsDomain.ErrPartialData):
		return http.StatusBadGateway, codePartialData
	case errors.Is(err, contactsDomain.ErrInvalidRequest):
		return http.StatusUnprocessableEntity, codeValidation
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the 400 response itself and reports whether the handler may continue.
func decodeAndValidate(ctx context.Context, logger *slog.Logger, validate *validator.Validate, w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.WarnContext(ctx, "Failed to decode request body", "error", err)
		writeJSON(ctx, logger, w, http.StatusBadRequest, ErrorResponseDTO{Error: codeInvalidRequest, Details: err.Error()})
		return false
	}
	if err := validate.StructCtx(ctx, dst); err != nil {
		logger.WarnContext(ctx, "Request validation failed", "error", err)
		writeJSON(ctx, logger, w, http.StatusBadRequest, ErrorResponseDTO{Error: codeInvalidRequest, Details: err.Error()})
		return false
	}
	return true
}
