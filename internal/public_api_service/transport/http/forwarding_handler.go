package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	forwardingApp "github.com/vocallabs/golang_services/internal/forwarding_service/app"
	"github.com/vocallabs/golang_services/internal/forwarding_service/device"
	forwardingDomain "github.com/vocallabs/golang_services/internal/forwarding_service/domain"
	"github.com/vocallabs/golang_services/internal/platform/auth"
)

// DevicePlatformHeader lets a native shell state its platform instead of relying on the user agent.
const DevicePlatformHeader = "X-Device-Platform"

// ForwardingService is the state machine the handler drives. *app.Service implements it.
type ForwardingService interface {
	Load(ctx context.Context, clientID string) (*forwardingDomain.Snapshot, error)
	Current(ctx context.Context, clientID string) *forwardingDomain.Snapshot
	ChangeStatus(ctx context.Context, req forwardingApp.ChangeStatusRequest) (*forwardingDomain.Outcome, error)
	ActivateForwarding(ctx context.Context, clientID string, class device.Class) (*forwardingDomain.Outcome, error)
	DeactivateForwarding(ctx context.Context, clientID string, class device.Class) (*forwardingDomain.Outcome, error)
	SelectProvider(ctx context.Context, clientID, code string) (*forwardingDomain.Snapshot, error)
	ListAgents(ctx context.Context, clientID string) ([]forwardingDomain.Agent, error)
	Forget(ctx context.Context, clientID string) error
}

// ProviderCatalog is the carrier registry. *registry.ProviderRegistry implements it.
type ProviderCatalog interface {
	List(ctx context.Context) ([]forwardingDomain.Provider, bool)
	Detect(ctx context.Context, clientID, phoneNumber string) (*forwardingDomain.Provider, error)
}

type ForwardingHandler struct {
	service   ForwardingService
	providers ProviderCatalog
	logger    *slog.Logger
	validate  *validator.Validate
}

func NewForwardingHandler(service ForwardingService, providers ProviderCatalog, logger *slog.Logger, validate *validator.Validate) *ForwardingHandler {
	return &ForwardingHandler{
		service:   service,
		providers: providers,
		logger:    logger.With("component", "forwarding_handler"),
		validate:  validate,
	}
}

// RegisterRoutes mounts the forwarding endpoints. The router is expected to carry the session middleware.
func (h *ForwardingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/forwarding", h.GetForwarding)
	r.Put("/forwarding/status", h.ChangeStatus)
	r.Post("/forwarding/activation", h.ActivateForwarding)
	r.Delete("/forwarding/activation", h.DeactivateForwarding)
	r.Delete("/forwarding", h.Forget)
	r.Put("/forwarding/provider", h.SelectProvider)
	r.Get("/providers", h.ListProviders)
	r.Post("/providers/detect", h.DetectProvider)
	r.Get("/agents", h.ListAgents)
}

// classifyRequest derives the device class from the request headers.
func classifyRequest(r *http.Request) device.Class {
	return device.Classify(device.Descriptor{
		UserAgent:    r.UserAgent(),
		PlatformHint: r.Header.Get(DevicePlatformHeader),
	})
}

func deviceDTO(class device.Class) DeviceDTO {
	allowed := class.AllowedStatuses()
	statuses := make([]string, 0, len(allowed))
	for _, s := range allowed {
		statuses = append(statuses, string(s))
	}
	return DeviceDTO{
		Platform:        string(class.Platform),
		IsMobile:        class.IsMobile,
		CanDial:         class.CanDial(),
		AllowedStatuses: statuses,
	}
}

// session pulls the authenticated session or writes a 401.
func (h *ForwardingHandler) session(w http.ResponseWriter, r *http.Request) (auth.Session, *slog.Logger, bool) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	session, ok := auth.SessionFromContext(ctx)
	if !ok || session.ClientID == "" {
		logger.WarnContext(ctx, "Forwarding request without session")
		writeJSON(ctx, logger, w, http.StatusUnauthorized, ErrorResponseDTO{Error: codeUnauthorized})
		return auth.Session{}, nil, false
	}
	return session, logger.With("client_id", session.ClientID), true
}

// fail writes the error response together with the unchanged state.
func (h *ForwardingHandler) fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, clientID string, err error) {
	ctx := r.Context()
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "Forwarding operation failed", "error", err)
	} else {
		logger.WarnContext(ctx, "Forwarding operation rejected", "error", err)
	}
	writeJSON(ctx, logger, w, status, ErrorResponseDTO{
		Error:    code,
		Details:  err.Error(),
		Snapshot: h.service.Current(ctx, clientID),
	})
}

func (h *ForwardingHandler) respondOutcome(w http.ResponseWriter, r *http.Request, logger *slog.Logger, outcome *forwardingDomain.Outcome) {
	steps := outcome.Steps
	if steps == nil {
		steps = []forwardingDomain.CarrierStep{}
	}
	writeJSON(r.Context(), logger, w, http.StatusOK, ForwardingOutcomeResponseDTO{Snapshot: outcome.Snapshot, Steps: steps})
}

func (h *ForwardingHandler) GetForwarding(w http.ResponseWriter, r *http.Request) {
	session, logger, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := h.service.Load(r.Context(), session.ClientID)
	if err != nil {
		h.fail(w, r, logger, session.ClientID, err)
		return
	}
	writeJSON(r.Context(), logger, w, http.StatusOK, ForwardingStateResponseDTO{Snapshot: snap, Device: deviceDTO(classifyRequest(r))})
}

func (h *ForwardingHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	session, logger, ok := h.session(w, r)
	if !ok {
		return
	}
	var reqDTO ChangeStatusRequestDTO
	if !decodeAndValidate(r.Context(), logger, h.validate, w, r, &reqDTO) {
		return
	}

	outcome, err := h.service.ChangeStatus(r.Context(), forwardingApp.ChangeStatusRequest{
		ClientID: session.ClientID,
		AgentID:  reqDTO.AgentID,
		Status:   forwardingDomain.UseCaseStatus(reqDTO.Status),
		Device:   classifyRequest(r),
	})
	if err != nil {
		h.fail(w, r, logger, session.ClientID, err)
		return
	}
	logger.InfoContext(r.Context(), "Forwarding status changed", "status", reqDTO.Status, "steps", len(outcome.Steps))
	h.respondOutcome(w, r, logger, outcome)
}

func (h *ForwardingHandler) ActivateForwarding(w http.ResponseWriter, r *http.Request) {
	session, logger, ok := h.session(w, r)
	if !ok {
		return
	}
	outcome, err := h.service.ActivateForwarding(r.Context(), session.ClientID, classifyRequest(r))
	if err != nil {
		h.fail(w, r, logger, session.ClientID, err)
		return
	}
	h.respondOutcome(w, r, logger, outcome)
}

func (h *ForwardingHandler) DeactivateForwarding(w http.ResponseWriter, r *http.Request) {
	session, logger, ok := h.session(w, r)
	if !ok {
		return
	}
	outcome, err := h.service.DeactivateForwarding(r.Context(), session.ClientID, classifyRequest(r))
	if err != nil {
		h.fail(w, r, logger, session.ClientID, err)
		return
	}
	h.respondOutcome(w, r, logger, outcome)
}

// Forget drops the locally cached state, e.g. on logout.
func (h *ForwardingHandler) Forget(w http.ResponseWriter, r *http.Request) {
	session, logger, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.service.Forget(r.Context(), session.ClientID); err != nil {
		h.fail(w, r, logger, session.ClientID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ForwardingHandler) SelectProvider(w http.ResponseWriter, r *http.Request) {
	session, logger, ok := h.session(w, r)
	if !ok {
		return
	}
	var reqDTO SelectProviderRequestDTO
	if !decodeAndValidate(r.Context(), logger, h.validate, w, r, &reqDTO) {
		return
	}
	snap, err := h.service.SelectProvider(r.Context(), session.ClientID, reqDTO.Provider)
	if err != nil {
		h.fail(w, r, logger, session.ClientID, err)
		return
	}
	writeJSON(r.Context(), logger, w, http.StatusOK, ForwardingStateResponseDTO{Snapshot: snap, Device: deviceDTO(classifyRequest(r))})
}

func (h *ForwardingHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	_, logger, ok := h.session(w, r)
	if !ok {
		return
	}
	providers, fallback := h.providers.List(r.Context())
	writeJSON(r.Context(), logger, w, http.StatusOK, ProvidersResponseDTO{Providers: providers, Fallback: fallback})
}

func (h *ForwardingHandler) DetectProvider(w http.ResponseWriter, r *http.Request) {
	session, logger, ok := h.session(w, r)
	if !ok {
		return
	}
	var reqDTO DetectProviderRequestDTO
	if !decodeAndValidate(r.Context(), logger, h.validate, w, r, &reqDTO) {
		return
	}
	provider, err := h.providers.Detect(r.Context(), session.ClientID, reqDTO.PhoneNumber)
	if err != nil {
		h.fail(w, r, logger, session.ClientID, err)
		return
	}
	writeJSON(r.Context(), logger, w, http.StatusOK, DetectProviderResponseDTO{Provider: provider})
}

func (h *ForwardingHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	session, logger, ok := h.session(w, r)
	if !ok {
		return
	}
	agents, err := h.service.ListAgents(r.Context(), session.ClientID)
	if err != nil {
		h.fail(w, r, logger, session.ClientID, err)
		return
	}
	if agents == nil {
		agents = []forwardingDomain.Agent{}
	}
	writeJSON(r.Context(), logger, w, http.StatusOK, AgentsResponseDTO{Agents: agents})
}
