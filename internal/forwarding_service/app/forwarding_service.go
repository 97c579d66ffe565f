package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/vocallabs/golang_services/internal/forwarding_service/cache"
	"github.com/vocallabs/golang_services/internal/forwarding_service/device"
	"github.com/vocallabs/golang_services/internal/forwarding_service/domain"
	"github.com/vocallabs/golang_services/internal/forwarding_service/registry"
)

// ChangeStatusRequest selects the use-case status and, optionally, a different agent.
type ChangeStatusRequest struct {
	ClientID string
	AgentID  string // empty keeps the currently mapped agent
	Status   domain.UseCaseStatus
	Device   device.Class
}

// Service is the forwarding state machine. It reconciles the backend mapping,
// the local cache and the belief about carrier state for each client.
type Service struct {
	remote        domain.RemoteSyncClient
	stateCache    cache.LocalStateCache
	providers     *registry.ProviderRegistry
	dialer        domain.Dialer
	remoteTimeout time.Duration
	locks         *keyedMutex
	logger        *slog.Logger
	now           func() time.Time
}

// NewService builds the state machine. dialer may be nil, in which case dial
// steps are handed back to the caller unconfirmed.
func NewService(
	remote domain.RemoteSyncClient,
	stateCache cache.LocalStateCache,
	providers *registry.ProviderRegistry,
	dialer domain.Dialer,
	remoteTimeout time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		remote:        remote,
		stateCache:    stateCache,
		providers:     providers,
		dialer:        dialer,
		remoteTimeout: remoteTimeout,
		locks:         newKeyedMutex(),
		logger:        logger.With("service", "forwarding_app"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Load reconciles the client's state. A successful remote read wins and is
// written through to the cache. When the backend is unreachable the cached
// state is returned with Stale set; with no cache entry the client is
// Unconfigured. Load only fails on invalid input.
func (s *Service) Load(ctx context.Context, clientID string) (*domain.Snapshot, error) {
	if err := requireClient(clientID); err != nil {
		return nil, err
	}
	defer s.observe(ctx, "load", time.Now())
	release := s.locks.Lock(clientID)
	defer release()

	snap := s.load(ctx, clientID)
	forwardingOperationsCounter.WithLabelValues("load", "success").Inc()
	return snap, nil
}

// Current returns the last known state from the cache without contacting the backend.
func (s *Service) Current(ctx context.Context, clientID string) *domain.Snapshot {
	cached, _ := s.stateCache.Get(ctx, clientID)
	return domain.SnapshotFromCache(clientID, cached)
}

func (s *Service) load(ctx context.Context, clientID string) *domain.Snapshot {
	cached, hasCache := s.stateCache.Get(ctx, clientID)

	var mapping *domain.ForwardingMapping
	err := s.callRemote(ctx, func(ctx context.Context) error {
		var err error
		mapping, err = s.remote.FetchMapping(ctx, clientID)
		return err
	})
	if err != nil {
		snap := domain.SnapshotFromCache(clientID, cached)
		snap.Stale = true
		source := "none"
		if hasCache {
			source = "cache"
		}
		forwardingLoadSourceCounter.WithLabelValues(source).Inc()
		s.logger.WarnContext(ctx, "Backend unreachable on load, using local state", "client_id", clientID, "cache_hit", hasCache, "error", err)
		return snap
	}

	forwardingLoadSourceCounter.WithLabelValues("remote").Inc()
	snap := adoptMapping(clientID, mapping, cached)
	s.persist(ctx, snap)
	return snap
}

// adoptMapping treats the remote mapping as truth. The belief flag and the
// provider selection only exist locally, so they are carried over from the cache.
func adoptMapping(clientID string, mapping *domain.ForwardingMapping, cached *domain.CachedState) *domain.Snapshot {
	snap := domain.SnapshotFromCache(clientID, nil)
	if cached != nil {
		snap.Belief = cached.Belief
		snap.Provider = cached.Provider
	}
	if mapping == nil {
		return snap
	}
	agent := mapping.Agent
	if agent.ID == "" {
		agent.ID = mapping.AgentID
	}
	agent.Status = mapping.Status
	snap.Agent = &agent
	snap.Status = mapping.Status
	if mapping.Provider != "" {
		snap.Provider = mapping.Provider
	}
	snap.State = domain.StateConfigured
	if snap.Belief.Active {
		snap.State = domain.StateForwardingActive
	}
	return snap
}

// ChangeStatus persists a new use-case status (and optionally a new agent).
// iOS devices only accept unconditional forwarding. If forwarding is believed
// active, the carrier is re-programmed: the old forwarding is deactivated and
// the new dial target activated, in that order. When the new dial target cannot
// be obtained after the status was saved, the outcome is returned together with
// ErrReprogramIncomplete and the belief is flagged NeedsReprogram.
func (s *Service) ChangeStatus(ctx context.Context, req ChangeStatusRequest) (*domain.Outcome, error) {
	const op = "change_status"
	defer s.observe(ctx, op, time.Now())
	if err := requireClient(req.ClientID); err != nil {
		return nil, s.fail(op, err)
	}
	status, err := domain.ParseUseCaseStatus(string(req.Status))
	if err != nil {
		return nil, s.fail(op, err)
	}
	if !req.Device.Allows(status) {
		return nil, s.fail(op, fmt.Errorf("%w: status %q is not supported on %s devices", domain.ErrValidation, status, req.Device.Platform))
	}

	release := s.locks.Lock(req.ClientID)
	defer release()

	current := s.current(ctx, req.ClientID)
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" && current.Agent != nil {
		agentID = current.Agent.ID
	}
	if agentID == "" {
		return nil, s.fail(op, fmt.Errorf("%w: an agent must be selected", domain.ErrValidation))
	}
	if current.Provider == "" {
		return nil, s.fail(op, fmt.Errorf("%w: no provider selected", domain.ErrValidation))
	}

	reprogram := current.Belief.Active
	var deactivationCode string
	if reprogram {
		err := s.callRemote(ctx, func(ctx context.Context) error {
			var err error
			deactivationCode, err = s.remote.DeactivateForwarding(ctx, current.Provider)
			return err
		})
		if err != nil {
			return nil, s.fail(op, err)
		}
	}

	err = s.callRemote(ctx, func(ctx context.Context) error {
		return s.remote.SetStatus(ctx, req.ClientID, agentID, status, current.Provider)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to persist forwarding status", "client_id", req.ClientID, "agent_id", agentID, "status", status, "error", err)
		return nil, s.fail(op, err)
	}

	next := current.Clone()
	next.Stale = false
	next.Agent = s.resolveAgent(ctx, req.ClientID, agentID, current.Agent)
	next.Status = status
	next.Agent.Status = status
	next.State = domain.StateConfigured
	if next.Belief.Active {
		next.State = domain.StateForwardingActive
	}

	outcome := &domain.Outcome{Snapshot: next}
	if reprogram {
		var number string
		err := s.callRemote(ctx, func(ctx context.Context) error {
			var err error
			number, err = s.remote.InitiateForwarding(ctx, req.ClientID)
			return err
		})
		if err != nil {
			// The backend holds the new status but the carrier keeps the old one.
			next.Belief.NeedsReprogram = true
			s.persist(ctx, next)
			s.logger.WarnContext(ctx, "Status changed but the carrier could not be re-programmed", "client_id", req.ClientID, "status", status, "error", err)
			return outcome, s.fail(op, fmt.Errorf("%w: %w", domain.ErrReprogramIncomplete, err))
		}
		outcome.Steps = append(outcome.Steps,
			s.carrierStep(ctx, req.ClientID, req.Device, domain.PurposeDeactivate, deactivationCode),
			s.carrierStep(ctx, req.ClientID, req.Device, domain.PurposeActivate, number),
		)
		next.Belief = domain.ForwardingBelief{Active: true, AgentID: agentID, RecordedAt: s.now()}
		next.State = domain.StateForwardingActive
	}

	s.persist(ctx, next)
	s.logger.InfoContext(ctx, "Forwarding status changed", "client_id", req.ClientID, "agent_id", agentID, "status", status, "reprogrammed", len(outcome.Steps) > 0)
	forwardingOperationsCounter.WithLabelValues(op, "success").Inc()
	return outcome, nil
}

// ActivateForwarding requests the carrier dial target and records the belief
// that forwarding is active. A belief left by a previous agent is overwritten.
func (s *Service) ActivateForwarding(ctx context.Context, clientID string, class device.Class) (*domain.Outcome, error) {
	const op = "activate"
	defer s.observe(ctx, op, time.Now())
	if err := requireClient(clientID); err != nil {
		return nil, s.fail(op, err)
	}
	release := s.locks.Lock(clientID)
	defer release()

	current := s.current(ctx, clientID)
	if current.Agent == nil {
		return nil, s.fail(op, fmt.Errorf("%w: no agent mapped", domain.ErrNotConfigured))
	}

	var number string
	err := s.callRemote(ctx, func(ctx context.Context) error {
		var err error
		number, err = s.remote.InitiateForwarding(ctx, clientID)
		return err
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to initiate forwarding", "client_id", clientID, "error", err)
		return nil, s.fail(op, err)
	}

	if current.Belief.Active && current.Belief.AgentID != "" && current.Belief.AgentID != current.Agent.ID {
		s.logger.InfoContext(ctx, "Overwriting forwarding belief from a previous agent", "client_id", clientID, "previous_agent_id", current.Belief.AgentID, "agent_id", current.Agent.ID)
	}

	next := current.Clone()
	next.Stale = false
	next.Belief = domain.ForwardingBelief{Active: true, AgentID: current.Agent.ID, RecordedAt: s.now()}
	next.State = domain.StateForwardingActive
	s.persist(ctx, next)

	step := s.carrierStep(ctx, clientID, class, domain.PurposeActivate, number)
	forwardingOperationsCounter.WithLabelValues(op, "success").Inc()
	return &domain.Outcome{Snapshot: next, Steps: []domain.CarrierStep{step}}, nil
}

// DeactivateForwarding looks up the carrier's deactivation code, issues it and
// clears the belief. The belief is cleared even when the dial is unconfirmed.
func (s *Service) DeactivateForwarding(ctx context.Context, clientID string, class device.Class) (*domain.Outcome, error) {
	const op = "deactivate"
	defer s.observe(ctx, op, time.Now())
	if err := requireClient(clientID); err != nil {
		return nil, s.fail(op, err)
	}
	release := s.locks.Lock(clientID)
	defer release()

	current := s.current(ctx, clientID)
	if current.Agent == nil && !current.Belief.Active {
		return nil, s.fail(op, fmt.Errorf("%w: nothing to deactivate", domain.ErrNotConfigured))
	}
	if current.Provider == "" {
		return nil, s.fail(op, fmt.Errorf("%w: no provider selected", domain.ErrValidation))
	}

	var code string
	err := s.callRemote(ctx, func(ctx context.Context) error {
		var err error
		code, err = s.remote.DeactivateForwarding(ctx, current.Provider)
		return err
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to look up deactivation code", "client_id", clientID, "provider", current.Provider, "error", err)
		return nil, s.fail(op, err)
	}

	step := s.carrierStep(ctx, clientID, class, domain.PurposeDeactivate, code)

	next := current.Clone()
	next.Stale = false
	next.Belief = domain.ForwardingBelief{}
	next.State = domain.StateUnconfigured
	if next.Agent != nil {
		next.State = domain.StateConfigured
	}
	s.persist(ctx, next)

	forwardingOperationsCounter.WithLabelValues(op, "success").Inc()
	return &domain.Outcome{Snapshot: next, Steps: []domain.CarrierStep{step}}, nil
}

// SelectProvider records the client's carrier locally.
func (s *Service) SelectProvider(ctx context.Context, clientID, code string) (*domain.Snapshot, error) {
	const op = "select_provider"
	if err := requireClient(clientID); err != nil {
		return nil, s.fail(op, err)
	}
	provider, err := s.providers.Lookup(ctx, code)
	if err != nil {
		return nil, s.fail(op, err)
	}

	release := s.locks.Lock(clientID)
	defer release()

	next := s.current(ctx, clientID).Clone()
	next.Provider = provider.Code
	s.persist(ctx, next)
	forwardingOperationsCounter.WithLabelValues(op, "success").Inc()
	return next, nil
}

// ListAgents returns the client's active agents, newest first.
func (s *Service) ListAgents(ctx context.Context, clientID string) ([]domain.Agent, error) {
	if err := requireClient(clientID); err != nil {
		return nil, err
	}
	var agents []domain.Agent
	err := s.callRemote(ctx, func(ctx context.Context) error {
		var err error
		agents, err = s.remote.ListAgents(ctx, clientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agents, nil
}

// Forget drops everything cached for the client (logout / remove).
func (s *Service) Forget(ctx context.Context, clientID string) error {
	if err := requireClient(clientID); err != nil {
		return err
	}
	release := s.locks.Lock(clientID)
	defer release()
	if err := s.stateCache.Clear(ctx, clientID); err != nil {
		s.logger.ErrorContext(ctx, "Failed to clear cached forwarding state", "client_id", clientID, "error", err)
		return fmt.Errorf("clearing cached state: %w", err)
	}
	s.logger.InfoContext(ctx, "Cleared cached forwarding state", "client_id", clientID)
	return nil
}

// current is the starting point for mutations: the cached state, or a fresh
// load when nothing is cached yet. Callers hold the client lock.
func (s *Service) current(ctx context.Context, clientID string) *domain.Snapshot {
	if cached, ok := s.stateCache.Get(ctx, clientID); ok {
		return domain.SnapshotFromCache(clientID, cached)
	}
	return s.load(ctx, clientID)
}

// resolveAgent keeps the known agent when unchanged, otherwise looks up its
// name. The lookup is best effort.
func (s *Service) resolveAgent(ctx context.Context, clientID, agentID string, known *domain.Agent) *domain.Agent {
	if known != nil && known.ID == agentID {
		agent := *known
		return &agent
	}
	var agents []domain.Agent
	err := s.callRemote(ctx, func(ctx context.Context) error {
		var err error
		agents, err = s.remote.ListAgents(ctx, clientID)
		return err
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Could not resolve agent name", "client_id", clientID, "agent_id", agentID, "error", err)
	}
	for _, a := range agents {
		if a.ID == agentID {
			agent := a
			return &agent
		}
	}
	return &domain.Agent{ID: agentID}
}

// carrierStep turns a dial target into a device-appropriate step. Phones dial
// through the Dialer when one is configured; desktops get an instruction.
func (s *Service) carrierStep(ctx context.Context, clientID string, class device.Class, purpose domain.StepPurpose, number string) domain.CarrierStep {
	step := domain.CarrierStep{
		Kind:    class.StepKind(),
		Purpose: purpose,
		Number:  number,
		TelURI:  domain.TelURI(number),
	}
	if step.Kind == domain.StepDial && s.dialer != nil {
		confirmed, err := s.dialer.Dial(ctx, clientID, number)
		if err != nil {
			s.logger.WarnContext(ctx, "Dial action failed", "client_id", clientID, "purpose", purpose, "error", err)
		}
		step.Confirmed = err == nil && confirmed
	}
	forwardingCarrierStepsCounter.WithLabelValues(string(purpose), string(step.Kind), strconv.FormatBool(step.Confirmed)).Inc()
	return step
}

// persist writes the snapshot through to the cache. The backend is
// authoritative, so a failed cache write is logged and otherwise ignored.
func (s *Service) persist(ctx context.Context, snap *domain.Snapshot) {
	if err := s.stateCache.Set(ctx, snap.ClientID, snap.ToCache()); err != nil {
		s.logger.ErrorContext(ctx, "Failed to write forwarding state to cache", "client_id", snap.ClientID, "error", err)
	}
}

// callRemote bounds fn by the remote timeout and classifies every failure,
// including a deadline, as ErrRemoteUnavailable.
func (s *Service) callRemote(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.remoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.remoteTimeout)
		defer cancel()
	}
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrRemoteUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, err)
}

func (s *Service) fail(op string, err error) error {
	result := "error"
	switch {
	case domain.IsValidation(err):
		result = "validation"
	case errors.Is(err, domain.ErrRemoteUnavailable):
		result = "remote_unavailable"
	}
	forwardingOperationsCounter.WithLabelValues(op, result).Inc()
	return err
}

func (s *Service) observe(_ context.Context, op string, start time.Time) {
	forwardingOperationDurationHist.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func requireClient(clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		return fmt.Errorf("%w: client id is required", domain.ErrValidation)
	}
	return nil
}
