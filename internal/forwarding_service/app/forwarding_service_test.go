package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vocallabs/golang_services/internal/forwarding_service/cache"
	"github.com/vocallabs/golang_services/internal/forwarding_service/device"
	"github.com/vocallabs/golang_services/internal/forwarding_service/domain"
	"github.com/vocallabs/golang_services/internal/forwarding_service/registry"
)

// --- Mocks ---

type MockRemoteSyncClient struct {
	mock.Mock
}

func (m *MockRemoteSyncClient) FetchMapping(ctx context.Context, clientID string) (*domain.ForwardingMapping, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ForwardingMapping), args.Error(1)
}

func (m *MockRemoteSyncClient) SetStatus(ctx context.Context, clientID, agentID string, status domain.UseCaseStatus, provider string) error {
	args := m.Called(ctx, clientID, agentID, status, provider)
	return args.Error(0)
}

func (m *MockRemoteSyncClient) InitiateForwarding(ctx context.Context, clientID string) (string, error) {
	args := m.Called(ctx, clientID)
	return args.String(0), args.Error(1)
}

func (m *MockRemoteSyncClient) DeactivateForwarding(ctx context.Context, provider string) (string, error) {
	args := m.Called(ctx, provider)
	return args.String(0), args.Error(1)
}

func (m *MockRemoteSyncClient) ListAgents(ctx context.Context, clientID string) ([]domain.Agent, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Agent), args.Error(1)
}

type MockDialer struct {
	mock.Mock
}

func (m *MockDialer) Dial(ctx context.Context, clientID, number string) (bool, error) {
	args := m.Called(ctx, clientID, number)
	return args.Bool(0), args.Error(1)
}

type MockProviderDirectory struct {
	mock.Mock
}

func (m *MockProviderDirectory) ListProviders(ctx context.Context) ([]domain.Provider, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Provider), args.Error(1)
}

func (m *MockProviderDirectory) DetectNetwork(ctx context.Context, clientID, phoneNumber string) (string, error) {
	args := m.Called(ctx, clientID, phoneNumber)
	return args.String(0), args.Error(1)
}

// --- Test Setup ---

const testClient = "client-1"

var (
	androidPhone = device.Classify(device.Descriptor{UserAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8)"})
	iPhone       = device.Classify(device.Descriptor{UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"})
	desktop      = device.Classify(device.Descriptor{UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"})
)

type forwardingAppTestComponents struct {
	service    *Service
	mockRemote *MockRemoteSyncClient
	mockDialer *MockDialer
	mockDir    *MockProviderDirectory
	stateCache *cache.MemoryCache
}

func setupForwardingAppTest(t *testing.T) forwardingAppTestComponents {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockRemote := new(MockRemoteSyncClient)
	mockDialer := new(MockDialer)
	mockDir := new(MockProviderDirectory)
	mockDir.On("ListProviders", mock.Anything).Return(nil, domain.ErrRemoteUnavailable).Maybe()
	stateCache := cache.NewMemoryCache(logger)

	service := NewService(mockRemote, stateCache, registry.NewProviderRegistry(mockDir, logger), mockDialer, time.Second, logger)
	service.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	return forwardingAppTestComponents{
		service:    service,
		mockRemote: mockRemote,
		mockDialer: mockDialer,
		mockDir:    mockDir,
		stateCache: stateCache,
	}
}

func (c forwardingAppTestComponents) seed(t *testing.T, state domain.CachedState) {
	t.Helper()
	require.NoError(t, c.stateCache.Set(context.Background(), testClient, state))
}

func (c forwardingAppTestComponents) cached(t *testing.T) domain.CachedState {
	t.Helper()
	cs, ok := c.stateCache.Get(context.Background(), testClient)
	require.True(t, ok, "expected a cache entry")
	return *cs
}

func configuredState(status domain.UseCaseStatus) domain.CachedState {
	return domain.CachedState{
		Agent:    &domain.Agent{ID: "agent-1", Name: "Front desk", Status: status},
		Provider: "jio",
	}
}

func activeState(status domain.UseCaseStatus) domain.CachedState {
	cs := configuredState(status)
	cs.Belief = domain.ForwardingBelief{Active: true, AgentID: "agent-1", RecordedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	return cs
}

// --- Tests ---

func TestService_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("RemoteWinsAndWritesThrough", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, activeState(domain.StatusBusy))
		c.mockRemote.On("FetchMapping", mock.Anything, testClient).Return(&domain.ForwardingMapping{
			ClientID: testClient,
			AgentID:  "agent-1",
			Agent:    domain.Agent{ID: "agent-1", Name: "Front desk"},
			Provider: "airtel",
			Status:   domain.StatusUnconditional,
		}, nil).Once()

		snap, err := c.service.Load(ctx, testClient)
		require.NoError(t, err)
		assert.False(t, snap.Stale)
		assert.Equal(t, domain.StateForwardingActive, snap.State, "local belief survives a remote read")
		assert.Equal(t, domain.StatusUnconditional, snap.Status)
		assert.Equal(t, "airtel", snap.Provider)

		cs := c.cached(t)
		assert.Equal(t, domain.StatusUnconditional, cs.Agent.Status)
		assert.Equal(t, "airtel", cs.Provider)
		assert.True(t, cs.Belief.Active)
		c.mockRemote.AssertExpectations(t)
	})

	t.Run("NoMappingIsUnconfigured", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, configuredState(domain.StatusBusy))
		c.mockRemote.On("FetchMapping", mock.Anything, testClient).Return(nil, nil).Once()

		snap, err := c.service.Load(ctx, testClient)
		require.NoError(t, err)
		assert.Equal(t, domain.StateUnconfigured, snap.State)
		assert.Nil(t, snap.Agent)
		assert.Equal(t, "jio", snap.Provider, "provider selection is local")
		assert.Nil(t, c.cached(t).Agent)
	})

	t.Run("CacheFallback", func(t *testing.T) {
		failures := []error{
			domain.ErrRemoteUnavailable,
			context.DeadlineExceeded,
			errors.New("connection reset by peer"),
		}
		for _, failure := range failures {
			t.Run(failure.Error()+"/warm", func(t *testing.T) {
				c := setupForwardingAppTest(t)
				c.seed(t, configuredState(domain.StatusOutOfReach))
				c.mockRemote.On("FetchMapping", mock.Anything, testClient).Return(nil, failure)

				snap, err := c.service.Load(ctx, testClient)
				require.NoError(t, err)
				assert.True(t, snap.Stale)
				assert.Equal(t, domain.StateConfigured, snap.State)
				assert.Equal(t, domain.StatusOutOfReach, snap.Status)
			})
			t.Run(failure.Error()+"/cold", func(t *testing.T) {
				c := setupForwardingAppTest(t)
				c.mockRemote.On("FetchMapping", mock.Anything, testClient).Return(nil, failure)

				snap, err := c.service.Load(ctx, testClient)
				require.NoError(t, err)
				assert.Equal(t, domain.StateUnconfigured, snap.State)
				_, ok := c.stateCache.Get(ctx, testClient)
				assert.False(t, ok, "fallback never writes the cache")
			})
		}
	})

	t.Run("IdempotentWhileRemoteDown", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, activeState(domain.StatusBusy))
		c.mockRemote.On("FetchMapping", mock.Anything, testClient).Return(nil, domain.ErrRemoteUnavailable).Twice()

		first, err := c.service.Load(ctx, testClient)
		require.NoError(t, err)
		second, err := c.service.Load(ctx, testClient)
		require.NoError(t, err)

		assert.Equal(t, first.ToCache(), second.ToCache())
		assert.Equal(t, activeState(domain.StatusBusy), second.ToCache())
		c.mockRemote.AssertExpectations(t)
	})

	t.Run("TimeoutFallsBackToCache", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.service.remoteTimeout = 20 * time.Millisecond
		c.seed(t, configuredState(domain.StatusBusy))
		c.mockRemote.On("FetchMapping", mock.Anything, testClient).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded)

		snap, err := c.service.Load(ctx, testClient)
		require.NoError(t, err)
		assert.True(t, snap.Stale)
		assert.Equal(t, domain.StateConfigured, snap.State)
	})

	t.Run("RequiresClientID", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		_, err := c.service.Load(ctx, " ")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestService_ChangeStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("IOSRejectsConditionalStatuses", func(t *testing.T) {
		for _, status := range []domain.UseCaseStatus{domain.StatusBusy, domain.StatusUnavailable, domain.StatusOutOfReach} {
			t.Run(string(status), func(t *testing.T) {
				c := setupForwardingAppTest(t)
				before := configuredState(domain.StatusUnconditional)
				c.seed(t, before)

				out, err := c.service.ChangeStatus(ctx, ChangeStatusRequest{ClientID: testClient, Status: status, Device: iPhone})
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrValidation)
				assert.Nil(t, out)
				assert.Equal(t, before, c.cached(t))
				c.mockRemote.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("IOSAllowsUnconditional", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, configuredState(domain.StatusBusy))
		c.mockRemote.On("SetStatus", mock.Anything, testClient, "agent-1", domain.StatusUnconditional, "jio").Return(nil).Once()

		out, err := c.service.ChangeStatus(ctx, ChangeStatusRequest{ClientID: testClient, Status: domain.StatusUnconditional, Device: iPhone})
		require.NoError(t, err)
		assert.Equal(t, domain.StateConfigured, out.Snapshot.State)
		assert.Equal(t, domain.StatusUnconditional, out.Snapshot.Status)
		assert.Empty(t, out.Steps)
		assert.Equal(t, domain.StatusUnconditional, c.cached(t).Agent.Status)
		c.mockRemote.AssertExpectations(t)
	})

	t.Run("UnknownStatus", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		_, err := c.service.ChangeStatus(ctx, ChangeStatusRequest{ClientID: testClient, Status: "sometimes", Device: androidPhone})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("NewAgentSupersedesMapping", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, configuredState(domain.StatusBusy))
		c.mockRemote.On("SetStatus", mock.Anything, testClient, "agent-2", domain.StatusUnavailable, "jio").Return(nil).Once()
		c.mockRemote.On("ListAgents", mock.Anything, testClient).Return([]domain.Agent{{ID: "agent-2", Name: "Night shift"}, {ID: "agent-1", Name: "Front desk"}}, nil).Once()

		out, err := c.service.ChangeStatus(ctx, ChangeStatusRequest{ClientID: testClient, AgentID: "agent-2", Status: domain.StatusUnavailable, Device: androidPhone})
		require.NoError(t, err)
		require.NotNil(t, out.Snapshot.Agent)
		assert.Equal(t, "agent-2", out.Snapshot.Agent.ID)
		assert.Equal(t, "Night shift", out.Snapshot.Agent.Name)
		assert.Equal(t, "agent-2", c.cached(t).Agent.ID)
	})

	t.Run("RequiresAgentWhenUnconfigured", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, domain.CachedState{Provider: "jio"})

		_, err := c.service.ChangeStatus(ctx, ChangeStatusRequest{ClientID: testClient, Status: domain.StatusBusy, Device: androidPhone})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("RequiresProvider", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		cs := configuredState(domain.StatusBusy)
		cs.Provider = ""
		c.seed(t, cs)

		_, err := c.service.ChangeStatus(ctx, ChangeStatusRequest{ClientID: testClient, Status: domain.StatusUnavailable, Device: androidPhone})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("RemoteFailureLeavesStateUnchanged", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		before := configuredState(domain.StatusBusy)
		c.seed(t, before)
		c.mockRemote.On("SetStatus", mock.Anything, testClient, "agent-1", domain.StatusOutOfReach, "jio").Return(domain.ErrRemoteUnavailable).Once()

		out, err := c.service.ChangeStatus(ctx, ChangeStatusRequest{ClientID: testClient, Status: domain.StatusOutOfReach, Device: androidPhone})
		assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
		assert.Nil(t, out)
		assert.Equal(t, before, c.cached(t))
	})

	t.Run("ReprogramsCarrierWhileActive", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, activeState(domain.StatusBusy))

		var calls []string
		record := func(name string) func(mock.Arguments) {
			return func(mock.Arguments) { calls = append(calls, name) }
		}
		c.mockRemote.On("DeactivateForwarding", mock.Anything, "jio").Run(record("deactivate")).Return("##67#", nil).Once()
		c.mockRemote.On("SetStatus", mock.Anything, testClient, "agent-1", domain.StatusUnavailable, "jio").Run(record("set_status")).Return(nil).Once()
		c.mockRemote.On("InitiateForwarding", mock.Anything, testClient).Run(record("initiate")).Return("**62*+10005551234#", nil).Once()
		c.mockDialer.On("Dial", mock.Anything, testClient, "##67#").Return(true, nil).Once()
		c.mockDialer.On("Dial", mock.Anything, testClient, "**62*+10005551234#").Return(true, nil).Once()

		out, err := c.service.ChangeStatus(ctx, ChangeStatusRequest{ClientID: testClient, Status: domain.StatusUnavailable, Device: androidPhone})
		require.NoError(t, err)
		assert.Equal(t, []string{"deactivate", "set_status", "initiate"}, calls)
		require.Len(t, out.Steps, 2)
		assert.Equal(t, domain.PurposeDeactivate, out.Steps[0].Purpose)
		assert.Equal(t, "##67#", out.Steps[0].Number)
		assert.Equal(t, domain.PurposeActivate, out.Steps[1].Purpose)
		assert.Equal(t, "**62*+10005551234#", out.Steps[1].Number)
		assert.Equal(t, domain.StateForwardingActive, out.Snapshot.State)

		cs := c.cached(t)
		assert.True(t, cs.Belief.Active)
		assert.Equal(t, domain.StatusUnavailable, cs.Agent.Status)
		c.mockDialer.AssertExpectations(t)
	})

	t.Run("ReprogramInitiateFailure", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		before := activeState(domain.StatusBusy)
		c.seed(t, before)
		c.mockRemote.On("DeactivateForwarding", mock.Anything, "jio").Return("##67#", nil).Once()
		c.mockRemote.On("SetStatus", mock.Anything, testClient, "agent-1", domain.StatusUnavailable, "jio").Return(nil).Once()
		c.mockRemote.On("InitiateForwarding", mock.Anything, testClient).Return("", domain.ErrRemoteUnavailable).Once()

		out, err := c.service.ChangeStatus(ctx, ChangeStatusRequest{ClientID: testClient, Status: domain.StatusUnavailable, Device: androidPhone})
		assert.ErrorIs(t, err, domain.ErrReprogramIncomplete)
		assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
		require.NotNil(t, out)
		assert.Empty(t, out.Steps)
		assert.Equal(t, domain.StatusUnavailable, out.Snapshot.Status)
		assert.True(t, out.Snapshot.Belief.NeedsReprogram)

		cs := c.cached(t)
		assert.True(t, cs.Belief.Active)
		assert.True(t, cs.Belief.NeedsReprogram)
		assert.Equal(t, before.Belief.RecordedAt, cs.Belief.RecordedAt)
		assert.Equal(t, domain.StatusUnavailable, cs.Agent.Status)
		c.mockDialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ReprogramClearsPendingFlag", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		pending := activeState(domain.StatusUnavailable)
		pending.Belief.NeedsReprogram = true
		c.seed(t, pending)
		c.mockRemote.On("DeactivateForwarding", mock.Anything, "jio").Return("##67#", nil).Once()
		c.mockRemote.On("SetStatus", mock.Anything, testClient, "agent-1", domain.StatusUnavailable, "jio").Return(nil).Once()
		c.mockRemote.On("InitiateForwarding", mock.Anything, testClient).Return("**62*+10005551234#", nil).Once()
		c.mockDialer.On("Dial", mock.Anything, testClient, mock.Anything).Return(true, nil).Twice()

		out, err := c.service.ChangeStatus(ctx, ChangeStatusRequest{ClientID: testClient, Status: domain.StatusUnavailable, Device: androidPhone})
		require.NoError(t, err)
		require.Len(t, out.Steps, 2)
		assert.False(t, c.cached(t).Belief.NeedsReprogram)
	})

	t.Run("ReprogramAbortsBeforeMutationWhenCodeLookupFails", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		before := activeState(domain.StatusBusy)
		c.seed(t, before)
		c.mockRemote.On("DeactivateForwarding", mock.Anything, "jio").Return("", domain.ErrRemoteUnavailable).Once()

		_, err := c.service.ChangeStatus(ctx, ChangeStatusRequest{ClientID: testClient, Status: domain.StatusUnavailable, Device: androidPhone})
		assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
		assert.Equal(t, before, c.cached(t))
		c.mockRemote.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestService_ActivateForwarding(t *testing.T) {
	ctx := context.Background()

	t.Run("AndroidDialsTheReturnedNumber", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, configuredState(domain.StatusBusy))
		c.mockRemote.On("InitiateForwarding", mock.Anything, testClient).Return("+10005551234", nil).Once()
		c.mockDialer.On("Dial", mock.Anything, testClient, "+10005551234").Return(true, nil).Once()

		out, err := c.service.ActivateForwarding(ctx, testClient, androidPhone)
		require.NoError(t, err)
		assert.Equal(t, domain.StateForwardingActive, out.Snapshot.State)
		require.Len(t, out.Steps, 1)
		assert.Equal(t, domain.StepDial, out.Steps[0].Kind)
		assert.Equal(t, "+10005551234", out.Steps[0].Number)
		assert.True(t, out.Steps[0].Confirmed)

		cs := c.cached(t)
		assert.True(t, cs.Belief.Active)
		assert.Equal(t, "agent-1", cs.Belief.AgentID)
		c.mockDialer.AssertExpectations(t)
	})

	t.Run("DesktopGetsInstruction", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, configuredState(domain.StatusBusy))
		c.mockRemote.On("InitiateForwarding", mock.Anything, testClient).Return("+10005551234", nil).Once()

		out, err := c.service.ActivateForwarding(ctx, testClient, desktop)
		require.NoError(t, err)
		require.Len(t, out.Steps, 1)
		assert.Equal(t, domain.StepInstruct, out.Steps[0].Kind)
		assert.Equal(t, "tel:+10005551234", out.Steps[0].TelURI)
		c.mockDialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("OverwritesBeliefFromPreviousAgent", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		cs := activeState(domain.StatusBusy)
		cs.Belief.AgentID = "agent-old"
		c.seed(t, cs)
		c.mockRemote.On("InitiateForwarding", mock.Anything, testClient).Return("+10005551234", nil).Once()
		c.mockDialer.On("Dial", mock.Anything, testClient, "+10005551234").Return(false, nil).Once()

		out, err := c.service.ActivateForwarding(ctx, testClient, androidPhone)
		require.NoError(t, err)
		assert.False(t, out.Steps[0].Confirmed)
		assert.Equal(t, "agent-1", c.cached(t).Belief.AgentID)
	})

	t.Run("NotConfigured", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.mockRemote.On("FetchMapping", mock.Anything, testClient).Return(nil, nil).Once()

		_, err := c.service.ActivateForwarding(ctx, testClient, androidPhone)
		assert.ErrorIs(t, err, domain.ErrNotConfigured)
		assert.True(t, domain.IsValidation(err))
		c.mockRemote.AssertNotCalled(t, "InitiateForwarding", mock.Anything, mock.Anything)
	})

	t.Run("RemoteFailurePreservesState", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		before := configuredState(domain.StatusBusy)
		c.seed(t, before)
		c.mockRemote.On("InitiateForwarding", mock.Anything, testClient).Return("", domain.ErrRemoteUnavailable).Once()

		_, err := c.service.ActivateForwarding(ctx, testClient, androidPhone)
		assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
		assert.Equal(t, before, c.cached(t))
		c.mockDialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestService_DeactivateForwarding(t *testing.T) {
	ctx := context.Background()

	t.Run("DesktopGetsTelInstruction", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, activeState(domain.StatusBusy))
		c.mockRemote.On("DeactivateForwarding", mock.Anything, "jio").Return("#21#", nil).Once()

		out, err := c.service.DeactivateForwarding(ctx, testClient, desktop)
		require.NoError(t, err)
		assert.Equal(t, domain.StateConfigured, out.Snapshot.State)
		require.Len(t, out.Steps, 1)
		assert.Equal(t, domain.StepInstruct, out.Steps[0].Kind)
		assert.Equal(t, "tel:#21#", out.Steps[0].TelURI)
		assert.False(t, c.cached(t).Belief.Active)
		c.mockDialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("UnconfirmedDialStillClearsBelief", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, activeState(domain.StatusBusy))
		c.mockRemote.On("DeactivateForwarding", mock.Anything, "jio").Return("#21#", nil).Once()
		c.mockDialer.On("Dial", mock.Anything, testClient, "#21#").Return(false, errors.New("no telephony")).Once()

		out, err := c.service.DeactivateForwarding(ctx, testClient, androidPhone)
		require.NoError(t, err)
		assert.Equal(t, domain.StepDial, out.Steps[0].Kind)
		assert.False(t, out.Steps[0].Confirmed)
		assert.False(t, c.cached(t).Belief.Active)
	})

	t.Run("RemoteFailurePreservesBelief", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		before := activeState(domain.StatusBusy)
		c.seed(t, before)
		c.mockRemote.On("DeactivateForwarding", mock.Anything, "jio").Return("", domain.ErrRemoteUnavailable).Once()

		_, err := c.service.DeactivateForwarding(ctx, testClient, androidPhone)
		assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
		assert.Equal(t, before, c.cached(t))
	})

	t.Run("RequiresProvider", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		cs := activeState(domain.StatusBusy)
		cs.Provider = ""
		c.seed(t, cs)

		_, err := c.service.DeactivateForwarding(ctx, testClient, desktop)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("NothingToDeactivate", func(t *testing.T) {
		c := setupForwardingAppTest(t)
		c.seed(t, domain.CachedState{Provider: "jio"})

		_, err := c.service.DeactivateForwarding(ctx, testClient, desktop)
		assert.ErrorIs(t, err, domain.ErrNotConfigured)
	})
}

func TestService_SelectProviderAndForget(t *testing.T) {
	ctx := context.Background()
	c := setupForwardingAppTest(t)
	c.seed(t, configuredState(domain.StatusBusy))

	snap, err := c.service.SelectProvider(ctx, testClient, "Airtel")
	require.NoError(t, err)
	assert.Equal(t, "airtel", snap.Provider)
	assert.Equal(t, "airtel", c.cached(t).Provider)

	_, err = c.service.SelectProvider(ctx, testClient, "nope")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, "airtel", c.cached(t).Provider)

	require.NoError(t, c.service.Forget(ctx, testClient))
	_, ok := c.stateCache.Get(ctx, testClient)
	assert.False(t, ok)
	assert.Equal(t, domain.StateUnconfigured, c.service.Current(ctx, testClient).State)
}

func TestService_ListAgents(t *testing.T) {
	ctx := context.Background()
	c := setupForwardingAppTest(t)
	c.mockRemote.On("ListAgents", mock.Anything, testClient).Return(nil, errors.New("dial tcp: refused")).Once()

	_, err := c.service.ListAgents(ctx, testClient)
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
}

func TestService_SerializesPerClient(t *testing.T) {
	ctx := context.Background()
	c := setupForwardingAppTest(t)
	c.seed(t, configuredState(domain.StatusBusy))

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	c.mockRemote.On("InitiateForwarding", mock.Anything, testClient).
		Run(func(mock.Arguments) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
		}).
		Return("+10005551234", nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.service.ActivateForwarding(ctx, testClient, desktop)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
	assert.Equal(t, 0, c.service.locks.size())
}
