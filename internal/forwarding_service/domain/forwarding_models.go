package domain

import (
	"fmt"
	"strings"
	"time"
)

// UseCaseStatus is the condition under which calls are forwarded to the agent.
type UseCaseStatus string

const (
	StatusBusy          UseCaseStatus = "busy"
	StatusUnavailable   UseCaseStatus = "unavailable"
	StatusOutOfReach    UseCaseStatus = "out_of_reach"
	StatusUnconditional UseCaseStatus = "unconditional"
)

// AllStatuses lists every use-case status the backend accepts.
var AllStatuses = []UseCaseStatus{StatusBusy, StatusUnavailable, StatusOutOfReach, StatusUnconditional}

// ParseUseCaseStatus returns the status named by s, or ErrValidation.
func ParseUseCaseStatus(s string) (UseCaseStatus, error) {
	candidate := UseCaseStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range AllStatuses {
		if st == candidate {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown use-case status %q", ErrValidation, s)
}

// Agent is a server-owned virtual call-handling agent.
type Agent struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Status UseCaseStatus `json:"status,omitempty"`
}

// ForwardingMapping is the backend's statement of which agent a client forwards to.
type ForwardingMapping struct {
	ClientID string        `json:"client_id"`
	AgentID  string        `json:"agent_id"`
	Agent    Agent         `json:"agent"`
	Provider string        `json:"provider"`
	Status   UseCaseStatus `json:"status"`
}

// Provider is a telephony carrier. Immutable reference data.
type Provider struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
}

// ForwardingBelief records that the device has, as far as we know, dialed the
// carrier's activation code. Carrier state cannot be read back, so this is
// never a guarantee.
type ForwardingBelief struct {
	Active     bool      `json:"active"`
	AgentID    string    `json:"agent_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
	// NeedsReprogram is set when the status changed while active but the new
	// dial target was never obtained, so the carrier still forwards on the old status.
	NeedsReprogram bool `json:"needs_reprogram,omitempty"`
}

// CachedState is the per-user record kept in the LocalStateCache.
type CachedState struct {
	Agent    *Agent           `json:"agent,omitempty"`
	Belief   ForwardingBelief `json:"belief"`
	Provider string           `json:"provider,omitempty"`
}

// ForwardingActive reports the belief flag.
func (c CachedState) ForwardingActive() bool {
	return c.Belief.Active
}

// MachineState is the coarse state of the forwarding state machine.
type MachineState string

const (
	StateUnconfigured     MachineState = "unconfigured"
	StateConfigured       MachineState = "configured"
	StateForwardingActive MachineState = "forwarding_active"
)

// Snapshot is what the UI collaborator renders after every operation.
type Snapshot struct {
	ClientID string           `json:"client_id"`
	State    MachineState     `json:"state"`
	Agent    *Agent           `json:"agent,omitempty"`
	Status   UseCaseStatus    `json:"status,omitempty"`
	Provider string           `json:"provider,omitempty"`
	Belief   ForwardingBelief `json:"belief"`
	// Stale is set when the snapshot came from the local cache because the backend was unreachable.
	Stale bool `json:"stale"`
}

// SnapshotFromCache derives the machine state from a cached record.
func SnapshotFromCache(clientID string, cs *CachedState) *Snapshot {
	snap := &Snapshot{ClientID: clientID, State: StateUnconfigured}
	if cs == nil {
		return snap
	}
	snap.Provider = cs.Provider
	snap.Belief = cs.Belief
	if cs.Agent == nil || cs.Agent.ID == "" {
		return snap
	}
	agent := *cs.Agent
	snap.Agent = &agent
	snap.Status = agent.Status
	snap.State = StateConfigured
	if cs.Belief.Active {
		snap.State = StateForwardingActive
	}
	return snap
}

// ToCache converts a snapshot back into the cached record.
func (s *Snapshot) ToCache() CachedState {
	cs := CachedState{Belief: s.Belief, Provider: s.Provider}
	if s.Agent != nil {
		agent := *s.Agent
		agent.Status = s.Status
		cs.Agent = &agent
	}
	return cs
}

// Clone returns a deep copy so callers can mutate freely.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.Agent != nil {
		agent := *s.Agent
		c.Agent = &agent
	}
	return &c
}

// StepKind says how a carrier dial sequence reaches the network.
type StepKind string

const (
	// StepDial means the device placed the call itself.
	StepDial StepKind = "dial"
	// StepInstruct means the number must be dialed by hand (no dial capability).
	StepInstruct StepKind = "instruction"
)

// StepPurpose distinguishes activation from deactivation sequences.
type StepPurpose string

const (
	PurposeActivate   StepPurpose = "activate"
	PurposeDeactivate StepPurpose = "deactivate"
)

// CarrierStep is one dial sequence that programs the carrier.
type CarrierStep struct {
	Kind    StepKind    `json:"kind"`
	Purpose StepPurpose `json:"purpose"`
	Number  string      `json:"number"`
	TelURI  string      `json:"tel_uri"`
	// Confirmed is false when the dial was attempted but the device did not acknowledge it.
	Confirmed bool `json:"confirmed"`
}

// TelURI renders a dial target as a tel: URI.
func TelURI(number string) string {
	return "tel:" + number
}

// Outcome is the result of a mutating operation.
type Outcome struct {
	Snapshot *Snapshot     `json:"snapshot"`
	Steps    []CarrierStep `json:"steps,omitempty"`
}
