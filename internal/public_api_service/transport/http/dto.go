package http

import (
	forwardingDomain "github.com/vocallabs/golang_services/internal/forwarding_service/domain"
)

// ChangeStatusRequestDTO selects when calls are forwarded and, optionally, to which agent.
type ChangeStatusRequestDTO struct {
	Status  string `json:"status" validate:"required,oneof=busy unavailable out_of_reach unconditional"`
	AgentID string `json:"agent_id,omitempty" validate:"omitempty,max=128"`
}

// SelectProviderRequestDTO picks the caller's carrier.
type SelectProviderRequestDTO struct {
	Provider string `json:"provider" validate:"required,max=32"`
}

// DetectProviderRequestDTO asks the backend which carrier serves a number.
type DetectProviderRequestDTO struct {
	PhoneNumber string `json:"phone_number" validate:"required,min=6,max=20"`
}

// StartIngestionRequestDTO carries the Google access token obtained by the client.
type StartIngestionRequestDTO struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// StartIngestionResponseDTO is returned once the ingestion run has been queued.
type StartIngestionResponseDTO struct {
	RunID string `json:"run_id"`
}

// DeviceDTO echoes the classified device so the UI can decide how to render dial steps.
type DeviceDTO struct {
	Platform        string   `json:"platform"`
	IsMobile        bool     `json:"is_mobile"`
	CanDial         bool     `json:"can_dial"`
	AllowedStatuses []string `json:"allowed_statuses"`
}

// ForwardingStateResponseDTO is the snapshot returned by GET /forwarding.
type ForwardingStateResponseDTO struct {
	Snapshot *forwardingDomain.Snapshot `json:"snapshot"`
	Device   DeviceDTO                  `json:"device"`
}

// ForwardingOutcomeResponseDTO is returned by every mutating forwarding operation.
type ForwardingOutcomeResponseDTO struct {
	Snapshot *forwardingDomain.Snapshot     `json:"snapshot"`
	Steps    []forwardingDomain.CarrierStep `json:"steps"`
}

// ProvidersResponseDTO lists the carriers a client can select.
type ProvidersResponseDTO struct {
	Providers []forwardingDomain.Provider `json:"providers"`
	Fallback  bool                        `json:"fallback"`
}

// DetectProviderResponseDTO holds the detected carrier, or null when unknown.
type DetectProviderResponseDTO struct {
	Provider *forwardingDomain.Provider `json:"provider"`
}

// AgentsResponseDTO lists the client's active agents.
type AgentsResponseDTO struct {
	Agents []forwardingDomain.Agent `json:"agents"`
}

// ErrorResponseDTO is the error envelope. Snapshot carries the unchanged state when one is known.
type ErrorResponseDTO struct {
	Error    string                     `json:"error"`
	Details  string                     `json:"details,omitempty"`
	Snapshot *forwardingDomain.Snapshot `json:"snapshot,omitempty"`
}
