package domain

import "context"

// RemoteSyncClient is the authoritative backend for forwarding mappings.
// Implementations wrap every failure in ErrRemoteUnavailable and never retry.
type RemoteSyncClient interface {
	FetchMapping(ctx context.Context, clientID string) (*ForwardingMapping, error)
	SetStatus(ctx context.Context, clientID, agentID string, status UseCaseStatus, provider string) error
	InitiateForwarding(ctx context.Context, clientID string) (string, error)
	DeactivateForwarding(ctx context.Context, provider string) (string, error)
	ListAgents(ctx context.Context, clientID string) ([]Agent, error)
}

// ProviderDirectory is the backend's carrier reference data.
type ProviderDirectory interface {
	ListProviders(ctx context.Context) ([]Provider, error)
	DetectNetwork(ctx context.Context, clientID, phoneNumber string) (string, error)
}

// Dialer asks the device to place a call. Only mobile devices have one.
// Implementations that cannot observe the call return confirmed=false.
type Dialer interface {
	Dial(ctx context.Context, clientID, number string) (confirmed bool, err error)
}
