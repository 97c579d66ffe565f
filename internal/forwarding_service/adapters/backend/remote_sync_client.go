package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vocallabs/golang_services/internal/forwarding_service/domain"
	"github.com/vocallabs/golang_services/internal/platform/graphql"
)

// Doer executes one GraphQL operation. *graphql.Client implements it.
type Doer interface {
	Do(ctx context.Context, operation, query string, variables map[string]any, out any) error
}

// RemoteSyncClient wraps the authoritative backend's forwarding operations.
// Every error it returns wraps domain.ErrRemoteUnavailable; it never retries.
type RemoteSyncClient struct {
	gql    Doer
	logger *slog.Logger
}

func NewRemoteSyncClient(gql Doer, logger *slog.Logger) *RemoteSyncClient {
	return &RemoteSyncClient{gql: gql, logger: logger.With("component", "remote_sync_client")}
}

func remoteErr(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, err)
}

const fetchMappingQuery = `
query FetchMapping($client_id: uuid!) {
  vocallabs_call_forwarding_agents(where: {client_id: {_eq: $client_id}}) {
    agent {
      id
      name
    }
    status
    client_id
    provider
  }
}`

type mappingRow struct {
	Agent struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"agent"`
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
	Provider string `json:"provider"`
}

// FetchMapping returns the client's active mapping, or nil when none is configured.
func (c *RemoteSyncClient) FetchMapping(ctx context.Context, clientID string) (*domain.ForwardingMapping, error) {
	var out struct {
		Rows []mappingRow `json:"vocallabs_call_forwarding_agents"`
	}
	if err := c.gql.Do(ctx, "fetch_mapping", fetchMappingQuery, map[string]any{"client_id": clientID}, &out); err != nil {
		return nil, remoteErr(err)
	}
	if len(out.Rows) == 0 || out.Rows[0].Agent.ID == "" {
		return nil, nil
	}
	if len(out.Rows) > 1 {
		c.logger.WarnContext(ctx, "Backend returned more than one forwarding mapping; using the first", "client_id", clientID, "count", len(out.Rows))
	}
	row := out.Rows[0]
	status := domain.UseCaseStatus(strings.ToLower(row.Status))
	return &domain.ForwardingMapping{
		ClientID: clientID,
		AgentID:  row.Agent.ID,
		Agent:    domain.Agent{ID: row.Agent.ID, Name: row.Agent.Name, Status: status},
		Provider: row.Provider,
		Status:   status,
	}, nil
}

// The mutation name below is the backend's published field name.
const setStatusMutation = `
mutation SetStatus($client_id: uuid!, $agent_id: uuid!, $provider: String!, $status: String!) {
  vocallabsCallForwadingMapping(request: {agent_id: $agent_id, client_id: $client_id, provider: $provider, status: $status}) {
    mapping
  }
}`

// SetStatus asks the backend to (re)assign the client's mapping. The backend
// unsets any other mapping for the same client.
func (c *RemoteSyncClient) SetStatus(ctx context.Context, clientID, agentID string, status domain.UseCaseStatus, provider string) error {
	vars := map[string]any{
		"client_id": clientID,
		"agent_id":  agentID,
		"status":    string(status),
		"provider":  provider,
	}
	var out map[string]any
	if err := c.gql.Do(ctx, "set_status", setStatusMutation, vars, &out); err != nil {
		return remoteErr(err)
	}
	return nil
}

const initiateForwardingQuery = `
query InitiateForwarding($client_id: uuid!) {
  setCallForwarding(request: {client_id: $client_id}) {
    forwarding_phone_number
  }
}`

// InitiateForwarding returns the carrier dial target for the client's current mapping.
func (c *RemoteSyncClient) InitiateForwarding(ctx context.Context, clientID string) (string, error) {
	var out struct {
		SetCallForwarding *struct {
			ForwardingPhoneNumber string `json:"forwarding_phone_number"`
		} `json:"setCallForwarding"`
	}
	if err := c.gql.Do(ctx, "initiate_forwarding", initiateForwardingQuery, map[string]any{"client_id": clientID}, &out); err != nil {
		return "", remoteErr(err)
	}
	if out.SetCallForwarding == nil || strings.TrimSpace(out.SetCallForwarding.ForwardingPhoneNumber) == "" {
		return "", fmt.Errorf("%w: no forwarding phone number returned", domain.ErrRemoteUnavailable)
	}
	return strings.TrimSpace(out.SetCallForwarding.ForwardingPhoneNumber), nil
}

const deactivationCodeQuery = `
query DeactivationCode($provider: String!) {
  vocallabs_call_forwarding_codes(where: {status: {_eq: "deactivate"}, provider: {_eq: $provider}}) {
    forwarding_code
    provider
    status
    id
  }
}`

// DeactivateForwarding looks up the carrier's standing deactivation dial code.
func (c *RemoteSyncClient) DeactivateForwarding(ctx context.Context, provider string) (string, error) {
	var out struct {
		Codes []struct {
			ForwardingCode string `json:"forwarding_code"`
			Provider       string `json:"provider"`
		} `json:"vocallabs_call_forwarding_codes"`
	}
	if err := c.gql.Do(ctx, "deactivation_code", deactivationCodeQuery, map[string]any{"provider": provider}, &out); err != nil {
		return "", remoteErr(err)
	}
	if len(out.Codes) == 0 || strings.TrimSpace(out.Codes[0].ForwardingCode) == "" {
		return "", fmt.Errorf("%w: no deactivation code for provider %q", domain.ErrRemoteUnavailable, provider)
	}
	return strings.TrimSpace(out.Codes[0].ForwardingCode), nil
}

const listProvidersQuery = `
query ListProviders {
  vocallabs_isp_provider {
    provider
    id
    name
  }
}`

// ListProviders returns the carriers the backend knows about.
func (c *RemoteSyncClient) ListProviders(ctx context.Context) ([]domain.Provider, error) {
	var out struct {
		Rows []struct {
			ID       any    `json:"id"`
			Provider string `json:"provider"`
			Name     string `json:"name"`
		} `json:"vocallabs_isp_provider"`
	}
	if err := c.gql.Do(ctx, "list_providers", listProvidersQuery, nil, &out); err != nil {
		return nil, remoteErr(err)
	}
	providers := make([]domain.Provider, 0, len(out.Rows))
	for _, row := range out.Rows {
		if strings.TrimSpace(row.Provider) == "" {
			continue
		}
		providers = append(providers, domain.Provider{
			ID:          fmt.Sprint(row.ID),
			Code:        strings.ToLower(strings.TrimSpace(row.Provider)),
			DisplayName: row.Name,
		})
	}
	return providers, nil
}

const networkDetailsQuery = `
query NetworkDetails($client_id: uuid!, $mobile_number: String!) {
  vocallabsGetNetworkDetails(request: {client_id: $client_id, mobile_number: $mobile_number}) {
    service_provider
  }
}`

// DetectNetwork asks the backend which carrier serves phoneNumber. Empty means unknown.
func (c *RemoteSyncClient) DetectNetwork(ctx context.Context, clientID, phoneNumber string) (string, error) {
	var out struct {
		Details *struct {
			ServiceProvider string `json:"service_provider"`
		} `json:"vocallabsGetNetworkDetails"`
	}
	vars := map[string]any{"client_id": clientID, "mobile_number": phoneNumber}
	if err := c.gql.Do(ctx, "network_details", networkDetailsQuery, vars, &out); err != nil {
		return "", remoteErr(err)
	}
	if out.Details == nil {
		return "", nil
	}
	return strings.TrimSpace(out.Details.ServiceProvider), nil
}

const listAgentsQuery = `
query ListAgents($client_id: uuid!) {
  vocallabs_agent(where: {client_id: {_eq: $client_id}, active: {_eq: true}}, order_by: {created_at: desc}) {
    id
    name
  }
}`

// ListAgents returns the client's active agents, newest first.
func (c *RemoteSyncClient) ListAgents(ctx context.Context, clientID string) ([]domain.Agent, error) {
	var out struct {
		Agents []domain.Agent `json:"vocallabs_agent"`
	}
	if err := c.gql.Do(ctx, "list_agents", listAgentsQuery, map[string]any{"client_id": clientID}, &out); err != nil {
		return nil, remoteErr(err)
	}
	if out.Agents == nil {
		return []domain.Agent{}, nil
	}
	return out.Agents, nil
}

var (
	_ Doer                     = (*graphql.Client)(nil)
	_ domain.RemoteSyncClient  = (*RemoteSyncClient)(nil)
	_ domain.ProviderDirectory = (*RemoteSyncClient)(nil)
)
