package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vocallabs/golang_services/internal/forwarding_service/domain"
)

// staticProviders is used when the backend carrier list cannot be fetched.
var staticProviders = []domain.Provider{
	{ID: "airtel", Code: "airtel", DisplayName: "Airtel"},
	{ID: "bsnl", Code: "bsnl", DisplayName: "BSNL"},
	{ID: "jio", Code: "jio", DisplayName: "Jio"},
	{ID: "vi", Code: "vi", DisplayName: "Vi"},
}

// ProviderRegistry resolves telephony carriers.
type ProviderRegistry struct {
	directory domain.ProviderDirectory
	logger    *slog.Logger
}

func NewProviderRegistry(directory domain.ProviderDirectory, logger *slog.Logger) *ProviderRegistry {
	return &ProviderRegistry{directory: directory, logger: logger.With("component", "provider_registry")}
}

// Static returns a copy of the built-in carrier table.
func Static() []domain.Provider {
	out := make([]domain.Provider, len(staticProviders))
	copy(out, staticProviders)
	return out
}

// List returns the backend's carriers, or the static table when the backend
// is unreachable or returns nothing. fromFallback reports which one was used.
func (r *ProviderRegistry) List(ctx context.Context) (providers []domain.Provider, fromFallback bool) {
	if r.directory != nil {
		remote, err := r.directory.ListProviders(ctx)
		if err == nil && len(remote) > 0 {
			sort.SliceStable(remote, func(i, j int) bool { return remote[i].Code < remote[j].Code })
			return remote, false
		}
		if err != nil {
			r.logger.WarnContext(ctx, "Falling back to static provider list", "error", err)
		}
	}
	return Static(), true
}

// Lookup finds a carrier by code, case-insensitively.
func (r *ProviderRegistry) Lookup(ctx context.Context, code string) (domain.Provider, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return domain.Provider{}, fmt.Errorf("%w: provider is required", domain.ErrValidation)
	}
	providers, _ := r.List(ctx)
	for _, p := range providers {
		if p.Code == code {
			return p, nil
		}
	}
	return domain.Provider{}, fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, code)
}

// Detect asks the backend which carrier serves phoneNumber and matches it
// against the registry. A nil provider means the carrier is unknown.
func (r *ProviderRegistry) Detect(ctx context.Context, clientID, phoneNumber string) (*domain.Provider, error) {
	if strings.TrimSpace(phoneNumber) == "" {
		return nil, fmt.Errorf("%w: phone number is required", domain.ErrValidation)
	}
	if r.directory == nil {
		return nil, nil
	}
	network, err := r.directory.DetectNetwork(ctx, clientID, phoneNumber)
	if err != nil {
		return nil, err
	}
	network = strings.ToLower(strings.TrimSpace(network))
	if network == "" {
		return nil, nil
	}
	providers, _ := r.List(ctx)
	for _, p := range providers {
		if p.Code == network || strings.EqualFold(p.DisplayName, network) {
			found := p
			return &found, nil
		}
	}
	r.logger.InfoContext(ctx, "Detected network is not a known provider", "client_id", clientID, "network", network)
	return nil, nil
}
