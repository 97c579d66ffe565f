package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	people "google.golang.org/api/people/v1"

	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/domain"
)

const personFields = "names,phoneNumbers"

// PeopleSource reads the linked Google account's contacts through the People API.
type PeopleSource struct {
	endpoint string
	logger   *slog.Logger
}

// NewPeopleSource builds a source. endpoint overrides the API base URL and is
// empty in production.
func NewPeopleSource(endpoint string, logger *slog.Logger) *PeopleSource {
	return &PeopleSource{endpoint: endpoint, logger: logger.With("component", "people_source")}
}

// Open builds the People API client for one run. The access token is the
// user's credential and is never logged.
func (s *PeopleSource) Open(ctx context.Context, accessToken string) (domain.ContactPager, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})),
	}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	svc, err := people.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating people service: %w", err)
	}
	return &peoplePager{svc: svc, logger: s.logger}, nil
}

type peoplePager struct {
	svc    *people.Service
	logger *slog.Logger
}

// FetchPage returns one page of connections.
func (p *peoplePager) FetchPage(ctx context.Context, pageToken string, pageSize int) (*domain.ContactPage, error) {
	call := p.svc.People.Connections.List("people/me").
		PersonFields(personFields).
		PageSize(int64(pageSize)).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		p.logger.WarnContext(ctx, "People API connections request failed", "has_page_token", pageToken != "", "error", err)
		return nil, fmt.Errorf("listing connections: %w", err)
	}

	page := &domain.ContactPage{
		Contacts:      make([]domain.RawContact, 0, len(resp.Connections)),
		NextPageToken: resp.NextPageToken,
	}
	for _, person := range resp.Connections {
		if person == nil {
			continue
		}
		page.Contacts = append(page.Contacts, toRawContact(person))
	}
	return page, nil
}

func toRawContact(p *people.Person) domain.RawContact {
	raw := domain.RawContact{ResourceName: p.ResourceName, Etag: p.Etag}
	raw.DisplayName = displayName(p.Names)
	for _, n := range p.PhoneNumbers {
		if n == nil {
			continue
		}
		value := n.Value
		if strings.TrimSpace(value) == "" {
			value = n.CanonicalForm
		}
		if strings.TrimSpace(value) != "" {
			raw.PhoneNumbers = append(raw.PhoneNumbers, value)
		}
	}
	return raw
}

// displayName prefers the primary name, then the first non-empty one.
func displayName(names []*people.Name) string {
	var fallback string
	for _, n := range names {
		if n == nil || strings.TrimSpace(n.DisplayName) == "" {
			continue
		}
		if n.Metadata != nil && n.Metadata.Primary {
			return strings.TrimSpace(n.DisplayName)
		}
		if fallback == "" {
			fallback = strings.TrimSpace(n.DisplayName)
		}
	}
	return fallback
}
