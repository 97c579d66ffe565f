package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vocallabs/golang_services/internal/platform/auth"
)

// ErrUnavailable is returned for every failure to obtain a usable response:
// transport errors, timeouts, non-2xx statuses, GraphQL errors and undecodable bodies.
var ErrUnavailable = errors.New("backend unavailable")

var (
	backendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "backend",
			Name:      "graphql_calls_total",
			Help:      "Total number of backend GraphQL calls.",
		},
		[]string{"operation", "result"},
	)
	backendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "backend",
			Name:      "graphql_call_duration_seconds",
			Help:      "Duration of backend GraphQL calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []Error         `json:"errors,omitempty"`
}

// Error is one entry of a GraphQL errors array.
type Error struct {
	Message string `json:"message"`
}

// Client posts GraphQL documents to a single endpoint. It never retries.
type Client struct {
	logger       *slog.Logger
	httpClient   *http.Client
	endpoint     string
	timeout      time.Duration
	serviceToken string
}

// NewClient builds a client. timeout bounds every call; serviceToken is used
// when the request context carries no caller credential.
func NewClient(logger *slog.Logger, endpoint string, timeout time.Duration, serviceToken string, httpClient *http.Client) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		logger:       logger.With("component", "graphql_client"),
		httpClient:   httpClient,
		endpoint:     endpoint,
		timeout:      timeout,
		serviceToken: serviceToken,
	}
}

// Do executes query and decodes the data object into out (which may be nil).
func (c *Client) Do(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	start := time.Now()
	err := c.do(ctx, operation, query, variables, out)
	backendCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	backendCallsTotal.WithLabelValues(operation, result).Inc()
	return err
}

func (c *Client) do(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(request{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshalling %s request: %w", operation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", operation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := c.credential(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.WarnContext(ctx, "Backend request failed", "operation", operation, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, operation, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to read backend response", "operation", operation, "status_code", httpResp.StatusCode, "error", err)
		return fmt.Errorf("%w: %s: reading response: %v", ErrUnavailable, operation, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.logger.WarnContext(ctx, "Backend returned error status", "operation", operation, "status_code", httpResp.StatusCode)
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, operation, httpResp.StatusCode)
	}

	var gqlResp response
	if err := json.Unmarshal(respBody, &gqlResp); err != nil {
		c.logger.WarnContext(ctx, "Failed to decode backend response", "operation", operation, "error", err)
		return fmt.Errorf("%w: %s: decoding response: %v", ErrUnavailable, operation, err)
	}
	if len(gqlResp.Errors) > 0 {
		msgs := make([]string, 0, len(gqlResp.Errors))
		for _, e := range gqlResp.Errors {
			msgs = append(msgs, e.Message)
		}
		c.logger.WarnContext(ctx, "Backend returned GraphQL errors", "operation", operation, "errors", msgs)
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, operation, strings.Join(msgs, "; "))
	}

	if out == nil {
		return nil
	}
	if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
		return fmt.Errorf("%w: %s: response has no data", ErrUnavailable, operation)
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fmt.Errorf("%w: %s: decoding data: %v", ErrUnavailable, operation, err)
	}
	return nil
}

func (c *Client) credential(ctx context.Context) string {
	if token := auth.CredentialFromContext(ctx); token != "" {
		return token
	}
	return c.serviceToken
}
