package http

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/permit-relay/retry"
)

// AuthorizationProvider returns an Authorization header value. It is called
// for every request so tokens can be refreshed.
type AuthorizationProvider func(ctx context.Context) (string, error)

// DefaultRequestTimeout bounds a single call to a remote relay.
const DefaultRequestTimeout = 15 * time.Second

// ClientOption configures a FacilitatorClient.
type ClientOption func(*FacilitatorClient) error

// NewFacilitatorClient creates a client for the relay API at baseURL.
func NewFacilitatorClient(baseURL string, opts ...ClientOption) (*FacilitatorClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid relay URL %q", baseURL)
	}

	c := &FacilitatorClient{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Client:         &http.Client{},
		RequestTimeout: DefaultRequestTimeout,
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *FacilitatorClient) error {
		if httpClient == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		c.Client = httpClient
		return nil
	}
}

// WithAuthorization sets a static Authorization header value.
// Example: "Bearer your-api-token"
func WithAuthorization(value string) ClientOption {
	return func(c *FacilitatorClient) error {
		c.Authorization = value
		return nil
	}
}

// WithAuthorizationProvider sets a dynamic Authorization header source. It
// takes precedence over WithAuthorization.
func WithAuthorizationProvider(p AuthorizationProvider) ClientOption {
	return func(c *FacilitatorClient) error {
		c.AuthorizationProvider = p
		return nil
	}
}

// WithRequestTimeout bounds each HTTP call.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *FacilitatorClient) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive")
		}
		c.RequestTimeout = d
		return nil
	}
}

// WithRetry sets the retry policy for unreachable relays and 503 responses.
func WithRetry(cfg retry.Config) ClientOption {
	return func(c *FacilitatorClient) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.Retry = cfg
		return nil
	}
}
