package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/permit-relay/retry"
)

// DefaultBaseURL is the CDP API endpoint.
const DefaultBaseURL = "https://" + apiHost

// cdpAuth is the token source used by CDPClient, replaceable in tests.
type cdpAuth interface {
	GenerateBearerToken(method, path string) (string, error)
	GenerateWalletAuthToken(method, path string, body []byte) (string, error)
}

// CDPClient is an HTTP client for the Coinbase Developer Platform REST API.
// It authenticates every request, classifies failures into CDPError and
// retries rate limits, server errors and transport failures.
//
// CDPClient is safe for concurrent use by multiple goroutines.
type CDPClient struct {
	baseURL    string
	httpClient *http.Client
	auth       cdpAuth
	retry      retry.Config
}

// ClientOption configures a CDPClient.
type ClientOption func(*CDPClient) error

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *CDPClient) error {
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		c.baseURL = strings.TrimRight(baseURL, "/")
		return nil
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *CDPClient) error {
		if client == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		c.httpClient = client
		return nil
	}
}

// WithClientRetry sets the retry policy for API requests.
func WithClientRetry(cfg retry.Config) ClientOption {
	return func(c *CDPClient) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.retry = cfg
		return nil
	}
}

// NewCDPClient creates a client authenticating with auth.
func NewCDPClient(auth cdpAuth, opts ...ClientOption) (*CDPClient, error) {
	if auth == nil {
		return nil, fmt.Errorf("CDP credentials not provided")
	}
	c := &CDPClient{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		auth: auth,
		retry: retry.Config{
			MaxAttempts:  5,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// doRequest executes a single authenticated request. body is marshaled to
// JSON when non-nil and result is decoded from a 2xx response when non-nil.
func (c *CDPClient) doRequest(ctx context.Context, method, path string, body, result interface{}, walletAuth bool) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		if bodyBytes, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	token, err := c.auth.GenerateBearerToken(method, path)
	if err != nil {
		return fmt.Errorf("generate JWT: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	if walletAuth {
		walletToken, err := c.auth.GenerateWalletAuthToken(method, path, bodyBytes)
		if err != nil {
			return fmt.Errorf("generate wallet auth JWT: %w", err)
		}
		req.Header.Set("X-Wallet-Auth", walletToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyError(resp, method, path)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// classifyError builds a CDPError from a non-2xx response.
func classifyError(resp *http.Response, method, path string) error {
	cdpErr := &CDPError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-ID"),
		Method:     method,
		Path:       path,
	}

	bodyText, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	cdpErr.Message = strings.TrimSpace(string(bodyText))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		cdpErr.ErrorType = ErrorTypeRateLimit
		cdpErr.Retryable = true
	case resp.StatusCode >= 500:
		cdpErr.ErrorType = ErrorTypeServerError
		cdpErr.Retryable = true
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		cdpErr.ErrorType = ErrorTypeAuthError
	default:
		cdpErr.ErrorType = ErrorTypeClientError
	}

	if cdpErr.Message == "" {
		cdpErr.Message = http.StatusText(resp.StatusCode)
	}
	return cdpErr
}

// doRequestWithRetry wraps doRequest with the client's retry policy.
func (c *CDPClient) doRequestWithRetry(ctx context.Context, method, path string, body, result interface{}, walletAuth bool) error {
	_, err := retry.WithRetry(ctx, c.retry, isRetryable, func() (struct{}, error) {
		return struct{}{}, c.doRequest(ctx, method, path, body, result, walletAuth)
	})
	return err
}
