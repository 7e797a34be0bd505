package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	relay "github.com/mark3labs/permit-relay"
	"github.com/mark3labs/permit-relay/encoding"
	"github.com/mark3labs/permit-relay/facilitator"
	"github.com/mark3labs/permit-relay/retry"
)

// FacilitatorClient talks to a remote relay. It implements
// facilitator.Interface so callers can switch between an embedded relay and
// a remote one.
type FacilitatorClient struct {
	BaseURL        string
	Client         *http.Client
	RequestTimeout time.Duration

	// Authorization is a static Authorization header value.
	Authorization string

	// AuthorizationProvider takes precedence over Authorization when set.
	AuthorizationProvider AuthorizationProvider

	// Retry applies to transport failures and 503 responses. Business
	// errors are returned immediately.
	Retry retry.Config
}

var _ facilitator.Interface = (*FacilitatorClient)(nil)

// errUnavailable marks failures worth retrying.
type errUnavailable struct{ err error }

func (e *errUnavailable) Error() string { return e.err.Error() }
func (e *errUnavailable) Unwrap() error { return e.err }

func isUnavailable(err error) bool {
	var u *errUnavailable
	return errors.As(err, &u)
}

// Submit sends a payment request to the remote relay. Retried submissions
// reuse the request id, so the relay executes the permit at most once.
func (c *FacilitatorClient) Submit(ctx context.Context, req *relay.PaymentRequest) (*relay.SubmitResult, error) {
	data, err := json.Marshal(encoding.EncodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var res relay.SubmitResult
	if err := c.do(ctx, http.MethodPost, PaymentsPath, data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status reads the status of a request from the remote relay.
func (c *FacilitatorClient) Status(ctx context.Context, requestID common.Hash) (*relay.StatusResult, error) {
	var res relay.StatusResult
	if err := c.do(ctx, http.MethodGet, PaymentsPath+"/"+requestID.Hex(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *FacilitatorClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	_, err := retry.WithRetry(ctx, c.Retry, isUnavailable, func() (struct{}, error) {
		return struct{}{}, c.once(ctx, method, path, body, out)
	})

	var u *errUnavailable
	if errors.As(err, &u) {
		var re *relay.RelayError
		if errors.As(u.err, &re) {
			return re
		}
		return fmt.Errorf("%w: %v", relay.ErrRelayUnavailable, u.err)
	}
	return err
}

func (c *FacilitatorClient) once(ctx context.Context, method, path string, body []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	if err := c.authorize(ctx, httpReq); err != nil {
		return err
	}

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return &errUnavailable{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	var env encoding.ErrorBody
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, encoding.MaxBodyBytes)).Decode(&env)

	switch {
	case decodeErr == nil && env.Code != "":
		relayErr := encoding.DecodeError(env)
		if resp.StatusCode == http.StatusServiceUnavailable {
			return &errUnavailable{err: relayErr}
		}
		return relayErr
	case resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusGatewayTimeout:
		return &errUnavailable{err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return fmt.Errorf("relay returned status %d", resp.StatusCode)
}

func (c *FacilitatorClient) authorize(ctx context.Context, req *http.Request) error {
	value := c.Authorization
	if c.AuthorizationProvider != nil {
		v, err := c.AuthorizationProvider(ctx)
		if err != nil {
			return fmt.Errorf("failed to get authorization: %w", err)
		}
		value = v
	}
	if value != "" {
		req.Header.Set("Authorization", value)
	}
	return nil
}
