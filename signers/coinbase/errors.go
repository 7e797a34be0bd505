package coinbase

import (
	"errors"
	"fmt"
	"net"
)

// ErrWalletSecretRequired is returned for wallet operations when no wallet
// secret was configured.
var ErrWalletSecretRequired = errors.New("coinbase: wallet secret required")

// CDPError is a non-2xx response from the Coinbase Developer Platform API.
//
// Example usage:
//
//	var cdpErr *CDPError
//	if errors.As(err, &cdpErr) && cdpErr.StatusCode == http.StatusNotFound {
//	    // account does not exist yet
//	}
type CDPError struct {
	// StatusCode is the HTTP status returned by the API.
	StatusCode int

	// ErrorType is one of the ErrorType constants.
	ErrorType string

	// Message is the response body or a generic description.
	Message string

	// RequestID is the X-Request-ID header, useful when contacting support.
	RequestID string

	// Retryable is true for rate limits and server errors.
	Retryable bool

	Method string
	Path   string
}

func (e *CDPError) Error() string {
	msg := fmt.Sprintf("CDP API error [%d]: %s", e.StatusCode, e.Message)
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (RequestID: %s)", e.RequestID)
	}
	if e.Method != "" && e.Path != "" {
		msg += fmt.Sprintf(" [%s %s]", e.Method, e.Path)
	}
	return msg
}

// Error type constants for programmatic error classification.
const (
	ErrorTypeRateLimit   = "rate_limit"
	ErrorTypeServerError = "server_error"
	ErrorTypeAuthError   = "auth_error"
	ErrorTypeClientError = "client_error"
)

// isRetryable reports whether a request failure should be retried: CDP
// rate limits, server errors and transport failures.
func isRetryable(err error) bool {
	var cdpErr *CDPError
	if errors.As(err, &cdpErr) {
		return cdpErr.Retryable
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isNotFound(err error) bool {
	var cdpErr *CDPError
	return errors.As(err, &cdpErr) && cdpErr.StatusCode == 404
}
