// Package helpers provides shared helper functions for the relay HTTP
// handlers. These helpers are used by the stdlib, Chi and Gin adapters to
// ensure consistent behavior.
package helpers

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	relay "github.com/mark3labs/permit-relay"
	"github.com/mark3labs/permit-relay/encoding"
)

// NewRequestID returns a random bytes32 request id.
func NewRequestID() string {
	id := uuid.New()
	return common.BytesToHash(id[:]).Hex()
}

// ParseSubmitRequest decodes and validates a submission body. A missing
// requestId is assigned with NewRequestID.
//
// Returns a RelayError with INVALID_REQUEST or INVALID_SIGNATURE_ENCODING
// for malformed input.
func ParseSubmitRequest(r *http.Request) (*relay.PaymentRequest, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return nil, relay.Errorf(relay.ErrCodeInvalidRequest, "unsupported content type %q", ct)
		}
	}

	body, err := encoding.DecodeSubmit(r.Body)
	if err != nil {
		return nil, err
	}
	if body.RequestID == "" {
		body.RequestID = NewRequestID()
	}
	return body.ToRequest()
}

// StatusCode maps a relay error code onto an HTTP status.
func StatusCode(code relay.ErrorCode) int {
	switch code {
	case relay.ErrCodeInvalidRequest, relay.ErrCodeInvalidSignatureEncoding:
		return http.StatusBadRequest
	case relay.ErrCodeNotFound:
		return http.StatusNotFound
	case relay.ErrCodeNonceInFlight:
		return http.StatusConflict
	case relay.ErrCodeTransientSubmission:
		return http.StatusServiceUnavailable
	case relay.ErrCodeAuthorization, relay.ErrCodePermitExpired, relay.ErrCodeNonceConsumed,
		relay.ErrCodeAmountZero, relay.ErrCodeOnChainRevert, relay.ErrCodeInsufficientFunds,
		relay.ErrCodeTimeoutExpired:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// SendJSON writes v with the given status.
func SendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignore encoding errors - headers are already sent
	_ = json.NewEncoder(w).Encode(v)
}

// SendError writes err as an error envelope. Non-relay errors become a
// generic 500.
func SendError(w http.ResponseWriter, err error) {
	body := encoding.EncodeError(err)
	SendJSON(w, StatusCode(body.Code), body)
}

// SubmitStatus is the HTTP status of a successful submission: 202 while
// the request is in flight, 200 once it has a final outcome.
func SubmitStatus(res *relay.SubmitResult) int {
	if res.Status.Terminal() {
		return http.StatusOK
	}
	return http.StatusAccepted
}
