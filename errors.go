package relay

import (
	"errors"
	"fmt"
)

// Sentinel errors for relay operations.
var (
	// ErrInvalidSignatureEncoding indicates a signature with a malformed byte layout.
	ErrInvalidSignatureEncoding = errors.New("relay: invalid signature encoding")

	// ErrAuthorization indicates the recovered signer is not the permit owner.
	ErrAuthorization = errors.New("relay: authorization failed")

	// ErrPermitExpired indicates the permit deadline has passed.
	ErrPermitExpired = errors.New("relay: permit expired")

	// ErrNonceConsumed indicates the permit nonce was already used on-chain.
	ErrNonceConsumed = errors.New("relay: nonce already consumed")

	// ErrAmountZero indicates a permit with a zero value.
	ErrAmountZero = errors.New("relay: permit amount is zero")

	// ErrNonceInFlight indicates another request for the same owner and nonce is in progress.
	ErrNonceInFlight = errors.New("relay: nonce already in flight")

	// ErrTransientSubmission indicates a network-level submission failure.
	ErrTransientSubmission = errors.New("relay: transient submission failure")

	// ErrOnChainRevert indicates the execution transaction reverted.
	ErrOnChainRevert = errors.New("relay: execution reverted")

	// ErrTimeoutExpired indicates no receipt was seen before deadline plus grace.
	ErrTimeoutExpired = errors.New("relay: no receipt before deadline")

	// ErrInsufficientFunds indicates the payer cannot cover the amount.
	ErrInsufficientFunds = errors.New("relay: insufficient funds")

	// ErrInvalidRequest indicates a request that failed boundary validation.
	ErrInvalidRequest = errors.New("relay: invalid request")

	// ErrNotFound indicates an unknown request id.
	ErrNotFound = errors.New("relay: request not found")

	// ErrDuplicateRequest indicates a request id that is already recorded.
	ErrDuplicateRequest = errors.New("relay: duplicate request id")

	// ErrInvalidAmount indicates an invalid amount string.
	ErrInvalidAmount = errors.New("relay: invalid amount")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("relay: invalid private key")

	// ErrInvalidKeystore indicates an invalid or corrupted keystore file.
	ErrInvalidKeystore = errors.New("relay: invalid keystore file")

	// ErrInvalidMnemonic indicates an invalid BIP39 mnemonic phrase.
	ErrInvalidMnemonic = errors.New("relay: invalid mnemonic phrase")

	// ErrUnsupportedNetwork indicates a network missing from the chain catalogue.
	ErrUnsupportedNetwork = errors.New("relay: unsupported network")

	// ErrRelayUnavailable indicates a remote relay could not be reached.
	ErrRelayUnavailable = errors.New("relay: relay service unavailable")
)

// ErrorCode represents relay error codes for programmatic handling.
type ErrorCode string

const (
	ErrCodeAuthorization            ErrorCode = "AUTHORIZATION_FAILED"
	ErrCodeInvalidSignatureEncoding ErrorCode = "INVALID_SIGNATURE_ENCODING"
	ErrCodePermitExpired            ErrorCode = "PERMIT_EXPIRED"
	ErrCodeNonceConsumed            ErrorCode = "NONCE_CONSUMED"
	ErrCodeAmountZero               ErrorCode = "AMOUNT_ZERO"
	ErrCodeNonceInFlight            ErrorCode = "NONCE_IN_FLIGHT"
	ErrCodeTransientSubmission      ErrorCode = "TRANSIENT_SUBMISSION"
	ErrCodeOnChainRevert            ErrorCode = "ONCHAIN_REVERT"
	ErrCodeTimeoutExpired           ErrorCode = "TIMEOUT_EXPIRED"
	ErrCodeInsufficientFunds        ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeInvalidRequest           ErrorCode = "INVALID_REQUEST"
	ErrCodeNotFound                 ErrorCode = "NOT_FOUND"
)

// sentinelFor maps each code to the sentinel it wraps when no cause is given.
var sentinelFor = map[ErrorCode]error{
	ErrCodeAuthorization:            ErrAuthorization,
	ErrCodeInvalidSignatureEncoding: ErrInvalidSignatureEncoding,
	ErrCodePermitExpired:            ErrPermitExpired,
	ErrCodeNonceConsumed:            ErrNonceConsumed,
	ErrCodeAmountZero:               ErrAmountZero,
	ErrCodeNonceInFlight:            ErrNonceInFlight,
	ErrCodeTransientSubmission:      ErrTransientSubmission,
	ErrCodeOnChainRevert:            ErrOnChainRevert,
	ErrCodeTimeoutExpired:           ErrTimeoutExpired,
	ErrCodeInsufficientFunds:        ErrInsufficientFunds,
	ErrCodeInvalidRequest:           ErrInvalidRequest,
	ErrCodeNotFound:                 ErrNotFound,
}

// RelayError provides structured error information.
type RelayError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context such as the offending nonce or deadline.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match a RelayError against the sentinel for its code.
func (e *RelayError) Is(target error) bool {
	return sentinelFor[e.Code] == target
}

// NewRelayError creates a new RelayError with the given code and message.
func NewRelayError(code ErrorCode, message string, err error) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Errorf creates a RelayError with a formatted message and no cause.
func Errorf(code ErrorCode, format string, args ...interface{}) *RelayError {
	return NewRelayError(code, fmt.Sprintf(format, args...), nil)
}

// WithDetails adds additional context to the error.
// Lazily initializes the Details map if nil.
func (e *RelayError) WithDetails(key string, value interface{}) *RelayError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not a RelayError.
func CodeOf(err error) ErrorCode {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsTransient reports whether err is a retryable submission failure.
func IsTransient(err error) bool {
	return CodeOf(err) == ErrCodeTransientSubmission
}
