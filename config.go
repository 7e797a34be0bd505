package relay

import (
	"fmt"
	"time"
)

// Timeouts holds the timing knobs of a relay flow.
type Timeouts struct {
	// RPCTimeout bounds a single ledger call.
	RPCTimeout time.Duration

	// PollInterval is the delay between receipt polls.
	PollInterval time.Duration

	// GraceWindow extends observation past the permit deadline. A receipt that
	// has not appeared by deadline+grace marks the request expired.
	GraceWindow time.Duration

	// ShutdownTimeout bounds how long shutdown waits for observers.
	ShutdownTimeout time.Duration
}

// DefaultTimeouts provides sensible defaults for relay operations.
var DefaultTimeouts = Timeouts{
	RPCTimeout:      10 * time.Second,
	PollInterval:    2 * time.Second,
	GraceWindow:     2 * time.Minute,
	ShutdownTimeout: 30 * time.Second,
}

// WithPollInterval returns a copy with an updated poll interval.
func (t Timeouts) WithPollInterval(d time.Duration) Timeouts {
	t.PollInterval = d
	return t
}

// WithGraceWindow returns a copy with an updated grace window.
func (t Timeouts) WithGraceWindow(d time.Duration) Timeouts {
	t.GraceWindow = d
	return t
}

// Validate ensures timeout values are usable.
func (t Timeouts) Validate() error {
	if t.RPCTimeout <= 0 {
		return fmt.Errorf("rpc timeout must be positive, got %v", t.RPCTimeout)
	}
	if t.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", t.PollInterval)
	}
	if t.GraceWindow < 0 {
		return fmt.Errorf("grace window must not be negative, got %v", t.GraceWindow)
	}
	if t.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", t.ShutdownTimeout)
	}
	return nil
}

// NonceMode describes how a token allocates permit nonces.
type NonceMode string

const (
	// NonceModeSequential is EIP-2612 style: nonces(owner) is the next unused
	// nonce and every lower value counts as consumed.
	NonceModeSequential NonceMode = "sequential"

	// NonceModeSingleUse is EIP-3009 style: arbitrary values, each tracked by
	// authorizationState(owner, nonce).
	NonceModeSingleUse NonceMode = "single-use"
)

// ParseNonceMode parses a nonce mode name.
func ParseNonceMode(s string) (NonceMode, error) {
	switch NonceMode(s) {
	case NonceModeSequential, NonceModeSingleUse:
		return NonceMode(s), nil
	case "":
		return NonceModeSequential, nil
	}
	return "", fmt.Errorf("unknown nonce mode %q", s)
}
