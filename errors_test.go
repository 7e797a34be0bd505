package relay

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorDefinitions(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"InvalidSignatureEncoding", ErrInvalidSignatureEncoding, "relay: invalid signature encoding"},
		{"Authorization", ErrAuthorization, "relay: authorization failed"},
		{"PermitExpired", ErrPermitExpired, "relay: permit expired"},
		{"NonceConsumed", ErrNonceConsumed, "relay: nonce already consumed"},
		{"TransientSubmission", ErrTransientSubmission, "relay: transient submission failure"},
		{"OnChainRevert", ErrOnChainRevert, "relay: execution reverted"},
		{"TimeoutExpired", ErrTimeoutExpired, "relay: no receipt before deadline"},
		{"NotFound", ErrNotFound, "relay: request not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.want {
				t.Errorf("Error message mismatch: got %q, want %q", tt.err.Error(), tt.want)
			}
		})
	}
}

func TestRelayError(t *testing.T) {
	t.Run("message without cause", func(t *testing.T) {
		err := NewRelayError(ErrCodePermitExpired, "permit expired at 100", nil)
		if err.Error() != "permit expired at 100" {
			t.Errorf("got %q", err.Error())
		}
	})

	t.Run("message with cause", func(t *testing.T) {
		cause := errors.New("dial tcp: timeout")
		err := NewRelayError(ErrCodeTransientSubmission, "submit failed", cause)
		if err.Error() != "submit failed: dial tcp: timeout" {
			t.Errorf("got %q", err.Error())
		}
		if !errors.Is(err, cause) {
			t.Error("expected errors.Is to find the cause")
		}
	})

	t.Run("matches sentinel for code", func(t *testing.T) {
		err := Errorf(ErrCodeNonceConsumed, "nonce %d used", 7)
		if !errors.Is(err, ErrNonceConsumed) {
			t.Error("expected errors.Is(err, ErrNonceConsumed)")
		}
		if errors.Is(err, ErrPermitExpired) {
			t.Error("did not expect errors.Is(err, ErrPermitExpired)")
		}
	})

	t.Run("details", func(t *testing.T) {
		var err *RelayError
		err = &RelayError{Code: ErrCodeNonceConsumed, Message: "x"}
		err.WithDetails("nonce", "3").WithDetails("owner", "0xabc")
		if err.Details["nonce"] != "3" || err.Details["owner"] != "0xabc" {
			t.Errorf("details = %v", err.Details)
		}
	})
}

func TestCodeOfAndIsTransient(t *testing.T) {
	transient := NewRelayError(ErrCodeTransientSubmission, "rpc down", nil)
	wrapped := fmt.Errorf("attempt 2: %w", transient)

	if CodeOf(wrapped) != ErrCodeTransientSubmission {
		t.Errorf("CodeOf = %q", CodeOf(wrapped))
	}
	if !IsTransient(wrapped) {
		t.Error("expected wrapped transient error to be transient")
	}
	if IsTransient(Errorf(ErrCodePermitExpired, "late")) {
		t.Error("expired permit must not be transient")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("plain errors carry no code")
	}
}
