// Package policy decides whether a permit is still worth submitting.
//
// The decision is advisory. The gateway re-checks nonce and deadline
// atomically on-chain, and another transaction may consume the nonce between
// this check and submission.
package policy

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	relay "github.com/mark3labs/permit-relay"
	"github.com/mark3labs/permit-relay/ledger"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonAmountZero       Reason = "AmountZero"
	ReasonExpired          Reason = "Expired"
	ReasonNonceAlreadyUsed Reason = "NonceAlreadyUsed"
)

// Decision is the outcome of a pre-flight check.
type Decision struct {
	Usable bool
	Reason Reason

	// Now is the time the deadline was compared against.
	Now time.Time
}

// Err converts a rejection into the matching relay error, carrying the
// offending nonce or deadline. It returns nil for a usable decision.
func (d Decision) Err(permit relay.PaymentPermit) error {
	switch d.Reason {
	case ReasonAmountZero:
		return relay.Errorf(relay.ErrCodeAmountZero, "permit value must be greater than zero")
	case ReasonExpired:
		return relay.Errorf(relay.ErrCodePermitExpired, "permit expired at %s", permit.Deadline).
			WithDetails("deadline", permit.Deadline.String()).
			WithDetails("now", d.Now.Unix())
	case ReasonNonceAlreadyUsed:
		return relay.Errorf(relay.ErrCodeNonceConsumed, "nonce %s already used by %s", permit.Nonce, permit.Owner.Hex()).
			WithDetails("nonce", permit.Nonce.String()).
			WithDetails("owner", permit.Owner.Hex())
	}
	return nil
}

// NonceReader reports whether an owner's nonce has been consumed on-chain.
// gateway.Token implements it.
type NonceReader interface {
	NonceUsed(ctx context.Context, owner common.Address, nonce *big.Int) (bool, error)
}

// Clock returns the time deadlines are compared against.
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}

// SystemClock uses the local wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now(context.Context) (time.Time, error) {
	return time.Now(), nil
}

// ChainClock uses the timestamp of the latest block, which is what the
// gateway compares the deadline against.
type ChainClock struct {
	Client ledger.Client
}

// Now implements Clock.
func (c ChainClock) Now(ctx context.Context) (time.Time, error) {
	head, err := c.Client.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read chain head: %w", err)
	}
	return time.Unix(int64(head.Time), 0), nil
}

// Policy runs the pre-flight checks.
type Policy struct {
	nonces NonceReader
	clock  Clock
}

// New creates a Policy. A nil clock uses SystemClock.
func New(nonces NonceReader, clock Clock) *Policy {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Policy{nonces: nonces, clock: clock}
}

// Check evaluates the permit. Local checks run first; the nonce is read
// only when the permit passes them. The returned error is set only when
// state could not be read.
func (p *Policy) Check(ctx context.Context, permit relay.PaymentPermit) (Decision, error) {
	if permit.Value == nil || permit.Value.Sign() <= 0 {
		return Decision{Reason: ReasonAmountZero}, nil
	}

	now, err := p.clock.Now(ctx)
	if err != nil {
		return Decision{}, err
	}
	if permit.Deadline == nil || big.NewInt(now.Unix()).Cmp(permit.Deadline) >= 0 {
		return Decision{Reason: ReasonExpired, Now: now}, nil
	}

	if p.nonces != nil {
		nonce := permit.Nonce
		if nonce == nil {
			nonce = new(big.Int)
		}
		used, err := p.nonces.NonceUsed(ctx, permit.Owner, nonce)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to read nonce state: %w", err)
		}
		if used {
			return Decision{Reason: ReasonNonceAlreadyUsed, Now: now}, nil
		}
	}

	return Decision{Usable: true, Now: now}, nil
}
