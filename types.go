package relay

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentPermit is a payer's off-chain authorization letting the gateway pull
// a fixed token amount on their behalf.
type PaymentPermit struct {
	// Owner is the payer's address.
	Owner common.Address

	// Spender is the payment gateway allowed to pull the funds.
	Spender common.Address

	// Value is the amount in the token's smallest unit. Must be > 0.
	Value *big.Int

	// Nonce is assigned per owner by the token contract. Whether nonces are
	// sequential or single-use depends on the token (see NonceMode).
	Nonce *big.Int

	// Deadline is the unix timestamp after which the permit is void.
	Deadline *big.Int
}

// DeadlineTime returns the permit deadline as a time.Time.
func (p PaymentPermit) DeadlineTime() time.Time {
	if p.Deadline == nil || !p.Deadline.IsInt64() {
		return time.Unix(1<<62, 0)
	}
	return time.Unix(p.Deadline.Int64(), 0)
}

// EIP712Domain binds a signature to one verifying contract on one chain.
// Name and Version must match the token's own metadata byte for byte.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Status is the lifecycle state of a PaymentRequest.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusReverted  Status = "reverted"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusReverted, StatusExpired:
		return true
	}
	return false
}

// PaymentRequest is the relay's record of one execution attempt.
type PaymentRequest struct {
	// RequestID is the caller's correlation id, unique per request.
	RequestID common.Hash

	// Merchant receives the payment (minus gateway fees).
	Merchant common.Address

	// Permit is the signed authorization being executed.
	Permit PaymentPermit

	// Signature is the payer's 65-byte r || s || v signature over the permit digest.
	Signature []byte

	Status Status

	// TxHash is set once the execution transaction has been broadcast.
	TxHash common.Hash

	// PaymentID is the gateway-assigned identifier decoded from the
	// PaymentExecuted event once confirmed.
	PaymentID *big.Int

	// Fee is the gateway fee decoded from the PaymentExecuted event.
	Fee *big.Int

	// Reason holds the decoded revert reason or the expiry explanation.
	Reason string

	// ErrorCode classifies Reason for programmatic handling.
	ErrorCode ErrorCode

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers can't mutate stored records.
func (r *PaymentRequest) Clone() *PaymentRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Permit.Value = cloneInt(r.Permit.Value)
	c.Permit.Nonce = cloneInt(r.Permit.Nonce)
	c.Permit.Deadline = cloneInt(r.Permit.Deadline)
	c.PaymentID = cloneInt(r.PaymentID)
	c.Fee = cloneInt(r.Fee)
	if r.Signature != nil {
		c.Signature = append([]byte(nil), r.Signature...)
	}
	return &c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// SubmitResult is returned to callers after a request has been accepted.
type SubmitResult struct {
	RequestID string `json:"requestId"`
	Status    Status `json:"status"`

	// Transaction is the broadcast transaction hash, empty until submitted.
	Transaction string `json:"transaction,omitempty"`
}

// StatusResult describes the current state of a request.
type StatusResult struct {
	RequestID string `json:"requestId"`
	Status    Status `json:"status"`

	// Transaction is the on-chain reference once submitted.
	Transaction string `json:"transaction,omitempty"`

	// PaymentID is the gateway-assigned id, set when confirmed.
	PaymentID string `json:"paymentId,omitempty"`

	// Fee is the gateway fee in atomic units, set when confirmed.
	Fee string `json:"fee,omitempty"`

	// Reason is the decoded revert reason or expiry explanation.
	Reason string `json:"reason,omitempty"`

	// ErrorCode classifies Reason.
	ErrorCode ErrorCode `json:"errorCode,omitempty"`
}

// Result converts a stored request into its caller-facing view.
func (r *PaymentRequest) Result() *StatusResult {
	res := &StatusResult{
		RequestID: r.RequestID.Hex(),
		Status:    r.Status,
		Reason:    r.Reason,
		ErrorCode: r.ErrorCode,
	}
	if r.TxHash != (common.Hash{}) {
		res.Transaction = r.TxHash.Hex()
	}
	if r.PaymentID != nil {
		res.PaymentID = r.PaymentID.String()
	}
	if r.Fee != nil {
		res.Fee = r.Fee.String()
	}
	return res
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, ErrInvalidAmount
	}

	multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value.Mul(value, new(big.Rat).SetInt(multiplier))
	if !value.IsInt() {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(value.Num()), nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.500000".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(value, divisor).FloatString(decimals)
}
