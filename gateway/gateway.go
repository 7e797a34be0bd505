// Package gateway encodes calls to the on-chain payment gateway and decodes
// what it emits: PaymentExecuted events and revert payloads.
package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/mark3labs/permit-relay/signature"
)

const (
	executeMethod = "executePayment"
	executedEvent = "PaymentExecuted"
)

// Gateway binds the versioned gateway ABI to a deployed address.
type Gateway struct {
	address common.Address
	abi     abi.ABI
}

// New parses GatewayABI and checks that executePayment still has the input
// types the relay encodes. A mismatch would silently reorder arguments.
func New(address common.Address) (*Gateway, error) {
	return NewWithABI(address, GatewayABI)
}

// NewWithABI is New with a caller-supplied ABI document.
func NewWithABI(address common.Address, abiJSON []byte) (*Gateway, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("gateway address is required")
	}

	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway ABI: %w", err)
	}

	method, ok := parsed.Methods[executeMethod]
	if !ok {
		return nil, fmt.Errorf("gateway ABI %s: missing %s", InterfaceVersion, executeMethod)
	}
	if len(method.Inputs) != len(executeInputs) {
		return nil, fmt.Errorf("gateway ABI %s: %s has %d inputs, want %d",
			InterfaceVersion, executeMethod, len(method.Inputs), len(executeInputs))
	}
	for i, in := range method.Inputs {
		if in.Type.String() != executeInputs[i] {
			return nil, fmt.Errorf("gateway ABI %s: %s input %d (%s) is %s, want %s",
				InterfaceVersion, executeMethod, i, in.Name, in.Type.String(), executeInputs[i])
		}
	}
	if _, ok := parsed.Events[executedEvent]; !ok {
		return nil, fmt.Errorf("gateway ABI %s: missing %s event", InterfaceVersion, executedEvent)
	}

	return &Gateway{address: address, abi: parsed}, nil
}

// Address returns the gateway contract address.
func (g *Gateway) Address() common.Address {
	return g.address
}

// PackExecute encodes executePayment calldata for a request.
func (g *Gateway) PackExecute(requestID common.Hash, merchant common.Address, amount, deadline *big.Int, sig signature.Signature) ([]byte, error) {
	if amount == nil || deadline == nil {
		return nil, fmt.Errorf("amount and deadline are required")
	}
	data, err := g.abi.Pack(executeMethod,
		[32]byte(requestID),
		merchant,
		amount,
		deadline,
		sig.V,
		[32]byte(sig.R),
		[32]byte(sig.S),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", executeMethod, err)
	}
	return data, nil
}

// PaymentExecuted is the decoded gateway event.
type PaymentExecuted struct {
	RequestID common.Hash
	PaymentID *big.Int
	Payer     common.Address
	Merchant  common.Address
	Amount    *big.Int
	Fee       *big.Int
}

// ErrEventNotFound is returned when a receipt carries no PaymentExecuted log
// from this gateway.
var ErrEventNotFound = errors.New("gateway: PaymentExecuted event not found")

// DecodePaymentExecuted finds the PaymentExecuted log for requestID among logs.
func (g *Gateway) DecodePaymentExecuted(logs []*types.Log, requestID common.Hash) (*PaymentExecuted, error) {
	event := g.abi.Events[executedEvent]
	for _, lg := range logs {
		if lg == nil || lg.Address != g.address || len(lg.Topics) != 4 || lg.Topics[0] != event.ID {
			continue
		}
		if lg.Topics[1] != requestID {
			continue
		}

		values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", executedEvent, err)
		}
		if len(values) != 3 {
			return nil, fmt.Errorf("%s: unexpected field count %d", executedEvent, len(values))
		}
		merchant, _ := values[0].(common.Address)
		amount, _ := values[1].(*big.Int)
		fee, _ := values[2].(*big.Int)

		return &PaymentExecuted{
			RequestID: lg.Topics[1],
			PaymentID: new(big.Int).SetBytes(lg.Topics[2].Bytes()),
			Payer:     common.BytesToAddress(lg.Topics[3].Bytes()),
			Merchant:  merchant,
			Amount:    amount,
			Fee:       fee,
		}, nil
	}
	return nil, ErrEventNotFound
}

// EventID returns the PaymentExecuted topic.
func (g *Gateway) EventID() common.Hash {
	return g.abi.Events[executedEvent].ID
}
