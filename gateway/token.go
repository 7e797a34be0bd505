package gateway

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	relay "github.com/mark3labs/permit-relay"
	"github.com/mark3labs/permit-relay/ledger"
)

// Token reads permit state from the token contract.
type Token struct {
	client  ledger.Client
	address common.Address
	mode    relay.NonceMode
	abi     abi.ABI
}

// NewToken binds TokenABI to a deployed token.
func NewToken(client ledger.Client, address common.Address, mode relay.NonceMode) (*Token, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	parsed, err := abi.JSON(bytes.NewReader(TokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}
	if mode == "" {
		mode = relay.NonceModeSequential
	}
	return &Token{client: client, address: address, mode: mode, abi: parsed}, nil
}

// Address returns the token contract address.
func (t *Token) Address() common.Address {
	return t.address
}

// Mode returns the token's nonce mode.
func (t *Token) Mode() relay.NonceMode {
	return t.mode
}

func (t *Token) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := t.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	out, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &t.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	values, err := t.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

// Nonces returns the next unused sequential nonce for owner.
func (t *Token) Nonces(ctx context.Context, owner common.Address) (*big.Int, error) {
	values, err := t.call(ctx, "nonces", owner)
	if err != nil {
		return nil, err
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("nonces: unexpected result type %T", values[0])
	}
	return n, nil
}

// AuthorizationState reports whether a single-use nonce was consumed.
func (t *Token) AuthorizationState(ctx context.Context, owner common.Address, nonce common.Hash) (bool, error) {
	values, err := t.call(ctx, "authorizationState", owner, [32]byte(nonce))
	if err != nil {
		return false, err
	}
	used, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("authorizationState: unexpected result type %T", values[0])
	}
	return used, nil
}

// NonceUsed reports whether (owner, nonce) can no longer be used, according
// to the token's nonce mode.
func (t *Token) NonceUsed(ctx context.Context, owner common.Address, nonce *big.Int) (bool, error) {
	switch t.mode {
	case relay.NonceModeSingleUse:
		return t.AuthorizationState(ctx, owner, common.BigToHash(nonce))
	default:
		next, err := t.Nonces(ctx, owner)
		if err != nil {
			return false, err
		}
		// Sequential nonces below the counter are spent; a nonce above it
		// cannot be executed yet, which the gateway reports on-chain.
		return nonce.Cmp(next) < 0, nil
	}
}

// Domain reads the token's EIP-712 domain. It prefers ERC-5267
// eip712Domain() and falls back to name() and version(), using chainID and
// the token address for the remaining fields.
func (t *Token) Domain(ctx context.Context, chainID *big.Int) (relay.EIP712Domain, error) {
	if values, err := t.call(ctx, "eip712Domain"); err == nil && len(values) == 7 {
		name, _ := values[1].(string)
		version, _ := values[2].(string)
		cid, _ := values[3].(*big.Int)
		vc, _ := values[4].(common.Address)
		if cid == nil {
			cid = chainID
		}
		return relay.EIP712Domain{Name: name, Version: version, ChainID: cid, VerifyingContract: vc}, nil
	}

	nameVals, err := t.call(ctx, "name")
	if err != nil {
		return relay.EIP712Domain{}, err
	}
	name, _ := nameVals[0].(string)

	// Tokens without version() sign under "1".
	version := "1"
	if versionVals, err := t.call(ctx, "version"); err == nil {
		if v, ok := versionVals[0].(string); ok && v != "" {
			version = v
		}
	}

	return relay.EIP712Domain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: t.address,
	}, nil
}
