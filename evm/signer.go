// Package evm holds the relayer's transaction signer and the ways to load
// its key: raw hex, an encrypted keystore file, or a BIP39 mnemonic.
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	relay "github.com/mark3labs/permit-relay"
)

// Signer implements relay.TxSigner with a local ECDSA key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

var _ relay.TxSigner = (*Signer)(nil)

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a new relayer signer with the given options.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.privateKey == nil {
		return nil, relay.ErrInvalidKey
	}

	s.address = crypto.PubkeyToAddress(s.privateKey.PublicKey)
	return s, nil
}

// WithPrivateKey sets the private key from a hex string.
func WithPrivateKey(hexKey string) SignerOption {
	return func(s *Signer) error {
		hexKey = strings.TrimPrefix(hexKey, "0x")

		privateKey, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return relay.ErrInvalidKey
		}

		s.privateKey = privateKey
		return nil
	}
}

// WithECDSAKey uses an already parsed key.
func WithECDSAKey(key *ecdsa.PrivateKey) SignerOption {
	return func(s *Signer) error {
		if key == nil {
			return relay.ErrInvalidKey
		}
		s.privateKey = key
		return nil
	}
}

// Address returns the relayer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx signs tx with the latest signer rules for chainID.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id %v", chainID)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}
