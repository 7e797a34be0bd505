// Package eip712 builds EIP-712 digests for payment permits.
//
// Everything here is a pure function of its inputs. The Permit field order is
// part of the signed payload: changing it produces a different digest and the
// signature recovers to some other address, without any error.
package eip712

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	relay "github.com/mark3labs/permit-relay"
)

// PrimaryType is the EIP-712 primary type of a payment permit.
const PrimaryType = "Permit"

// PermitTypes declares the domain and Permit struct types in signing order.
var PermitTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: []apitypes.Type{
		{Name: "owner", Type: "address"},
		{Name: "spender", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// TypedData assembles the full typed-data document for a permit.
func TypedData(domain relay.EIP712Domain, permit relay.PaymentPermit) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       PermitTypes,
		PrimaryType: PrimaryType,
		Domain:      typedDomain(domain),
		Message: apitypes.TypedDataMessage{
			"owner":    permit.Owner.Hex(),
			"spender":  permit.Spender.Hex(),
			"value":    hexOrDecimal(permit.Value),
			"nonce":    hexOrDecimal(permit.Nonce),
			"deadline": hexOrDecimal(permit.Deadline),
		},
	}
}

func typedDomain(domain relay.EIP712Domain) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              domain.Name,
		Version:           domain.Version,
		ChainId:           hexOrDecimal(domain.ChainID),
		VerifyingContract: domain.VerifyingContract.Hex(),
	}
}

// hexOrDecimal never returns nil; a missing value encodes as zero.
func hexOrDecimal(v *big.Int) *math.HexOrDecimal256 {
	if v == nil {
		return (*math.HexOrDecimal256)(new(big.Int))
	}
	return (*math.HexOrDecimal256)(new(big.Int).Set(v))
}

// DomainSeparator returns hashStruct(EIP712Domain) for the domain.
func DomainSeparator(domain relay.EIP712Domain) (common.Hash, error) {
	td := apitypes.TypedData{Types: PermitTypes, Domain: typedDomain(domain)}
	h, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(h), nil
}

// PermitStructHash returns hashStruct(Permit) for the permit.
func PermitStructHash(permit relay.PaymentPermit) (common.Hash, error) {
	td := TypedData(relay.EIP712Domain{}, permit)
	h, err := td.HashStruct(PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash permit: %w", err)
	}
	return common.BytesToHash(h), nil
}

// PermitDigest returns the digest a payer signs for the permit under domain.
func PermitDigest(domain relay.EIP712Domain, permit relay.PaymentPermit) (common.Hash, error) {
	return HashTypedData(TypedData(domain, permit))
}

// HashTypedData computes keccak256("\x19\x01" || domainSeparator || hashStruct(message))
// for any typed-data document.
func HashTypedData(td apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256Hash(rawData), nil
}

// SignPermit signs the permit digest and returns the 65-byte r || s || v
// signature with v in {27, 28}.
func SignPermit(key *ecdsa.PrivateKey, domain relay.EIP712Domain, permit relay.PaymentPermit) ([]byte, error) {
	digest, err := PermitDigest(domain, permit)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign permit: %w", err)
	}

	// Adjust v value for Ethereum (27 or 28)
	signature[64] += 27
	return signature, nil
}
