// Package signature recovers the signer of a permit digest.
//
// Recovery never compares against an expected address: a wrong domain yields a
// different but valid address, so callers use VerifyOwner or compare the
// result themselves.
package signature

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	relay "github.com/mark3labs/permit-relay"
)

// Length is the size of a compact r || s || v signature.
const Length = 65

// Signature is a parsed secp256k1 signature with v normalized to {27, 28}.
type Signature struct {
	R common.Hash
	S common.Hash
	V uint8
}

// Parse accepts a 65-byte compact signature with v in {0, 1, 27, 28}.
func Parse(b []byte) (Signature, error) {
	if len(b) != Length {
		return Signature{}, fmt.Errorf("%w: length %d, want %d", relay.ErrInvalidSignatureEncoding, len(b), Length)
	}
	return FromVRS(b[64], common.BytesToHash(b[:32]), common.BytesToHash(b[32:64]))
}

// FromVRS builds a Signature from its components.
func FromVRS(v uint8, r, s common.Hash) (Signature, error) {
	switch v {
	case 0, 1:
		v += 27
	case 27, 28:
	default:
		return Signature{}, fmt.Errorf("%w: invalid recovery id %d", relay.ErrInvalidSignatureEncoding, v)
	}

	// Rejects zero and out-of-range r/s, and malleable high-s values.
	if !crypto.ValidateSignatureValues(v-27, new(big.Int).SetBytes(r[:]), new(big.Int).SetBytes(s[:]), true) {
		return Signature{}, fmt.Errorf("%w: r/s out of range", relay.ErrInvalidSignatureEncoding)
	}

	return Signature{R: r, S: s, V: v}, nil
}

// Bytes returns the compact r || s || v form.
func (s Signature) Bytes() []byte {
	out := make([]byte, Length)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// Recover returns the address that produced sig over digest.
func Recover(digest common.Hash, sig Signature) (common.Address, error) {
	raw := sig.Bytes()
	raw[64] -= 27

	pub, err := crypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", relay.ErrInvalidSignatureEncoding, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverBytes parses a compact signature and recovers its signer.
func RecoverBytes(digest common.Hash, sig []byte) (common.Address, error) {
	parsed, err := Parse(sig)
	if err != nil {
		return common.Address{}, err
	}
	return Recover(digest, parsed)
}

// VerifyOwner recovers the signer and reports a mismatch with owner as an
// AUTHORIZATION_FAILED relay error.
func VerifyOwner(digest common.Hash, sig Signature, owner common.Address) error {
	signer, err := Recover(digest, sig)
	if err != nil {
		return relay.NewRelayError(relay.ErrCodeInvalidSignatureEncoding, "signature could not be recovered", err)
	}
	if signer != owner {
		return relay.Errorf(relay.ErrCodeAuthorization, "signer %s does not match owner %s", signer.Hex(), owner.Hex()).
			WithDetails("recovered", signer.Hex()).
			WithDetails("owner", owner.Hex())
	}
	return nil
}
