// Package permit builds and signs payment permits on the payer side.
//
// A Payer holds the owner key and the signing domain of one token. It is what
// a wallet or a test harness uses to produce the requests a relay accepts.
package permit

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	relay "github.com/mark3labs/permit-relay"
	"github.com/mark3labs/permit-relay/eip712"
)

// DefaultTTL is how far in the future a permit deadline is set when the
// caller does not choose one.
const DefaultTTL = 10 * time.Minute

// ErrNonceRequired is returned when a sequential-mode permit is built without
// an explicit nonce.
var ErrNonceRequired = errors.New("permit: sequential tokens need an explicit nonce")

// NonceSource reads the next sequential nonce of an owner.
// gateway.Token satisfies it.
type NonceSource interface {
	Nonces(ctx context.Context, owner common.Address) (*big.Int, error)
}

// Payer signs permits for a single owner and token.
type Payer struct {
	key     *ecdsa.PrivateKey
	owner   common.Address
	domain  relay.EIP712Domain
	spender common.Address
	mode    relay.NonceMode
	now     func() time.Time
}

// PayerOption configures a Payer.
type PayerOption func(*Payer) error

// NewPayer creates a payer for the token described by domain. spender is
// the payment gateway the permits authorize.
func NewPayer(domain relay.EIP712Domain, spender common.Address, opts ...PayerOption) (*Payer, error) {
	if domain.ChainID == nil || domain.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id %v", domain.ChainID)
	}
	if domain.VerifyingContract == (common.Address{}) {
		return nil, errors.New("token address is required")
	}
	if spender == (common.Address{}) {
		return nil, errors.New("spender address is required")
	}

	p := &Payer{
		domain:  domain,
		spender: spender,
		mode:    relay.NonceModeSequential,
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.key == nil {
		return nil, relay.ErrInvalidKey
	}
	p.owner = crypto.PubkeyToAddress(p.key.PublicKey)
	return p, nil
}

// WithPrivateKey sets the owner key from a hex string.
func WithPrivateKey(hexKey string) PayerOption {
	return func(p *Payer) error {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return relay.ErrInvalidKey
		}
		p.key = key
		return nil
	}
}

// WithKey uses an already parsed owner key.
func WithKey(key *ecdsa.PrivateKey) PayerOption {
	return func(p *Payer) error {
		if key == nil {
			return relay.ErrInvalidKey
		}
		p.key = key
		return nil
	}
}

// WithNonceMode sets how the token allocates nonces. Single-use tokens get
// random nonces when none is given.
func WithNonceMode(mode relay.NonceMode) PayerOption {
	return func(p *Payer) error {
		if _, err := relay.ParseNonceMode(string(mode)); err != nil {
			return err
		}
		p.mode = mode
		return nil
	}
}

// WithClock overrides the time source used for deadlines.
func WithClock(now func() time.Time) PayerOption {
	return func(p *Payer) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		p.now = now
		return nil
	}
}

// Owner returns the payer's address.
func (p *Payer) Owner() common.Address {
	return p.owner
}

// Domain returns the signing domain.
func (p *Payer) Domain() relay.EIP712Domain {
	return p.domain
}

// NextNonce reads the owner's next sequential nonce from src.
func (p *Payer) NextNonce(ctx context.Context, src NonceSource) (*big.Int, error) {
	nonce, err := src.Nonces(ctx, p.owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return nonce, nil
}

// RandomNonce returns a random non-zero 256-bit nonce.
func RandomNonce() (*big.Int, error) {
	var b [32]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}
		if n := new(big.Int).SetBytes(b[:]); n.Sign() > 0 {
			return n, nil
		}
	}
}

// Permit builds an unsigned permit for value. A nil nonce is only allowed for
// single-use tokens. A non-positive ttl means DefaultTTL.
func (p *Payer) Permit(value, nonce *big.Int, ttl time.Duration) (relay.PaymentPermit, error) {
	if value == nil || value.Sign() <= 0 {
		return relay.PaymentPermit{}, relay.ErrAmountZero
	}
	if nonce == nil {
		if p.mode != relay.NonceModeSingleUse {
			return relay.PaymentPermit{}, ErrNonceRequired
		}
		n, err := RandomNonce()
		if err != nil {
			return relay.PaymentPermit{}, err
		}
		nonce = n
	}
	if nonce.Sign() < 0 {
		return relay.PaymentPermit{}, fmt.Errorf("negative nonce %s", nonce)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return relay.PaymentPermit{
		Owner:    p.owner,
		Spender:  p.spender,
		Value:    new(big.Int).Set(value),
		Nonce:    new(big.Int).Set(nonce),
		Deadline: big.NewInt(p.now().Add(ttl).Unix()),
	}, nil
}

// Sign returns the 65-byte signature over permit.
func (p *Payer) Sign(permit relay.PaymentPermit) ([]byte, error) {
	if permit.Owner != p.owner {
		return nil, fmt.Errorf("permit owner %s is not the payer %s", permit.Owner.Hex(), p.owner.Hex())
	}
	return eip712.SignPermit(p.key, p.domain, permit)
}

// Request builds and signs a payment of value to merchant.
func (p *Payer) Request(requestID common.Hash, merchant common.Address, value, nonce *big.Int, ttl time.Duration) (*relay.PaymentRequest, error) {
	if merchant == (common.Address{}) {
		return nil, errors.New("merchant address is required")
	}
	permit, err := p.Permit(value, nonce, ttl)
	if err != nil {
		return nil, err
	}
	sig, err := p.Sign(permit)
	if err != nil {
		return nil, err
	}
	return &relay.PaymentRequest{
		RequestID: requestID,
		Merchant:  merchant,
		Permit:    permit,
		Signature: sig,
	}, nil
}
