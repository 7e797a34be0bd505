// Package coinbase provides a relayer transaction signer backed by a
// Coinbase Developer Platform server wallet. The relayer key never leaves
// CDP; execution transactions are sent to the sign/transaction endpoint.
package coinbase

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	relay "github.com/mark3labs/permit-relay"
)

// DefaultSignTimeout bounds one SignTx call including retries.
const DefaultSignTimeout = 30 * time.Second

// Signer implements relay.TxSigner with a CDP EVM account.
type Signer struct {
	client      *CDPClient
	auth        *CDPAuth
	clientOpts  []ClientOption
	accountName string
	address     common.Address
	timeout     time.Duration
}

var _ relay.TxSigner = (*Signer)(nil)

// SignerOption is a functional option for configuring a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a signer. Credentials and either an account address or
// an account name are required; a named account is created on first use.
func NewSigner(ctx context.Context, opts ...SignerOption) (*Signer, error) {
	s := &Signer{timeout: DefaultSignTimeout}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.client == nil {
		if s.auth == nil {
			return nil, fmt.Errorf("CDP credentials not provided")
		}
		client, err := NewCDPClient(s.auth, s.clientOpts...)
		if err != nil {
			return nil, err
		}
		s.client = client
	}

	if s.address == (common.Address{}) {
		if s.accountName == "" {
			return nil, fmt.Errorf("an account address or account name is required")
		}
		account, err := GetOrCreateAccount(ctx, s.client, s.accountName)
		if err != nil {
			return nil, err
		}
		s.address = common.HexToAddress(account.Address)
	}
	return s, nil
}

// WithCDPCredentials sets the CDP API credentials. The wallet secret is
// required for signing.
func WithCDPCredentials(apiKeyName, apiKeySecret, walletSecret string) SignerOption {
	return func(s *Signer) error {
		auth, err := NewCDPAuth(apiKeyName, apiKeySecret, walletSecret)
		if err != nil {
			return fmt.Errorf("failed to initialize CDP auth: %w", err)
		}
		s.auth = auth
		return nil
	}
}

// WithCDPCredentialsFromEnv loads credentials from CDP_API_KEY_NAME,
// CDP_API_KEY_SECRET and CDP_WALLET_SECRET.
func WithCDPCredentialsFromEnv() SignerOption {
	return func(s *Signer) error {
		apiKeyName := os.Getenv("CDP_API_KEY_NAME")
		apiKeySecret := os.Getenv("CDP_API_KEY_SECRET")
		if apiKeyName == "" || apiKeySecret == "" {
			return fmt.Errorf("CDP_API_KEY_NAME and CDP_API_KEY_SECRET must be set")
		}
		return WithCDPCredentials(apiKeyName, apiKeySecret, os.Getenv("CDP_WALLET_SECRET"))(s)
	}
}

// WithClientOptions configures the CDP client built from the credentials.
func WithClientOptions(opts ...ClientOption) SignerOption {
	return func(s *Signer) error {
		s.clientOpts = append(s.clientOpts, opts...)
		return nil
	}
}

// WithClient uses an existing CDP client.
func WithClient(client *CDPClient) SignerOption {
	return func(s *Signer) error {
		s.client = client
		return nil
	}
}

// WithAccountAddress selects an existing account by address.
func WithAccountAddress(address string) SignerOption {
	return func(s *Signer) error {
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid account address %q", address)
		}
		s.address = common.HexToAddress(address)
		return nil
	}
}

// WithAccountName selects, or creates, the account called name.
func WithAccountName(name string) SignerOption {
	return func(s *Signer) error {
		if err := ValidateAccountName(name); err != nil {
			return err
		}
		s.accountName = name
		return nil
	}
}

// WithSignTimeout bounds each SignTx call.
func WithSignTimeout(d time.Duration) SignerOption {
	return func(s *Signer) error {
		if d <= 0 {
			return fmt.Errorf("sign timeout must be positive, got %v", d)
		}
		s.timeout = d
		return nil
	}
}

// Address implements relay.TxSigner.
func (s *Signer) Address() common.Address {
	return s.address
}

type signTransactionRequest struct {
	Transaction string `json:"transaction"`
}

type signTransactionResponse struct {
	SignedTransaction string `json:"signedTransaction"`
}

// SignTx implements relay.TxSigner. CDP signs EIP-1559 transactions only, so
// a legacy transaction is converted with both fee caps set to its gas price.
// The returned transaction is checked to carry the same payload and to be
// signed by the account.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	unsigned := toDynamicFee(tx, chainID)
	payload, err := encodeUnsigned(unsigned)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	path := fmt.Sprintf("%s/%s/sign/transaction", evmAccountsPath, s.address.Hex())
	var resp signTransactionResponse
	err = s.client.doRequestWithRetry(ctx, "POST", path,
		signTransactionRequest{Transaction: hexutil.Encode(payload)}, &resp, true)
	if err != nil {
		if isRetryable(err) {
			return nil, relay.NewRelayError(relay.ErrCodeTransientSubmission, "remote signer unavailable", err)
		}
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	raw, err := hexutil.Decode(resp.SignedTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}

	signer := types.LatestSignerForChainID(chainID)
	if signer.Hash(signed) != signer.Hash(unsigned) {
		return nil, fmt.Errorf("signed transaction does not match the request")
	}
	from, err := types.Sender(signer, signed)
	if err != nil {
		return nil, fmt.Errorf("recover signer: %w", err)
	}
	if from != s.address {
		return nil, fmt.Errorf("transaction signed by %s, want %s", from.Hex(), s.address.Hex())
	}
	return signed, nil
}

func toDynamicFee(tx *types.Transaction, chainID *big.Int) *types.Transaction {
	if tx.Type() == types.DynamicFeeTxType {
		return tx
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:    new(big.Int).Set(chainID),
		Nonce:      tx.Nonce(),
		GasTipCap:  tx.GasTipCap(),
		GasFeeCap:  tx.GasFeeCap(),
		Gas:        tx.Gas(),
		To:         tx.To(),
		Value:      tx.Value(),
		Data:       tx.Data(),
		AccessList: tx.AccessList(),
	})
}

// unsignedDynamicFeeTx is the EIP-1559 payload without signature values.
type unsignedDynamicFeeTx struct {
	ChainID    *big.Int
	Nonce      uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	To         *common.Address `rlp:"nil"`
	Value      *big.Int
	Data       []byte
	AccessList types.AccessList
}

// encodeUnsigned returns 0x02 || rlp(payload), the serialization whose hash
// the account signs.
func encodeUnsigned(tx *types.Transaction) ([]byte, error) {
	enc, err := rlp.EncodeToBytes(&unsignedDynamicFeeTx{
		ChainID:    tx.ChainId(),
		Nonce:      tx.Nonce(),
		GasTipCap:  tx.GasTipCap(),
		GasFeeCap:  tx.GasFeeCap(),
		Gas:        tx.Gas(),
		To:         tx.To(),
		Value:      tx.Value(),
		Data:       tx.Data(),
		AccessList: tx.AccessList(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return append([]byte{types.DynamicFeeTxType}, enc...), nil
}
