// Package ledgertest provides a scriptable in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Fake is a ledger.Client whose responses are supplied by hook functions.
// Unset hooks return zero values. Every call is counted by method name.
type Fake struct {
	mu    sync.Mutex
	calls map[string]int
	sent  []*types.Transaction

	Chain     *big.Int
	Nonce     uint64
	GasPrice  *big.Int
	Gas       uint64
	BlockTime uint64

	CallFn     func(msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	EstimateFn func(msg ethereum.CallMsg) (uint64, error)
	SendFn     func(tx *types.Transaction) error
	ReceiptFn  func(hash common.Hash) (*types.Receipt, error)
}

// New returns a Fake for chainID with sensible gas defaults.
func New(chainID int64) *Fake {
	return &Fake{
		Chain:    big.NewInt(chainID),
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      100_000,
	}
}

func (f *Fake) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
}

// Count returns how many times method was called.
func (f *Fake) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Total returns the number of calls across all methods.
func (f *Fake) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Sent returns the transactions accepted by SendTransaction.
func (f *Fake) Sent() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

func (f *Fake) ChainID(ctx context.Context) (*big.Int, error) {
	f.record("ChainID")
	return new(big.Int).Set(f.Chain), nil
}

func (f *Fake) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.record("SendTransaction")
	if f.SendFn != nil {
		if err := f.SendFn(tx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.mu.Unlock()
	return nil
}

// Include makes tx known to the node as if an earlier broadcast had reached
// it. SendFn hooks use it to fail a send that still landed.
func (f *Fake) Include(tx *types.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
}

func (f *Fake) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.record("TransactionByHash")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			return tx, true, nil
		}
	}
	return nil, false, ethereum.NotFound
}

func (f *Fake) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.record("TransactionReceipt")
	if f.ReceiptFn != nil {
		return f.ReceiptFn(txHash)
	}
	return nil, ethereum.NotFound
}

func (f *Fake) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.record("CallContract")
	if f.CallFn != nil {
		return f.CallFn(msg, blockNumber)
	}
	return nil, nil
}

func (f *Fake) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.record("HeaderByNumber")
	return &types.Header{Number: big.NewInt(1), Time: f.BlockTime}, nil
}

func (f *Fake) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.record("PendingNonceAt")
	return f.Nonce, nil
}

func (f *Fake) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	f.record("SuggestGasPrice")
	return new(big.Int).Set(f.GasPrice), nil
}

func (f *Fake) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.record("EstimateGas")
	if f.EstimateFn != nil {
		return f.EstimateFn(msg)
	}
	return f.Gas, nil
}

// RevertError mimics the JSON-RPC error a node returns for a reverted call.
type RevertError struct {
	Data []byte
}

func (e *RevertError) Error() string { return "execution reverted" }

// ErrorCode matches the code geth uses for reverts.
func (e *RevertError) ErrorCode() int { return 3 }

// ErrorData returns the hex-encoded revert payload.
func (e *RevertError) ErrorData() interface{} { return hexutil.Encode(e.Data) }

// Revert returns a RevertError carrying data.
func Revert(data []byte) error {
	return &RevertError{Data: data}
}

// TransientError is a network failure such as a node timeout.
func TransientError(msg string) error {
	return fmt.Errorf("Post \"http://node\": %s", msg)
}
