// Package ledger defines the RPC surface the relay needs from a chain node.
//
// Client is satisfied by go-ethereum's *ethclient.Client. Components receive a
// Client explicitly; there is no package-level connection.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the subset of ethclient.Client used by the relay.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

var _ Client = (*ethclient.Client)(nil)

// Dial connects to a node and checks it reports the expected chain id.
// A zero expectedChainID skips the check.
func Dial(ctx context.Context, rawURL string, expectedChainID int64) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	if expectedChainID == 0 {
		return client, nil
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Int64() != expectedChainID {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: node reports %s, want %d", chainID, expectedChainID)
	}
	return client, nil
}

// transientMarkers are substrings of node and transport errors that clear up
// on their own.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"eof",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"header not found",
}

// IsTransient reports whether err is a network-level failure worth retrying.
// Execution reverts are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if _, ok := RevertData(err); ok {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsAlreadyKnown reports whether the node already holds the transaction,
// which makes a resubmission a success.
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// IsNonceTaken reports whether the node refused a transaction because its
// nonce is already used, either mined or held by another pending
// transaction.
func IsNonceTaken(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "replacement transaction underpriced")
}

// RevertData extracts the raw revert payload carried by a node error.
// ok is false when err carries no revert data.
func RevertData(err error) (data []byte, ok bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}

	switch v := dataErr.ErrorData().(type) {
	case string:
		b, decErr := hexutil.Decode(v)
		if decErr != nil {
			return nil, false
		}
		return b, true
	case []byte:
		return v, true
	}
	return nil, false
}

// IsRevert reports whether err is an execution revert.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := RevertData(err); ok {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
