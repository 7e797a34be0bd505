package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"
)

// RateLimited wraps a Client so every call waits for a token first. Hosted
// RPC providers throttle aggressively and the observer polls many requests
// at once.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited limits next to requestsPerSecond with the given burst.
func NewRateLimited(next Client, requestsPerSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

var _ Client = (*RateLimited)(nil)

func (c *RateLimited) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.ChainID(ctx)
}

func (c *RateLimited) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.next.SendTransaction(ctx, tx)
}

func (c *RateLimited) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	return c.next.TransactionByHash(ctx, hash)
}

func (c *RateLimited) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.TransactionReceipt(ctx, txHash)
}

func (c *RateLimited) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.CallContract(ctx, msg, blockNumber)
}

func (c *RateLimited) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.HeaderByNumber(ctx, number)
}

func (c *RateLimited) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return c.next.PendingNonceAt(ctx, account)
}

func (c *RateLimited) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.SuggestGasPrice(ctx)
}

func (c *RateLimited) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return c.next.EstimateGas(ctx, msg)
}
