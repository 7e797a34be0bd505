package observer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	relay "github.com/mark3labs/permit-relay"
	"github.com/mark3labs/permit-relay/gateway"
	"github.com/mark3labs/permit-relay/ledger/ledgertest"
	"github.com/mark3labs/permit-relay/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const relayerKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	gatewayAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	payer       = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	merchant    = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

	// Error("Deadline expired")
	deadlineExpired = hexutil.MustDecode("0x08c379a000000000000000000000000000000000000000000000000000000000000000200000000000000000000000000000000000000000000000000000000000000010446561646c696e65206578706972656400000000000000000000000000000000")
)

type harness struct {
	fake  *ledgertest.Fake
	gw    *gateway.Gateway
	store *store.Memory
	obs   *Observer
	req   *relay.PaymentRequest
}

func newHarness(t *testing.T, deadline int64, timeouts relay.Timeouts) *harness {
	t.Helper()

	fake := ledgertest.New(137)
	gw, err := gateway.New(gatewayAddr)
	require.NoError(t, err)

	st := store.NewMemory()
	obs, err := New(fake, gw, st,
		WithTimeouts(timeouts),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	// Broadcast a signed transaction so the fake can serve it for replay.
	key, err := crypto.HexToECDSA(relayerKeyHex)
	require.NoError(t, err)
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &gatewayAddr,
		Gas:      100000,
		GasPrice: big.NewInt(1_000_000_000),
		Data:     []byte{0xe7, 0xf2, 0x5f, 0x3f},
	}), types.LatestSignerForChainID(big.NewInt(137)), key)
	require.NoError(t, err)
	require.NoError(t, fake.SendTransaction(context.Background(), tx))

	req := &relay.PaymentRequest{
		RequestID: common.HexToHash("0xaa"),
		Merchant:  merchant,
		Permit: relay.PaymentPermit{
			Owner:    payer,
			Spender:  gatewayAddr,
			Value:    big.NewInt(1000),
			Nonce:    big.NewInt(0),
			Deadline: big.NewInt(deadline),
		},
		Signature: make([]byte, 65),
		Status:    relay.StatusSubmitted,
		TxHash:    tx.Hash(),
	}
	require.NoError(t, st.Create(context.Background(), req))

	return &harness{fake: fake, gw: gw, store: st, obs: obs, req: req}
}

func fastTimeouts() relay.Timeouts {
	return relay.Timeouts{
		RPCTimeout:      time.Second,
		PollInterval:    5 * time.Millisecond,
		GraceWindow:     time.Minute,
		ShutdownTimeout: time.Second,
	}
}

func executedLog(t *testing.T, requestID common.Hash, paymentID, fee int64) *types.Log {
	t.Helper()
	parsed, err := abi.JSON(bytes.NewReader(gateway.GatewayABI))
	require.NoError(t, err)
	event := parsed.Events["PaymentExecuted"]
	data, err := event.Inputs.NonIndexed().Pack(merchant, big.NewInt(1000), big.NewInt(fee))
	require.NoError(t, err)
	return &types.Log{
		Address: gatewayAddr,
		Topics: []common.Hash{
			event.ID,
			requestID,
			common.BigToHash(big.NewInt(paymentID)),
			common.BytesToHash(payer.Bytes()),
		},
		Data: data,
	}
}

func TestWatchConfirmed(t *testing.T) {
	h := newHarness(t, time.Now().Add(time.Hour).Unix(), fastTimeouts())

	var polls int32
	h.fake.ReceiptFn = func(hash common.Hash) (*types.Receipt, error) {
		if atomic.AddInt32(&polls, 1) < 3 {
			return nil, ethereum.NotFound
		}
		return &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			TxHash:      hash,
			BlockNumber: big.NewInt(100),
			Logs:        []*types.Log{executedLog(t, h.req.RequestID, 7, 25)},
		}, nil
	}

	final, err := h.obs.Watch(context.Background(), h.req)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusConfirmed, final.Status)
	assert.Equal(t, int64(7), final.PaymentID.Int64())
	assert.Equal(t, int64(25), final.Fee.Int64())
	assert.EqualValues(t, 3, atomic.LoadInt32(&polls))

	stored, err := h.store.Get(context.Background(), h.req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusConfirmed, stored.Status)
	assert.Equal(t, "7", stored.Result().PaymentID)
}

func TestWatchTransientErrorsKeepPolling(t *testing.T) {
	h := newHarness(t, time.Now().Add(time.Hour).Unix(), fastTimeouts())

	var polls int32
	h.fake.ReceiptFn = func(hash common.Hash) (*types.Receipt, error) {
		if atomic.AddInt32(&polls, 1) == 1 {
			return nil, ledgertest.TransientError("i/o timeout")
		}
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, BlockNumber: big.NewInt(1)}, nil
	}

	final, err := h.obs.Watch(context.Background(), h.req)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusConfirmed, final.Status)
	assert.Nil(t, final.PaymentID, "no event means no payment id")
}

func TestWatchRevertedDecodesReason(t *testing.T) {
	h := newHarness(t, time.Now().Add(time.Hour).Unix(), fastTimeouts())

	h.fake.ReceiptFn = func(hash common.Hash) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: hash, BlockNumber: big.NewInt(42)}, nil
	}
	var replayBlock *big.Int
	var replayFrom common.Address
	h.fake.CallFn = func(msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
		replayBlock = block
		replayFrom = msg.From
		return nil, ledgertest.Revert(deadlineExpired)
	}

	final, err := h.obs.Watch(context.Background(), h.req)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusReverted, final.Status)
	assert.Equal(t, "Deadline expired", final.Reason)
	assert.Equal(t, relay.ErrCodePermitExpired, final.ErrorCode)
	require.NotNil(t, replayBlock)
	assert.Equal(t, int64(42), replayBlock.Int64())

	key, _ := crypto.HexToECDSA(relayerKeyHex)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), replayFrom)
}

func TestWatchRevertedFallsBackToHex(t *testing.T) {
	h := newHarness(t, time.Now().Add(time.Hour).Unix(), fastTimeouts())

	h.fake.ReceiptFn = func(hash common.Hash) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: hash, BlockNumber: big.NewInt(42)}, nil
	}
	h.fake.CallFn = func(ethereum.CallMsg, *big.Int) ([]byte, error) {
		return nil, ledgertest.Revert([]byte{0xde, 0xad, 0xbe, 0xef})
	}

	final, err := h.obs.Watch(context.Background(), h.req)
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", final.Reason)
	assert.Equal(t, relay.ErrCodeOnChainRevert, final.ErrorCode)
}

func TestWatchRevertedReplaySucceeds(t *testing.T) {
	h := newHarness(t, time.Now().Add(time.Hour).Unix(), fastTimeouts())

	h.fake.ReceiptFn = func(hash common.Hash) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: hash, BlockNumber: big.NewInt(42)}, nil
	}

	final, err := h.obs.Watch(context.Background(), h.req)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusReverted, final.Status)
	assert.NotEmpty(t, final.Reason)
}

func TestWatchExpiresAndStopsPolling(t *testing.T) {
	timeouts := fastTimeouts()
	timeouts.GraceWindow = 50 * time.Millisecond
	h := newHarness(t, time.Now().Unix(), timeouts)

	final, err := h.obs.Watch(context.Background(), h.req)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusExpired, final.Status)
	assert.Equal(t, relay.ErrCodeTimeoutExpired, final.ErrorCode)
	assert.NotEmpty(t, final.Reason)

	calls := h.fake.Count("TransactionReceipt")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, h.fake.Count("TransactionReceipt"), "no polling after expiry")

	stored, err := h.store.Get(context.Background(), h.req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusExpired, stored.Status)
}

func TestWatchAlreadyExpiredMakesNoCalls(t *testing.T) {
	timeouts := fastTimeouts()
	timeouts.GraceWindow = 0
	h := newHarness(t, time.Now().Add(-time.Hour).Unix(), timeouts)
	before := h.fake.Total()

	final, err := h.obs.Watch(context.Background(), h.req)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusExpired, final.Status)
	assert.Equal(t, before, h.fake.Total())
}

func TestWatchInterrupted(t *testing.T) {
	h := newHarness(t, time.Now().Add(time.Hour).Unix(), fastTimeouts())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	final, err := h.obs.Watch(ctx, h.req)
	assert.Nil(t, final)
	assert.True(t, errors.Is(err, context.Canceled))

	stored, err := h.store.Get(context.Background(), h.req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusSubmitted, stored.Status, "interrupted requests stay resumable")
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)
}
