// Package observer watches broadcast execution transactions until they
// confirm, revert or outlive the permit deadline plus a grace window.
package observer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	relay "github.com/mark3labs/permit-relay"
	"github.com/mark3labs/permit-relay/gateway"
	"github.com/mark3labs/permit-relay/ledger"
	"github.com/mark3labs/permit-relay/metrics"
	"github.com/mark3labs/permit-relay/store"
)

// Observer resolves submitted requests.
type Observer struct {
	client   ledger.Client
	gateway  *gateway.Gateway
	store    store.Store
	timeouts relay.Timeouts
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures an Observer.
type Option func(*Observer) error

// WithTimeouts sets poll interval, grace window and RPC timeout.
func WithTimeouts(t relay.Timeouts) Option {
	return func(o *Observer) error {
		if err := t.Validate(); err != nil {
			return err
		}
		o.timeouts = t
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) error {
		o.logger = logger
		return nil
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Observer) error {
		o.metrics = m
		return nil
	}
}

// New creates an Observer.
func New(client ledger.Client, gw *gateway.Gateway, st store.Store, opts ...Option) (*Observer, error) {
	if client == nil || gw == nil || st == nil {
		return nil, fmt.Errorf("observer: client, gateway and store are required")
	}
	o := &Observer{
		client:   client,
		gateway:  gw,
		store:    st,
		timeouts: relay.DefaultTimeouts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// ExpiresAt returns when observation of req gives up.
func (o *Observer) ExpiresAt(req *relay.PaymentRequest) time.Time {
	return req.Permit.DeadlineTime().Add(o.timeouts.GraceWindow)
}

// Watch polls for the receipt of req.TxHash and records the outcome. It
// returns the final record. If ctx is cancelled before the request resolves
// or expires, the record is left as submitted and ctx.Err() is returned.
func (o *Observer) Watch(ctx context.Context, req *relay.PaymentRequest) (*relay.PaymentRequest, error) {
	start := time.Now()
	o.metrics.ObservationStarted()

	final, err := o.watch(ctx, req)

	status := "interrupted"
	if final != nil {
		status = string(final.Status)
	}
	o.metrics.ObservationFinished(status, time.Since(start))
	return final, err
}

func (o *Observer) watch(parent context.Context, req *relay.PaymentRequest) (*relay.PaymentRequest, error) {
	expiresAt := o.ExpiresAt(req)
	ctx, cancel := context.WithDeadline(parent, expiresAt)
	defer cancel()

	logger := o.logger.With("requestId", req.RequestID.Hex(), "tx", req.TxHash.Hex())
	logger.Debug("watching transaction", "expiresAt", expiresAt)

	ticker := time.NewTicker(o.timeouts.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			receipt, err := o.receipt(ctx, req)
			switch {
			case err == nil && receipt != nil:
				return o.settle(ctx, req, receipt)
			case err == nil, errors.Is(err, ethereum.NotFound):
				// not mined yet
			case ctx.Err() != nil:
				// the poll was cut short by the deadline or shutdown
			default:
				logger.Warn("receipt poll failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				logger.Info("observation interrupted", "error", parent.Err())
				return nil, parent.Err()
			}
			return o.expire(parent, req)
		case <-ticker.C:
		}
	}
}

func (o *Observer) receipt(ctx context.Context, req *relay.PaymentRequest) (*types.Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeouts.RPCTimeout)
	defer cancel()
	return o.client.TransactionReceipt(callCtx, req.TxHash)
}

func (o *Observer) settle(ctx context.Context, req *relay.PaymentRequest, receipt *types.Receipt) (*relay.PaymentRequest, error) {
	final := req.Clone()

	if receipt.Status == types.ReceiptStatusSuccessful {
		final.Status = relay.StatusConfirmed
		final.Reason = ""
		final.ErrorCode = ""

		event, err := o.gateway.DecodePaymentExecuted(receipt.Logs, req.RequestID)
		if err != nil {
			o.logger.Warn("confirmed without PaymentExecuted event",
				"requestId", req.RequestID.Hex(), "tx", req.TxHash.Hex(), "error", err)
		} else {
			final.PaymentID = event.PaymentID
			final.Fee = event.Fee
		}

		o.logger.Info("payment confirmed",
			"requestId", req.RequestID.Hex(),
			"tx", req.TxHash.Hex(),
			"block", receipt.BlockNumber,
			"paymentId", final.PaymentID)
	} else {
		reason := o.revertReason(ctx, req, receipt)
		final.Status = relay.StatusReverted
		final.Reason = reason
		final.ErrorCode = gateway.ClassifyRevert(reason)

		o.logger.Error("payment reverted",
			"requestId", req.RequestID.Hex(),
			"tx", req.TxHash.Hex(),
			"block", receipt.BlockNumber,
			"reason", reason,
			"code", final.ErrorCode)
	}

	return o.record(ctx, final)
}

// revertReason replays the failed call at the block it was mined in and
// decodes the revert payload. It always returns a non-empty reason.
func (o *Observer) revertReason(ctx context.Context, req *relay.PaymentRequest, receipt *types.Receipt) string {
	callCtx, cancel := context.WithTimeout(ctx, o.timeouts.RPCTimeout)
	defer cancel()

	tx, _, err := o.client.TransactionByHash(callCtx, req.TxHash)
	if err != nil {
		o.logger.Warn("failed to fetch reverted transaction", "tx", req.TxHash.Hex(), "error", err)
		return "execution reverted (transaction unavailable for replay)"
	}

	msg := ethereum.CallMsg{
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		msg.From = from
	}

	_, err = o.client.CallContract(callCtx, msg, receipt.BlockNumber)
	if err == nil {
		return "execution reverted (replay did not reproduce the failure)"
	}
	if data, ok := ledger.RevertData(err); ok {
		return gateway.DecodeRevert(data)
	}
	return err.Error()
}

func (o *Observer) expire(parent context.Context, req *relay.PaymentRequest) (*relay.PaymentRequest, error) {
	final := req.Clone()
	final.Status = relay.StatusExpired
	final.ErrorCode = relay.ErrCodeTimeoutExpired
	final.Reason = fmt.Sprintf("no receipt before deadline %s plus grace %s; the transaction may still be mined",
		req.Permit.Deadline, o.timeouts.GraceWindow)

	o.logger.Warn("payment expired",
		"requestId", req.RequestID.Hex(),
		"tx", req.TxHash.Hex(),
		"deadline", req.Permit.Deadline)

	return o.record(parent, final)
}

// record persists a terminal outcome. It uses a fresh timeout so an expired
// observation context does not prevent the write.
func (o *Observer) record(ctx context.Context, final *relay.PaymentRequest) (*relay.PaymentRequest, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeouts.RPCTimeout)
	defer cancel()

	if err := o.store.Update(writeCtx, final); err != nil {
		if errors.Is(err, store.ErrTerminal) {
			current, getErr := o.store.Get(writeCtx, final.RequestID)
			if getErr == nil {
				return current, nil
			}
		}
		return final, fmt.Errorf("observer: failed to record %s: %w", final.Status, err)
	}
	return final, nil
}
