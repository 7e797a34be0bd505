// Package executor drives signed permits onto the payment gateway.
//
// Relay checks a request, broadcasts the gateway call with bounded retries of
// transient failures, records it as submitted and hands it to an observer
// goroutine. Submit returns as soon as the transaction is broadcast.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	relay "github.com/mark3labs/permit-relay"
	"github.com/mark3labs/permit-relay/eip712"
	"github.com/mark3labs/permit-relay/facilitator"
	"github.com/mark3labs/permit-relay/gateway"
	"github.com/mark3labs/permit-relay/ledger"
	"github.com/mark3labs/permit-relay/metrics"
	"github.com/mark3labs/permit-relay/observer"
	"github.com/mark3labs/permit-relay/policy"
	"github.com/mark3labs/permit-relay/retry"
	"github.com/mark3labs/permit-relay/signature"
	"github.com/mark3labs/permit-relay/store"
)

// ErrShuttingDown is returned by Submit after Shutdown has been called.
var ErrShuttingDown = errors.New("executor: relay is shutting down")

// gasHeadroom pads gas estimates in percent.
const gasHeadroom = 20

// Relay is the payment executor.
type Relay struct {
	client   ledger.Client
	gateway  *gateway.Gateway
	signer   relay.TxSigner
	domain   relay.EIP712Domain
	chainID  *big.Int
	store    store.Store
	policy   *policy.Policy
	observer *observer.Observer
	retry    retry.Config
	timeouts relay.Timeouts
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// sendMu serializes relayer nonce allocation and broadcast.
	sendMu sync.Mutex

	mu       sync.Mutex
	inflight map[inflightKey]common.Hash
	closed   bool

	watchCtx    context.Context
	stopWatches context.CancelFunc
	watches     sync.WaitGroup
}

var _ facilitator.Interface = (*Relay)(nil)

type inflightKey struct {
	owner common.Address
	nonce string
}

// Option configures a Relay.
type Option func(*Relay) error

// WithStore sets the request store. Defaults to an in-memory store.
func WithStore(st store.Store) Option {
	return func(r *Relay) error {
		if st == nil {
			return fmt.Errorf("store cannot be nil")
		}
		r.store = st
		return nil
	}
}

// WithPolicy sets the pre-flight policy. Defaults to deadline and amount
// checks against chain time, without a nonce read.
func WithPolicy(p *policy.Policy) Option {
	return func(r *Relay) error {
		r.policy = p
		return nil
	}
}

// WithRetry sets the submission retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(r *Relay) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		r.retry = cfg
		return nil
	}
}

// WithTimeouts sets RPC, polling, grace and shutdown timeouts.
func WithTimeouts(t relay.Timeouts) Option {
	return func(r *Relay) error {
		if err := t.Validate(); err != nil {
			return err
		}
		r.timeouts = t
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) error {
		r.logger = logger
		return nil
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) error {
		r.metrics = m
		return nil
	}
}

// New creates a Relay. domain is the signing domain of the permit token and
// its chain id is the chain transactions are signed for.
func New(client ledger.Client, gw *gateway.Gateway, signer relay.TxSigner, domain relay.EIP712Domain, opts ...Option) (*Relay, error) {
	if client == nil || gw == nil || signer == nil {
		return nil, fmt.Errorf("executor: client, gateway and signer are required")
	}
	if domain.ChainID == nil || domain.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("executor: domain chain id is required")
	}

	r := &Relay{
		client:   client,
		gateway:  gw,
		signer:   signer,
		domain:   domain,
		chainID:  new(big.Int).Set(domain.ChainID),
		retry:    retry.DefaultConfig,
		timeouts: relay.DefaultTimeouts,
		logger:   slog.Default(),
		inflight: make(map[inflightKey]common.Hash),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if r.store == nil {
		r.store = store.NewMemory()
	}
	if r.policy == nil {
		r.policy = policy.New(nil, policy.ChainClock{Client: client})
	}

	obs, err := observer.New(client, gw, r.store,
		observer.WithTimeouts(r.timeouts),
		observer.WithLogger(r.logger),
		observer.WithMetrics(r.metrics),
	)
	if err != nil {
		return nil, err
	}
	r.observer = obs
	r.watchCtx, r.stopWatches = context.WithCancel(context.Background())

	return r, nil
}

// Submit implements facilitator.Interface.
func (r *Relay) Submit(ctx context.Context, req *relay.PaymentRequest) (*relay.SubmitResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// A known request id returns its recorded state and is never resubmitted.
	if existing, err := r.store.Get(ctx, req.RequestID); err == nil {
		return submitResult(existing), nil
	} else if !errors.Is(err, relay.ErrNotFound) {
		return nil, fmt.Errorf("executor: lookup %s: %w", req.RequestID.Hex(), err)
	}

	sig, err := r.authorize(req)
	if err != nil {
		r.metrics.Rejected(string(relay.CodeOf(err)))
		return nil, err
	}

	key := inflightKey{owner: req.Permit.Owner, nonce: req.Permit.Nonce.String()}
	if err := r.acquire(key, req.RequestID); err != nil {
		r.metrics.Rejected(string(relay.CodeOf(err)))
		return nil, err
	}
	handedOff := false
	defer func() {
		if !handedOff {
			r.release(key)
		}
	}()

	record := req.Clone()
	record.Status = relay.StatusPending
	record.TxHash = common.Hash{}
	if err := r.store.Create(ctx, record); err != nil {
		if errors.Is(err, relay.ErrDuplicateRequest) {
			existing, getErr := r.store.Get(ctx, req.RequestID)
			if getErr == nil {
				return submitResult(existing), nil
			}
		}
		return nil, fmt.Errorf("executor: record %s: %w", req.RequestID.Hex(), err)
	}

	txHash, err := r.execute(ctx, record, sig)
	if err != nil {
		r.metrics.Rejected(string(relay.CodeOf(err)))
		r.discard(ctx, record.RequestID)
		return nil, err
	}

	record.Status = relay.StatusSubmitted
	record.TxHash = txHash
	if err := r.store.Update(ctx, record); err != nil {
		// The transaction is out; keep watching it even if the write failed.
		r.logger.Error("failed to record submission", "requestId", record.RequestID.Hex(), "tx", txHash.Hex(), "error", err)
	}

	r.logger.Info("payment submitted",
		"requestId", record.RequestID.Hex(),
		"tx", txHash.Hex(),
		"owner", record.Permit.Owner.Hex(),
		"nonce", record.Permit.Nonce,
		"merchant", record.Merchant.Hex())

	r.watch(key, record)
	handedOff = true

	return submitResult(record), nil
}

// Status implements facilitator.Interface.
func (r *Relay) Status(ctx context.Context, requestID common.Hash) (*relay.StatusResult, error) {
	req, err := r.store.Get(ctx, requestID)
	if errors.Is(err, relay.ErrNotFound) {
		return nil, relay.Errorf(relay.ErrCodeNotFound, "request %s not found", requestID.Hex())
	}
	if err != nil {
		return nil, err
	}
	return req.Result(), nil
}

// Resume restarts observation of requests that were submitted before a
// restart and have not resolved yet.
func (r *Relay) Resume(ctx context.Context) (int, error) {
	pending, err := r.store.ListByStatus(ctx, relay.StatusSubmitted)
	if err != nil {
		return 0, fmt.Errorf("executor: list submitted: %w", err)
	}

	resumed := 0
	for _, req := range pending {
		key := inflightKey{owner: req.Permit.Owner, nonce: req.Permit.Nonce.String()}
		if err := r.acquire(key, req.RequestID); err != nil {
			continue
		}
		r.watch(key, req)
		resumed++
	}
	if resumed > 0 {
		r.logger.Info("resumed observations", "count", resumed)
	}
	return resumed, nil
}

// Shutdown stops accepting requests and waits for running observations. If
// ctx ends first, observations are cancelled and left in the submitted state
// for Resume.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.watches.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.stopWatches()
		return nil
	case <-ctx.Done():
		r.stopWatches()
		<-done
		return ctx.Err()
	}
}

func validateRequest(req *relay.PaymentRequest) error {
	if req == nil {
		return relay.Errorf(relay.ErrCodeInvalidRequest, "request is required")
	}
	if req.RequestID == (common.Hash{}) {
		return relay.Errorf(relay.ErrCodeInvalidRequest, "requestId is required")
	}
	if req.Merchant == (common.Address{}) {
		return relay.Errorf(relay.ErrCodeInvalidRequest, "merchant is required")
	}
	p := req.Permit
	if p.Owner == (common.Address{}) || p.Value == nil || p.Nonce == nil || p.Deadline == nil {
		return relay.Errorf(relay.ErrCodeInvalidRequest, "permit owner, value, nonce and deadline are required")
	}
	if p.Value.Sign() < 0 || p.Nonce.Sign() < 0 || p.Deadline.Sign() < 0 {
		return relay.Errorf(relay.ErrCodeInvalidRequest, "permit values must not be negative")
	}
	return nil
}

// authorize checks the spender and that the permit signature recovers to
// the owner under the configured domain.
func (r *Relay) authorize(req *relay.PaymentRequest) (signature.Signature, error) {
	if req.Permit.Spender != r.gateway.Address() {
		return signature.Signature{}, relay.Errorf(relay.ErrCodeAuthorization,
			"permit spender %s is not the gateway %s", req.Permit.Spender.Hex(), r.gateway.Address().Hex()).
			WithDetails("spender", req.Permit.Spender.Hex())
	}

	sig, err := signature.Parse(req.Signature)
	if err != nil {
		return signature.Signature{}, relay.NewRelayError(relay.ErrCodeInvalidSignatureEncoding, "invalid permit signature", err)
	}

	digest, err := eip712.PermitDigest(r.domain, req.Permit)
	if err != nil {
		return signature.Signature{}, relay.NewRelayError(relay.ErrCodeInvalidRequest, "failed to hash permit", err)
	}

	if err := signature.VerifyOwner(digest, sig, req.Permit.Owner); err != nil {
		return signature.Signature{}, err
	}
	return sig, nil
}

func (r *Relay) acquire(key inflightKey, requestID common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrShuttingDown
	}
	if holder, ok := r.inflight[key]; ok {
		return relay.Errorf(relay.ErrCodeNonceInFlight,
			"nonce %s of %s is already being executed by request %s", key.nonce, key.owner.Hex(), holder.Hex()).
			WithDetails("nonce", key.nonce).
			WithDetails("owner", key.owner.Hex())
	}
	r.inflight[key] = requestID
	return nil
}

func (r *Relay) release(key inflightKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, key)
}

// discard drops a request that never reached the chain so the caller can
// retry with the same id.
func (r *Relay) discard(ctx context.Context, requestID common.Hash) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeouts.RPCTimeout)
	defer cancel()
	if err := r.store.Delete(writeCtx, requestID); err != nil && !errors.Is(err, relay.ErrNotFound) {
		r.logger.Error("failed to discard request", "requestId", requestID.Hex(), "error", err)
	}
}

// execute runs pre-flight, encodes the gateway call and broadcasts it.
func (r *Relay) execute(ctx context.Context, req *relay.PaymentRequest, sig signature.Signature) (common.Hash, error) {
	decision, err := r.policy.Check(ctx, req.Permit)
	if err != nil {
		return common.Hash{}, relay.NewRelayError(relay.ErrCodeTransientSubmission, "pre-flight state read failed", err)
	}
	if !decision.Usable {
		r.logger.Info("pre-flight rejected permit",
			"requestId", req.RequestID.Hex(),
			"reason", decision.Reason,
			"nonce", req.Permit.Nonce,
			"deadline", req.Permit.Deadline)
		return common.Hash{}, decision.Err(req.Permit)
	}

	data, err := r.gateway.PackExecute(req.RequestID, req.Merchant, req.Permit.Value, req.Permit.Deadline, sig)
	if err != nil {
		return common.Hash{}, relay.NewRelayError(relay.ErrCodeInvalidRequest, "failed to encode gateway call", err)
	}

	cfg := r.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.metrics.Retried()
		r.logger.Warn("submission retry",
			"requestId", req.RequestID.Hex(),
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}

	// Submission must finish before the permit deadline.
	submitCtx, cancel := context.WithDeadline(ctx, req.Permit.DeadlineTime())
	defer cancel()

	// The transaction is signed once and resent unchanged. It is rebuilt only
	// when its relayer nonce went to another transaction.
	var (
		signed    *types.Transaction
		uncertain bool
	)
	txHash, err := retry.WithRetry(submitCtx, cfg, relay.IsTransient, func() (common.Hash, error) {
		r.sendMu.Lock()
		defer r.sendMu.Unlock()

		if signed == nil {
			tx, err := r.prepare(submitCtx, data)
			if err != nil {
				return common.Hash{}, err
			}
			signed = tx
		}

		err := r.send(submitCtx, signed)
		switch {
		case err == nil:
			return signed.Hash(), nil
		case ledger.IsNonceTaken(err):
			if r.known(submitCtx, signed.Hash()) {
				return signed.Hash(), nil
			}
			r.logger.Warn("relayer nonce taken, rebuilding transaction",
				"requestId", req.RequestID.Hex(),
				"tx", signed.Hash().Hex(),
				"nonce", signed.Nonce())
			signed, uncertain = nil, false
			return common.Hash{}, relay.NewRelayError(relay.ErrCodeTransientSubmission, "relayer nonce already used", err)
		}

		err = classify("broadcast", err)
		if relay.IsTransient(err) {
			uncertain = true
		}
		return common.Hash{}, err
	})
	if err != nil && uncertain && signed != nil && r.known(context.WithoutCancel(ctx), signed.Hash()) {
		r.logger.Warn("broadcast reported failure but the node holds the transaction",
			"requestId", req.RequestID.Hex(),
			"tx", signed.Hash().Hex(),
			"error", err)
		txHash, err = signed.Hash(), nil
	}
	if err != nil {
		r.metrics.Submitted("failed")
		if submitCtx.Err() != nil && ctx.Err() == nil && (relay.IsTransient(err) || relay.CodeOf(err) == "") {
			return common.Hash{}, relay.NewRelayError(relay.ErrCodePermitExpired, "permit deadline passed during submission", err).
				WithDetails("deadline", req.Permit.Deadline.String())
		}
		var re *relay.RelayError
		if errors.As(err, &re) {
			return common.Hash{}, err
		}
		return common.Hash{}, relay.NewRelayError(relay.ErrCodeTransientSubmission, "submission failed", err)
	}

	r.metrics.Submitted("sent")
	return txHash, nil
}

// prepare simulates the gateway call and signs an execution transaction at
// the relayer's pending nonce. Reverts become terminal business errors,
// network failures become TRANSIENT_SUBMISSION.
func (r *Relay) prepare(ctx context.Context, data []byte) (*types.Transaction, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeouts.RPCTimeout)
	defer cancel()

	to := r.gateway.Address()
	from := r.signer.Address()

	gas, err := r.client.EstimateGas(callCtx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, classify("simulation", err)
	}
	gas += gas * gasHeadroom / 100

	nonce, err := r.client.PendingNonceAt(callCtx, from)
	if err != nil {
		return nil, classify("nonce lookup", err)
	}

	gasPrice, err := r.client.SuggestGasPrice(callCtx)
	if err != nil {
		return nil, classify("gas price lookup", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := r.signer.SignTx(tx, r.chainID)
	if err != nil {
		if relay.CodeOf(err) != "" {
			return nil, err
		}
		return nil, relay.NewRelayError(relay.ErrCodeInvalidRequest, "failed to sign execution transaction", err)
	}
	return signed, nil
}

// send broadcasts tx. A node that already holds it counts as sent.
func (r *Relay) send(ctx context.Context, tx *types.Transaction) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeouts.RPCTimeout)
	defer cancel()

	if err := r.client.SendTransaction(callCtx, tx); err != nil && !ledger.IsAlreadyKnown(err) {
		return err
	}
	return nil
}

// known reports whether the node has seen the transaction, pending or mined.
func (r *Relay) known(ctx context.Context, hash common.Hash) bool {
	callCtx, cancel := context.WithTimeout(ctx, r.timeouts.RPCTimeout)
	defer cancel()

	tx, _, err := r.client.TransactionByHash(callCtx, hash)
	return err == nil && tx != nil
}

// classify converts a ledger error into a relay error.
func classify(stage string, err error) error {
	if data, ok := ledger.RevertData(err); ok {
		reason := gateway.DecodeRevert(data)
		return relay.NewRelayError(gateway.ClassifyRevert(reason), reason, nil).
			WithDetails("stage", stage)
	}
	if ledger.IsRevert(err) {
		reason := err.Error()
		return relay.NewRelayError(gateway.ClassifyRevert(reason), reason, nil).
			WithDetails("stage", stage)
	}
	if ledger.IsTransient(err) {
		return relay.NewRelayError(relay.ErrCodeTransientSubmission, stage+" failed", err)
	}
	if isInsufficientFunds(err) {
		return relay.NewRelayError(relay.ErrCodeInsufficientFunds, stage+" failed", err)
	}
	return relay.NewRelayError(relay.ErrCodeOnChainRevert, stage+" rejected", err)
}

func isInsufficientFunds(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}

// watch hands req to the observer. Once Shutdown has begun, the request is
// left in the submitted state for Resume.
func (r *Relay) watch(key inflightKey, req *relay.PaymentRequest) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.release(key)
		r.logger.Warn("shutting down, observation left for resume", "requestId", req.RequestID.Hex(), "tx", req.TxHash.Hex())
		return
	}
	r.watches.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.watches.Done()
		defer r.release(key)

		if _, err := r.observer.Watch(r.watchCtx, req); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("observation failed", "requestId", req.RequestID.Hex(), "error", err)
		}
	}()
}

func submitResult(req *relay.PaymentRequest) *relay.SubmitResult {
	res := &relay.SubmitResult{
		RequestID: req.RequestID.Hex(),
		Status:    req.Status,
	}
	if req.TxHash != (common.Hash{}) {
		res.Transaction = req.TxHash.Hex()
	}
	return res
}
