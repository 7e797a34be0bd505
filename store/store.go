// Package store persists PaymentRequest records.
//
// Only the executor and observer write to a Store. Records returned by a
// Store are copies; mutating them has no effect until Update is called.
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	relay "github.com/mark3labs/permit-relay"
)

// ErrTerminal is returned when updating a request that already reached a
// terminal status.
var ErrTerminal = errors.New("store: request already in a terminal state")

// Store is the request repository.
type Store interface {
	// Create inserts a new request. It returns relay.ErrDuplicateRequest when
	// the request id is already recorded.
	Create(ctx context.Context, req *relay.PaymentRequest) error

	// Get returns the request or relay.ErrNotFound.
	Get(ctx context.Context, requestID common.Hash) (*relay.PaymentRequest, error)

	// Update replaces a non-terminal request.
	Update(ctx context.Context, req *relay.PaymentRequest) error

	// Delete removes a request that never reached the chain.
	Delete(ctx context.Context, requestID common.Hash) error

	// ListByStatus returns all requests in the given status.
	ListByStatus(ctx context.Context, status relay.Status) ([]*relay.PaymentRequest, error)
}
