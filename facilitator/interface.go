// Package facilitator defines the caller-facing relay contract.
package facilitator

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	relay "github.com/mark3labs/permit-relay"
)

// Interface is the relay API offered to callers. The local executor, the
// HTTP client for a remote relay and the MCP tool surface all speak it.
type Interface interface {
	// Submit accepts a signed permit for execution and returns as soon as the
	// request is recorded and, if accepted, broadcast. Terminal rejections are
	// returned as *relay.RelayError.
	Submit(ctx context.Context, req *relay.PaymentRequest) (*relay.SubmitResult, error)

	// Status reports the current state of a request.
	Status(ctx context.Context, requestID common.Hash) (*relay.StatusResult, error)
}
