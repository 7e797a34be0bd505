package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/permit-relay/auth"
	"github.com/mark3labs/permit-relay/encoding"
)

// Tool names.
const (
	ToolSubmitPayment    = "submit_payment"
	ToolGetPaymentStatus = "get_payment_status"
)

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func submitPaymentTool() mcpproto.Tool {
	return mcpproto.NewTool(ToolSubmitPayment,
		mcpproto.WithDescription("Submit a signed EIP-712 payment permit. The relay checks the signature, "+
			"deadline and nonce, then broadcasts the gateway call. Poll get_payment_status for the outcome."),
		mcpproto.WithIdempotentHintAnnotation(true),
		mcpproto.WithDestructiveHintAnnotation(false),
		mcpproto.WithString("requestId",
			mcpproto.Description("0x-prefixed bytes32 idempotency key. Assigned by the relay when omitted."),
		),
		mcpproto.WithString("merchant",
			mcpproto.Required(),
			mcpproto.Description("Merchant address credited by the gateway"),
		),
		mcpproto.WithObject("permit",
			mcpproto.Required(),
			mcpproto.Description("The signed permit. Integers are decimal strings."),
			mcpproto.Properties(map[string]any{
				"owner":    stringProp("Payer address"),
				"spender":  stringProp("Gateway address"),
				"value":    stringProp("Amount in atomic token units"),
				"nonce":    stringProp("Permit nonce"),
				"deadline": stringProp("Unix deadline in seconds"),
			}),
		),
		mcpproto.WithObject("signature",
			mcpproto.Required(),
			mcpproto.Description(`Permit signature, either {"format":"compact","value":"0x..."} `+
				`or {"format":"vrs","v":27,"r":"0x...","s":"0x..."}`),
			mcpproto.Properties(map[string]any{
				"format": map[string]any{"type": "string", "enum": []string{encoding.FormatCompact, encoding.FormatVRS}},
				"value":  stringProp("65-byte r||s||v hex for the compact format"),
				"v":      map[string]any{"type": "integer", "description": "Recovery id, 27 or 28"},
				"r":      stringProp("32-byte hex"),
				"s":      stringProp("32-byte hex"),
			}),
		),
	)
}

func paymentStatusTool() mcpproto.Tool {
	return mcpproto.NewTool(ToolGetPaymentStatus,
		mcpproto.WithDescription("Get the status of a payment request: pending, submitted, confirmed, reverted or expired."),
		mcpproto.WithReadOnlyHintAnnotation(true),
		mcpproto.WithString("requestId",
			mcpproto.Required(),
			mcpproto.Description("0x-prefixed bytes32 request id returned by submit_payment"),
		),
	)
}

func (s *Server) handleSubmitPayment(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	logger := s.config.logger().With("tool", ToolSubmitPayment)
	if denied := s.authorize(ctx, ToolSubmitPayment); denied != nil {
		return denied, nil
	}

	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}
	body, err := encoding.UnmarshalSubmit(raw)
	if err != nil {
		logger.Warn("invalid payment request", "error", err)
		return errorResult(err), nil
	}
	if body.RequestID == "" {
		id := uuid.New()
		body.RequestID = common.BytesToHash(id[:]).Hex()
	}
	payment, err := body.ToRequest()
	if err != nil {
		logger.Warn("invalid payment request", "error", err)
		return errorResult(err), nil
	}

	res, err := s.relay.Submit(ctx, payment)
	if err != nil {
		logger.Info("payment request rejected",
			"requestId", payment.RequestID.Hex(),
			"owner", payment.Permit.Owner.Hex(),
			"error", err)
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) handlePaymentStatus(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	if denied := s.authorize(ctx, ToolGetPaymentStatus); denied != nil {
		return denied, nil
	}

	id, err := encoding.ParseRequestID(req.GetString("requestId", ""))
	if err != nil {
		return errorResult(err), nil
	}
	res, err := s.relay.Status(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

// authorize checks the caller's token scope for toolName. It returns nil
// when the call may proceed.
func (s *Server) authorize(ctx context.Context, toolName string) *mcpproto.CallToolResult {
	if s.config.Auth == nil {
		return nil
	}
	scope := s.config.RequiredScope(toolName)
	claims, ok := auth.FromContext(ctx)
	if !ok {
		return mcpproto.NewToolResultError("unauthenticated: a bearer token is required")
	}
	if scope != "" && !claims.Allows(scope) {
		s.config.logger().Warn("token lacks scope", "subject", claims.Subject, "tool", toolName, "scope", scope)
		return mcpproto.NewToolResultError(fmt.Sprintf("insufficient scope: %s requires %s", toolName, scope))
	}
	return nil
}

func jsonResult(v interface{}) (*mcpproto.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcpproto.NewToolResultText(string(b)), nil
}

// errorResult reports err as a tool error whose text is the JSON error
// envelope, so callers can read the relay error code.
func errorResult(err error) *mcpproto.CallToolResult {
	b, marshalErr := json.Marshal(encoding.EncodeError(err))
	if marshalErr != nil {
		return mcpproto.NewToolResultError(err.Error())
	}
	return mcpproto.NewToolResultError(string(b))
}
