// Package encoding converts between the relay's JSON wire format and its
// core types. The same shapes are used by the HTTP API, the HTTP client and
// the MCP tools.
package encoding

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	relay "github.com/mark3labs/permit-relay"
	"github.com/mark3labs/permit-relay/signature"
	"github.com/mark3labs/permit-relay/validation"
)

// Signature encodings accepted in SignatureBody.Format.
const (
	FormatCompact = "compact"
	FormatVRS     = "vrs"
)

// MaxBodyBytes bounds a decoded request body.
const MaxBodyBytes = 64 << 10

// PermitBody is the wire form of a permit. Integers are base-10 strings.
type PermitBody struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Nonce    string `json:"nonce"`
	Deadline string `json:"deadline"`
}

// SignatureBody is a tagged signature. Format "compact" carries Value, the
// 65-byte r || s || v hex string. Format "vrs" carries V, R and S.
type SignatureBody struct {
	Format string `json:"format"`
	Value  string `json:"value,omitempty"`
	V      *uint8 `json:"v,omitempty"`
	R      string `json:"r,omitempty"`
	S      string `json:"s,omitempty"`
}

// SubmitBody is the body of a payment submission.
type SubmitBody struct {
	// RequestID is a 0x-prefixed bytes32. Servers assign one when empty.
	RequestID string        `json:"requestId,omitempty"`
	Merchant  string        `json:"merchant"`
	Permit    PermitBody    `json:"permit"`
	Signature SignatureBody `json:"signature"`
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code    relay.ErrorCode        `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// DecodeSubmit reads a SubmitBody from r. Unknown fields, trailing data and
// bodies larger than MaxBodyBytes are rejected.
func DecodeSubmit(r io.Reader) (SubmitBody, error) {
	var body SubmitBody

	dec := json.NewDecoder(io.LimitReader(r, MaxBodyBytes+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return body, invalid("malformed request body: %v", err)
	}
	if dec.More() {
		return body, invalid("malformed request body: unexpected trailing data")
	}
	return body, nil
}

// UnmarshalSubmit decodes a SubmitBody from raw JSON with the same rules as
// DecodeSubmit.
func UnmarshalSubmit(data []byte) (SubmitBody, error) {
	if len(data) > MaxBodyBytes {
		return SubmitBody{}, invalid("request body exceeds %d bytes", MaxBodyBytes)
	}
	return DecodeSubmit(bytes.NewReader(data))
}

// ToRequest validates the body and converts it into a PaymentRequest.
// RequestID must already be set.
func (b SubmitBody) ToRequest() (*relay.PaymentRequest, error) {
	requestID, err := validation.ParseBytes32(b.RequestID)
	if err != nil {
		return nil, invalidField("requestId", err)
	}
	merchant, err := validation.ParseAddress(b.Merchant)
	if err != nil {
		return nil, invalidField("merchant", err)
	}
	permit, err := b.Permit.ToPermit()
	if err != nil {
		return nil, err
	}
	sig, err := b.Signature.Bytes()
	if err != nil {
		return nil, err
	}

	return &relay.PaymentRequest{
		RequestID: requestID,
		Merchant:  merchant,
		Permit:    permit,
		Signature: sig,
	}, nil
}

// ToPermit validates and converts the permit.
func (p PermitBody) ToPermit() (relay.PaymentPermit, error) {
	owner, err := validation.ParseAddress(p.Owner)
	if err != nil {
		return relay.PaymentPermit{}, invalidField("permit.owner", err)
	}
	spender, err := validation.ParseAddress(p.Spender)
	if err != nil {
		return relay.PaymentPermit{}, invalidField("permit.spender", err)
	}

	ints := make([]*big.Int, 3)
	for i, f := range []struct{ name, value string }{
		{"permit.value", p.Value},
		{"permit.nonce", p.Nonce},
		{"permit.deadline", p.Deadline},
	} {
		v, err := validation.ParseUint256(f.value)
		if err != nil {
			return relay.PaymentPermit{}, invalidField(f.name, err)
		}
		ints[i] = v
	}

	return relay.PaymentPermit{
		Owner:    owner,
		Spender:  spender,
		Value:    ints[0],
		Nonce:    ints[1],
		Deadline: ints[2],
	}, nil
}

// Bytes returns the 65-byte r || s || v form of the signature. Compact
// signatures are only checked for length here; component validation
// happens when the signature is parsed for recovery.
func (s SignatureBody) Bytes() ([]byte, error) {
	switch s.Format {
	case FormatCompact:
		if s.V != nil || s.R != "" || s.S != "" {
			return nil, invalidSig("compact signature must not carry v, r or s")
		}
		b, err := hexutil.Decode(s.Value)
		if err != nil {
			return nil, invalidSig("signature value is not hex: %v", err)
		}
		if len(b) != signature.Length {
			return nil, invalidSig("signature must be %d bytes, got %d", signature.Length, len(b))
		}
		return b, nil

	case FormatVRS:
		if s.Value != "" {
			return nil, invalidSig("vrs signature must not carry value")
		}
		if s.V == nil {
			return nil, invalidSig("vrs signature requires v")
		}
		r, err := validation.ParseBytes32(s.R)
		if err != nil {
			return nil, invalidSig("r: %v", err)
		}
		sv, err := validation.ParseBytes32(s.S)
		if err != nil {
			return nil, invalidSig("s: %v", err)
		}
		sig, err := signature.FromVRS(*s.V, r, sv)
		if err != nil {
			return nil, relay.NewRelayError(relay.ErrCodeInvalidSignatureEncoding, "invalid signature", err)
		}
		return sig.Bytes(), nil

	case "":
		return nil, invalidSig("signature format is required")
	}
	return nil, invalidSig("unknown signature format %q", s.Format)
}

// EncodeRequest converts a request into its wire form with a compact signature.
func EncodeRequest(req *relay.PaymentRequest) SubmitBody {
	return SubmitBody{
		RequestID: req.RequestID.Hex(),
		Merchant:  req.Merchant.Hex(),
		Permit: PermitBody{
			Owner:    req.Permit.Owner.Hex(),
			Spender:  req.Permit.Spender.Hex(),
			Value:    intString(req.Permit.Value),
			Nonce:    intString(req.Permit.Nonce),
			Deadline: intString(req.Permit.Deadline),
		},
		Signature: SignatureBody{
			Format: FormatCompact,
			Value:  hexutil.Encode(req.Signature),
		},
	}
}

// EncodeError converts err into the wire envelope. Errors that are not
// RelayErrors are reported without their internal message.
func EncodeError(err error) ErrorBody {
	var re *relay.RelayError
	if errors.As(err, &re) {
		return ErrorBody{Code: re.Code, Message: re.Error(), Details: re.Details}
	}
	return ErrorBody{Message: "internal error"}
}

// DecodeError rebuilds a RelayError from an envelope.
func DecodeError(body ErrorBody) *relay.RelayError {
	e := relay.NewRelayError(body.Code, body.Message, nil)
	for k, v := range body.Details {
		e.WithDetails(k, v)
	}
	return e
}

// ParseRequestID parses a request id path or tool argument.
func ParseRequestID(s string) (common.Hash, error) {
	id, err := validation.ParseBytes32(s)
	if err != nil {
		return common.Hash{}, invalidField("requestId", err)
	}
	return id, nil
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func invalid(format string, args ...interface{}) error {
	return relay.Errorf(relay.ErrCodeInvalidRequest, format, args...)
}

func invalidField(field string, err error) error {
	return relay.NewRelayError(relay.ErrCodeInvalidRequest, "invalid "+field, err).
		WithDetails("field", field)
}

func invalidSig(format string, args ...interface{}) error {
	return relay.Errorf(relay.ErrCodeInvalidSignatureEncoding, format, args...)
}
