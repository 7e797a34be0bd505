package gateway

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	relay "github.com/mark3labs/permit-relay"
)

var panicSelector = crypto.Keccak256([]byte("Panic(uint256)"))[:4]

// panicReasons maps Solidity panic codes to their meaning.
var panicReasons = map[uint64]string{
	0x01: "assertion failed",
	0x11: "arithmetic overflow or underflow",
	0x12: "division or modulo by zero",
	0x21: "invalid enum value",
	0x22: "invalid storage byte array",
	0x31: "pop on empty array",
	0x32: "array index out of bounds",
	0x41: "out of memory",
	0x51: "call to uninitialized function",
}

// DecodeRevert turns a revert payload into a human-readable reason. It
// decodes Error(string) and Panic(uint256) and otherwise falls back to the
// raw hex. The result is never empty.
func DecodeRevert(data []byte) string {
	if len(data) == 0 {
		return "execution reverted without reason"
	}

	if len(data) == 4+32 && bytes.Equal(data[:4], panicSelector) {
		code := new(big.Int).SetBytes(data[4:])
		if code.IsUint64() {
			if msg, ok := panicReasons[code.Uint64()]; ok {
				return fmt.Sprintf("panic: %s (0x%x)", msg, code)
			}
		}
		return fmt.Sprintf("panic: 0x%x", code)
	}

	if reason, err := abi.UnpackRevert(data); err == nil {
		if reason != "" && utf8.ValidString(reason) {
			return reason
		}
	}

	return hexutil.Encode(data)
}

// ClassifyRevert maps a gateway revert reason onto a relay error code.
func ClassifyRevert(reason string) relay.ErrorCode {
	msg := strings.ToLower(reason)
	switch {
	case strings.Contains(msg, "expired"), strings.Contains(msg, "deadline"):
		return relay.ErrCodePermitExpired
	case strings.Contains(msg, "nonce"):
		return relay.ErrCodeNonceConsumed
	case strings.Contains(msg, "signature"), strings.Contains(msg, "signer"), strings.Contains(msg, "unauthorized"):
		return relay.ErrCodeAuthorization
	case strings.Contains(msg, "insufficient"), strings.Contains(msg, "exceeds balance"), strings.Contains(msg, "exceeds allowance"):
		return relay.ErrCodeInsufficientFunds
	default:
		return relay.ErrCodeOnChainRevert
	}
}
