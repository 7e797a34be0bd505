// Package validation checks caller-supplied strings at the API boundary
// before they are converted into relay types.
package validation

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	relay "github.com/mark3labs/permit-relay"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// bytes32Regex matches 0x followed by 64 hex chars
	bytes32Regex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// ValidateAmount validates that an amount string is a valid positive integer.
// Returns an error if the amount is empty, malformed, or not greater than zero.
func ValidateAmount(amount string) error {
	amt, err := ParseUint256(amount)
	if err != nil {
		return err
	}
	if amt.Sign() <= 0 {
		return fmt.Errorf("amount must be greater than 0, got: %s", amount)
	}
	return nil
}

// ParseUint256 parses a base-10 string into a value in the uint256 range.
func ParseUint256(value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}
	if strings.HasPrefix(value, "+") {
		return nil, fmt.Errorf("invalid integer format: %s", value)
	}

	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer format: %s", value)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("value must not be negative, got: %s", value)
	}
	if v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("value exceeds uint256: %s", value)
	}
	return v, nil
}

// ValidateAddress validates an EVM address. Mixed-case input must carry a
// valid EIP-55 checksum.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !evmAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
	}

	body := address[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if common.HexToAddress(address).Hex() != address {
			return fmt.Errorf("invalid EIP-55 checksum: %s", address)
		}
	}
	return nil
}

// ParseAddress validates and converts an address.
func ParseAddress(address string) (common.Address, error) {
	if err := ValidateAddress(address); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(address), nil
}

// ParseBytes32 validates and converts a 0x-prefixed 32-byte hex value.
func ParseBytes32(value string) (common.Hash, error) {
	if !bytes32Regex.MatchString(value) {
		return common.Hash{}, fmt.Errorf("invalid bytes32 %q (expected 0x followed by 64 hex characters)", value)
	}
	return common.HexToHash(value), nil
}

// ValidateChainConfig performs validation of a chain catalogue entry.
func ValidateChainConfig(c relay.ChainConfig) error {
	if c.NetworkID == "" {
		return fmt.Errorf("invalid chain: network id cannot be empty")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("invalid chain %s: chain id must be positive, got %d", c.NetworkID, c.ChainID)
	}
	if err := ValidateAddress(c.TokenAddress); err != nil {
		return fmt.Errorf("invalid chain %s: token %w", c.NetworkID, err)
	}
	if c.TokenName == "" {
		return fmt.Errorf("invalid chain %s: EIP-712 name cannot be empty", c.NetworkID)
	}
	if c.TokenVersion == "" {
		return fmt.Errorf("invalid chain %s: EIP-712 version cannot be empty", c.NetworkID)
	}
	if _, err := relay.ParseNonceMode(string(c.NonceMode)); err != nil {
		return fmt.Errorf("invalid chain %s: %w", c.NetworkID, err)
	}
	return nil
}
