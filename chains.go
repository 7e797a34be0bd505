// Package relay holds the core types, errors, configuration and chain
// catalogue of the permit payment relay.
//
// A payer signs an EIP-712 permit off-chain; the relay checks it, submits it
// to the payment gateway contract before the permit deadline and watches the
// transaction until it confirms, reverts or the deadline plus a grace window
// elapses.
package relay

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ChainConfig describes a network and the permit token the relay moves on it.
// Token EIP-712 parameters were read from the deployed contracts.
type ChainConfig struct {
	// NetworkID is the short network name (e.g., "polygon").
	NetworkID string

	// ChainID is the EIP-155 chain id, also used in the signing domain.
	ChainID int64

	// TokenAddress is the permit-capable token contract.
	TokenAddress string

	// TokenSymbol is the token ticker.
	TokenSymbol string

	// Decimals is the number of decimal places for the token.
	Decimals uint8

	// TokenName is the EIP-712 domain "name" of the token.
	TokenName string

	// TokenVersion is the EIP-712 domain "version" of the token.
	TokenVersion string

	// NonceMode is how the token allocates permit nonces.
	NonceMode NonceMode
}

// Mainnet chain configurations
var (
	// PolygonMainnet is the configuration for Polygon PoS mainnet.
	PolygonMainnet = ChainConfig{
		NetworkID:    "polygon",
		ChainID:      137,
		TokenAddress: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		TokenSymbol:  "USDC",
		Decimals:     6,
		TokenName:    "USD Coin",
		TokenVersion: "2",
		NonceMode:    NonceModeSequential,
	}

	// BaseMainnet is the configuration for Base mainnet.
	BaseMainnet = ChainConfig{
		NetworkID:    "base",
		ChainID:      8453,
		TokenAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		TokenSymbol:  "USDC",
		Decimals:     6,
		TokenName:    "USD Coin",
		TokenVersion: "2",
		NonceMode:    NonceModeSequential,
	}

	// AvalancheMainnet is the configuration for Avalanche C-Chain mainnet.
	AvalancheMainnet = ChainConfig{
		NetworkID:    "avalanche",
		ChainID:      43114,
		TokenAddress: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		TokenSymbol:  "USDC",
		Decimals:     6,
		TokenName:    "USD Coin",
		TokenVersion: "2",
		NonceMode:    NonceModeSequential,
	}
)

// Testnet chain configurations
var (
	// PolygonAmoy is the configuration for Polygon Amoy testnet.
	PolygonAmoy = ChainConfig{
		NetworkID:    "polygon-amoy",
		ChainID:      80002,
		TokenAddress: "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		TokenSymbol:  "USDC",
		Decimals:     6,
		TokenName:    "USDC",
		TokenVersion: "2",
		NonceMode:    NonceModeSequential,
	}

	// BaseSepolia is the configuration for Base Sepolia testnet.
	BaseSepolia = ChainConfig{
		NetworkID:    "base-sepolia",
		ChainID:      84532,
		TokenAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		TokenSymbol:  "USDC",
		Decimals:     6,
		TokenName:    "USDC",
		TokenVersion: "2",
		NonceMode:    NonceModeSequential,
	}

	// AvalancheFuji is the configuration for Avalanche Fuji testnet.
	AvalancheFuji = ChainConfig{
		NetworkID:    "avalanche-fuji",
		ChainID:      43113,
		TokenAddress: "0x5425890298aed601595a70AB815c96711a31Bc65",
		TokenSymbol:  "USDC",
		Decimals:     6,
		TokenName:    "USD Coin",
		TokenVersion: "2",
		NonceMode:    NonceModeSequential,
	}
)

var knownChains = []ChainConfig{
	PolygonMainnet, BaseMainnet, AvalancheMainnet,
	PolygonAmoy, BaseSepolia, AvalancheFuji,
}

// LookupChain returns the catalogue entry for a network name.
func LookupChain(networkID string) (ChainConfig, error) {
	if networkID == "" {
		return ChainConfig{}, fmt.Errorf("networkID: cannot be empty")
	}
	for _, c := range knownChains {
		if strings.EqualFold(c.NetworkID, networkID) {
			return c, nil
		}
	}
	return ChainConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, networkID)
}

// LookupChainID returns the catalogue entry for an EIP-155 chain id.
func LookupChainID(chainID int64) (ChainConfig, error) {
	for _, c := range knownChains {
		if c.ChainID == chainID {
			return c, nil
		}
	}
	return ChainConfig{}, fmt.Errorf("%w: chain id %d", ErrUnsupportedNetwork, chainID)
}

// Domain returns the EIP-712 signing domain of the chain's token.
func (c ChainConfig) Domain() EIP712Domain {
	return EIP712Domain{
		Name:              c.TokenName,
		Version:           c.TokenVersion,
		ChainID:           big.NewInt(c.ChainID),
		VerifyingContract: common.HexToAddress(c.TokenAddress),
	}
}
