package validation

import (
	"strings"
	"testing"

	relay "github.com/mark3labs/permit-relay"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{name: "valid positive amount", amount: "10000"},
		{name: "valid large amount", amount: "999999999999999999999"},
		{name: "empty amount", amount: "", wantErr: true},
		{name: "zero amount", amount: "0", wantErr: true},
		{name: "negative amount", amount: "-100", wantErr: true},
		{name: "invalid format - letters", amount: "abc", wantErr: true},
		{name: "invalid format - mixed", amount: "123abc", wantErr: true},
		{name: "invalid format - decimal", amount: "1.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(tt.amount)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAmount(%q) error = %v, wantErr %v", tt.amount, err, tt.wantErr)
			}
		})
	}
}

func TestParseUint256(t *testing.T) {
	max := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	over := "115792089237316195423570985008687907853269984665640564039457584007913129639936"

	tests := []struct {
		value   string
		wantErr bool
	}{
		{"0", false},
		{"9999999999", false},
		{max, false},
		{over, true},
		{"-1", true},
		{"+1", true},
		{"0x10", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			v, err := ParseUint256(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseUint256(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err == nil && v.String() != tt.value {
				t.Errorf("ParseUint256(%q) = %s", tt.value, v)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "checksummed", address: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"},
		{name: "lower case", address: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"},
		{name: "upper case", address: "0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266"},
		{name: "bad checksum", address: "0xF39fd6e51aad88F6F4ce6aB8827279cffFb92266", wantErr: true},
		{name: "empty", address: "", wantErr: true},
		{name: "missing prefix", address: "f39fd6e51aad88f6f4ce6ab8827279cfffb92266", wantErr: true},
		{name: "too short", address: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb922", wantErr: true},
		{name: "solana", address: "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
			}
		})
	}
}

func TestParseBytes32(t *testing.T) {
	h, err := ParseBytes32("0x" + strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h[0] != 0xab || h[31] != 0xab {
		t.Errorf("unexpected hash %s", h.Hex())
	}

	for _, bad := range []string{"", "0x1234", strings.Repeat("ab", 32), "0x" + strings.Repeat("zz", 32)} {
		if _, err := ParseBytes32(bad); err == nil {
			t.Errorf("ParseBytes32(%q) expected error", bad)
		}
	}
}

func TestValidateChainConfig(t *testing.T) {
	if err := ValidateChainConfig(relay.PolygonMainnet); err != nil {
		t.Fatalf("catalogue entry rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *relay.ChainConfig)
		errMsg string
	}{
		{"no network", func(c *relay.ChainConfig) { c.NetworkID = "" }, "network id"},
		{"no chain id", func(c *relay.ChainConfig) { c.ChainID = 0 }, "chain id"},
		{"bad token", func(c *relay.ChainConfig) { c.TokenAddress = "0x123" }, "token"},
		{"no name", func(c *relay.ChainConfig) { c.TokenName = "" }, "name"},
		{"no version", func(c *relay.ChainConfig) { c.TokenVersion = "" }, "version"},
		{"bad mode", func(c *relay.ChainConfig) { c.NonceMode = "random" }, "nonce mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := relay.PolygonMainnet
			tt.mutate(&c)
			err := ValidateChainConfig(c)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q does not mention %q", err, tt.errMsg)
			}
		})
	}
}
