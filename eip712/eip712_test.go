package eip712

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	relay "github.com/mark3labs/permit-relay"
)

const testPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	fixtureOwner   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	fixtureSpender = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func fixtureDomain() relay.EIP712Domain {
	return relay.EIP712Domain{
		Name:              "Token",
		Version:           "1",
		ChainID:           big.NewInt(137),
		VerifyingContract: common.HexToAddress("0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC"),
	}
}

func fixturePermit() relay.PaymentPermit {
	value, _ := new(big.Int).SetString("1000000000000000000", 10)
	return relay.PaymentPermit{
		Owner:    fixtureOwner,
		Spender:  fixtureSpender,
		Value:    value,
		Nonce:    big.NewInt(0),
		Deadline: big.NewInt(9999999999),
	}
}

func TestPermitTypeHash(t *testing.T) {
	// keccak256 of the canonical EIP-2612 Permit type string.
	want := common.HexToHash("0x6e71edae12b1b97f4d1f60370fef10105fa2faae0126114a169c64845d6126c9")
	td := TypedData(fixtureDomain(), fixturePermit())
	if got := common.BytesToHash(td.TypeHash(PrimaryType)); got != want {
		t.Errorf("Permit typehash = %s, want %s", got.Hex(), want.Hex())
	}

	wantDomain := common.HexToHash("0x8b73c3c69bb8fe3d512ecc4cf759cc79239f7b179b0ffacaa9a75d522b39400f")
	if got := common.BytesToHash(td.TypeHash("EIP712Domain")); got != wantDomain {
		t.Errorf("EIP712Domain typehash = %s, want %s", got.Hex(), wantDomain.Hex())
	}
}

func TestFixtureVector(t *testing.T) {
	domainSep, err := DomainSeparator(fixtureDomain())
	if err != nil {
		t.Fatalf("DomainSeparator: %v", err)
	}
	if want := "0x3be279880bd246034d5a01f37726e7988c269d63842a8e7251b98ab0b2771c8e"; domainSep.Hex() != want {
		t.Errorf("domain separator = %s, want %s", domainSep.Hex(), want)
	}

	structHash, err := PermitStructHash(fixturePermit())
	if err != nil {
		t.Fatalf("PermitStructHash: %v", err)
	}
	if want := "0xfab7ff1020f3b3f535c9d34e798495e7608ab46f0759d999f25d24b05531a19c"; structHash.Hex() != want {
		t.Errorf("struct hash = %s, want %s", structHash.Hex(), want)
	}

	digest, err := PermitDigest(fixtureDomain(), fixturePermit())
	if err != nil {
		t.Fatalf("PermitDigest: %v", err)
	}
	if want := "0xed5988e445adc9bd0eeeeb60b29802ec81a936a57f81f9a4c23f152da9e7df6c"; digest.Hex() != want {
		t.Errorf("digest = %s, want %s", digest.Hex(), want)
	}

	expected := crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSep.Bytes(), structHash.Bytes())
	if digest != expected {
		t.Errorf("digest is not keccak256(0x1901 || domainSeparator || structHash)")
	}
}

func TestFixtureSignatureRecoversOwner(t *testing.T) {
	sig := hexutil.MustDecode("0xbb50e2d89a4ed70663d080659fe0ad4b9bc3e06c17a227433966cb59ceee020d0e397fe22e03d6e943608e3f09e2a097c122c2900ad6a5cacb7b22198022e5681c")
	digest, err := PermitDigest(fixtureDomain(), fixturePermit())
	if err != nil {
		t.Fatalf("PermitDigest: %v", err)
	}

	recSig := append([]byte(nil), sig...)
	recSig[64] -= 27
	pub, err := crypto.SigToPub(digest.Bytes(), recSig)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != fixtureOwner {
		t.Errorf("recovered %s, want %s", got.Hex(), fixtureOwner.Hex())
	}
}

func TestSignPermit(t *testing.T) {
	key, err := crypto.HexToECDSA(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("failed to parse private key: %v", err)
	}

	sig, err := SignPermit(key, fixtureDomain(), fixturePermit())
	if err != nil {
		t.Fatalf("SignPermit: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("v = %d, want 27 or 28", sig[64])
	}

	digest, _ := PermitDigest(fixtureDomain(), fixturePermit())
	recSig := append([]byte(nil), sig...)
	recSig[64] -= 27
	pub, err := crypto.SigToPub(digest.Bytes(), recSig)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != fixtureOwner {
		t.Errorf("recovered %s, want %s", got.Hex(), fixtureOwner.Hex())
	}
}

func TestDigestChangesWithEveryField(t *testing.T) {
	base, err := PermitDigest(fixtureDomain(), fixturePermit())
	if err != nil {
		t.Fatalf("PermitDigest: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*relay.EIP712Domain, *relay.PaymentPermit)
	}{
		{"domain name", func(d *relay.EIP712Domain, _ *relay.PaymentPermit) { d.Name = "USD Coin" }},
		{"domain version", func(d *relay.EIP712Domain, _ *relay.PaymentPermit) { d.Version = "2" }},
		{"domain chain id", func(d *relay.EIP712Domain, _ *relay.PaymentPermit) { d.ChainID = big.NewInt(1) }},
		{"domain verifying contract", func(d *relay.EIP712Domain, _ *relay.PaymentPermit) {
			d.VerifyingContract = common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
		}},
		{"owner", func(_ *relay.EIP712Domain, p *relay.PaymentPermit) { p.Owner = fixtureSpender }},
		{"spender", func(_ *relay.EIP712Domain, p *relay.PaymentPermit) { p.Spender = fixtureOwner }},
		{"value", func(_ *relay.EIP712Domain, p *relay.PaymentPermit) { p.Value = big.NewInt(1) }},
		{"nonce", func(_ *relay.EIP712Domain, p *relay.PaymentPermit) { p.Nonce = big.NewInt(1) }},
		{"deadline", func(_ *relay.EIP712Domain, p *relay.PaymentPermit) { p.Deadline = big.NewInt(1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, p := fixtureDomain(), fixturePermit()
			tt.mutate(&d, &p)
			got, err := PermitDigest(d, p)
			if err != nil {
				t.Fatalf("PermitDigest: %v", err)
			}
			if got == base {
				t.Errorf("digest unchanged after mutating %s", tt.name)
			}
		})
	}
}
