package coinbase

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	relay "github.com/mark3labs/permit-relay"
)

const relayerKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	relayerAddress = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	gatewayAddress = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	testChainID    = big.NewInt(137)
)

// fakeCDP signs submitted transactions with key, the way a server wallet
// would.
type fakeCDP struct {
	key      *ecdsa.PrivateKey
	accounts map[string]string
	created  int32
	status   int
	tamper   bool
}

func (f *fakeCDP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, evmAccountsPath+"/by-name/"):
		name := strings.TrimPrefix(r.URL.Path, evmAccountsPath+"/by-name/")
		addr, ok := f.accounts[name]
		if !ok {
			http.Error(w, `{"errorType":"not_found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(CDPAccount{Address: addr, Name: name})

	case r.Method == http.MethodPost && r.URL.Path == evmAccountsPath:
		var req createAccountRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		atomic.AddInt32(&f.created, 1)
		_ = json.NewEncoder(w).Encode(CDPAccount{Address: crypto.PubkeyToAddress(f.key.PublicKey).Hex(), Name: req.Name})

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/sign/transaction"):
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		var req signTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		payload, err := hexutil.Decode(req.Transaction)
		if err != nil || len(payload) == 0 || payload[0] != types.DynamicFeeTxType {
			http.Error(w, "expected an EIP-1559 transaction", http.StatusBadRequest)
			return
		}
		var fields unsignedDynamicFeeTx
		if err := rlp.DecodeBytes(payload[1:], &fields); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.tamper {
			fields.Gas++
		}
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID: fields.ChainID, Nonce: fields.Nonce, GasTipCap: fields.GasTipCap, GasFeeCap: fields.GasFeeCap,
			Gas: fields.Gas, To: fields.To, Value: fields.Value, Data: fields.Data, AccessList: fields.AccessList,
		})
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(fields.ChainID), f.key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		raw, _ := signed.MarshalBinary()
		_ = json.NewEncoder(w).Encode(signTransactionResponse{SignedTransaction: hexutil.Encode(raw)})

	default:
		http.NotFound(w, r)
	}
}

func newFakeCDP(t *testing.T) *fakeCDP {
	t.Helper()
	key, err := crypto.HexToECDSA(relayerKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	return &fakeCDP{key: key, accounts: map[string]string{}}
}

func newTestSigner(t *testing.T, fake *fakeCDP, opts ...SignerOption) *Signer {
	t.Helper()
	client := newTestClient(t, fake)
	s, err := NewSigner(context.Background(), append([]SignerOption{WithClient(client)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func legacyTx() *types.Transaction {
	to := gatewayAddress
	return types.NewTx(&types.LegacyTx{
		Nonce:    7,
		To:       &to,
		Gas:      120_000,
		GasPrice: big.NewInt(30_000_000_000),
		Data:     common.FromHex("0xe7f25f3f"),
	})
}

func TestNewSignerRequiresAccount(t *testing.T) {
	if _, err := NewSigner(context.Background()); err == nil {
		t.Error("expected error without credentials")
	}
	client, err := NewCDPClient(mockCDPAuth{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewSigner(context.Background(), WithClient(client)); err == nil {
		t.Error("expected error without account")
	}
	if _, err := NewSigner(context.Background(), WithClient(client), WithAccountName("-bad")); err == nil {
		t.Error("expected error for invalid account name")
	}
	if _, err := NewSigner(context.Background(), WithClient(client), WithAccountAddress("0x1234")); err == nil {
		t.Error("expected error for invalid address")
	}
}

func TestNewSignerResolvesAccountName(t *testing.T) {
	t.Run("existing", func(t *testing.T) {
		fake := newFakeCDP(t)
		fake.accounts["relayer"] = relayerAddress.Hex()
		s := newTestSigner(t, fake, WithAccountName("relayer"))
		if s.Address() != relayerAddress {
			t.Errorf("address = %s", s.Address().Hex())
		}
		if atomic.LoadInt32(&fake.created) != 0 {
			t.Error("existing account was recreated")
		}
	})

	t.Run("created on first use", func(t *testing.T) {
		fake := newFakeCDP(t)
		s := newTestSigner(t, fake, WithAccountName("relayer-2"))
		if s.Address() != relayerAddress {
			t.Errorf("address = %s", s.Address().Hex())
		}
		if got := atomic.LoadInt32(&fake.created); got != 1 {
			t.Errorf("created = %d, want 1", got)
		}
	})
}

func TestSignTx(t *testing.T) {
	fake := newFakeCDP(t)
	s := newTestSigner(t, fake, WithAccountAddress(relayerAddress.Hex()))

	tx := legacyTx()
	signed, err := s.SignTx(tx, testChainID)
	if err != nil {
		t.Fatal(err)
	}

	if signed.Type() != types.DynamicFeeTxType {
		t.Errorf("type = %d, want dynamic fee", signed.Type())
	}
	if signed.Nonce() != 7 || signed.Gas() != 120_000 || *signed.To() != gatewayAddress {
		t.Errorf("fields changed: nonce=%d gas=%d to=%s", signed.Nonce(), signed.Gas(), signed.To().Hex())
	}
	if signed.GasFeeCap().Cmp(tx.GasPrice()) != 0 || signed.GasTipCap().Cmp(tx.GasPrice()) != 0 {
		t.Errorf("fee caps = %s/%s", signed.GasFeeCap(), signed.GasTipCap())
	}
	from, err := types.Sender(types.LatestSignerForChainID(testChainID), signed)
	if err != nil || from != relayerAddress {
		t.Errorf("sender = %s, %v", from.Hex(), err)
	}
}

func TestEncodeUnsignedMatchesSigningHash(t *testing.T) {
	tx := toDynamicFee(legacyTx(), testChainID)
	payload, err := encodeUnsigned(tx)
	if err != nil {
		t.Fatal(err)
	}
	want := types.LatestSignerForChainID(testChainID).Hash(tx)
	if got := crypto.Keccak256Hash(payload); got != want {
		t.Errorf("payload hash = %s, signing hash = %s", got.Hex(), want.Hex())
	}
}

func TestSignTxRejectsTamperedTransaction(t *testing.T) {
	fake := newFakeCDP(t)
	fake.tamper = true
	s := newTestSigner(t, fake, WithAccountAddress(relayerAddress.Hex()))

	if _, err := s.SignTx(legacyTx(), testChainID); err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Errorf("err = %v, want payload mismatch", err)
	}
}

func TestSignTxRejectsWrongAccount(t *testing.T) {
	fake := newFakeCDP(t)
	other := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	s := newTestSigner(t, fake, WithAccountAddress(other.Hex()))

	if _, err := s.SignTx(legacyTx(), testChainID); err == nil || !strings.Contains(err.Error(), "signed by") {
		t.Errorf("err = %v, want signer mismatch", err)
	}
}

func TestSignTxErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"server unavailable is transient", http.StatusServiceUnavailable, true},
		{"forbidden is permanent", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeCDP(t)
			fake.status = tt.status
			s := newTestSigner(t, fake, WithAccountAddress(relayerAddress.Hex()))

			_, err := s.SignTx(legacyTx(), testChainID)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := relay.IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient = %v, want %v (%v)", got, tt.wantTransient, err)
			}
		})
	}
}
