package http

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	relay "github.com/mark3labs/permit-relay"
	"github.com/mark3labs/permit-relay/retry"
)

var fastRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     2 * time.Millisecond,
	Multiplier:   2,
}

func testRequest() *relay.PaymentRequest {
	return &relay.PaymentRequest{
		RequestID: common.HexToHash(testRequestID),
		Merchant:  common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
		Permit: relay.PaymentPermit{
			Owner:    common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
			Spender:  common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
			Value:    big.NewInt(1000),
			Nonce:    big.NewInt(0),
			Deadline: big.NewInt(9999999999),
		},
		Signature: hexutil.MustDecode(testSig),
	}
}

func TestNewFacilitatorClient(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		opts    []ClientOption
		wantErr bool
	}{
		{name: "default", url: "http://relay.local"},
		{name: "trailing slash", url: "http://relay.local/"},
		{name: "custom client", url: "http://relay.local", opts: []ClientOption{WithHTTPClient(&http.Client{Timeout: time.Second})}},
		{name: "no scheme", url: "relay.local", wantErr: true},
		{name: "nil client", url: "http://relay.local", opts: []ClientOption{WithHTTPClient(nil)}, wantErr: true},
		{name: "bad timeout", url: "http://relay.local", opts: []ClientOption{WithRequestTimeout(0)}, wantErr: true},
		{name: "bad retry", url: "http://relay.local", opts: []ClientOption{WithRetry(retry.Config{})}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewFacilitatorClient(tt.url, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c.BaseURL != "http://relay.local" {
				t.Errorf("BaseURL = %q", c.BaseURL)
			}
		})
	}
}

func TestClientAgainstHandler(t *testing.T) {
	id := common.HexToHash(testRequestID)
	fake := &fakeRelay{statuses: map[common.Hash]*relay.StatusResult{
		id: {RequestID: testRequestID, Status: relay.StatusConfirmed, PaymentID: "7", Fee: "25"},
	}}
	server := httptest.NewServer(NewHandler(fake, quietLogger()).Routes())
	defer server.Close()

	client, err := NewFacilitatorClient(server.URL, WithRetry(fastRetry))
	if err != nil {
		t.Fatal(err)
	}

	res, err := client.Submit(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != relay.StatusSubmitted || res.RequestID != testRequestID {
		t.Errorf("unexpected submit result %+v", res)
	}

	calls := fake.calls()
	if len(calls) != 1 {
		t.Fatalf("relay calls = %d", len(calls))
	}
	if calls[0].Permit.Deadline.Int64() != 9999999999 || hexutil.Encode(calls[0].Signature) != testSig {
		t.Errorf("request mangled in transit: %+v", calls[0])
	}

	status, err := client.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != relay.StatusConfirmed || status.PaymentID != "7" {
		t.Errorf("unexpected status %+v", status)
	}

	_, err = client.Status(context.Background(), common.HexToHash("0xbb"))
	if !errors.Is(err, relay.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClientPropagatesRelayErrors(t *testing.T) {
	fake := &fakeRelay{submitErr: relay.Errorf(relay.ErrCodeNonceConsumed, "nonce 0 already used").WithDetails("nonce", "0")}
	server := httptest.NewServer(NewHandler(fake, quietLogger()).Routes())
	defer server.Close()

	client, err := NewFacilitatorClient(server.URL, WithRetry(fastRetry))
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Submit(context.Background(), testRequest())
	var re *relay.RelayError
	if !errors.As(err, &re) {
		t.Fatalf("expected RelayError, got %v", err)
	}
	if re.Code != relay.ErrCodeNonceConsumed || re.Details["nonce"] != "0" {
		t.Errorf("unexpected error %+v", re)
	}
	if len(fake.calls()) != 1 {
		t.Errorf("business errors must not be retried, calls = %d", len(fake.calls()))
	}
}

func TestClientRetriesUnavailable(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"requestId":"` + testRequestID + `","status":"pending"}`))
	}))
	defer server.Close()

	client, err := NewFacilitatorClient(server.URL, WithRetry(fastRetry))
	if err != nil {
		t.Fatal(err)
	}

	res, err := client.Status(context.Background(), common.HexToHash(testRequestID))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if res.Status != relay.StatusPending {
		t.Errorf("status = %s", res.Status)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestClientGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	server.Close()

	client, err := NewFacilitatorClient(server.URL, WithRetry(fastRetry))
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Status(context.Background(), common.HexToHash(testRequestID))
	if !errors.Is(err, relay.ErrRelayUnavailable) {
		t.Fatalf("expected ErrRelayUnavailable, got %v", err)
	}
}

func TestClientAuthorization(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"requestId":"` + testRequestID + `","status":"pending"}`))
	}))
	defer server.Close()

	static, err := NewFacilitatorClient(server.URL, WithAuthorization("Bearer static"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := static.Status(context.Background(), common.HexToHash(testRequestID)); err != nil {
		t.Fatal(err)
	}
	if got.Load() != "Bearer static" {
		t.Errorf("Authorization = %v", got.Load())
	}

	dynamic, err := NewFacilitatorClient(server.URL,
		WithAuthorization("Bearer static"),
		WithAuthorizationProvider(func(context.Context) (string, error) { return "Bearer fresh", nil }),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dynamic.Status(context.Background(), common.HexToHash(testRequestID)); err != nil {
		t.Fatal(err)
	}
	if got.Load() != "Bearer fresh" {
		t.Errorf("Authorization = %v", got.Load())
	}

	failing, err := NewFacilitatorClient(server.URL,
		WithAuthorizationProvider(func(context.Context) (string, error) { return "", errors.New("token expired") }),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := failing.Status(context.Background(), common.HexToHash(testRequestID)); err == nil {
		t.Error("expected provider error")
	}
}
