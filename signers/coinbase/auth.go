package coinbase

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// apiHost is the host component of the uris claim.
const apiHost = "api.cdp.coinbase.com"

// CDPAuth generates the JWTs the CDP API expects: a Bearer token signed with
// the API key on every request, and an X-Wallet-Auth token signed with the
// wallet secret on requests that use or create account keys.
//
// CDPAuth is immutable after construction and safe for concurrent use.
//
// Example usage:
//
//	auth, err := NewCDPAuth(
//	    os.Getenv("CDP_API_KEY_NAME"),
//	    os.Getenv("CDP_API_KEY_SECRET"),
//	    os.Getenv("CDP_WALLET_SECRET"),
//	)
type CDPAuth struct {
	apiKeyName string
	apiKey     interface{}
	apiAlg     jose.SignatureAlgorithm
	walletKey  *ecdsa.PrivateKey
	now        func() time.Time
}

// APIKeyClaims are the claims of a Bearer token.
type APIKeyClaims struct {
	jwt.Claims
	URIs []string `json:"uris"`
}

// WalletClaims are the claims of an X-Wallet-Auth token.
type WalletClaims struct {
	jwt.Claims
	URIs    []string `json:"uris"`
	ReqHash string   `json:"reqHash,omitempty"`
}

// NewCDPAuth parses the API key and optional wallet secret.
//
// apiKeySecret is either a PEM encoded ECDSA key (SEC1 or PKCS8) or a base64
// encoded 64-byte Ed25519 key. walletSecret is a base64 encoded PKCS8 ECDSA
// key as issued by the CDP portal; it may be empty when only read
// operations are needed.
func NewCDPAuth(apiKeyName, apiKeySecret, walletSecret string) (*CDPAuth, error) {
	if apiKeyName == "" {
		return nil, fmt.Errorf("apiKeyName must not be empty")
	}

	key, alg, err := parseAPIKey(apiKeySecret)
	if err != nil {
		return nil, err
	}

	a := &CDPAuth{apiKeyName: apiKeyName, apiKey: key, apiAlg: alg, now: time.Now}
	if walletSecret != "" {
		if a.walletKey, err = parseWalletSecret(walletSecret); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func parseAPIKey(secret string) (interface{}, jose.SignatureAlgorithm, error) {
	secret = strings.ReplaceAll(strings.TrimSpace(secret), `\n`, "\n")

	if block, _ := pem.Decode([]byte(secret)); block != nil {
		if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
			return key, jose.ES256, nil
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, "", fmt.Errorf("failed to parse private key: %w", err)
		}
		switch k := key.(type) {
		case *ecdsa.PrivateKey:
			return k, jose.ES256, nil
		case ed25519.PrivateKey:
			return k, jose.EdDSA, nil
		}
		return nil, "", fmt.Errorf("unsupported private key type: must be ECDSA or Ed25519")
	}

	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, "", fmt.Errorf("api key secret is neither PEM nor base64: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, "", fmt.Errorf("base64 api key must be a %d-byte Ed25519 key, got %d bytes", ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), jose.EdDSA, nil
}

func parseWalletSecret(secret string) (*ecdsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("wallet secret is not base64: %w", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse wallet secret: %w", err)
	}
	ec, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("wallet secret must be an ECDSA key")
	}
	return ec, nil
}

func requestURI(method, path string) string {
	return fmt.Sprintf("%s %s%s", method, apiHost, path)
}

// GenerateBearerToken returns a two minute Bearer token for method and path.
func (a *CDPAuth) GenerateBearerToken(method, path string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: a.apiAlg, Key: a.apiKey},
		(&jose.SignerOptions{}).WithType("JWT").
			WithHeader("kid", a.apiKeyName).
			WithHeader("nonce", hex.EncodeToString(nonce)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := a.now()
	claims := APIKeyClaims{
		Claims: jwt.Claims{
			Subject:   a.apiKeyName,
			Issuer:    "cdp",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(2 * time.Minute)),
		},
		URIs: []string{requestURI(method, path)},
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}
	return token, nil
}

// GenerateWalletAuthToken returns a one minute wallet token bound to the
// request body.
func (a *CDPAuth) GenerateWalletAuthToken(method, path string, body []byte) (string, error) {
	if a.walletKey == nil {
		return "", ErrWalletSecretRequired
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: a.walletKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create wallet JWT signer: %w", err)
	}

	now := a.now()
	claims := WalletClaims{
		Claims: jwt.Claims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(time.Minute)),
		},
		URIs: []string{requestURI(method, path)},
	}
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		claims.ReqHash = hex.EncodeToString(sum[:])
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize wallet JWT: %w", err)
	}
	return token, nil
}
