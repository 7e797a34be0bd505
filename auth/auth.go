// Package auth issues and verifies the bearer tokens that guard the relay
// API. Tokens are compact JWTs signed with HS256 (shared secret) or ES256
// (operator key pair).
package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// Issuer is the default "iss" claim of relay tokens.
const Issuer = "permit-relay"

var (
	// ErrMissingToken indicates a request without a bearer token.
	ErrMissingToken = errors.New("auth: missing bearer token")

	// ErrInvalidToken indicates a token that failed parsing, signature or claim checks.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Scopes granted to relay API tokens.
const (
	ScopeWrite = "payments:write"
	ScopeRead  = "payments:read"
)

// Claims are the JWT claims of a relay API token.
type Claims struct {
	jwt.Claims

	// Scope is a space separated list of granted operations such as
	// ScopeWrite and ScopeRead.
	Scope string `json:"scope,omitempty"`
}

// Allows reports whether scope is granted. An empty Scope grants everything.
func (c *Claims) Allows(scope string) bool {
	if c.Scope == "" {
		return true
	}
	for _, s := range strings.Fields(c.Scope) {
		if s == scope {
			return true
		}
	}
	return false
}

// Authenticator signs and verifies relay tokens. It is safe for concurrent use.
type Authenticator struct {
	alg       jose.SignatureAlgorithm
	signKey   interface{}
	verifyKey interface{}
	issuer    string
	audience  string
	leeway    time.Duration
	now       func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator) error

// WithIssuer overrides the expected "iss" claim.
func WithIssuer(iss string) Option {
	return func(a *Authenticator) error {
		if iss == "" {
			return fmt.Errorf("issuer must not be empty")
		}
		a.issuer = iss
		return nil
	}
}

// WithAudience requires tokens to carry aud.
func WithAudience(aud string) Option {
	return func(a *Authenticator) error {
		a.audience = aud
		return nil
	}
}

// WithLeeway sets the tolerated clock skew for exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(a *Authenticator) error {
		if d < 0 {
			return fmt.Errorf("leeway must not be negative")
		}
		a.leeway = d
		return nil
	}
}

func newAuthenticator(alg jose.SignatureAlgorithm, signKey, verifyKey interface{}, opts []Option) (*Authenticator, error) {
	a := &Authenticator{
		alg:       alg,
		signKey:   signKey,
		verifyKey: verifyKey,
		issuer:    Issuer,
		leeway:    jwt.DefaultLeeway,
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// NewHMAC creates an Authenticator sharing secret between issuer and relay.
func NewHMAC(secret []byte, opts ...Option) (*Authenticator, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("hmac secret must be at least 32 bytes, got %d", len(secret))
	}
	key := append([]byte(nil), secret...)
	return newAuthenticator(jose.HS256, key, key, opts)
}

// NewECDSA creates an Authenticator for P-256 keys. key may be nil for a
// verify-only Authenticator.
func NewECDSA(pub *ecdsa.PublicKey, key *ecdsa.PrivateKey, opts ...Option) (*Authenticator, error) {
	if pub == nil && key != nil {
		pub = &key.PublicKey
	}
	if pub == nil {
		return nil, fmt.Errorf("public key is required")
	}
	var signKey interface{}
	if key != nil {
		signKey = key
	}
	return newAuthenticator(jose.ES256, signKey, pub, opts)
}

// Issue signs a token for subject valid for ttl.
func (a *Authenticator) Issue(subject, scope string, ttl time.Duration) (string, error) {
	if a.signKey == nil {
		return "", fmt.Errorf("auth: authenticator has no signing key")
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: a.alg, Key: a.signKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := a.now()
	claims := Claims{
		Claims: jwt.Claims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	}
	if a.audience != "" {
		claims.Audience = jwt.Audience{a.audience}
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}
	return token, nil
}

// Verify checks the token signature, algorithm, issuer, audience and
// validity window.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(parsed.Headers) != 1 || parsed.Headers[0].Algorithm != string(a.alg) {
		return nil, fmt.Errorf("%w: unexpected signing algorithm", ErrInvalidToken)
	}

	var claims Claims
	if err := parsed.Claims(a.verifyKey, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	expected := jwt.Expected{Issuer: a.issuer, Time: a.now()}
	if a.audience != "" {
		expected.Audience = jwt.Audience{a.audience}
	}
	if err := claims.ValidateWithLeeway(expected, a.leeway); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

type contextKey string

const claimsKey = contextKey("relay_claims")

// FromContext returns the claims stored by Middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

// Middleware rejects requests without a valid bearer token with 401. When
// scope is set, tokens lacking it get 403.
func Middleware(a *Authenticator, scope string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="permit-relay"`)
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			claims, err := a.Verify(token)
			if err != nil {
				logger.Warn("rejected API token", "path", r.URL.Path, "error", err)
				w.Header().Set("WWW-Authenticate", `Bearer realm="permit-relay", error="invalid_token"`)
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}

			if scope != "" && !claims.Allows(scope) {
				logger.Warn("token lacks scope", "subject", claims.Subject, "scope", scope)
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
