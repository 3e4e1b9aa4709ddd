// Package callertoken issues and verifies the EdDSA-signed JWTs that bind a
// tool call to a registry address. Every operation takes an explicit caller;
// surfaces derive it from a verified token instead of trusting the input.
package callertoken

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/platform/id"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
)

// Config holds caller token settings.
type Config struct {
	Issuer     string        `env:"CALLER_TOKEN_ISSUER" envDefault:"recordvault"`
	Audience   string        `env:"CALLER_TOKEN_AUDIENCE" envDefault:"recordvault-mcp"`
	PublicKey  string        `env:"CALLER_TOKEN_PUBLIC_KEY"`
	PrivateKey string        `env:"CALLER_TOKEN_PRIVATE_KEY"`
	TTL        time.Duration `env:"CALLER_TOKEN_TTL" envDefault:"1h"`
}

// Claims are the validated claims of a caller token.
type Claims struct {
	Address   string
	Issuer    string
	ExpiresAt time.Time
	IssuedAt  time.Time
	JWTID     string
}

type callerClaims struct {
	jwt.RegisteredClaims
	Address string `json:"address"`
}

// Verifier validates caller tokens.
type Verifier struct {
	issuer   string
	audience string
	key      ed25519.PublicKey
	now      func() time.Time
}

// NewVerifier creates a verifier for tokens signed by key.
func NewVerifier(issuer, audience string, key ed25519.PublicKey) (*Verifier, error) {
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	if issuer == "" || audience == "" {
		return nil, errors.New("caller token issuer and audience are required")
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("caller token public key must be %d bytes", ed25519.PublicKeySize)
	}
	return &Verifier{issuer: issuer, audience: audience, key: key, now: time.Now}, nil
}

// Verify checks the signature, issuer, audience and expiry of token.
func (v *Verifier) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeCallerTokenInvalid, "caller token is required")
	}

	var parsed callerClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer != v.issuer {
		return Claims{}, apperrors.New(apperrors.CodeCallerTokenInvalid, "caller token issuer mismatch")
	}
	if !audienceContains(parsed.Audience, v.audience) {
		return Claims{}, apperrors.New(apperrors.CodeCallerTokenInvalid, "caller token audience mismatch")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeCallerTokenInvalid, "caller token exp is required")
	}
	now := v.now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeCallerTokenInvalid, "caller token is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time) {
		return Claims{}, apperrors.New(apperrors.CodeCallerTokenInvalid, "caller token not active yet")
	}
	address := identity.NormalizeAddress(parsed.Address)
	if address == "" || address != identity.NormalizeAddress(parsed.Subject) {
		return Claims{}, apperrors.New(apperrors.CodeCallerTokenInvalid, "caller token address is missing")
	}

	claims := Claims{
		Address:   address,
		Issuer:    parsed.Issuer,
		ExpiresAt: exp,
		JWTID:     parsed.ID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// Issuer signs caller tokens.
type Issuer struct {
	issuer   string
	audience string
	key      ed25519.PrivateKey
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer creates an issuer signing with key. Tokens expire after ttl.
func NewIssuer(issuer, audience string, key ed25519.PrivateKey, ttl time.Duration) (*Issuer, error) {
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	if issuer == "" || audience == "" {
		return nil, errors.New("caller token issuer and audience are required")
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("caller token private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if ttl <= 0 {
		return nil, errors.New("caller token ttl must be positive")
	}
	return &Issuer{issuer: issuer, audience: audience, key: key, ttl: ttl, now: time.Now}, nil
}

// Issue mints a token naming address as the caller.
func (i *Issuer) Issue(address string) (string, error) {
	address = identity.NormalizeAddress(address)
	if address == "" {
		return "", errors.New("caller address is required")
	}
	jti, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	now := i.now().UTC()
	claims := callerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   address,
			Audience:  jwt.ClaimStrings{i.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
		Address: address,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign caller token: %w", err)
	}
	return signed, nil
}

// ParsePublicKey decodes a base64 Ed25519 public key.
func ParsePublicKey(value string) (ed25519.PublicKey, error) {
	raw, err := decodeBase64(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode caller token public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("caller token public key must be %d bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// ParsePrivateKey decodes a base64 Ed25519 private key or seed.
func ParsePrivateKey(value string) (ed25519.PrivateKey, error) {
	raw, err := decodeBase64(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode caller token private key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("caller token private key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

// EncodeKey renders a key the way ParsePublicKey and ParsePrivateKey read it.
func EncodeKey(key []byte) string {
	return base64.RawStdEncoding.EncodeToString(key)
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.Wrap(apperrors.CodeCallerTokenInvalid, "caller token signature is invalid", err)
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.Wrap(apperrors.CodeCallerTokenInvalid, "caller token alg is invalid", err)
	}
	return apperrors.Wrap(apperrors.CodeCallerTokenInvalid, "caller token is invalid", err)
}

func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
