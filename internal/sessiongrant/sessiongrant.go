// Package sessiongrant issues and validates signed session grants. A grant
// is the portable proof of a completed authentication that downstream
// services verify offline with the public key.
package sessiongrant

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
	"github.com/louisbranch/passlock/internal/platform/id"
)

// Method records how the session was established.
type Method string

const (
	MethodLogin    Method = "login"
	MethodRecovery Method = "recovery"
)

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer     string        `env:"PASSLOCK_GRANT_ISSUER"`
	Audience   string        `env:"PASSLOCK_GRANT_AUDIENCE"`
	PrivateKey string        `env:"PASSLOCK_GRANT_PRIVATE_KEY"`
	PublicKey  string        `env:"PASSLOCK_GRANT_PUBLIC_KEY"`
	TTL        time.Duration `env:"PASSLOCK_GRANT_TTL" envDefault:"24h"`
}

// Config defines how session grants are signed and verified.
type Config struct {
	Issuer     string
	Audience   string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	TTL        time.Duration
	Now        func() time.Time
}

// Claims captures a validated session grant.
type Claims struct {
	Issuer       string
	Audience     []string
	ExpiresAt    time.Time
	IssuedAt     time.Time
	JWTID        string
	AccountID    string
	CredentialID string
	Method       Method
}

// grantClaims is the internal claims type used for JWT parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	AccountID    string `json:"account_id"`
	CredentialID string `json:"credential_id"`
	Method       string `json:"method"`
}

// LoadConfigFromEnv reads session grant configuration. The private key is
// optional; a verifier-only deployment sets just the public key.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse session grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	if issuer == "" {
		return Config{}, fmt.Errorf("PASSLOCK_GRANT_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("PASSLOCK_GRANT_AUDIENCE is required")
	}

	cfg := Config{
		Issuer:   issuer,
		Audience: audience,
		TTL:      raw.TTL,
		Now:      now,
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if key := strings.TrimSpace(raw.PrivateKey); key != "" {
		keyBytes, err := decodeBase64(key)
		if err != nil {
			return Config{}, fmt.Errorf("decode session grant private key: %w", err)
		}
		if len(keyBytes) != ed25519.PrivateKeySize {
			return Config{}, fmt.Errorf("session grant private key must be %d bytes", ed25519.PrivateKeySize)
		}
		cfg.PrivateKey = ed25519.PrivateKey(keyBytes)
		cfg.PublicKey = cfg.PrivateKey.Public().(ed25519.PublicKey)
	}
	if key := strings.TrimSpace(raw.PublicKey); key != "" {
		keyBytes, err := decodeBase64(key)
		if err != nil {
			return Config{}, fmt.Errorf("decode session grant public key: %w", err)
		}
		if len(keyBytes) != ed25519.PublicKeySize {
			return Config{}, fmt.Errorf("session grant public key must be %d bytes", ed25519.PublicKeySize)
		}
		cfg.PublicKey = ed25519.PublicKey(keyBytes)
	}
	if len(cfg.PublicKey) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("a session grant key is required")
	}
	return cfg, nil
}

// Issue signs a session grant for the authenticated account.
func Issue(accountID, credentialID string, method Method, cfg Config) (string, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", fmt.Errorf("account id is required")
	}
	if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("session grant signer is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	jti, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate grant id: %w", err)
	}

	now := cfg.Now().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		AccountID:    accountID,
		CredentialID: credentialID,
		Method:       string(method),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign session grant: %w", err)
	}
	return signed, nil
}

// Validate verifies a session grant token and returns its claims.
func Validate(grant string, cfg Config) (Claims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return Claims{}, apperrors.New(apperrors.CodeSessionGrantInvalid, "session grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.PublicKey) != ed25519.PublicKeySize {
		return Claims{}, errors.New("session grant verifier is not configured")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.PublicKey, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeSessionGrantInvalid,
			"session grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeSessionGrantInvalid,
			"session grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeSessionGrantInvalid, "session grant jti is required")
	}
	if strings.TrimSpace(parsed.AccountID) == "" {
		return Claims{}, apperrors.New(apperrors.CodeSessionGrantInvalid, "session grant account is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeSessionGrantInvalid, "session grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeSessionGrantExpired, "session grant is expired")
	}

	claims := Claims{
		Issuer:       parsed.Issuer,
		Audience:     []string(parsed.Audience),
		ExpiresAt:    exp,
		JWTID:        parsed.ID,
		AccountID:    parsed.AccountID,
		CredentialID: parsed.CredentialID,
		Method:       Method(parsed.Method),
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeSessionGrantInvalid, "session grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeSessionGrantInvalid, "session grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeSessionGrantInvalid, "session grant is invalid")
}

// audienceContains reports whether the audience list contains the value.
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
