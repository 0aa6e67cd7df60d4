package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"bookhold/crypto"
)

// devCallerHeader carries the caller address when authentication is disabled.
// Intended for local development and tests only.
const devCallerHeader = "X-Hold-Caller"

type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Authenticator resolves the authenticated caller address for mutating
// operations. Tokens are HMAC-signed JWTs whose subject is the caller's
// bech32 address; the ledger itself then enforces which role that address
// must hold for each transition.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// Caller extracts and verifies the caller address from the request.
func (a *Authenticator) Caller(r *http.Request) ([20]byte, error) {
	if !a.cfg.Enabled {
		return parseCallerAddress(r.Header.Get(devCallerHeader))
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return [20]byte{}, errors.New("missing bearer token")
	}
	subject, err := a.parseSubject(tokenString)
	if err != nil {
		return [20]byte{}, err
	}
	return parseCallerAddress(subject)
}

func (a *Authenticator) parseSubject(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if strings.TrimSpace(a.cfg.Issuer) != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if strings.TrimSpace(a.cfg.Audience) != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject required")
	}
	return subject, nil
}

func parseCallerAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, errors.New("caller address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid caller address: %w", err)
	}
	if decoded.Prefix() != crypto.HoldPrefix {
		return out, fmt.Errorf("unsupported address prefix %q", decoded.Prefix())
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func extractBearer(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// MintToken issues a short-lived caller token. Used by the CLI for local
// development deployments sharing the daemon's HMAC secret.
func MintToken(secret, issuer, audience, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth secret required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if strings.TrimSpace(issuer) != "" {
		claims.Issuer = issuer
	}
	if strings.TrimSpace(audience) != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(strings.TrimSpace(secret)))
}
