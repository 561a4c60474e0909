// Package auth verifies the bearer tokens that identify API callers. Tokens
// are HS256 JWTs; the account is named by an email claim.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dms-go/internal/config"
	"dms-go/internal/dms"
)

// DefaultEmailClaim is read when the config does not name another claim.
const DefaultEmailClaim = "email"

// Verifier validates tokens and extracts the caller's email.
type Verifier struct {
	secret     []byte
	issuer     string
	audience   string
	emailClaim string
	now        func() time.Time
}

// NewVerifier creates a Verifier from cfg. A secret is required.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("auth.secret must be set")
	}
	claim := cfg.EmailClaim
	if claim == "" {
		claim = DefaultEmailClaim
	}
	return &Verifier{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		emailClaim: claim,
		now:        time.Now,
	}, nil
}

// Verify checks the signature, expiry and the optional issuer and audience
// of token, and returns the email it was issued for. Every failure wraps
// dms.ErrAuthRequired.
func (v *Verifier) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", dms.ErrAuthRequired, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", dms.ErrAuthRequired)
	}

	email, _ := claims[v.emailClaim].(string)
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("%w: token has no %q claim", dms.ErrAuthRequired, v.emailClaim)
	}
	return email, nil
}

// Issue signs a token for email that expires after ttl. It is used by
// self-hosted deployments that have no identity provider, and by tests.
func (v *Verifier) Issue(email string, ttl time.Duration) (string, error) {
	if email == "" {
		return "", errors.New("email is required")
	}
	now := v.now()
	claims := jwt.MapClaims{
		v.emailClaim: email,
		"sub":        email,
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	if v.audience != "" {
		claims["aud"] = v.audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: authorization header required", dms.ErrAuthRequired)
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: invalid authorization format", dms.ErrAuthRequired)
	}
	return parts[1], nil
}
