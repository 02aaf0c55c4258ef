package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope is the access level an API token grants.
type Scope string

// Token scopes.
const (
	// ScopeViewer may read state and watch events.
	ScopeViewer Scope = "viewer"

	// ScopeOperator may also change the directory and drive the session.
	ScopeOperator Scope = "operator"
)

// defaultTokenTTL applies when IssueToken is given no lifetime.
const defaultTokenTTL = 15 * time.Minute

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeViewer || s == ScopeOperator
}

// CanWrite reports whether the scope allows mutations.
func (s Scope) CanWrite() bool {
	return s == ScopeOperator
}

// Claims is the payload of an API token.
type Claims struct {
	jwt.RegisteredClaims
	Scope Scope `json:"scope"`
}

// IssueToken signs an API token for subject. A non-positive ttl uses the
// 15 minute default.
func IssueToken(subject string, scope Scope, secret string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !scope.Valid() {
		return "", fmt.Errorf("%w: unknown scope %q", ErrTokenInvalid, scope)
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Scope: scope,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates an API token and returns its claims. It checks the
// signature, expiry, subject and scope.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !claims.Scope.Valid() {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrTokenInvalid, claims.Scope)
	}
	return claims, nil
}
