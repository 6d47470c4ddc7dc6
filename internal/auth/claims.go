package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes a token may carry.
const (
	ScopeRead    = "read"
	ScopeControl = "control"
)

// DefaultTTL is used when GenerateToken is given a non-positive TTL.
const DefaultTTL = 12 * time.Hour

// Sentinel errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
	ErrForbidden    = errors.New("insufficient permissions")
)

// Claims extends the registered JWT claims with scopes.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// HasScope reports whether the token grants scope. "control" implies "read".
func (c *Claims) HasScope(scope string) bool {
	if slices.Contains(c.Scopes, scope) {
		return true
	}
	return scope == ScopeRead && slices.Contains(c.Scopes, ScopeControl)
}

// validScope reports whether s is a known scope.
func validScope(s string) bool {
	return s == ScopeRead || s == ScopeControl
}

// GenerateToken creates a signed token for subject with the given scopes.
//
// Parameters:
//   - subject: Who the token identifies, e.g. "driver-station"
//   - scopes: One or more of ScopeRead and ScopeControl
//   - secret: HMAC signing key
//   - ttl: Lifetime; zero or negative means DefaultTTL
//
// Returns:
//   - string: The signed token
//   - error: If an argument is invalid or signing fails
func GenerateToken(subject string, scopes []string, secret string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: subject is required", ErrTokenInvalid)
	}
	if secret == "" {
		return "", fmt.Errorf("%w: secret is required", ErrTokenInvalid)
	}
	if len(scopes) == 0 {
		return "", fmt.Errorf("%w: at least one scope is required", ErrTokenInvalid)
	}
	for _, s := range scopes {
		if !validScope(s) {
			return "", fmt.Errorf("%w: unknown scope %q", ErrTokenInvalid, s)
		}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Scopes: slices.Clone(scopes),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns its claims. It checks the
// signature, expiry, subject and scopes.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if len(claims.Scopes) == 0 {
		return nil, fmt.Errorf("%w: missing scopes", ErrTokenInvalid)
	}
	for _, s := range claims.Scopes {
		if !validScope(s) {
			return nil, fmt.Errorf("%w: unknown scope %q", ErrTokenInvalid, s)
		}
	}
	return claims, nil
}
