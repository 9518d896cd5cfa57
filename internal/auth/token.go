// ABOUTME: Bearer tokens for callers of the announcement endpoint
// ABOUTME: HS256 only, secret of at least 32 bytes, expiry optional per token

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = errors.New("jwt secret must be at least 32 bytes")
)

// MinSecretLength is the shortest accepted HS256 secret.
const MinSecretLength = 32

// TokenVerifier resolves a bearer token to the name of the announcing caller.
type TokenVerifier interface {
	Verify(tokenString string) (caller string, err error)
}

// JWTVerifier signs and checks announcement tokens with one shared secret.
// The caller name travels in the subject claim.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier rejects secrets shorter than MinSecretLength.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Verify returns the announcing caller's name. Expired tokens map to
// ErrExpiredToken; everything else that fails maps to ErrInvalidToken or
// ErrMissingClaim.
func (v *JWTVerifier) Verify(tokenString string) (caller string, err error) {
	var claims jwt.RegisteredClaims
	_, err = v.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case claims.Subject == "":
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate issues a token for an announcing caller, used by the token
// subcommand. A zero ttl issues a token that never expires.
func (v *JWTVerifier) Generate(caller string, ttl time.Duration) (string, error) {
	if caller == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  caller,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
