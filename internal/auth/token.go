// ABOUTME: JWT token verification for authenticating MCP requests
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Identity describes an authenticated caller.
type Identity struct {
	// Subject identifies the caller ("service" for the static token,
	// the client name for minted tokens).
	Subject string

	// Capabilities gates which tools the caller may list and invoke.
	// The wildcard "*" grants everything.
	Capabilities []string
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts the identity from the "sub" and
// "caps" claims.
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	var caps []string
	if rawCaps, ok := claims["caps"].([]any); ok {
		for _, c := range rawCaps {
			if s, ok := c.(string); ok {
				caps = append(caps, s)
			}
		}
	}

	return &Identity{Subject: sub, Capabilities: caps}, nil
}

// Generate creates a new JWT token for the given subject with capabilities
// and expiration.
func (v *JWTVerifier) Generate(subject string, caps []string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"caps": caps,
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// MultiVerifier tries each verifier in order, returning the first success.
// Nil entries are skipped.
type MultiVerifier []TokenVerifier

// Verify implements TokenVerifier.
func (m MultiVerifier) Verify(tokenString string) (*Identity, error) {
	var lastErr error = ErrInvalidToken
	for _, v := range m {
		if v == nil {
			continue
		}
		id, err := v.Verify(tokenString)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
