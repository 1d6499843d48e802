// ABOUTME: Static service token verification with constant-time comparison
// ABOUTME: Backs the AUTH_TOKEN environment variable from the Puch platform

package auth

import "crypto/subtle"

// ServiceSubject is the identity subject assigned to the static service token.
const ServiceSubject = "service"

// StaticVerifier implements TokenVerifier for a single fixed token.
// The static token carries the wildcard capability.
type StaticVerifier struct {
	token string
}

// NewStaticVerifier creates a verifier for the given service token.
func NewStaticVerifier(token string) *StaticVerifier {
	return &StaticVerifier{token: token}
}

// Verify compares the presented token in constant time.
func (v *StaticVerifier) Verify(tokenString string) (*Identity, error) {
	if v.token == "" {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(tokenString), []byte(v.token)) != 1 {
		return nil, ErrInvalidToken
	}
	return &Identity{
		Subject:      ServiceSubject,
		Capabilities: []string{"*"},
	}, nil
}
