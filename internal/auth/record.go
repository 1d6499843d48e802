// ABOUTME: Verification of persisted API tokens stored as bcrypt hashes
// ABOUTME: Token records live in the store; only hashes touch disk

package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// TokenRecord is a persisted API token. The plaintext token is shown once at
// creation; only the bcrypt hash is stored.
type TokenRecord struct {
	ID           string
	Name         string
	Hash         string
	Capabilities []string
	CreatedAt    time.Time
	ExpiresAt    *time.Time
}

// Expired reports whether the record has an expiry in the past.
func (r *TokenRecord) Expired() bool {
	return r.ExpiresAt != nil && time.Now().After(*r.ExpiresAt)
}

// TokenRecordStore provides access to persisted token records.
type TokenRecordStore interface {
	ListTokenRecords(ctx context.Context) ([]*TokenRecord, error)
}

// HashToken produces a bcrypt hash of a plaintext token for storage.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing token: %w", err)
	}
	return string(hash), nil
}

// RecordVerifier implements TokenVerifier against bcrypt-hashed records.
type RecordVerifier struct {
	store TokenRecordStore
}

// NewRecordVerifier creates a verifier backed by the given record store.
func NewRecordVerifier(store TokenRecordStore) *RecordVerifier {
	return &RecordVerifier{store: store}
}

// Verify compares the presented token against every non-expired record.
// Record counts are small (hand-issued credentials), so the linear bcrypt
// scan is acceptable.
func (v *RecordVerifier) Verify(tokenString string) (*Identity, error) {
	records, err := v.store.ListTokenRecords(context.Background())
	if err != nil {
		return nil, fmt.Errorf("listing token records: %w", err)
	}

	for _, rec := range records {
		if rec.Expired() {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(rec.Hash), []byte(tokenString)) == nil {
			caps := make([]string, len(rec.Capabilities))
			copy(caps, rec.Capabilities)
			return &Identity{Subject: rec.Name, Capabilities: caps}, nil
		}
	}

	return nil, ErrInvalidToken
}
