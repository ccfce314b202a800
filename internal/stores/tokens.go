package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Purposes of single-use tokens.
const (
	PurposeVerifyEmail   = "verify-email"
	PurposeResetPassword = "reset-password"
)

// TokenRecord is the stored form of a single-use token.
type TokenRecord struct {
	// Hash is the hex SHA-256 digest of the opaque token value.
	Hash        string    `json:"hash"`
	PrincipalID string    `json:"principal_id"`
	Audience    string    `json:"audience"`
	Purpose     string    `json:"purpose"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (r TokenRecord) matches(audience, purpose string) bool {
	return r.Audience == audience && r.Purpose == purpose
}

func (r TokenRecord) owner() ownerKey {
	return ownerKey{audience: r.Audience, principalID: r.PrincipalID, purpose: r.Purpose}
}

type ownerKey struct {
	audience    string
	principalID string
	purpose     string
}

// TokenStore holds at most one live record per (audience, principal,
// purpose).
type TokenStore interface {
	// Replace stores rec, dropping any record with the same owner and purpose.
	Replace(ctx context.Context, rec TokenRecord, now time.Time) error
	// Consume removes and returns the record for hash. Unknown and expired
	// records return ErrNotFound; a record issued for another audience or
	// purpose also returns ErrNotFound and is left in place.
	Consume(ctx context.Context, hash, audience, purpose string, now time.Time) (TokenRecord, error)
	// Delete drops the live record for the owner and purpose, if any.
	Delete(ctx context.Context, audience, principalID, purpose string) error
}

// HashToken returns the storage digest of an opaque token value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
