// Package ledger issues and consumes the opaque single-use tokens behind
// e-mail verification and password reset.
//
// Only the SHA-256 digest of a token is stored. Issuing a token for a
// principal and purpose replaces any live token with the same owner and
// purpose, and consuming a token removes it, so each value works once.
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/MrEthical07/tripauth/internal/stores"
)

const tokenBytes = 32

var (
	// ErrNotFound is returned by Consume for unknown, expired and already
	// used tokens, and for tokens issued to another audience or purpose.
	ErrNotFound = errors.New("single-use token not found")
)

// Ledger issues and consumes single-use tokens over a TokenStore.
type Ledger struct {
	store stores.TokenStore
	now   func() time.Time
}

// New creates a Ledger. A nil now uses time.Now.
func New(store stores.TokenStore, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// Issue generates a fresh token for the principal and stores its digest
// with an absolute expiry of now+ttl.
func (l *Ledger) Issue(ctx context.Context, audience, principalID, purpose string, ttl time.Duration) (string, error) {
	if principalID == "" || purpose == "" || ttl <= 0 {
		return "", oops.Code("LEDGER_INVALID_ISSUE").
			With("purpose", purpose).
			Errorf("invalid single-use token request")
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", oops.Code("LEDGER_RANDOM_FAILED").Wrap(err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := l.now()
	rec := stores.TokenRecord{
		Hash:        stores.HashToken(token),
		PrincipalID: principalID,
		Audience:    audience,
		Purpose:     purpose,
		ExpiresAt:   now.Add(ttl).UTC(),
	}
	if err := l.store.Replace(ctx, rec, now); err != nil {
		return "", oops.Code("LEDGER_STORE_FAILED").
			With("purpose", purpose).
			Wrap(err)
	}

	return token, nil
}

// Consume redeems token for audience and purpose and returns the record it
// belonged to. A mismatched token is not spent.
func (l *Ledger) Consume(ctx context.Context, token, audience, purpose string) (stores.TokenRecord, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 256 {
		return stores.TokenRecord{}, ErrNotFound
	}

	rec, err := l.store.Consume(ctx, stores.HashToken(token), audience, purpose, l.now())
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return stores.TokenRecord{}, ErrNotFound
		}
		return stores.TokenRecord{}, oops.Code("LEDGER_STORE_FAILED").
			With("purpose", purpose).
			Wrap(err)
	}

	return rec, nil
}

// Revoke drops the live token for the principal and purpose, if any.
func (l *Ledger) Revoke(ctx context.Context, audience, principalID, purpose string) error {
	if err := l.store.Delete(ctx, audience, principalID, purpose); err != nil {
		return oops.Code("LEDGER_STORE_FAILED").
			With("purpose", purpose).
			Wrap(err)
	}
	return nil
}
