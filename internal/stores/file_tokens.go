package stores

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// FileTokenStore keeps token records in one JSON file.
type FileTokenStore struct {
	path string

	mu sync.Mutex
}

// NewFileTokenStore returns a store over the JSON file at path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Replace implements TokenStore. Expired records are pruned on every write.
func (s *FileTokenStore) Replace(ctx context.Context, rec TokenRecord, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}

	kept := all[:0]
	for _, r := range all {
		if r.owner() == rec.owner() || !now.Before(r.ExpiresAt) {
			continue
		}
		kept = append(kept, r)
	}

	return writeJSON(s.path, append(kept, rec))
}

// Consume implements TokenStore.
func (s *FileTokenStore) Consume(ctx context.Context, hash, audience, purpose string, now time.Time) (TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return TokenRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return TokenRecord{}, err
	}

	for i, r := range all {
		if subtle.ConstantTimeCompare([]byte(r.Hash), []byte(hash)) != 1 {
			continue
		}
		if !r.matches(audience, purpose) {
			return TokenRecord{}, ErrNotFound
		}

		rest := append(all[:i:i], all[i+1:]...)
		if err := writeJSON(s.path, rest); err != nil {
			return TokenRecord{}, err
		}
		if !now.Before(r.ExpiresAt) {
			return TokenRecord{}, ErrNotFound
		}
		return r, nil
	}

	return TokenRecord{}, ErrNotFound
}

// Delete implements TokenStore.
func (s *FileTokenStore) Delete(ctx context.Context, audience, principalID, purpose string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}

	target := ownerKey{audience: audience, principalID: principalID, purpose: purpose}
	kept := all[:0]
	removed := false
	for _, r := range all {
		if r.owner() == target {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		return nil
	}
	return writeJSON(s.path, kept)
}

func (s *FileTokenStore) load() ([]TokenRecord, error) {
	var all []TokenRecord
	if err := readJSON(s.path, &all); err != nil {
		return nil, err
	}
	return all, nil
}
