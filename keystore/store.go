// Package keystore lazily creates and persists the fixed-length random keys
// the core depends on: the master key used by package secret and the token
// signing key.
//
// A key is generated on first use, published with an exclusive create so
// that racing processes settle on a single key, and never rotated. Losing the
// key file makes previously encrypted secrets and issued tokens unusable;
// that is an accepted operational risk. A store that cannot persist its key
// fails instead of handing out an ephemeral one.
package keystore

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/samber/oops"

	"github.com/MrEthical07/tripauth/internal/fsutil"
)

const (
	// MasterKeySize is the length of the key used for secrets at rest.
	MasterKeySize = 32
	// SigningKeySize is the length of the HMAC token signing key.
	SigningKeySize = 64
)

var (
	// ErrCorruptKey is returned when the key file exists but cannot be decoded
	// into a key of the expected length.
	ErrCorruptKey = errors.New("key file is corrupt")
)

// Store manages one key file.
type Store struct {
	path string
	size int

	mu  sync.Mutex
	key []byte
}

// New returns a Store for the key file at path holding size random bytes.
func New(path string, size int) *Store {
	return &Store{path: path, size: size}
}

// Path returns the key file location.
func (s *Store) Path() string {
	return s.path
}

// GetOrCreate returns the persisted key, generating and persisting it first
// if no key file exists yet. Every call on the same Store returns the same
// bytes.
func (s *Store) GetOrCreate(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		return bytes.Clone(s.key), nil
	}

	key, err := s.load()
	if errors.Is(err, fs.ErrNotExist) {
		key, err = s.create()
	}
	if err != nil {
		return nil, err
	}

	s.key = key
	return bytes.Clone(key), nil
}

func (s *Store) load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, oops.Code("KEYSTORE_READ_FAILED").
			With("path", s.path).
			Wrap(err)
	}

	key, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil || len(key) != s.size {
		return nil, oops.Code("KEYSTORE_CORRUPT").
			With("path", s.path).
			With("expected_bytes", s.size).
			Wrap(ErrCorruptKey)
	}

	return key, nil
}

func (s *Store) create() ([]byte, error) {
	key := make([]byte, s.size)
	if _, err := rand.Read(key); err != nil {
		return nil, oops.Code("KEYSTORE_GENERATE_FAILED").Wrap(err)
	}

	encoded := []byte(hex.EncodeToString(key) + "\n")
	if err := fsutil.CreateExclusive(s.path, encoded, 0o600); err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Another process published first; its key wins.
			return s.load()
		}
		return nil, oops.Code("KEYSTORE_WRITE_FAILED").
			With("path", s.path).
			Wrap(err)
	}

	return key, nil
}

// Fingerprint returns a short, non-reversible identifier for key suitable
// for operator output.
func Fingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}
