package password

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password cannot be empty")
	// ErrPasswordTooLong is returned for passwords beyond what the algorithm accepts.
	ErrPasswordTooLong = errors.New("password too long")
	// ErrUnknownFormat is returned when a stored hash matches no supported algorithm.
	ErrUnknownFormat = errors.New("unknown password hash format")
	// ErrMalformedHash is wrapped when a stored hash names a supported
	// algorithm but cannot be decoded.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Hasher hashes and verifies passwords.
type Hasher interface {
	// Hash derives a new salted hash. Two calls with the same password
	// never return the same string.
	Hash(password string) (string, error)

	// Verify reports whether password matches encodedHash. A mismatch is
	// (false, nil); a malformed hash is an error.
	Verify(password, encodedHash string) (bool, error)

	// NeedsUpgrade reports whether encodedHash was produced with weaker or
	// different parameters than the hasher's current configuration.
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Multi hashes with Primary and verifies with whichever supported algorithm
// produced the stored hash.
type Multi struct {
	Primary Hasher
	BCrypt  *BCrypt
	Argon2  *Argon2
}

// NewMulti builds a Multi whose primary is either bcrypt or argon2.
// Verification of the other format uses the supplied hasher when non-nil.
func NewMulti(primary Hasher, bcrypt *BCrypt, argon *Argon2) *Multi {
	return &Multi{Primary: primary, BCrypt: bcrypt, Argon2: argon}
}

// Hash delegates to the primary hasher.
func (m *Multi) Hash(password string) (string, error) {
	return m.Primary.Hash(password)
}

// Verify dispatches on the hash prefix.
func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	h, err := m.forHash(encodedHash)
	if err != nil {
		return false, err
	}
	return h.Verify(password, encodedHash)
}

// NeedsUpgrade is true when the hash is not in the primary format, or is in
// the primary format with weaker parameters.
func (m *Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	h, err := m.forHash(encodedHash)
	if err != nil {
		return false, err
	}
	if h != m.Primary {
		return true, nil
	}
	return h.NeedsUpgrade(encodedHash)
}

func (m *Multi) forHash(encodedHash string) (Hasher, error) {
	switch {
	case isBCryptHash(encodedHash):
		if m.BCrypt != nil {
			return m.BCrypt, nil
		}
	case strings.HasPrefix(encodedHash, argonPrefix):
		if m.Argon2 != nil {
			return m.Argon2, nil
		}
	}
	return nil, ErrUnknownFormat
}
