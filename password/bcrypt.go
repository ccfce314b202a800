package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBCryptCost is the work factor used when none is configured.
	DefaultBCryptCost = 12
	// bcrypt silently ignores input beyond 72 bytes; reject instead.
	bcryptMaxPasswordBytes = 72
)

// BCrypt hashes passwords with bcrypt at a fixed cost.
type BCrypt struct {
	cost int
}

// NewBCrypt validates cost and returns a BCrypt hasher.
func NewBCrypt(cost int) (*BCrypt, error) {
	if cost == 0 {
		cost = DefaultBCryptCost
	}
	if cost < 10 || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost must be between 10 and 31")
	}
	return &BCrypt{cost: cost}, nil
}

// Hash returns a bcrypt hash with a fresh salt.
func (b *BCrypt) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > bcryptMaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares in constant time with respect to the mismatch position.
func (b *BCrypt) Verify(password, encodedHash string) (bool, error) {
	if !isBCryptHash(encodedHash) {
		return false, ErrUnknownFormat
	}
	if len(password) > bcryptMaxPasswordBytes {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// NeedsUpgrade reports hashes produced with a lower cost.
func (b *BCrypt) NeedsUpgrade(encodedHash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false, err
	}
	return cost < b.cost, nil
}

func isBCryptHash(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}
