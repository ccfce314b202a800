package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/samber/oops"
)

const (
	// KeySize is the required master key length (AES-256).
	KeySize = 32

	nonceSize = 12
	tagSize   = 16
	separator = ":"
)

var (
	// ErrDecrypt is returned when a value has the envelope shape but fails
	// authentication. Callers must treat the value as unusable.
	ErrDecrypt = errors.New("secret decryption failed")
	// ErrInvalidKey is returned by NewCipher for keys that are not KeySize bytes.
	ErrInvalidKey = errors.New("invalid secret key length")
)

// Cipher encrypts and decrypts secrets with AES-256-GCM.
//
// A Cipher is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher over a KeySize-byte master key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, oops.Code("SECRET_CIPHER_INIT_FAILED").Wrap(err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, oops.Code("SECRET_CIPHER_INIT_FAILED").Wrap(err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce. Empty input is
// returned unchanged.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", oops.Code("SECRET_NONCE_FAILED").Wrap(err)
	}

	// Seal appends the tag to the ciphertext.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(nonce) + separator +
		hex.EncodeToString(tag) + separator +
		hex.EncodeToString(body), nil
}

// Decrypt opens an envelope produced by Encrypt.
//
// Values that are not in envelope shape are returned unchanged with a nil
// error (legacy plaintext). Envelopes that fail authentication return
// ErrDecrypt and an empty string.
func (c *Cipher) Decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	nonce, tag, body, ok := parseEnvelope(value)
	if !ok {
		return value, nil
	}

	sealed := make([]byte, 0, len(body)+len(tag))
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}

	return string(plaintext), nil
}

// LooksEncrypted reports whether value has the envelope shape. It does not
// verify the authentication tag.
func LooksEncrypted(value string) bool {
	_, _, _, ok := parseEnvelope(value)
	return ok
}

func parseEnvelope(value string) (nonce, tag, body []byte, ok bool) {
	parts := strings.Split(value, separator)
	if len(parts) != 3 {
		return nil, nil, nil, false
	}
	if len(parts[0]) != nonceSize*2 || len(parts[1]) != tagSize*2 || parts[2] == "" {
		return nil, nil, nil, false
	}

	var err error
	if nonce, err = hex.DecodeString(parts[0]); err != nil {
		return nil, nil, nil, false
	}
	if tag, err = hex.DecodeString(parts[1]); err != nil {
		return nil, nil, nil, false
	}
	if body, err = hex.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, false
	}

	return nonce, tag, body, true
}
