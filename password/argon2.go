package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Floors below which an argon2id configuration, or a stored hash, is
// refused.
const (
	argonMinMemoryKiB   = 8 * 1024
	argonMinTime        = 1
	argonMinThreads     = 1
	argonMinSaltBytes   = 16
	argonMinKeyBytes    = 16
	argonMaxInputBytes  = 1024
	argonPrefix         = "$argon2id$"
	argonParamsTemplate = "m=%d,t=%d,p=%d"
)

// Argon2Config holds argon2id work parameters.
type Argon2Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config returns the OWASP-recommended argon2id parameters.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (c Argon2Config) validate() error {
	switch {
	case c.Memory < argonMinMemoryKiB:
		return oops.Code("PASSWORD_WEAK_CONFIG").Errorf("argon2 memory %d KiB is below %d", c.Memory, argonMinMemoryKiB)
	case c.Time < argonMinTime:
		return oops.Code("PASSWORD_WEAK_CONFIG").Errorf("argon2 time must be at least %d", argonMinTime)
	case c.Parallelism < argonMinThreads:
		return oops.Code("PASSWORD_WEAK_CONFIG").Errorf("argon2 parallelism must be at least %d", argonMinThreads)
	case c.SaltLength < argonMinSaltBytes:
		return oops.Code("PASSWORD_WEAK_CONFIG").Errorf("argon2 salt must be at least %d bytes", argonMinSaltBytes)
	case c.KeyLength < argonMinKeyBytes:
		return oops.Code("PASSWORD_WEAK_CONFIG").Errorf("argon2 key must be at least %d bytes", argonMinKeyBytes)
	}
	return nil
}

// Argon2 hashes passwords with argon2id and encodes them as PHC strings:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
//
// Salt and key use unpadded standard base64.
type Argon2 struct {
	config Argon2Config
}

// NewArgon2 validates cfg against minimum work parameters.
func NewArgon2(cfg Argon2Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives an argon2id hash with a fresh random salt. Input bytes are
// hashed as given, without Unicode normalisation.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > argonMaxInputBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("PASSWORD_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return argonPrefix +
		fmt.Sprintf("v=%d$", argon2.Version) +
		fmt.Sprintf(argonParamsTemplate, a.config.Memory, a.config.Time, a.config.Parallelism) + "$" +
		base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(key), nil
}

// Verify re-derives the key with the stored parameters and compares in
// constant time.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	stored, err := decodeArgon(encodedHash)
	if err != nil {
		return false, err
	}
	if len(password) > argonMaxInputBytes {
		return false, nil
	}

	key := argon2.IDKey([]byte(password), stored.salt, stored.time, stored.memory, stored.threads, uint32(len(stored.key)))
	return subtle.ConstantTimeCompare(key, stored.key) == 1, nil
}

// NeedsUpgrade reports hashes produced with less memory, fewer passes or
// fewer threads than configured, or with a different key length.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	stored, err := decodeArgon(encodedHash)
	if err != nil {
		return false, err
	}

	weaker := stored.memory < a.config.Memory ||
		stored.time < a.config.Time ||
		stored.threads < a.config.Parallelism ||
		uint32(len(stored.key)) != a.config.KeyLength
	return weaker, nil
}

type argonHash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func malformed(format string, args ...any) error {
	return oops.Code("PASSWORD_MALFORMED_HASH").Wrapf(ErrMalformedHash, format, args...)
}

func decodeArgon(encoded string) (argonHash, error) {
	if !strings.HasPrefix(encoded, argonPrefix) {
		return argonHash{}, malformed("not an argon2id hash")
	}
	// "", "argon2id", version, params, salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return argonHash{}, malformed("expected 6 segments, got %d", len(parts))
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return argonHash{}, malformed("version segment %q", parts[2])
	}
	if version != argon2.Version {
		return argonHash{}, malformed("argon2 version %d", version)
	}

	var memory, passes, threads uint32
	if _, err := fmt.Sscanf(parts[3], argonParamsTemplate, &memory, &passes, &threads); err != nil ||
		fmt.Sprintf(argonParamsTemplate, memory, passes, threads) != parts[3] {
		return argonHash{}, malformed("parameter segment %q", parts[3])
	}
	if memory < argonMinMemoryKiB || passes < argonMinTime || threads < argonMinThreads || threads > 255 {
		return argonHash{}, malformed("parameters out of range")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < argonMinSaltBytes {
		return argonHash{}, malformed("salt segment")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return argonHash{}, malformed("key segment")
	}

	return argonHash{memory: memory, time: passes, threads: uint8(threads), salt: salt, key: key}, nil
}
