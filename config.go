package tripauth

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/tripauth/password"
)

// Config defines the engine settings.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT        JWTConfig
	Password   PasswordConfig
	Tokens     TokensConfig
	RateLimit  RateLimitConfig
	Storage    StorageConfig
	Revocation RevocationConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the token signer. When SigningKey is empty the key
// is loaded from (or created in) Storage.KeyDir.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	SigningKey    []byte
	Issuer        string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the credential hashing scheme.
type PasswordConfig struct {
	Algorithm  string // "bcrypt" (default) or "argon2id"
	BcryptCost int
	Argon2     password.Argon2Config
	MinLength  int
	MaxLength  int
}

/*
====================================
SINGLE-USE TOKEN CONFIG
====================================
*/

// TokensConfig sets single-use token lifetimes.
type TokensConfig struct {
	VerifyEmailTTL   time.Duration
	ResetPasswordTTL time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitPolicy is one fixed-window attempt budget.
type RateLimitPolicy struct {
	Window      time.Duration
	MaxAttempts int
}

// RateLimitConfig configures attempt throttling. User and Admin bound
// login and change-password attempts per audience. PasswordReset bounds
// reset requests and redemptions, Verification bounds verification resends
// and redemptions; both apply per e-mail or principal and per source.
type RateLimitConfig struct {
	User          RateLimitPolicy
	Admin         RateLimitPolicy
	PasswordReset RateLimitPolicy
	Verification  RateLimitPolicy
	Backend       string // "memory" (default) or "redis"
	RedisPrefix   string
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig locates durable state.
type StorageConfig struct {
	// Driver is "file" (JSON files, default) or "sqlite".
	Driver string
	// DataDir holds principal records and single-use tokens.
	DataDir string
	// KeyDir holds master.key and signing.key.
	KeyDir string
	// TokenBackend is "file" (default) or "redis".
	TokenBackend string
	RedisPrefix  string
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig selects where revoked token ids are kept.
type RevocationConfig struct {
	Backend     string // "memory" (default) or "redis"
	RedisPrefix string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls audit dispatching.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls Prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "tripauth",
		},
		Password: PasswordConfig{
			Algorithm:  "bcrypt",
			BcryptCost: password.DefaultBCryptCost,
			Argon2:     password.DefaultArgon2Config(),
			MinLength:  8,
			MaxLength:  72,
		},
		Tokens: TokensConfig{
			VerifyEmailTTL:   24 * time.Hour,
			ResetPasswordTTL: time.Hour,
		},
		RateLimit: RateLimitConfig{
			User:          RateLimitPolicy{Window: 15 * time.Minute, MaxAttempts: 5},
			Admin:         RateLimitPolicy{Window: 30 * time.Minute, MaxAttempts: 5},
			PasswordReset: RateLimitPolicy{Window: time.Hour, MaxAttempts: 5},
			Verification:  RateLimitPolicy{Window: time.Hour, MaxAttempts: 5},
			Backend:       "memory",
			RedisPrefix:   "trl",
		},
		Storage: StorageConfig{
			Driver:       "file",
			DataDir:      "data",
			KeyDir:       "keys",
			TokenBackend: "file",
			RedisPrefix:  "tat",
		},
		Revocation: RevocationConfig{
			Backend:     "memory",
			RedisPrefix: "trv",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "tripauth",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.SigningKey = cloneBytes(cfg.JWT.SigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate describes the validate operation and its observable behavior.
//
// Validate returns the first configuration problem found, or nil.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.SigningMethod != "hs256" && c.JWT.SigningMethod != "ed25519" {
		return errors.New("unsupported JWT signing method")
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		return errors.New("JWT Issuer must be set")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Password
	switch c.Password.Algorithm {
	case "bcrypt":
		if c.Password.BcryptCost < 10 || c.Password.BcryptCost > 31 {
			return errors.New("Password BcryptCost must be between 10 and 31")
		}
	case "argon2id":
		if c.Password.Argon2.Memory < 8*1024 {
			return errors.New("Password Argon2 Memory must be >= 8192 KB")
		}
		if c.Password.Argon2.Time < 1 || c.Password.Argon2.Parallelism < 1 {
			return errors.New("Password Argon2 Time and Parallelism must be >= 1")
		}
	default:
		return errors.New("Password Algorithm must be 'bcrypt' or 'argon2id'")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.Algorithm == "bcrypt" && c.Password.MaxLength > 72 {
		return errors.New("Password MaxLength must be <= 72 for bcrypt")
	}

	// Single-use tokens
	if c.Tokens.VerifyEmailTTL <= 0 || c.Tokens.ResetPasswordTTL <= 0 {
		return errors.New("Tokens TTLs must be > 0")
	}

	// Rate limits
	for name, p := range map[string]RateLimitPolicy{
		"User":          c.RateLimit.User,
		"Admin":         c.RateLimit.Admin,
		"PasswordReset": c.RateLimit.PasswordReset,
		"Verification":  c.RateLimit.Verification,
	} {
		if p.Window <= 0 || p.MaxAttempts <= 0 {
			return errors.New("RateLimit " + name + " Window and MaxAttempts must be > 0")
		}
	}
	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		return errors.New("RateLimit Backend must be 'memory' or 'redis'")
	}

	// Storage
	if c.Storage.Driver != "file" && c.Storage.Driver != "sqlite" {
		return errors.New("Storage Driver must be 'file' or 'sqlite'")
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return errors.New("Storage DataDir must be set")
	}
	if len(c.JWT.SigningKey) == 0 && strings.TrimSpace(c.Storage.KeyDir) == "" {
		return errors.New("Storage KeyDir must be set when no JWT SigningKey is given")
	}
	if c.Storage.TokenBackend != "file" && c.Storage.TokenBackend != "redis" {
		return errors.New("Storage TokenBackend must be 'file' or 'redis'")
	}

	// Revocation
	if c.Revocation.Backend != "memory" && c.Revocation.Backend != "redis" {
		return errors.New("Revocation Backend must be 'memory' or 'redis'")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

func (c *Config) needsRedis() bool {
	return c.RateLimit.Backend == "redis" ||
		c.Storage.TokenBackend == "redis" ||
		c.Revocation.Backend == "redis"
}
