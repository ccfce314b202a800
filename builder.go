package tripauth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/MrEthical07/tripauth/internal/audit"
	"github.com/MrEthical07/tripauth/internal/ledger"
	"github.com/MrEthical07/tripauth/internal/logging"
	"github.com/MrEthical07/tripauth/internal/rate"
	"github.com/MrEthical07/tripauth/internal/sqlstore"
	"github.com/MrEthical07/tripauth/internal/stores"
	"github.com/MrEthical07/tripauth/jwt"
	"github.com/MrEthical07/tripauth/keystore"
	"github.com/MrEthical07/tripauth/notify"
	"github.com/MrEthical07/tripauth/password"
)

// File names inside Storage.DataDir and Storage.KeyDir.
const (
	UsersFile      = "users.json"
	AdminsFile     = "admins.json"
	TokensFile     = "tokens.json"
	SigningKeyFile = "signing.key"
	MasterKeyFile  = "master.key"
)

const dummyPassword = "tripauth-timing-equalisation"

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	logger    *slog.Logger
	notifier  notify.Notifier
	auditSink AuditSink
	registry  prometheus.Registerer
	now       func() time.Time

	users  stores.PrincipalStore
	admins stores.PrincipalStore

	built bool
}

// New returns a Builder carrying DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client used by every "redis" backend.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the structured logger. The default discards.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithNotifier sets where verification and reset messages go. The default
// logs a token fingerprint through the engine logger.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// The sink receives events on the dispatcher goroutine; the default logs
// them through the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsRegistry registers the engine collectors on reg.
func (b *Builder) WithMetricsRegistry(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithPrincipalStores replaces the configured storage driver with caller
// supplied stores.
func (b *Builder) WithPrincipalStores(users, admins PrincipalStore) *Builder {
	b.users = users
	b.admins = admins
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration, loads or creates the signing key and
// opens every store. Any failure aborts; there is no degraded mode.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.needsRedis() && b.redis == nil {
		return nil, errors.New("redis client required by configured backends")
	}
	if (b.users == nil) != (b.admins == nil) {
		return nil, errors.New("both principal stores must be provided")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = logging.Discard()
	}

	engine := &Engine{
		config: cfg,
		logger: logger,
		now:    now,
	}
	ok := false
	defer func() {
		if !ok {
			engine.closeResources()
		}
	}()

	// -------- SIGNING KEY --------
	signingKey := cloneBytes(cfg.JWT.SigningKey)
	if len(signingKey) == 0 {
		key, err := keystore.New(filepath.Join(cfg.Storage.KeyDir, SigningKeyFile), keystore.SigningKeySize).GetOrCreate(context.Background())
		if err != nil {
			return nil, oops.Code("SIGNING_KEY_UNAVAILABLE").With("dir", cfg.Storage.KeyDir).Wrap(err)
		}
		if cfg.JWT.SigningMethod == string(jwt.MethodEd25519) {
			key = key[:ed25519.SeedSize]
		}
		signingKey = key
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		Key:           signingKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	// -------- PRINCIPAL STORES --------
	if b.users != nil {
		engine.users, engine.admins = b.users, b.admins
	} else if err := engine.openPrincipalStores(); err != nil {
		return nil, err
	}

	// -------- SINGLE-USE TOKENS --------
	var tokenStore stores.TokenStore
	switch cfg.Storage.TokenBackend {
	case "redis":
		tokenStore = stores.NewRedisTokenStore(b.redis, cfg.Storage.RedisPrefix)
	default:
		tokenStore = stores.NewFileTokenStore(filepath.Join(cfg.Storage.DataDir, TokensFile))
	}
	engine.ledger = ledger.New(tokenStore, now)

	// -------- RATE LIMITERS --------
	newLimiter := func(scope string, p RateLimitPolicy) (rate.Limiter, error) {
		policy := rate.Config{Window: p.Window, MaxAttempts: p.MaxAttempts}
		if cfg.RateLimit.Backend == "redis" {
			return rate.NewRedis(b.redis, cfg.RateLimit.RedisPrefix+":"+scope, policy)
		}
		return rate.NewMemory(policy, now)
	}
	for _, l := range []struct {
		dst    *rate.Limiter
		scope  string
		policy RateLimitPolicy
	}{
		{&engine.userLimiter, "user", cfg.RateLimit.User},
		{&engine.adminLimiter, "admin", cfg.RateLimit.Admin},
		{&engine.resetLimiter, "reset", cfg.RateLimit.PasswordReset},
		{&engine.verifyLimiter, "verify", cfg.RateLimit.Verification},
	} {
		if *l.dst, err = newLimiter(l.scope, l.policy); err != nil {
			return nil, err
		}
	}

	// -------- REVOCATION --------
	switch cfg.Revocation.Backend {
	case "redis":
		engine.revocations = stores.NewRedisRevocationStore(b.redis, cfg.Revocation.RedisPrefix, now)
	default:
		engine.revocations = stores.NewMemoryRevocationStore(now)
	}

	// -------- PASSWORD HASHING --------
	bc, err := password.NewBCrypt(cfg.Password.BcryptCost)
	if err != nil {
		return nil, err
	}
	argon, err := password.NewArgon2(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	var primary password.Hasher = bc
	if cfg.Password.Algorithm == "argon2id" {
		primary = argon
	}
	engine.hasher = password.NewMulti(primary, bc, argon)
	engine.dummyHash, err = engine.hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	// -------- NOTIFY / AUDIT / METRICS --------
	engine.notifier = b.notifier
	if engine.notifier == nil {
		engine.notifier = notify.NewLogNotifier(logger)
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewSlogSink(logger)
	}
	if cfg.Metrics.Enabled {
		engine.metrics = NewMetrics(cfg.Metrics.Namespace, b.registry)
	}

	metrics := engine.metrics
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop: func(ev audit.Event) {
			metrics.auditDropped(ev.EventType)
		},
	}, sink)

	ok = true
	b.built = true

	return engine, nil
}

func (e *Engine) openPrincipalStores() error {
	dir := e.config.Storage.DataDir
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.Code("DATA_DIR_UNAVAILABLE").With("dir", dir).Wrap(err)
	}

	switch e.config.Storage.Driver {
	case "sqlite":
		db, err := sqlstore.Open(dir, e.now)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, db.Close)
		if e.users, err = db.Principals(sqlstore.TableUsers); err != nil {
			return err
		}
		if e.admins, err = db.Principals(sqlstore.TableAdmins); err != nil {
			return err
		}
	default:
		e.users = stores.NewFilePrincipalStore(filepath.Join(dir, UsersFile), e.now)
		e.admins = stores.NewFilePrincipalStore(filepath.Join(dir, AdminsFile), e.now)
	}
	return nil
}
