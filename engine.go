package tripauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/tripauth/internal/audit"
	"github.com/MrEthical07/tripauth/internal/ledger"
	"github.com/MrEthical07/tripauth/internal/logging"
	"github.com/MrEthical07/tripauth/internal/rate"
	"github.com/MrEthical07/tripauth/internal/stores"
	"github.com/MrEthical07/tripauth/jwt"
	"github.com/MrEthical07/tripauth/notify"
	"github.com/MrEthical07/tripauth/password"
)

// Engine runs every credential and token flow for both audiences.
//
// Engine is built once by Builder and is safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	users  stores.PrincipalStore
	admins stores.PrincipalStore

	userLimiter   rate.Limiter
	adminLimiter  rate.Limiter
	resetLimiter  rate.Limiter
	verifyLimiter rate.Limiter

	ledger      *ledger.Ledger
	revocations stores.RevocationStore
	hasher      *password.Multi
	dummyHash   string
	jwtManager  *jwt.Manager
	notifier    notify.Notifier
	audit       *audit.Dispatcher
	metrics     *Metrics

	closers []func() error
}

// Close flushes pending audit events and releases owned stores.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	e.closeResources()
}

func (e *Engine) closeResources() {
	for _, c := range e.closers {
		if err := c(); err != nil {
			e.logger.Warn("close failed", "error", err)
		}
	}
	e.closers = nil
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) ready() error {
	if e == nil || e.jwtManager == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) storeFor(aud Audience) (stores.PrincipalStore, error) {
	switch aud {
	case AudienceEndUser:
		return e.users, nil
	case AudienceAdmin:
		return e.admins, nil
	}
	return nil, ErrInvalidInput
}

func (e *Engine) limiterFor(aud Audience) rate.Limiter {
	if aud == AudienceAdmin {
		return e.adminLimiter
	}
	return e.userLimiter
}

// throttle counts one attempt under every non-empty key and returns a
// *RateLimitedError for the first exhausted budget.
func (e *Engine) throttle(ctx context.Context, limiter rate.Limiter, aud Audience, flow string, keys ...string) error {
	for _, key := range keys {
		if key == "" {
			continue
		}
		decision, err := limiter.CheckAndRecord(ctx, key)
		if err != nil {
			return e.storageFailure(ctx, "rate limit check", err)
		}
		if !decision.Allowed {
			e.metrics.rateLimited(aud, flow)
			e.logger.InfoContext(ctx, "attempt throttled", "flow", flow, "audience", aud)
			return &RateLimitedError{RetryAfter: decision.RetryAfter}
		}
	}
	return nil
}

// sourceKey is the per-address throttle key for scope, empty when the
// caller attached no address.
func sourceKey(ctx context.Context, aud Audience, scope string) string {
	ip := clientIPFromContext(ctx)
	if ip == "" {
		return ""
	}
	return string(aud) + ":" + scope + ":ip:" + ip
}

// storageFailure logs err with full detail and returns the public signal.
func (e *Engine) storageFailure(ctx context.Context, op string, err error) error {
	logging.LogError(ctx, e.logger, op+" failed", err)
	return ErrStorageUnavailable
}

func (e *Engine) checkPassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < e.config.Password.MinLength || len(pw) > e.config.Password.MaxLength {
		return ErrPasswordPolicy
	}
	return nil
}

func (e *Engine) hashPassword(pw string) (string, error) {
	start := time.Now()
	defer e.metrics.observeHash(start)
	return e.hasher.Hash(pw)
}

// verifyPassword checks pw against hash. Unknown or malformed hashes count
// as a mismatch and are logged.
func (e *Engine) verifyPassword(ctx context.Context, pw, hash string) bool {
	start := time.Now()
	defer e.metrics.observeHash(start)

	ok, err := e.hasher.Verify(pw, hash)
	if err != nil {
		logging.LogError(ctx, e.logger, "password verification failed", err)
		return false
	}
	return ok
}

// burnDummyHash spends the same work as a real verification so missing
// principals are not distinguishable by latency.
func (e *Engine) burnDummyHash(pw string) {
	start := time.Now()
	defer e.metrics.observeHash(start)
	_, _ = e.hasher.Verify(pw, e.dummyHash)
}

func (e *Engine) issuePair(ctx context.Context, aud Audience, p stores.Principal) (TokenPair, error) {
	pair, err := e.jwtManager.IssuePair(subjectOf(p), aud)
	if err != nil {
		logging.LogError(ctx, e.logger, "token issue failed", err, "audience", aud)
		return TokenPair{}, err
	}
	e.metrics.pairIssued(aud)

	return TokenPair{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        pair.TokenType,
		ExpiresIn:        pair.ExpiresIn,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

// revoke records the token id until the token could no longer verify. It
// reports whether this call revoked it first.
func (e *Engine) revoke(ctx context.Context, claims *jwt.Claims) (bool, error) {
	if claims == nil || claims.ExpiresAt == nil {
		return false, nil
	}
	until := claims.ExpiresAt.Time.Add(e.config.JWT.Leeway + time.Second)
	return e.revocations.Revoke(ctx, claims.ID, until)
}

func (e *Engine) isRevoked(ctx context.Context, claims *jwt.Claims) (bool, error) {
	return e.revocations.IsRevoked(ctx, claims.ID)
}

func normalizeName(s string) string {
	return strings.TrimSpace(s)
}

func isNotFound(err error) bool {
	return errors.Is(err, stores.ErrNotFound)
}
