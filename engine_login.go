package tripauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/tripauth/internal/audit"
	"github.com/MrEthical07/tripauth/internal/logging"
	"github.com/MrEthical07/tripauth/internal/stores"
	"github.com/MrEthical07/tripauth/jwt"
)

// Login describes the login operation and its observable behavior.
//
// The attempt is counted against the caller's source address (see
// WithClientIP) before any lookup. An unknown e-mail, a wrong password and a
// deactivated account all return ErrInvalidCredentials. Unverified
// principals may log in. A successful login clears the source's bucket.
func (e *Engine) Login(ctx context.Context, aud Audience, email, pw string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	store, err := e.storeFor(aud)
	if err != nil {
		return nil, err
	}

	email = stores.NormalizeEmail(email)
	limiter := e.limiterFor(aud)
	key := rateKey(ctx, email)

	decision, err := limiter.CheckAndRecord(ctx, key)
	if err != nil {
		return nil, e.storageFailure(ctx, "rate limit check", err)
	}
	if !decision.Allowed {
		e.metrics.rateLimited(aud, "login")
		e.metrics.login(aud, "rate_limited")
		rlErr := &RateLimitedError{RetryAfter: decision.RetryAfter}
		e.emitAudit(ctx, audit.EventLoginRateLimited, aud, "", false, rlErr, nil)
		return nil, rlErr
	}

	fail := func(principalID string, cause string) (*AuthResult, error) {
		e.metrics.login(aud, "failure")
		e.emitAudit(ctx, audit.EventLogin, aud, principalID, false, ErrInvalidCredentials, map[string]string{"reason": cause})
		return nil, ErrInvalidCredentials
	}

	if email == "" || pw == "" {
		e.burnDummyHash(pw)
		return fail("", "missing_input")
	}

	p, err := store.FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			e.burnDummyHash(pw)
			return fail("", "unknown_email")
		}
		return nil, e.storageFailure(ctx, "principal lookup", err)
	}

	if !e.verifyPassword(ctx, pw, p.PasswordHash) {
		return fail(p.ID, "bad_password")
	}
	if !p.IsActive {
		return fail(p.ID, "inactive")
	}

	if err := limiter.Reset(ctx, key); err != nil {
		logging.LogError(ctx, e.logger, "rate limit reset failed", err)
	}

	update := PrincipalUpdate{}
	now := e.now().UTC()
	update.LastLoginAt = &now
	if upgrade, _ := e.hasher.NeedsUpgrade(p.PasswordHash); upgrade {
		if rehashed, err := e.hashPassword(pw); err == nil {
			update.PasswordHash = &rehashed
		} else {
			logging.LogError(ctx, e.logger, "password rehash failed", err)
		}
	}
	p, err = store.Update(ctx, p.ID, update)
	if err != nil {
		return nil, e.storageFailure(ctx, "principal update", err)
	}

	tokens, err := e.issuePair(ctx, aud, p)
	if err != nil {
		return nil, err
	}

	e.metrics.login(aud, "success")
	e.emitAudit(ctx, audit.EventLogin, aud, p.ID, true, nil, nil)

	return &AuthResult{Principal: viewOf(aud, p), Tokens: tokens}, nil
}

// rateKey buckets attempts by source address, or by e-mail when the caller
// did not attach one.
func rateKey(ctx context.Context, email string) string {
	if ip := clientIPFromContext(ctx); ip != "" {
		return "ip:" + ip
	}
	return "email:" + email
}

// Refresh describes the refresh operation and its observable behavior.
//
// The presented refresh token is revoked and a new pair is issued. A
// replayed, expired, revoked or cross-audience token returns
// ErrTokenExpiredOrInvalid, as does one issued before the last password
// change. A deactivated principal gets ErrAccountInactive.
func (e *Engine) Refresh(ctx context.Context, aud Audience, refreshToken string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	store, err := e.storeFor(aud)
	if err != nil {
		return nil, err
	}

	claims, err := e.verifyToken(ctx, refreshToken, jwt.KindRefresh, aud)
	if err != nil {
		e.emitAudit(ctx, audit.EventRefresh, aud, "", false, err, nil)
		return nil, err
	}

	p, err := store.FindByID(ctx, claims.PrincipalID())
	if err != nil {
		if isNotFound(err) {
			e.emitAudit(ctx, audit.EventRefresh, aud, claims.PrincipalID(), false, ErrTokenExpiredOrInvalid, nil)
			return nil, ErrTokenExpiredOrInvalid
		}
		return nil, e.storageFailure(ctx, "principal lookup", err)
	}
	if !p.IsActive {
		e.emitAudit(ctx, audit.EventRefresh, aud, p.ID, false, ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}
	if claims.Version != p.TokenVersion {
		e.emitAudit(ctx, audit.EventRefresh, aud, p.ID, false, ErrTokenExpiredOrInvalid, map[string]string{"reason": "stale_credentials"})
		return nil, ErrTokenExpiredOrInvalid
	}

	first, err := e.revoke(ctx, claims)
	if err != nil {
		return nil, e.storageFailure(ctx, "refresh revocation", err)
	}
	if !first {
		// Lost a race with a concurrent refresh of the same token.
		e.emitAudit(ctx, audit.EventRefresh, aud, p.ID, false, ErrTokenExpiredOrInvalid, map[string]string{"reason": "replay"})
		return nil, ErrTokenExpiredOrInvalid
	}

	tokens, err := e.issuePair(ctx, aud, p)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, audit.EventRefresh, aud, p.ID, true, nil, nil)
	return &AuthResult{Principal: viewOf(aud, p), Tokens: tokens}, nil
}

// Logout revokes whichever of the two tokens verify for aud. Tokens that do
// not verify are ignored, so Logout is idempotent.
func (e *Engine) Logout(ctx context.Context, aud Audience, accessToken, refreshToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !aud.Valid() {
		return ErrInvalidInput
	}

	var principalID string
	for _, t := range []struct {
		token string
		kind  jwt.Kind
	}{
		{accessToken, jwt.KindAccess},
		{refreshToken, jwt.KindRefresh},
	} {
		if t.token == "" {
			continue
		}
		claims, err := e.jwtManager.Verify(t.token, t.kind, aud)
		if err != nil {
			continue
		}
		principalID = claims.PrincipalID()
		if _, err := e.revoke(ctx, claims); err != nil {
			return e.storageFailure(ctx, "logout revocation", err)
		}
	}

	e.emitAudit(ctx, audit.EventLogout, aud, principalID, true, nil, nil)
	return nil
}

// Authenticate describes the authenticate operation and its observable behavior.
//
// It is the check every protected request goes through: the access token
// must verify for aud, must not be revoked, must name an existing principal
// and must predate no password change. Deactivated principals get
// ErrAccountInactive.
func (e *Engine) Authenticate(ctx context.Context, aud Audience, accessToken string) (*Identity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	store, err := e.storeFor(aud)
	if err != nil {
		return nil, err
	}

	claims, err := e.verifyToken(ctx, accessToken, jwt.KindAccess, aud)
	if err != nil {
		return nil, err
	}

	p, err := store.FindByID(ctx, claims.PrincipalID())
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTokenExpiredOrInvalid
		}
		return nil, e.storageFailure(ctx, "principal lookup", err)
	}
	if !p.IsActive {
		return nil, ErrAccountInactive
	}
	if claims.Version != p.TokenVersion {
		// Issued before the last password change.
		return nil, ErrTokenExpiredOrInvalid
	}

	id := &Identity{
		PrincipalID: p.ID,
		Audience:    aud,
		Email:       p.Email,
		TokenID:     claims.ID,
	}
	if aud == AudienceAdmin {
		// The stored role wins over the claim so demotions apply at once.
		id.Role = p.Role
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// verifyToken checks signature, kind, audience and revocation, collapsing
// every failure into ErrTokenExpiredOrInvalid.
func (e *Engine) verifyToken(ctx context.Context, token string, kind jwt.Kind, aud Audience) (*jwt.Claims, error) {
	claims, err := e.jwtManager.Verify(token, kind, aud)
	if err != nil {
		if !errors.Is(err, jwt.ErrTokenInvalid) {
			logging.LogError(ctx, e.logger, "token verification failed", err)
		}
		e.logger.DebugContext(ctx, "token rejected", "kind", kind, "audience", aud, "expired", jwt.IsExpired(err))
		return nil, ErrTokenExpiredOrInvalid
	}

	revoked, err := e.isRevoked(ctx, claims)
	if err != nil {
		return nil, e.storageFailure(ctx, "revocation lookup", err)
	}
	if revoked {
		return nil, ErrTokenExpiredOrInvalid
	}
	return claims, nil
}
