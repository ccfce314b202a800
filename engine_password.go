package tripauth

import (
	"context"

	"github.com/MrEthical07/tripauth/internal/audit"
	"github.com/MrEthical07/tripauth/internal/logging"
	"github.com/MrEthical07/tripauth/internal/stores"
	"github.com/MrEthical07/tripauth/notify"
)

// ForgotPassword describes the forgotpassword operation and its observable behavior.
//
// ForgotPassword returns nil whether or not the e-mail belongs to an active
// principal; only the internal branch differs. Failures after the lookup
// are logged, not returned. Requests are throttled per address and per
// source before the lookup, so a *RateLimitedError says nothing about the
// address either.
func (e *Engine) ForgotPassword(ctx context.Context, aud Audience, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	store, err := e.storeFor(aud)
	if err != nil {
		return err
	}

	email = stores.NormalizeEmail(email)
	if email == "" {
		return nil
	}

	if err := e.throttle(ctx, e.resetLimiter, aud, "forgot_password",
		string(aud)+":request:email:"+email,
		sourceKey(ctx, aud, "request"),
	); err != nil {
		e.emitAudit(ctx, audit.EventPasswordResetRequest, aud, "", false, err, nil)
		return err
	}

	p, err := store.FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			e.emitAudit(ctx, audit.EventPasswordResetRequest, aud, "", true, nil, map[string]string{"branch": "unknown"})
			return nil
		}
		return e.storageFailure(ctx, "principal lookup", err)
	}
	if !p.IsActive {
		e.emitAudit(ctx, audit.EventPasswordResetRequest, aud, p.ID, true, nil, map[string]string{"branch": "inactive"})
		return nil
	}

	token, err := e.ledger.Issue(ctx, string(aud), p.ID, stores.PurposeResetPassword, e.config.Tokens.ResetPasswordTTL)
	if err != nil {
		logging.LogError(ctx, e.logger, "reset token issue failed", err, "principal_id", p.ID)
		return nil
	}
	e.metrics.singleUse(stores.PurposeResetPassword, "issued")

	err = e.notifier.SendPasswordReset(ctx, notify.Message{
		Audience:    string(aud),
		Email:       p.Email,
		DisplayName: viewOf(aud, p).DisplayName(),
		Token:       token,
	})
	if err != nil {
		logging.LogError(ctx, e.logger, "reset hand-off failed", err, "principal_id", p.ID)
	}

	e.emitAudit(ctx, audit.EventPasswordResetRequest, aud, p.ID, true, nil, map[string]string{"branch": "sent"})
	return nil
}

// ResetPassword consumes a reset-password token issued for aud and sets a
// new password. The password policy is checked before the token is spent.
func (e *Engine) ResetPassword(ctx context.Context, aud Audience, token, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	store, err := e.storeFor(aud)
	if err != nil {
		return err
	}
	if err := e.throttle(ctx, e.resetLimiter, aud, "reset_password", sourceKey(ctx, aud, "confirm")); err != nil {
		e.emitAudit(ctx, audit.EventPasswordResetConfirm, aud, "", false, err, nil)
		return err
	}
	if err := e.checkPassword(newPassword); err != nil {
		return err
	}

	rec, err := e.consume(ctx, token, stores.PurposeResetPassword, aud)
	if err != nil {
		e.emitAudit(ctx, audit.EventPasswordResetConfirm, aud, "", false, err, nil)
		return err
	}

	p, err := store.FindByID(ctx, rec.PrincipalID)
	if err != nil {
		if isNotFound(err) {
			return ErrTokenExpiredOrInvalid
		}
		return e.storageFailure(ctx, "principal lookup", err)
	}
	if !p.IsActive {
		e.emitAudit(ctx, audit.EventPasswordResetConfirm, aud, p.ID, false, ErrAccountInactive, nil)
		return ErrAccountInactive
	}

	if err := e.setPassword(ctx, aud, store, p, newPassword); err != nil {
		return err
	}

	e.emitAudit(ctx, audit.EventPasswordResetConfirm, aud, p.ID, true, nil, nil)
	return nil
}

// ChangePassword re-verifies the current password before replacing it. A
// wrong current password returns ErrInvalidCredentials. Attempts count
// against the audience's login budget, keyed by principal.
func (e *Engine) ChangePassword(ctx context.Context, aud Audience, principalID, current, next string) error {
	if err := e.ready(); err != nil {
		return err
	}
	store, err := e.storeFor(aud)
	if err != nil {
		return err
	}

	limiter := e.limiterFor(aud)
	key := "change:" + principalID
	if err := e.throttle(ctx, limiter, aud, "change_password", key); err != nil {
		e.emitAudit(ctx, audit.EventPasswordChange, aud, principalID, false, err, nil)
		return err
	}

	p, err := store.FindByID(ctx, principalID)
	if err != nil {
		if isNotFound(err) {
			return ErrTokenExpiredOrInvalid
		}
		return e.storageFailure(ctx, "principal lookup", err)
	}
	if !e.verifyPassword(ctx, current, p.PasswordHash) {
		e.emitAudit(ctx, audit.EventPasswordChange, aud, p.ID, false, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if err := limiter.Reset(ctx, key); err != nil {
		logging.LogError(ctx, e.logger, "rate limit reset failed", err)
	}
	if err := e.checkPassword(next); err != nil {
		return err
	}

	if err := e.setPassword(ctx, aud, store, p, next); err != nil {
		return err
	}

	e.emitAudit(ctx, audit.EventPasswordChange, aud, p.ID, true, nil, nil)
	return nil
}

// setPassword stores a new hash, bumps the token version so every pair
// issued under the old password stops verifying, and drops any outstanding
// reset token.
func (e *Engine) setPassword(ctx context.Context, aud Audience, store stores.PrincipalStore, p stores.Principal, pw string) error {
	hash, err := e.hashPassword(pw)
	if err != nil {
		logging.LogError(ctx, e.logger, "password hash failed", err)
		return ErrPasswordPolicy
	}

	version := p.TokenVersion + 1
	if _, err := store.Update(ctx, p.ID, PrincipalUpdate{PasswordHash: &hash, TokenVersion: &version}); err != nil {
		return e.storageFailure(ctx, "principal update", err)
	}

	if err := e.ledger.Revoke(ctx, string(aud), p.ID, stores.PurposeResetPassword); err != nil {
		logging.LogError(ctx, e.logger, "reset token revoke failed", err, "principal_id", p.ID)
	}
	return nil
}
