package tripauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/tripauth/internal/audit"
	"github.com/MrEthical07/tripauth/internal/ledger"
	"github.com/MrEthical07/tripauth/internal/stores"
)

// VerifyEmail describes the verifyemail operation and its observable behavior.
//
// VerifyEmail consumes a verify-email token and marks its end-user
// verified. The token works once; unknown, used and expired tokens return
// ErrTokenExpiredOrInvalid. Redemptions are throttled per source.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*PrincipalView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.throttle(ctx, e.verifyLimiter, AudienceEndUser, "verify_email", sourceKey(ctx, AudienceEndUser, "confirm")); err != nil {
		e.emitAudit(ctx, audit.EventVerifyEmail, AudienceEndUser, "", false, err, nil)
		return nil, err
	}

	rec, err := e.consume(ctx, token, stores.PurposeVerifyEmail, AudienceEndUser)
	if err != nil {
		e.emitAudit(ctx, audit.EventVerifyEmail, AudienceEndUser, "", false, err, nil)
		return nil, err
	}

	verified := true
	p, err := e.users.Update(ctx, rec.PrincipalID, PrincipalUpdate{IsVerified: &verified})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTokenExpiredOrInvalid
		}
		return nil, e.storageFailure(ctx, "principal update", err)
	}

	e.emitAudit(ctx, audit.EventVerifyEmail, AudienceEndUser, p.ID, true, nil, nil)
	view := viewOf(AudienceEndUser, p)
	return &view, nil
}

// ResendVerification replaces the end-user's verification token with a new
// one and sends it. Verified principals get ErrAlreadyVerified. Resends
// are throttled per principal and per source.
func (e *Engine) ResendVerification(ctx context.Context, principalID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.throttle(ctx, e.verifyLimiter, AudienceEndUser, "resend_verification",
		string(AudienceEndUser)+":request:id:"+principalID,
		sourceKey(ctx, AudienceEndUser, "request"),
	); err != nil {
		return err
	}

	p, err := e.users.FindByID(ctx, principalID)
	if err != nil {
		if isNotFound(err) {
			return ErrTokenExpiredOrInvalid
		}
		return e.storageFailure(ctx, "principal lookup", err)
	}
	if p.IsVerified {
		return ErrAlreadyVerified
	}

	if err := e.sendVerification(ctx, p); err != nil {
		return e.storageFailure(ctx, "verification hand-off", err)
	}

	e.emitAudit(ctx, audit.EventVerificationResent, AudienceEndUser, p.ID, true, nil, nil)
	return nil
}

// consume spends a single-use token issued for aud and purpose. A token
// presented to the wrong audience is rejected without being spent.
func (e *Engine) consume(ctx context.Context, token, purpose string, aud Audience) (stores.TokenRecord, error) {
	rec, err := e.ledger.Consume(ctx, token, string(aud), purpose)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			e.metrics.singleUse(purpose, "rejected")
			return stores.TokenRecord{}, ErrTokenExpiredOrInvalid
		}
		return stores.TokenRecord{}, e.storageFailure(ctx, "token consume", err)
	}
	e.metrics.singleUse(purpose, "consumed")
	return rec, nil
}
