package tripauth

import (
	"context"
	"errors"
	"net/mail"
	"strconv"

	"github.com/google/uuid"

	"github.com/MrEthical07/tripauth/internal/audit"
	"github.com/MrEthical07/tripauth/internal/logging"
	"github.com/MrEthical07/tripauth/internal/stores"
	"github.com/MrEthical07/tripauth/notify"
)

const (
	maxEmailLength = 254
	maxNameLength  = 100
)

func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func validName(name string) bool {
	return len(name) <= maxNameLength
}

// Register describes the register operation and its observable behavior.
//
// Register creates an unverified end-user, issues an e-mail verification
// token, hands it to the notifier and signs the caller in. A notifier
// failure is logged; the account still exists and ResendVerification can
// be used.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email := stores.NormalizeEmail(in.Email)
	first, last := normalizeName(in.FirstName), normalizeName(in.LastName)
	if !validEmail(email) || !validName(first) || !validName(last) {
		return nil, ErrInvalidInput
	}
	if err := e.checkPassword(in.Password); err != nil {
		return nil, err
	}

	p, err := e.createPrincipal(ctx, AudienceEndUser, Principal{
		Email:     email,
		FirstName: first,
		LastName:  last,
		IsActive:  true,
	}, in.Password)
	if err != nil {
		e.emitAudit(ctx, audit.EventRegister, AudienceEndUser, "", false, err, nil)
		return nil, err
	}

	if err := e.sendVerification(ctx, p); err != nil {
		logging.LogError(ctx, e.logger, "verification hand-off failed", err, "principal_id", p.ID)
	}

	tokens, err := e.issuePair(ctx, AudienceEndUser, p)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, audit.EventRegister, AudienceEndUser, p.ID, true, nil, nil)
	return &AuthResult{Principal: viewOf(AudienceEndUser, p), Tokens: tokens}, nil
}

// CreateAdmin adds an administrator. Administrators are created verified;
// an empty role means RoleAdmin.
func (e *Engine) CreateAdmin(ctx context.Context, in CreateAdminInput) (*PrincipalView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email := stores.NormalizeEmail(in.Email)
	first, last := normalizeName(in.FirstName), normalizeName(in.LastName)
	role := in.Role
	if role == "" {
		role = RoleAdmin
	}
	if !validEmail(email) || !validName(first) || !validName(last) || !validRole(role) {
		return nil, ErrInvalidInput
	}
	if err := e.checkPassword(in.Password); err != nil {
		return nil, err
	}

	p, err := e.createPrincipal(ctx, AudienceAdmin, Principal{
		Email:      email,
		FirstName:  first,
		LastName:   last,
		Role:       role,
		IsActive:   true,
		IsVerified: true,
	}, in.Password)
	if err != nil {
		e.emitAudit(ctx, audit.EventAdminCreate, AudienceAdmin, "", false, err, nil)
		return nil, err
	}

	e.emitAudit(ctx, audit.EventAdminCreate, AudienceAdmin, p.ID, true, nil, map[string]string{"role": role})
	view := viewOf(AudienceAdmin, p)
	return &view, nil
}

func (e *Engine) createPrincipal(ctx context.Context, aud Audience, p Principal, pw string) (Principal, error) {
	store, err := e.storeFor(aud)
	if err != nil {
		return Principal{}, err
	}

	if _, err := store.FindByEmail(ctx, p.Email); err == nil {
		return Principal{}, ErrDuplicateEmail
	} else if !isNotFound(err) {
		return Principal{}, e.storageFailure(ctx, "principal lookup", err)
	}

	hash, err := e.hashPassword(pw)
	if err != nil {
		logging.LogError(ctx, e.logger, "password hash failed", err)
		return Principal{}, ErrPasswordPolicy
	}

	p.ID = uuid.NewString()
	p.PasswordHash = hash
	if err := store.Create(ctx, p); err != nil {
		if errors.Is(err, stores.ErrDuplicateEmail) {
			return Principal{}, ErrDuplicateEmail
		}
		return Principal{}, e.storageFailure(ctx, "principal create", err)
	}

	created, err := store.FindByID(ctx, p.ID)
	if err != nil {
		return Principal{}, e.storageFailure(ctx, "principal reload", err)
	}
	return created, nil
}

// SetActive activates or deactivates a principal. Issued tokens stay
// signed, but Authenticate and Refresh reject them while inactive.
func (e *Engine) SetActive(ctx context.Context, aud Audience, principalID string, active bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	store, err := e.storeFor(aud)
	if err != nil {
		return err
	}

	if _, err := store.Update(ctx, principalID, PrincipalUpdate{IsActive: &active}); err != nil {
		if isNotFound(err) {
			return ErrInvalidInput
		}
		return e.storageFailure(ctx, "principal update", err)
	}

	e.emitAudit(ctx, audit.EventAccountStatusChange, aud, principalID, true, nil, map[string]string{
		"active": strconv.FormatBool(active),
	})
	return nil
}

// UpdateProfile changes display fields only. Credentials, role and flags
// have their own operations.
func (e *Engine) UpdateProfile(ctx context.Context, aud Audience, principalID string, in ProfileUpdate) (*PrincipalView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	store, err := e.storeFor(aud)
	if err != nil {
		return nil, err
	}

	var update PrincipalUpdate
	if in.FirstName != nil {
		v := normalizeName(*in.FirstName)
		if !validName(v) {
			return nil, ErrInvalidInput
		}
		update.FirstName = &v
	}
	if in.LastName != nil {
		v := normalizeName(*in.LastName)
		if !validName(v) {
			return nil, ErrInvalidInput
		}
		update.LastName = &v
	}

	p, err := store.Update(ctx, principalID, update)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTokenExpiredOrInvalid
		}
		return nil, e.storageFailure(ctx, "principal update", err)
	}

	e.emitAudit(ctx, audit.EventProfileUpdate, aud, p.ID, true, nil, nil)
	view := viewOf(aud, p)
	return &view, nil
}

// Me returns the principal's credential-free view.
func (e *Engine) Me(ctx context.Context, aud Audience, principalID string) (*PrincipalView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	store, err := e.storeFor(aud)
	if err != nil {
		return nil, err
	}

	p, err := store.FindByID(ctx, principalID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTokenExpiredOrInvalid
		}
		return nil, e.storageFailure(ctx, "principal lookup", err)
	}
	view := viewOf(aud, p)
	return &view, nil
}

func (e *Engine) sendVerification(ctx context.Context, p Principal) error {
	token, err := e.ledger.Issue(ctx, string(AudienceEndUser), p.ID, stores.PurposeVerifyEmail, e.config.Tokens.VerifyEmailTTL)
	if err != nil {
		return err
	}
	e.metrics.singleUse(stores.PurposeVerifyEmail, "issued")

	view := viewOf(AudienceEndUser, p)
	return e.notifier.SendVerification(ctx, notify.Message{
		Audience:    string(AudienceEndUser),
		Email:       p.Email,
		DisplayName: view.DisplayName(),
		Token:       token,
	})
}
