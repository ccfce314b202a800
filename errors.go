package tripauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/tripauth/internal/stores"
)

var (
	// ErrInvalidCredentials is returned for every failed login, regardless of
	// whether the e-mail exists, the password was wrong or the account is
	// inactive.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned once identity is confirmed but the
	// principal has been deactivated.
	ErrAccountInactive = errors.New("account inactive")
	// ErrAlreadyVerified is returned when a verification token is requested
	// for a verified principal.
	ErrAlreadyVerified = errors.New("account already verified")
	// ErrDuplicateEmail is returned by registration for a taken e-mail. A
	// custom PrincipalStore returns it from Create.
	ErrDuplicateEmail = stores.ErrDuplicateEmail
	// ErrPrincipalNotFound is what a custom PrincipalStore returns for an
	// unknown id or e-mail. The Engine never returns it to callers.
	ErrPrincipalNotFound = stores.ErrNotFound
	// ErrRateLimited is matched by every *RateLimitedError.
	ErrRateLimited = errors.New("too many attempts")
	// ErrTokenExpiredOrInvalid collapses signature failures, kind or audience
	// mismatches, expiry, revocation and unknown single-use tokens.
	ErrTokenExpiredOrInvalid = errors.New("token expired or invalid")
	// ErrStorageUnavailable is returned when durable I/O fails.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrPasswordPolicy is returned for passwords outside the length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidInput is returned for malformed request data.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden is returned when an authenticated principal lacks the
	// required role.
	ErrForbidden = errors.New("forbidden")
	// ErrEngineNotReady is returned by calls on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitedError carries the time until the caller may retry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", ErrRateLimited.Error(), e.RetryAfterSeconds())
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, at least 1.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RetryAfter extracts the retry delay from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
