package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrEthical07/tripauth"
	"github.com/MrEthical07/tripauth/middleware"
	"github.com/MrEthical07/tripauth/settings"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// decodeJSON reads a single JSON object from the request body, rejecting
// unknown fields and trailing data.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters only where errors wrap each other; the taxonomy is flat.
var errorMappings = []errorMapping{
	{tripauth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid email or password"},
	{tripauth.ErrTokenExpiredOrInvalid, http.StatusUnauthorized, "token_invalid", "token expired or invalid"},
	{tripauth.ErrAccountInactive, http.StatusForbidden, "account_inactive", "account is inactive"},
	{tripauth.ErrForbidden, http.StatusForbidden, "forbidden", "insufficient role"},
	{tripauth.ErrAlreadyVerified, http.StatusConflict, "already_verified", "account already verified"},
	{tripauth.ErrDuplicateEmail, http.StatusConflict, "duplicate_email", "email already registered"},
	{tripauth.ErrPasswordPolicy, http.StatusBadRequest, "password_policy", "password does not meet the length policy"},
	{tripauth.ErrInvalidInput, http.StatusBadRequest, "invalid_input", "invalid input"},
	{settings.ErrInvalid, http.StatusBadRequest, "invalid_input", "invalid settings"},
	{tripauth.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable", "service temporarily unavailable"},
	{tripauth.ErrEngineNotReady, http.StatusServiceUnavailable, "not_ready", "service not ready"},
}

// respondError maps err onto the public error envelope. Unknown errors
// become 500 and are logged; their text never reaches the client.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if retry, ok := tripauth.RetryAfter(err); ok {
		rl := &tripauth.RateLimitedError{RetryAfter: retry}
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
		middleware.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts, try again later")
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.status >= 500 {
				s.logError(r, err)
			}
			middleware.WriteError(w, m.status, m.code, m.message)
			return
		}
	}

	s.logError(r, err)
	middleware.WriteError(w, http.StatusInternalServerError, "internal", "internal server error")
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	middleware.WriteError(w, http.StatusBadRequest, "invalid_input", message)
}

func (s *Server) logError(r *http.Request, err error) {
	s.logger.LogAttrs(r.Context(), slog.LevelError, "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
		slog.String("error", err.Error()),
	)
}
