package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/tripauth"
)

// Authenticator is the part of *tripauth.Engine the guards need.
type Authenticator interface {
	Authenticate(ctx context.Context, aud tripauth.Audience, accessToken string) (*tripauth.Identity, error)
}

type identityContextKey struct{}

// IdentityFromContext returns the identity stored by Guard.
func IdentityFromContext(ctx context.Context) (*tripauth.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*tripauth.Identity)
	return id, ok
}

// WithIdentity stores id in ctx the way Guard does.
func WithIdentity(ctx context.Context, id *tripauth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// Guard admits requests whose bearer token is a valid access token for aud.
// Token failures get 401, deactivated principals 403 and storage failures
// 503.
func Guard(engine Authenticator, aud tripauth.Audience) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer`)
				WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			id, err := engine.Authenticate(r.Context(), aud, token)
			if err != nil {
				switch {
				case errors.Is(err, tripauth.ErrAccountInactive):
					WriteError(w, http.StatusForbidden, "account_inactive", "account is inactive")
				case errors.Is(err, tripauth.ErrStorageUnavailable):
					WriteError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
				default:
					w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
					WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole admits requests whose identity holds one of roles. It must
// run after Guard.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !id.HasRole(roles...) {
				WriteError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// ErrorDetail is the body of every error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// WriteError writes the standard error envelope with status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
