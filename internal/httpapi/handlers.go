package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/tripauth"
	"github.com/MrEthical07/tripauth/middleware"
	"github.com/MrEthical07/tripauth/settings"
)

// authHandler serves the credential endpoints of one audience.
type authHandler struct {
	engine *tripauth.Engine
	aud    tripauth.Audience
	srv    *Server
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type statusRequest struct {
	Active *bool `json:"active"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Register handles POST /api/auth/register.
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.srv.badRequest(w, "invalid JSON body")
		return
	}
	res, err := h.engine.Register(r.Context(), tripauth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.srv.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Login handles POST .../auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.srv.badRequest(w, "invalid JSON body")
		return
	}
	res, err := h.engine.Login(r.Context(), h.aud, req.Email, req.Password)
	if err != nil {
		h.srv.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Refresh handles POST .../auth/refresh.
func (h *authHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.srv.badRequest(w, "invalid JSON body")
		return
	}
	res, err := h.engine.Refresh(r.Context(), h.aud, req.RefreshToken)
	if err != nil {
		h.srv.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Logout handles POST .../auth/logout. Both tokens are optional: the access
// token comes from the Authorization header, the refresh token from the body.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.srv.badRequest(w, "invalid JSON body")
			return
		}
	}
	access := ""
	if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		access = strings.TrimSpace(parts[1])
	}
	if err := h.engine.Logout(r.Context(), h.aud, access, req.RefreshToken); err != nil {
		h.srv.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyEmail handles POST /api/auth/verify-email.
func (h *authHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.srv.badRequest(w, "invalid JSON body")
		return
	}
	view, err := h.engine.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		h.srv.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ResendVerification handles POST /api/auth/resend-verification.
func (h *authHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.srv.respondError(w, r, tripauth.ErrTokenExpiredOrInvalid)
		return
	}
	if err := h.engine.ResendVerification(r.Context(), id.PrincipalID); err != nil {
		h.srv.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "verification email sent"})
}

// ForgotPassword handles POST .../auth/forgot-password. The response is the
// same whether or not the address is registered.
func (h *authHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		h.srv.badRequest(w, "invalid JSON body")
		return
	}
	if err := h.engine.ForgotPassword(r.Context(), h.aud, req.Email); err != nil {
		h.srv.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: "if the address is registered, a reset link has been sent",
	})
}

// ResetPassword handles POST .../auth/reset-password.
func (h *authHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		h.srv.badRequest(w, "invalid JSON body")
		return
	}
	if err := h.engine.ResetPassword(r.Context(), h.aud, req.Token, req.NewPassword); err != nil {
		h.srv.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword handles POST .../auth/change-password.
func (h *authHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.srv.respondError(w, r, tripauth.ErrTokenExpiredOrInvalid)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.srv.badRequest(w, "invalid JSON body")
		return
	}
	if err := h.engine.ChangePassword(r.Context(), h.aud, id.PrincipalID, req.CurrentPassword, req.NewPassword); err != nil {
		h.srv.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET .../auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.srv.respondError(w, r, tripauth.ErrTokenExpiredOrInvalid)
		return
	}
	view, err := h.engine.Me(r.Context(), h.aud, id.PrincipalID)
	if err != nil {
		h.srv.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateMe handles PATCH .../auth/me.
func (h *authHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.srv.respondError(w, r, tripauth.ErrTokenExpiredOrInvalid)
		return
	}
	var req tripauth.ProfileUpdate
	if err := decodeJSON(r, &req); err != nil {
		h.srv.badRequest(w, "invalid JSON body")
		return
	}
	view, err := h.engine.UpdateProfile(r.Context(), h.aud, id.PrincipalID, req)
	if err != nil {
		h.srv.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type createAdminRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

func (s *Server) handleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	view, err := s.engine.CreateAdmin(r.Context(), tripauth.CreateAdminInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleSetStatus(aud tripauth.Audience) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := decodeJSON(r, &req); err != nil || req.Active == nil {
			s.badRequest(w, "body must be {\"active\": true|false}")
			return
		}
		if err := s.engine.SetActive(r.Context(), aud, chi.URLParam(r, "id"), *req.Active); err != nil {
			s.respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cur, err := s.settings.Load(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cur.Masked())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settings.Update
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	saved, err := s.settings.Save(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved.Masked())
}
