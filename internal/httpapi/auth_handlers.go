package httpapi

import (
	"errors"
	"net/http"
	"time"

	"keygate.dev/internal/audit"
	"keygate.dev/internal/auth"
	"keygate.dev/internal/obs"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/v1/auth/refresh"
)

type registerRequest struct {
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type validateOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required"`
}

type resetPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type magicLinkRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func tokenPayload(pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "bearer",
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func (a *API) setAuthCookies(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		Expires:  pair.AccessExpiresAt,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, pair, err := a.svc.Signup(r.Context(), req.FullName, req.Email, req.Password)
	if err != nil {
		obs.ObserveAuthFlow("register", "error")
		switch {
		case errors.Is(err, auth.ErrAlreadyExists):
			writeError(w, r, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusUnprocessableEntity, "invalid signup details")
		default:
			writeError(w, r, http.StatusInternalServerError, "signup failed")
		}
		return
	}

	obs.ObserveAuthFlow("register", "ok")
	obs.TokenIssued("access")
	obs.TokenIssued("refresh")
	audit.LogEvent(r.Context(), "user_registered", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})

	a.setAuthCookies(w, pair)
	writeJSON(w, http.StatusCreated, tokenPayload(pair))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		obs.ObserveAuthFlow("login", "denied")
		// one answer for bad email and bad password
		writeError(w, r, http.StatusUnauthorized, "incorrect email or password")
		return
	}

	obs.ObserveAuthFlow("login", "ok")
	obs.TokenIssued("access")
	obs.TokenIssued("refresh")
	audit.LogEvent(r.Context(), "user_login", map[string]any{
		"email": auth.NormalizeEmail(req.Email),
	})

	a.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, tokenPayload(pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	token := ""
	if c, err := r.Cookie(refreshCookieName); err == nil {
		token = c.Value
	}
	if token == "" {
		var req refreshRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		token = req.RefreshToken
	}
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "missing refresh token")
		return
	}

	access, expiresAt, err := a.svc.Refresh(r.Context(), token)
	if err != nil {
		obs.ObserveAuthFlow("refresh", "denied")
		writeError(w, r, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	obs.ObserveAuthFlow("refresh", "ok")
	obs.TokenIssued("access")

	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    access,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":      access,
		"token_type":        "bearer",
		"access_expires_at": expiresAt,
	})
}

func (a *API) handleResetOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := a.svc.RequestPasswordReset(r.Context(), req.Email)
	if err != nil && !errors.Is(err, auth.ErrUnauthorized) {
		obs.ObserveAuthFlow("reset_otp", "error")
		writeError(w, r, http.StatusInternalServerError, "could not start password reset")
		return
	}

	obs.ObserveAuthFlow("reset_otp", "ok")
	audit.LogEvent(r.Context(), "password_reset_requested", map[string]any{
		"email": auth.NormalizeEmail(req.Email),
	})

	// same body whether or not the email exists
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "if the account exists, a reset code has been sent",
	})
}

func (a *API) handleValidateOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req validateOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := a.svc.ValidateResetOTP(r.Context(), req.Email, req.OTP); err != nil {
		obs.ObserveAuthFlow("reset_validate", "denied")
		writeError(w, r, http.StatusUnauthorized, "invalid or expired code")
		return
	}

	obs.ObserveAuthFlow("reset_validate", "ok")
	writeJSON(w, http.StatusOK, map[string]string{"status": "code accepted"})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := a.svc.ResetPassword(r.Context(), req.Email, req.Password); err != nil {
		obs.ObserveAuthFlow("reset_password", "error")
		switch {
		// same answer for unknown accounts as for any other refusal
		case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrUnauthorized):
			writeError(w, r, http.StatusUnauthorized, "password reset not authorized")
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusUnprocessableEntity, "invalid password")
		default:
			writeError(w, r, http.StatusInternalServerError, "password reset failed")
		}
		return
	}

	obs.ObserveAuthFlow("reset_password", "ok")
	audit.LogEvent(r.Context(), "password_reset", map[string]any{
		"email": auth.NormalizeEmail(req.Email),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

func (a *API) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req magicLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := a.svc.MagicLinkLogin(r.Context(), req.Email)
	if err != nil && !errors.Is(err, auth.ErrUnauthorized) {
		obs.ObserveAuthFlow("magic_link", "error")
		writeError(w, r, http.StatusInternalServerError, "could not send magic link")
		return
	}

	obs.ObserveAuthFlow("magic_link", "ok")
	audit.LogEvent(r.Context(), "magic_link_requested", map[string]any{
		"email": auth.NormalizeEmail(req.Email),
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "if the account exists, a sign-in link has been sent",
	})
}

func (a *API) handleMagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "missing token")
		return
	}

	user, pair, err := a.svc.VerifyMagicLink(r.Context(), token)
	if err != nil {
		obs.ObserveAuthFlow("magic_link_verify", "denied")
		writeError(w, r, http.StatusUnauthorized, "invalid or expired link")
		return
	}

	obs.ObserveAuthFlow("magic_link_verify", "ok")
	obs.TokenIssued("access")
	obs.TokenIssued("refresh")
	audit.LogEvent(r.Context(), "magic_link_login", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})

	a.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, tokenPayload(pair))
}
