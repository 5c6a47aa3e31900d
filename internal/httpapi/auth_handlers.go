package httpapi

import (
	"net/http"
	"time"

	"tavolo.app/internal/audit"
	"tavolo.app/internal/identity"
)

const (
	sessionCookieName = "sessionId"
	refreshCookieName = "refreshToken"

	// The refresh token is only ever sent back to the auth endpoints.
	refreshCookiePath = "/v1/auth"
)

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Fingerprint string `json:"fingerprint"`
}

type verifyOTPRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	Fingerprint string `json:"fingerprint"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type refreshRequest struct {
	Fingerprint string `json:"fingerprint"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type sessionResponse struct {
	User            *identity.User `json:"user"`
	OTPRequired     bool           `json:"otpRequired,omitempty"`
	AccessToken     string         `json:"accessToken,omitempty"`
	AccessExpiresAt *time.Time     `json:"accessExpiresAt,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	result, err := a.identity.Login(r.Context(), req.Email, req.Password, req.Fingerprint, r.UserAgent())
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.denied", map[string]any{"email": req.Email})
		status, code, msg := mapAuthError(err)
		writeError(w, status, code, msg)
		return
	}
	if result.OTPRequired {
		_ = audit.LogEvent(r.Context(), "auth.login.otp_required", map[string]any{"user_id": result.User.ID})
		writeJSON(w, http.StatusOK, sessionResponse{User: result.User, OTPRequired: true})
		return
	}
	a.setSessionCookies(w, result)
	_ = audit.LogEvent(r.Context(), "auth.login.success", map[string]any{"user_id": result.User.ID})
	writeJSON(w, http.StatusOK, newSessionResponse(result))
}

func (a *API) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	result, err := a.identity.VerifyOTP(r.Context(), req.Email, req.Code, req.Fingerprint, r.UserAgent())
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.otp.denied", map[string]any{"email": req.Email})
		status, code, msg := mapAuthError(err)
		writeError(w, status, code, msg)
		return
	}
	a.setSessionCookies(w, result)
	_ = audit.LogEvent(r.Context(), "auth.otp.verified", map[string]any{"user_id": result.User.ID})
	writeJSON(w, http.StatusOK, newSessionResponse(result))
}

func (a *API) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	if err := a.identity.ResendOTP(r.Context(), req.Email); err != nil {
		status, code, msg := mapAuthError(err)
		writeError(w, status, code, msg)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.otp.resent", map[string]any{"email": req.Email})
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (a *API) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		a.clearSessionCookies(w)
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing refresh token")
		return
	}
	result, err := a.identity.Refresh(r.Context(), cookie.Value, req.Fingerprint)
	if err != nil {
		// The presented credential is unusable; drop both cookies so the
		// client falls back to a clean login.
		a.clearSessionCookies(w)
		_ = audit.LogEvent(r.Context(), "auth.refresh.denied", nil)
		status, code, msg := mapAuthError(err)
		writeError(w, status, code, msg)
		return
	}
	a.setSessionCookies(w, result)
	_ = audit.LogEvent(r.Context(), "auth.refresh.rotated", map[string]any{"user_id": result.User.ID})
	writeJSON(w, http.StatusOK, newSessionResponse(result))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sessionID = cookie.Value
	}
	if err := a.identity.Logout(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "logout failed")
		return
	}
	a.clearSessionCookies(w)
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"session_id": sessionID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	if err := a.identity.ForgotPassword(r.Context(), req.Email); err != nil {
		status, code, msg := mapAuthError(err)
		writeError(w, status, code, msg)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.forgot", map[string]any{"email": req.Email})
	// Same response for known and unknown addresses.
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	if err := a.identity.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		status, code, msg := mapAuthError(err)
		writeError(w, status, code, msg)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.reset", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func newSessionResponse(result *identity.LoginResult) sessionResponse {
	exp := result.AccessExpiresAt
	return sessionResponse{
		User:            result.User,
		AccessToken:     result.AccessToken,
		AccessExpiresAt: &exp,
	}
}

// setSessionCookies applies the cookie contract: the session id rides on
// every request, the refresh token only reaches the auth endpoints.
func (a *API) setSessionCookies(w http.ResponseWriter, result *identity.LoginResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    result.SessionID,
		Path:     "/",
		Expires:  result.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    result.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  result.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	expired := a.now().Add(-time.Hour)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  expired,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		Expires:  expired,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
