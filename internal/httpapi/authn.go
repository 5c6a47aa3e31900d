package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"tavolo.app/internal/identity"
)

// requireAuth validates the bearer token and attaches the user to the
// request context before invoking next.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		user, _, err := a.identity.AuthenticateToken(r.Context(), token)
		if err != nil {
			status, code, msg := mapAuthError(err)
			writeError(w, status, code, msg)
			return
		}
		ctx := identity.ContextWithUser(r.Context(), user)
		ctx = identity.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// mapAuthError translates identity failures into HTTP status plus a stable
// machine-readable code.
func mapAuthError(err error) (int, string, string) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid email or password"
	case errors.Is(err, identity.ErrInvalidOTP):
		return http.StatusUnauthorized, "invalid_otp", "invalid or expired passcode"
	case errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token", "invalid or expired token"
	case errors.Is(err, identity.ErrAccountSuspended):
		return http.StatusForbidden, "account_suspended", "account is suspended"
	case errors.Is(err, identity.ErrAccountInactive):
		return http.StatusForbidden, "account_inactive", "account is inactive"
	case errors.Is(err, identity.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", "invalid request"
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
