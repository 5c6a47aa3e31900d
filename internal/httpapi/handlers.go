// Package httpapi exposes the REST surface: authentication lifecycle,
// order event producers and the realtime websocket endpoint.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"tavolo.app/internal/hub"
	"tavolo.app/internal/identity"
	"tavolo.app/internal/obs"
)

// API routes HTTP traffic to the identity service and the event hub.
type API struct {
	mux           *http.ServeMux
	identity      *identity.Service
	hub           *hub.Hub
	ws            http.Handler
	version       string
	readyProbe    func(ctx context.Context) error
	secureCookies bool
	now           func() time.Time
}

// Option configures the API.
type Option func(*API)

// WithVersion reports the build version on /v1/info.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithReadyProbe wires the readiness check (typically db.PingContext).
func WithReadyProbe(fn func(ctx context.Context) error) Option {
	return func(a *API) {
		if fn != nil {
			a.readyProbe = fn
		}
	}
}

// WithWSHandler mounts the realtime websocket endpoint.
func WithWSHandler(h http.Handler) Option {
	return func(a *API) { a.ws = h }
}

// WithSecureCookies marks auth cookies Secure (production behind TLS).
func WithSecureCookies(secure bool) Option {
	return func(a *API) { a.secureCookies = secure }
}

// WithAPIClock overrides the time source (useful for tests).
func WithAPIClock(fn func() time.Time) Option {
	return func(a *API) {
		if fn != nil {
			a.now = fn
		}
	}
}

// New builds the API and registers all routes.
func New(svc *identity.Service, h *hub.Hub, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		identity:   svc,
		hub:        h,
		version:    "dev",
		readyProbe: func(context.Context) error { return nil },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	a.mux.HandleFunc("GET /v1/info", a.handleInfo)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/verify-otp", a.handleVerifyOTP)
	a.mux.HandleFunc("POST /v1/auth/resend-otp", a.handleResendOTP)
	a.mux.HandleFunc("POST /v1/auth/refresh-session", a.handleRefreshSession)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("POST /v1/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("POST /v1/auth/reset-password", a.handleResetPassword)

	a.mux.HandleFunc("GET /v1/auth/me", a.requireAuth(a.handleMe))

	a.mux.HandleFunc("POST /v1/orders", a.requireAuth(a.handleCreateOrder))
	a.mux.HandleFunc("POST /v1/orders/{id}/status", a.requireAuth(a.handleOrderStatus))
	a.mux.HandleFunc("POST /v1/orders/{id}/items/{itemId}/status", a.requireAuth(a.handleOrderItemStatus))

	if a.ws != nil {
		a.mux.Handle("GET /v1/orders/ws", a.ws)
	}
}

// ServeHTTP dispatches to the registered routes.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "tavolo-api",
		"version": a.version,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}
