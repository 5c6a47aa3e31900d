// Package client is the Go SDK for the Tavolo API. SessionManager owns the
// authentication lifecycle; EventRouter multiplexes realtime order events.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Sentinel errors mapped from API error codes.
var (
	ErrInvalidCredentials = errors.New("client: invalid credentials")
	ErrInvalidOTP         = errors.New("client: invalid or expired passcode")
	ErrInvalidToken       = errors.New("client: invalid or expired token")
	ErrAccountSuspended   = errors.New("client: account suspended")
	ErrAccountInactive    = errors.New("client: account inactive")
	ErrNotAuthenticated   = errors.New("client: not authenticated")
)

// User mirrors the API user payload.
type User struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId,omitempty"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	Status         string `json:"status"`
	Verified       bool   `json:"verified"`
}

// State is a point-in-time snapshot of the session.
type State struct {
	User          *User
	Authenticated bool
	Loading       bool
}

// LoginResult reports the outcome of Login or VerifyOTP. When OTPRequired
// is set the session is not established yet.
type LoginResult struct {
	User        *User
	OTPRequired bool
}

// SessionManager drives login, refresh rotation and logout against the API.
// The access token lives only in memory; the session id and refresh token
// ride in HttpOnly cookies managed by the embedded jar. Concurrent refresh
// attempts collapse into a single HTTP request.
type SessionManager struct {
	baseURL     string
	httpClient  *http.Client
	creds       CredentialStore
	fingerprint string
	userAgent   string
	onLogout    func()

	refreshGroup singleflight.Group

	mu              sync.RWMutex
	user            *User
	accessToken     string
	accessExpiresAt time.Time
	authenticated   bool
	loading         bool
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithHTTPClient replaces the transport. A cookie jar is attached when the
// client has none, since the auth contract depends on cookies.
func WithHTTPClient(c *http.Client) SessionOption {
	return func(m *SessionManager) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithCredentialStore persists the user snapshot across restarts.
func WithCredentialStore(s CredentialStore) SessionOption {
	return func(m *SessionManager) {
		if s != nil {
			m.creds = s
		}
	}
}

// WithFingerprint overrides the derived device fingerprint.
func WithFingerprint(fp string) SessionOption {
	return func(m *SessionManager) {
		if fp != "" {
			m.fingerprint = fp
		}
	}
}

// WithUserAgent sets the User-Agent header on all requests.
func WithUserAgent(ua string) SessionOption {
	return func(m *SessionManager) {
		if ua != "" {
			m.userAgent = ua
		}
	}
}

// WithLogoutHook is invoked after local state is cleared on logout or a
// definitive refresh rejection. The event router hooks in here to tear down
// its connection.
func WithLogoutHook(fn func()) SessionOption {
	return func(m *SessionManager) { m.onLogout = fn }
}

// NewSessionManager builds a manager for the API at baseURL.
func NewSessionManager(baseURL string, opts ...SessionOption) (*SessionManager, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base url is required")
	}
	m := &SessionManager{
		baseURL:     baseURL,
		creds:       NewMemoryCredentialStore(),
		fingerprint: Fingerprint(),
		userAgent:   "tavolo-go-client",
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if m.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("client: cookie jar: %w", err)
		}
		m.httpClient.Jar = jar
	}
	return m, nil
}

// State returns the current session snapshot.
func (m *SessionManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var user *User
	if m.user != nil {
		cp := *m.user
		user = &cp
	}
	return State{User: user, Authenticated: m.authenticated, Loading: m.loading}
}

// AccessToken returns the in-memory bearer token, or "".
func (m *SessionManager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

type sessionPayload struct {
	User            *User      `json:"user"`
	OTPRequired     bool       `json:"otpRequired"`
	AccessToken     string     `json:"accessToken"`
	AccessExpiresAt *time.Time `json:"accessExpiresAt"`
}

// Login authenticates with email and password. Unverified accounts get an
// OTPRequired result and no session.
func (m *SessionManager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var payload sessionPayload
	err := m.postJSON(ctx, "/v1/auth/login", map[string]string{
		"email":       email,
		"password":    password,
		"fingerprint": m.fingerprint,
	}, &payload)
	if err != nil {
		return nil, err
	}
	if payload.OTPRequired {
		return &LoginResult{User: payload.User, OTPRequired: true}, nil
	}
	m.adoptSession(&payload)
	return &LoginResult{User: payload.User}, nil
}

// VerifyOTP completes a pending passcode challenge.
func (m *SessionManager) VerifyOTP(ctx context.Context, email, code string) (*LoginResult, error) {
	var payload sessionPayload
	err := m.postJSON(ctx, "/v1/auth/verify-otp", map[string]string{
		"email":       email,
		"code":        code,
		"fingerprint": m.fingerprint,
	}, &payload)
	if err != nil {
		return nil, err
	}
	m.adoptSession(&payload)
	return &LoginResult{User: payload.User}, nil
}

// ResendOTP requests a fresh passcode for a pending account.
func (m *SessionManager) ResendOTP(ctx context.Context, email string) error {
	return m.postJSON(ctx, "/v1/auth/resend-otp", map[string]string{"email": email}, nil)
}

// RefreshSession rotates the refresh credential and reports whether the
// session is authenticated afterwards. Concurrent callers share one HTTP
// round trip. A definitive rejection clears local state; a transport error
// keeps the current state so a flaky network does not log the user out.
func (m *SessionManager) RefreshSession(ctx context.Context) bool {
	result, _, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.refreshOnce(ctx), nil
	})
	ok, _ := result.(bool)
	return ok
}

func (m *SessionManager) refreshOnce(ctx context.Context) bool {
	var payload sessionPayload
	err := m.postJSON(ctx, "/v1/auth/refresh-session", map[string]string{
		"fingerprint": m.fingerprint,
	}, &payload)
	if err == nil {
		m.adoptSession(&payload)
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
		// The server rejected the credential outright: the session is gone.
		m.clearLocal()
		m.notifyLogout()
		return false
	}
	// Transport failure or server hiccup: cached identity stays good so a
	// flaky network never logs the user out.
	m.mu.Lock()
	m.authenticated = m.user != nil
	ok := m.authenticated
	m.mu.Unlock()
	return ok
}

// Logout clears local state first, then revokes the session best-effort.
// A failing server call never blocks the local logout.
func (m *SessionManager) Logout(ctx context.Context) {
	m.clearLocal()
	_ = m.postJSON(ctx, "/v1/auth/logout", map[string]string{}, nil)
	m.notifyLogout()
}

// ForgotPassword requests a reset token for the given address.
func (m *SessionManager) ForgotPassword(ctx context.Context, email string) error {
	return m.postJSON(ctx, "/v1/auth/forgot-password", map[string]string{"email": email}, nil)
}

// ResetPassword consumes a reset token from the recovery email.
func (m *SessionManager) ResetPassword(ctx context.Context, token, newPassword string) error {
	return m.postJSON(ctx, "/v1/auth/reset-password", map[string]string{
		"token":       token,
		"newPassword": newPassword,
	}, nil)
}

// UpdateUser replaces the in-memory user snapshot and persists it.
func (m *SessionManager) UpdateUser(user *User) error {
	if user == nil {
		return errors.New("client: user is required")
	}
	cp := *user
	m.mu.Lock()
	m.user = &cp
	m.mu.Unlock()
	return m.creds.SaveUser(&cp)
}

// Hydrate restores the persisted user snapshot and attempts a refresh so a
// restarted process resumes its session. With no stored user it is a no-op.
func (m *SessionManager) Hydrate(ctx context.Context) error {
	user, err := m.creds.LoadUser()
	if err != nil {
		if errors.Is(err, ErrNoStoredUser) {
			return nil
		}
		return err
	}
	m.mu.Lock()
	m.user = user
	m.loading = true
	m.mu.Unlock()

	m.RefreshSession(ctx)

	m.mu.Lock()
	m.loading = false
	m.mu.Unlock()
	return nil
}

// Do injects the bearer token and retries once after a refresh when the
// first attempt comes back 401.
func (m *SessionManager) Do(req *http.Request) (*http.Response, error) {
	token := m.AccessToken()
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := m.httpClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	_ = resp.Body.Close()
	if !m.RefreshSession(req.Context()) {
		return nil, ErrNotAuthenticated
	}
	retry := req.Clone(req.Context())
	if body != nil {
		retry.Body = io.NopCloser(bytes.NewReader(body))
	}
	retry.Header.Set("Authorization", "Bearer "+m.AccessToken())
	return m.httpClient.Do(retry)
}

func (m *SessionManager) adoptSession(payload *sessionPayload) {
	m.mu.Lock()
	m.user = payload.User
	m.accessToken = payload.AccessToken
	if payload.AccessExpiresAt != nil {
		m.accessExpiresAt = *payload.AccessExpiresAt
	}
	m.authenticated = payload.AccessToken != ""
	m.mu.Unlock()
	if payload.User != nil {
		_ = m.creds.SaveUser(payload.User)
	}
}

func (m *SessionManager) clearLocal() {
	m.mu.Lock()
	m.user = nil
	m.accessToken = ""
	m.accessExpiresAt = time.Time{}
	m.authenticated = false
	m.mu.Unlock()
	_ = m.creds.DeleteUser()
}

func (m *SessionManager) notifyLogout() {
	if m.onLogout != nil {
		m.onLogout()
	}
}

// APIError is a structured error response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: api error %d %s: %s", e.Status, e.Code, e.Message)
}

// sentinel maps well-known API codes onto package-level errors so callers
// can branch with errors.Is.
func (e *APIError) sentinel() error {
	switch e.Code {
	case "invalid_credentials":
		return ErrInvalidCredentials
	case "invalid_otp":
		return ErrInvalidOTP
	case "invalid_token":
		return ErrInvalidToken
	case "account_suspended":
		return ErrAccountSuspended
	case "account_inactive":
		return ErrAccountInactive
	default:
		return nil
	}
}

// Is lets errors.Is match APIError against the sentinel errors.
func (e *APIError) Is(target error) bool {
	return e.sentinel() == target
}

func (m *SessionManager) postJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var failure struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return &APIError{Status: resp.StatusCode, Code: failure.Error.Code, Message: failure.Error.Message}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
