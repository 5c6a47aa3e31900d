package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func sessionJSON(token string) []byte {
	exp := time.Now().Add(15 * time.Minute).UTC()
	raw, _ := json.Marshal(map[string]any{
		"user": map[string]any{
			"id": "user-1", "email": "owner@example.com", "name": "Owner",
			"role": "owner", "status": "active", "verified": true,
		},
		"accessToken":     token,
		"accessExpiresAt": exp,
	})
	return raw
}

func errorJSON(code string) []byte {
	raw, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": code},
	})
	return raw
}

func newManager(t *testing.T, baseURL string, opts ...SessionOption) *SessionManager {
	t.Helper()
	m, err := NewSessionManager(baseURL, opts...)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	return m
}

func TestLoginStoresSessionInMemory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["fingerprint"] == "" {
			t.Error("login request must carry a fingerprint")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(sessionJSON("access-1"))
	}))
	defer srv.Close()

	store := NewMemoryCredentialStore()
	m := newManager(t, srv.URL, WithCredentialStore(store), WithFingerprint("fp-test"))

	result, err := m.Login(context.Background(), "owner@example.com", "s3cretpass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.OTPRequired {
		t.Fatal("unexpected OTP challenge")
	}
	state := m.State()
	if !state.Authenticated || state.User == nil || state.User.Email != "owner@example.com" {
		t.Fatalf("unexpected state %+v", state)
	}
	if m.AccessToken() != "access-1" {
		t.Fatalf("token not held in memory: %q", m.AccessToken())
	}

	// Only the user snapshot is persisted, never the token.
	saved, err := store.LoadUser()
	if err != nil {
		t.Fatalf("LoadUser: %v", err)
	}
	if saved.ID != "user-1" {
		t.Fatalf("unexpected persisted user %+v", saved)
	}
}

func TestLoginMapsErrorCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write(errorJSON("invalid_credentials"))
	}))
	defer srv.Close()

	m := newManager(t, srv.URL)
	_, err := m.Login(context.Background(), "owner@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if m.State().Authenticated {
		t.Fatal("failed login must not authenticate")
	}
}

func TestLoginSuspendedAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write(errorJSON("account_suspended"))
	}))
	defer srv.Close()

	m := newManager(t, srv.URL)
	_, err := m.Login(context.Background(), "owner@example.com", "s3cretpass")
	if !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("expected ErrAccountSuspended, got %v", err)
	}
	if m.AccessToken() != "" {
		t.Fatal("suspended login must not yield a token")
	}
	if m.State().Authenticated {
		t.Fatal("suspended login must not authenticate")
	}
}

func TestLoginOTPChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		raw, _ := json.Marshal(map[string]any{
			"user":        map[string]any{"id": "user-1", "email": "new@example.com"},
			"otpRequired": true,
		})
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	m := newManager(t, srv.URL)
	result, err := m.Login(context.Background(), "new@example.com", "s3cretpass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.OTPRequired {
		t.Fatal("expected OTP challenge")
	}
	if m.State().Authenticated || m.AccessToken() != "" {
		t.Fatal("no session may exist before OTP verification")
	}
}

func TestConcurrentRefreshCollapsesToOneRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/refresh-session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		atomic.AddInt32(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(sessionJSON("access-rotated"))
	}))
	defer srv.Close()

	m := newManager(t, srv.URL)

	const workers = 10
	var wg sync.WaitGroup
	results := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = m.RefreshSession(context.Background())
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one refresh request, got %d", got)
	}
	for i, ok := range results {
		if !ok {
			t.Fatalf("caller %d did not share the successful refresh", i)
		}
	}
	if m.AccessToken() != "access-rotated" {
		t.Fatalf("token not rotated: %q", m.AccessToken())
	}
}

func TestRefreshRejectionClearsState(t *testing.T) {
	var loggedOut atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(sessionJSON("access-1"))
		case "/v1/auth/refresh-session":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write(errorJSON("invalid_token"))
		}
	}))
	defer srv.Close()

	store := NewMemoryCredentialStore()
	m := newManager(t, srv.URL,
		WithCredentialStore(store),
		WithLogoutHook(func() { loggedOut.Store(true) }))

	if _, err := m.Login(context.Background(), "owner@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if ok := m.RefreshSession(context.Background()); ok {
		t.Fatal("rejected refresh must report false")
	}
	state := m.State()
	if state.Authenticated || state.User != nil || m.AccessToken() != "" {
		t.Fatalf("state not cleared: %+v", state)
	}
	if _, err := store.LoadUser(); !errors.Is(err, ErrNoStoredUser) {
		t.Fatal("persisted user must be deleted on rejection")
	}
	if !loggedOut.Load() {
		t.Fatal("logout hook must fire on definitive rejection")
	}
}

func TestRefreshNetworkFailureKeepsSession(t *testing.T) {
	var flaky atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(sessionJSON("access-1"))
		case "/v1/auth/refresh-session":
			if flaky.Load() {
				// Drop the connection to simulate a network fault.
				hj, ok := w.(http.Hijacker)
				if !ok {
					t.Error("server must support hijacking")
					return
				}
				conn, _, _ := hj.Hijack()
				_ = conn.Close()
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(sessionJSON("access-2"))
		}
	}))
	defer srv.Close()

	m := newManager(t, srv.URL)
	if _, err := m.Login(context.Background(), "owner@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	flaky.Store(true)
	if ok := m.RefreshSession(context.Background()); !ok {
		t.Fatal("transport failure must not log the user out")
	}
	if !m.State().Authenticated || m.AccessToken() != "access-1" {
		t.Fatal("session state must survive a transport failure")
	}
}

func TestLogoutClearsStateEvenWhenServerFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(sessionJSON("access-1"))
		case "/v1/auth/logout":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	var loggedOut atomic.Bool
	store := NewMemoryCredentialStore()
	m := newManager(t, srv.URL,
		WithCredentialStore(store),
		WithLogoutHook(func() { loggedOut.Store(true) }))

	if _, err := m.Login(context.Background(), "owner@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	m.Logout(context.Background())

	state := m.State()
	if state.Authenticated || state.User != nil || m.AccessToken() != "" {
		t.Fatalf("logout must clear local state: %+v", state)
	}
	if _, err := store.LoadUser(); !errors.Is(err, ErrNoStoredUser) {
		t.Fatal("persisted user must be gone after logout")
	}
	if !loggedOut.Load() {
		t.Fatal("logout hook must fire")
	}
}

func TestHydrateRestoresUserAndRefreshes(t *testing.T) {
	var refreshed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/refresh-session" {
			refreshed.Store(true)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(sessionJSON("access-restored"))
		}
	}))
	defer srv.Close()

	store := NewMemoryCredentialStore()
	if err := store.SaveUser(&User{ID: "user-1", Email: "owner@example.com"}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	m := newManager(t, srv.URL, WithCredentialStore(store))
	if err := m.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if !refreshed.Load() {
		t.Fatal("hydrate must attempt a refresh")
	}
	state := m.State()
	if !state.Authenticated || state.Loading {
		t.Fatalf("unexpected post-hydrate state %+v", state)
	}
	if m.AccessToken() != "access-restored" {
		t.Fatalf("unexpected token %q", m.AccessToken())
	}
}

func TestHydrateNetworkFailureKeepsCachedIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refresh attempts get connection refused

	store := NewMemoryCredentialStore()
	if err := store.SaveUser(&User{ID: "user-1", Email: "owner@example.com"}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	m := newManager(t, srv.URL, WithCredentialStore(store))
	if err := m.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	state := m.State()
	if !state.Authenticated || state.Loading || state.User == nil {
		t.Fatalf("cached identity must survive an unreachable server: %+v", state)
	}
	if m.AccessToken() != "" {
		t.Fatal("no token can exist without a completed refresh")
	}
}

func TestHydrateWithEmptyStoreIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL.Path)
	}))
	defer srv.Close()

	m := newManager(t, srv.URL)
	if err := m.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if m.State().Authenticated {
		t.Fatal("empty store must not authenticate")
	}
}

func TestDoRetriesAfterRefresh(t *testing.T) {
	var ordersCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(sessionJSON("stale"))
		case "/v1/auth/refresh-session":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(sessionJSON("fresh"))
		case "/v1/orders":
			if atomic.AddInt32(&ordersCalls, 1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write(errorJSON("invalid_token"))
				return
			}
			if r.Header.Get("Authorization") != "Bearer fresh" {
				t.Errorf("retry must use the rotated token, got %q", r.Header.Get("Authorization"))
			}
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	m := newManager(t, srv.URL)
	if _, err := m.Login(context.Background(), "owner@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+"/v1/orders", nil)
	resp, err := m.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 after retry, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&ordersCalls); got != 2 {
		t.Fatalf("expected original plus one retry, got %d calls", got)
	}
}

func TestUpdateUserPersistsSnapshot(t *testing.T) {
	store := NewMemoryCredentialStore()
	m := newManager(t, "http://127.0.0.1:0", WithCredentialStore(store))

	if err := m.UpdateUser(&User{ID: "user-1", Name: "Renamed"}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if m.State().User.Name != "Renamed" {
		t.Fatal("in-memory user not updated")
	}
	saved, err := store.LoadUser()
	if err != nil || saved.Name != "Renamed" {
		t.Fatalf("persisted user not updated: %+v %v", saved, err)
	}
}
