package identity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-process Store. It backs tests and the
// development mode where no Postgres DSN is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*User
	sessions    map[string]*Session
	otps        map[string]*OTP
	resetTokens map[string]*ResetToken
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		sessions:    make(map[string]*Session),
		otps:        make(map[string]*OTP),
		resetTokens: make(map[string]*ResetToken),
	}
}

func (m *MemoryStore) Users(context.Context) UserStore             { return memUsers{m} }
func (m *MemoryStore) Sessions(context.Context) SessionStore       { return memSessions{m} }
func (m *MemoryStore) OTPs(context.Context) OTPStore               { return memOTPs{m} }
func (m *MemoryStore) ResetTokens(context.Context) ResetTokenStore { return memResetTokens{m} }

type memUsers struct{ s *MemoryStore }

func (u memUsers) Create(_ context.Context, user *User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.users[user.ID]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range u.s.users {
		if existing.Email == user.Email {
			return ErrAlreadyExists
		}
	}
	now := time.Now().UTC()
	cp := *user
	cp.CreatedAt = now
	cp.UpdatedAt = now
	u.s.users[cp.ID] = &cp
	return nil
}

func (u memUsers) Find(_ context.Context, id string) (*User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (u memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, user := range u.s.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (u memUsers) MarkVerified(_ context.Context, id string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.Verified = true
	user.Status = StatusActive
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (u memUsers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC()
	return nil
}

type memSessions struct{ s *MemoryStore }

func (s memSessions) Create(_ context.Context, session *Session) error {
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	if _, ok := s.s.sessions[session.ID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	cp := *session
	cp.CreatedAt = now
	cp.LastUsedAt = now
	s.s.sessions[cp.ID] = &cp
	return nil
}

func (s memSessions) Find(_ context.Context, id string) (*Session, error) {
	s.s.mu.RLock()
	defer s.s.mu.RUnlock()
	session, ok := s.s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (s memSessions) MarkRevoked(_ context.Context, id string) error {
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	session, ok := s.s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.Revoked = true
	session.LastUsedAt = time.Now().UTC()
	return nil
}

func (s memSessions) MarkRevokedByUser(_ context.Context, userID string) error {
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	for _, session := range s.s.sessions {
		if session.UserID == userID {
			session.Revoked = true
		}
	}
	return nil
}

type memOTPs struct{ s *MemoryStore }

func (o memOTPs) Create(_ context.Context, otp *OTP) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	cp := *otp
	cp.CreatedAt = time.Now().UTC()
	o.s.otps[cp.ID] = &cp
	return nil
}

func (o memOTPs) FindActiveByUser(_ context.Context, userID string) (*OTP, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	var candidates []*OTP
	for _, otp := range o.s.otps {
		if otp.UserID == userID && !otp.Consumed {
			candidates = append(candidates, otp)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	cp := *candidates[0]
	return &cp, nil
}

func (o memOTPs) MarkConsumed(_ context.Context, id string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	otp, ok := o.s.otps[id]
	if !ok {
		return ErrNotFound
	}
	otp.Consumed = true
	return nil
}

type memResetTokens struct{ s *MemoryStore }

func (r memResetTokens) Create(_ context.Context, tok *ResetToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *tok
	cp.CreatedAt = time.Now().UTC()
	r.s.resetTokens[cp.ID] = &cp
	return nil
}

func (r memResetTokens) Find(_ context.Context, id string) (*ResetToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	tok, ok := r.s.resetTokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (r memResetTokens) MarkConsumed(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tok, ok := r.s.resetTokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.Consumed = true
	return nil
}
