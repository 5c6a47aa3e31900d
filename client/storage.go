package client

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoStoredUser reports that the credential store holds no user snapshot.
var ErrNoStoredUser = errors.New("client: no stored user")

// CredentialStore persists the user snapshot between process restarts. Only
// profile data is ever stored; tokens stay in memory and cookies.
type CredentialStore interface {
	SaveUser(user *User) error
	LoadUser() (*User, error)
	DeleteUser() error
}

// FileStore keeps the user snapshot as a JSON file with owner-only
// permissions.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore builds a FileStore rooted at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) SaveUser(user *User) error {
	if user == nil {
		return errors.New("client: user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileStore) LoadUser() (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoStoredUser
		}
		return nil, err
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *FileStore) DeleteUser() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryCredentialStore is an in-process CredentialStore for tests and
// ephemeral sessions.
type MemoryCredentialStore struct {
	mu   sync.Mutex
	user *User
}

// NewMemoryCredentialStore returns an empty store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) SaveUser(user *User) error {
	if user == nil {
		return errors.New("client: user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *user
	s.user = &cp
	return nil
}

func (s *MemoryCredentialStore) LoadUser() (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil, ErrNoStoredUser
	}
	cp := *s.user
	return &cp, nil
}

func (s *MemoryCredentialStore) DeleteUser() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	return nil
}
