package identity

import "time"

// AccountStatus is the lifecycle state of a user account.
type AccountStatus string

const (
	StatusPending   AccountStatus = "pending"
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
	StatusInactive  AccountStatus = "inactive"
)

// Terminal reports whether the status forbids establishing a session.
func (s AccountStatus) Terminal() bool {
	return s == StatusSuspended || s == StatusInactive
}

// User is a staff member or owner operating venues for an organization.
type User struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organizationId,omitempty"`
	Email          string        `json:"email"`
	Name           string        `json:"name"`
	Role           string        `json:"role"`
	Status         AccountStatus `json:"status"`
	Verified       bool          `json:"verified"`
	PasswordHash   string        `json:"-"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Session is a server-side refresh session. The client holds its id in the
// sessionId cookie and the full refresh credential in the refreshToken
// cookie; only the hash of the secret is stored here.
type Session struct {
	ID          string
	UserID      string
	TokenHash   string
	Fingerprint string
	UserAgent   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	LastUsedAt  time.Time
	Revoked     bool
}

// OTP is a pending one-time passcode challenge. Only the code hash is kept.
type OTP struct {
	ID        string
	UserID    string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
	Consumed  bool
}

// ResetToken is a pending password reset. Only the token hash is kept.
type ResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Consumed  bool
}
