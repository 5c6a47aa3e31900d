package identity

import "context"

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Sessions(ctx context.Context) SessionStore
	OTPs(ctx context.Context) OTPStore
	ResetTokens(ctx context.Context) ResetTokenStore
}

// UserStore manages user accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	MarkVerified(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// SessionStore manages refresh session lifecycle.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByUser(ctx context.Context, userID string) error
}

// OTPStore manages one-time passcode challenges.
type OTPStore interface {
	Create(ctx context.Context, otp *OTP) error
	FindActiveByUser(ctx context.Context, userID string) (*OTP, error)
	MarkConsumed(ctx context.Context, id string) error
}

// ResetTokenStore manages password reset tokens.
type ResetTokenStore interface {
	Create(ctx context.Context, tok *ResetToken) error
	Find(ctx context.Context, id string) (*ResetToken, error)
	MarkConsumed(ctx context.Context, id string) error
}
