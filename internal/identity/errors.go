package identity

import "errors"

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrAlreadyExists      = errors.New("identity: already exists")
	ErrInvalidInput       = errors.New("identity: invalid input")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrInvalidToken       = errors.New("identity: invalid token")
	ErrInvalidOTP         = errors.New("identity: invalid or expired passcode")
	ErrAccountSuspended   = errors.New("identity: account suspended")
	ErrAccountInactive    = errors.New("identity: account inactive")
)
