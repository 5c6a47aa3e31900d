package identity

import (
	"context"

	"tavolo.app/internal/obs"
)

// Mailer delivers one-time passcodes and reset tokens to users.
type Mailer interface {
	SendOTP(ctx context.Context, email, code string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogMailer writes deliveries to the structured log. Suitable for local
// development and tests only; production wires a real provider.
type LogMailer struct{}

func (LogMailer) SendOTP(ctx context.Context, email, code string) error {
	obs.LogEntry("info", "otp_issued", map[string]any{
		"email": email,
		"code":  code,
	})
	return nil
}

func (LogMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	obs.LogEntry("info", "password_reset_issued", map[string]any{
		"email": email,
		"token": token,
	})
	return nil
}
