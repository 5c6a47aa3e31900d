package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"tavolo.app/internal/ids"
)

const (
	defaultRefreshTTL = 14 * 24 * time.Hour
	defaultOTPTTL     = 10 * time.Minute
	resetTokenTTL     = time.Hour
	otpDigits         = 6
)

// Service implements the authentication lifecycle: login, OTP verification,
// refresh session rotation, logout and password recovery.
type Service struct {
	store      Store
	signer     *Signer
	mailer     Mailer
	now        func() time.Time
	refreshTTL time.Duration
	otpTTL     time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithMailer sets the OTP/reset delivery channel.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

// WithRefreshTTL configures refresh session lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithOTPTTL configures one-time passcode lifetime.
func WithOTPTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.otpTTL = ttl
		}
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, signer *Signer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	if signer == nil {
		return nil, errors.New("identity: signer is required")
	}
	svc := &Service{
		store:      store,
		signer:     signer,
		mailer:     LogMailer{},
		now:        time.Now,
		refreshTTL: defaultRefreshTTL,
		otpTTL:     defaultOTPTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// LoginResult is the outcome of a successful login, OTP verification or
// refresh. When OTPRequired is set no session was established and every
// credential field is empty.
type LoginResult struct {
	User             *User
	OTPRequired      bool
	AccessToken      string
	AccessExpiresAt  time.Time
	SessionID        string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Login authenticates credentials. Unverified accounts get a fresh OTP and
// an OTPRequired result; suspended and inactive accounts fail closed.
func (s *Service) Login(ctx context.Context, email, password, fingerprint, userAgent string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.checkStatus(user); err != nil {
		return nil, err
	}
	if !user.Verified {
		if err := s.issueOTP(ctx, user); err != nil {
			return nil, err
		}
		return &LoginResult{User: user, OTPRequired: true}, nil
	}
	return s.establishSession(ctx, user, fingerprint, userAgent)
}

// VerifyOTP exchanges a pending passcode challenge for a full session and
// marks the account verified.
func (s *Service) VerifyOTP(ctx context.Context, email, code, fingerprint, userAgent string) (*LoginResult, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return nil, ErrInvalidOTP
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidOTP
		}
		return nil, err
	}
	if err := s.checkStatus(user); err != nil {
		return nil, err
	}
	otps := s.store.OTPs(ctx)
	otp, err := otps.FindActiveByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidOTP
		}
		return nil, err
	}
	if otp.Consumed || s.now().After(otp.ExpiresAt) {
		return nil, ErrInvalidOTP
	}
	if !secureCompareHash(otp.CodeHash, code) {
		return nil, ErrInvalidOTP
	}
	if err := otps.MarkConsumed(ctx, otp.ID); err != nil {
		return nil, err
	}
	if !user.Verified {
		if err := s.store.Users(ctx).MarkVerified(ctx, user.ID); err != nil {
			return nil, err
		}
		user.Verified = true
	}
	return s.establishSession(ctx, user, fingerprint, userAgent)
}

// ResendOTP issues a fresh passcode for a pending account. Unknown emails
// are reported as ErrNotFound so the handler can decide how much to reveal.
func (s *Service) ResendOTP(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrInvalidInput
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.checkStatus(user); err != nil {
		return err
	}
	return s.issueOTP(ctx, user)
}

// Refresh rotates the refresh session: the presented credential is revoked
// and a new session row plus access token are minted. The fingerprint is a
// secondary anti-replay signal checked only when both sides supplied one.
func (s *Service) Refresh(ctx context.Context, refreshToken, fingerprint string) (*LoginResult, error) {
	sessionID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	sessions := s.store.Sessions(ctx)
	record, err := sessions.Find(ctx, sessionID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if record.Revoked || s.now().After(record.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		_ = sessions.MarkRevoked(ctx, record.ID)
		return nil, ErrInvalidToken
	}
	if record.Fingerprint != "" && fingerprint != "" && record.Fingerprint != fingerprint {
		_ = sessions.MarkRevoked(ctx, record.ID)
		return nil, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if err := s.checkStatus(user); err != nil {
		_ = sessions.MarkRevoked(ctx, record.ID)
		return nil, err
	}
	if err := sessions.MarkRevoked(ctx, record.ID); err != nil {
		return nil, err
	}
	userAgent := record.UserAgent
	if fingerprint == "" {
		fingerprint = record.Fingerprint
	}
	return s.establishSession(ctx, user, fingerprint, userAgent)
}

// Logout revokes the given session. Unknown sessions are not an error: the
// client has already cleared its state and the call is best-effort.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	err := s.store.Sessions(ctx).MarkRevoked(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// ForgotPassword issues a reset token. Unknown emails succeed silently so
// the endpoint does not leak which addresses have accounts.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrInvalidInput
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	secret, rec, err := s.generateSecretToken(user.ID, resetTokenTTL)
	if err != nil {
		return err
	}
	tok := &ResetToken{
		ID:        rec.ID,
		UserID:    rec.UserID,
		TokenHash: rec.TokenHash,
		ExpiresAt: rec.ExpiresAt,
	}
	if err := s.store.ResetTokens(ctx).Create(ctx, tok); err != nil {
		return err
	}
	return s.mailer.SendPasswordReset(ctx, user.Email, tok.ID+"."+secret)
}

// ResetPassword consumes a reset token, updates the password and revokes
// every open session for the user.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < 8 {
		return ErrInvalidInput
	}
	tokenID, secret, err := splitRefreshToken(token)
	if err != nil {
		return ErrInvalidToken
	}
	resets := s.store.ResetTokens(ctx)
	rec, err := resets.Find(ctx, tokenID)
	if err != nil {
		return ErrInvalidToken
	}
	if rec.Consumed || s.now().After(rec.ExpiresAt) {
		return ErrInvalidToken
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		return ErrInvalidToken
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := resets.MarkConsumed(ctx, rec.ID); err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, rec.UserID, hash); err != nil {
		return err
	}
	return s.store.Sessions(ctx).MarkRevokedByUser(ctx, rec.UserID)
}

// AuthenticateToken validates an access token and loads its user.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (*User, *Claims, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, nil, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	if err := s.checkStatus(user); err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

func (s *Service) checkStatus(user *User) error {
	switch user.Status {
	case StatusSuspended:
		return ErrAccountSuspended
	case StatusInactive:
		return ErrAccountInactive
	default:
		return nil
	}
}

func (s *Service) establishSession(ctx context.Context, user *User, fingerprint, userAgent string) (*LoginResult, error) {
	secret, base, err := s.generateSecretToken(user.ID, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	session := &Session{
		ID:          base.ID,
		UserID:      base.UserID,
		TokenHash:   base.TokenHash,
		Fingerprint: strings.TrimSpace(fingerprint),
		UserAgent:   strings.TrimSpace(userAgent),
		ExpiresAt:   base.ExpiresAt,
	}
	if err := s.store.Sessions(ctx).Create(ctx, session); err != nil {
		return nil, err
	}
	accessToken, accessExp, err := s.signer.Issue(user, session.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		User:             user,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		SessionID:        session.ID,
		RefreshToken:     session.ID + "." + secret,
		RefreshExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *Service) issueOTP(ctx context.Context, user *User) error {
	code, err := generateOTPCode()
	if err != nil {
		return err
	}
	otp := &OTP{
		ID:        ids.New(),
		UserID:    user.ID,
		CodeHash:  hashSecret(code),
		ExpiresAt: s.now().Add(s.otpTTL),
	}
	if err := s.store.OTPs(ctx).Create(ctx, otp); err != nil {
		return err
	}
	return s.mailer.SendOTP(ctx, user.Email, code)
}

// secretRecord is the storage shape shared by refresh sessions and reset
// tokens: an id plus the hash of a random secret.
type secretRecord struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
}

func (s *Service) generateSecretToken(userID string, ttl time.Duration) (secret string, rec secretRecord, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", secretRecord{}, err
	}
	secret = base64.RawURLEncoding.EncodeToString(raw)
	rec = secretRecord{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hashSecret(secret),
		ExpiresAt: s.now().Add(ttl),
	}
	return secret, rec, nil
}

func generateOTPCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n), nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid token format")
	}
	return parts[0], parts[1], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash, secret string) bool {
	actual := hashSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
