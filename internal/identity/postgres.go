package identity

import (
	"context"
	"database/sql"

	"tavolo.app/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore       { return &userStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore { return &sessionStore{db: s.db} }
func (s *PGStore) OTPs(context.Context) OTPStore         { return &otpStore{db: s.db} }
func (s *PGStore) ResetTokens(context.Context) ResetTokenStore {
	return &resetTokenStore{db: s.db}
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, organization_id, email, name, role, status, verified, password_hash, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, organization_id, email, name, role, status, verified, password_hash) values($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.ID, u.OrganizationID, u.Email, u.Name, u.Role, u.Status, u.Verified, u.PasswordHash,
	)
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

func (s *userStore) MarkVerified(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set verified=true, status='active', updated_at=now() where id=$1`, id)
	return err
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.Name, &u.Role, &u.Status,
		&u.Verified, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Session store ------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, user_id, token_hash, fingerprint, user_agent, expires_at) values($1,$2,$3,$4,$5,$6)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.Fingerprint, sess.UserAgent, sess.ExpiresAt,
	)
	return err
}

func (s *sessionStore) Find(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, fingerprint, user_agent, expires_at, created_at, last_used_at, revoked from sessions where id=$1`, id)
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.Fingerprint,
		&sess.UserAgent, &sess.ExpiresAt, &sess.CreatedAt, &sess.LastUsedAt, &sess.Revoked)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked=true, last_used_at=now() where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sessionStore) MarkRevokedByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked=true, last_used_at=now() where user_id=$1 and not revoked`, userID)
	return err
}

// OTP store ----------------------------------------------------------------
type otpStore struct{ db *sql.DB }

func (s *otpStore) Create(ctx context.Context, otp *OTP) error {
	if otp.ID == "" {
		otp.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into otps(id, user_id, code_hash, expires_at) values($1,$2,$3,$4)`,
		otp.ID, otp.UserID, otp.CodeHash, otp.ExpiresAt,
	)
	return err
}

func (s *otpStore) FindActiveByUser(ctx context.Context, userID string) (*OTP, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, code_hash, expires_at, created_at, consumed from otps
		 where user_id=$1 and not consumed order by created_at desc limit 1`, userID)
	var otp OTP
	err := row.Scan(&otp.ID, &otp.UserID, &otp.CodeHash, &otp.ExpiresAt, &otp.CreatedAt, &otp.Consumed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &otp, nil
}

func (s *otpStore) MarkConsumed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `update otps set consumed=true where id=$1`, id)
	return err
}

// Reset token store --------------------------------------------------------
type resetTokenStore struct{ db *sql.DB }

func (s *resetTokenStore) Create(ctx context.Context, tok *ResetToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into reset_tokens(id, user_id, token_hash, expires_at) values($1,$2,$3,$4)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt,
	)
	return err
}

func (s *resetTokenStore) Find(ctx context.Context, id string) (*ResetToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at, consumed from reset_tokens where id=$1`, id)
	var tok ResetToken
	err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Consumed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tok, nil
}

func (s *resetTokenStore) MarkConsumed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `update reset_tokens set consumed=true where id=$1`, id)
	return err
}
