package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/safeplay/safeplay-api/internal/supervisor/entity"
	"github.com/safeplay/safeplay-api/pkg/database"
)

// ErrDuplicate is returned by Create when username or email already exist.
var ErrDuplicate = errors.New("duplicate supervisor")

// SupervisorRepo provides data access for the supervisors table using sqlx.
// Queries use `?` placeholders and are rebound for the active driver.
type SupervisorRepo struct {
	db *sqlx.DB
}

func NewSupervisorRepo(db *sqlx.DB) *SupervisorRepo { return &SupervisorRepo{db: db} }

const postgresDDL = `
CREATE TABLE IF NOT EXISTS supervisors (
  id BIGSERIAL PRIMARY KEY,
  username VARCHAR(50) NOT NULL UNIQUE,
  email VARCHAR(120) NOT NULL UNIQUE,
  password_hash VARCHAR(200) NOT NULL,
  full_name VARCHAR(120) NOT NULL,
  phone VARCHAR(30),
  accepted_terms_at TIMESTAMPTZ,
  email_verified BOOLEAN NOT NULL DEFAULT false,
  verify_token_hash VARCHAR(64),
  verify_token_expires_at TIMESTAMPTZ,
  reset_token_hash VARCHAR(64),
  reset_token_expires_at TIMESTAMPTZ,
  failed_login_attempts INT NOT NULL DEFAULT 0,
  must_reset_password BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_supervisors_verify_token ON supervisors(verify_token_hash);
CREATE INDEX IF NOT EXISTS idx_supervisors_reset_token ON supervisors(reset_token_hash);
`

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS supervisors (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  username TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  full_name TEXT NOT NULL,
  phone TEXT,
  accepted_terms_at TIMESTAMP,
  email_verified BOOLEAN NOT NULL DEFAULT 0,
  verify_token_hash TEXT,
  verify_token_expires_at TIMESTAMP,
  reset_token_hash TEXT,
  reset_token_expires_at TIMESTAMP,
  failed_login_attempts INTEGER NOT NULL DEFAULT 0,
  must_reset_password BOOLEAN NOT NULL DEFAULT 0,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_supervisors_verify_token ON supervisors(verify_token_hash);
CREATE INDEX IF NOT EXISTS idx_supervisors_reset_token ON supervisors(reset_token_hash);
`

// EnsureTable creates the supervisors table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *SupervisorRepo) EnsureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, database.Pick(r.db, postgresDDL, sqliteDDL))
	return err
}

const selectColumns = `SELECT id, username, email, password_hash, full_name, phone, accepted_terms_at,
	email_verified, verify_token_hash, verify_token_expires_at, reset_token_hash, reset_token_expires_at,
	failed_login_attempts, must_reset_password, created_at, updated_at
  FROM supervisors`

// Create inserts a new supervisor row. Returns new ID.
func (r *SupervisorRepo) Create(ctx context.Context, s *entity.Supervisor) (int64, error) {
	q := r.db.Rebind(`INSERT INTO supervisors (username, email, password_hash, full_name, phone, accepted_terms_at,
		email_verified, verify_token_hash, verify_token_expires_at, failed_login_attempts, must_reset_password,
		created_at, updated_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?) RETURNING id`)
	var id int64
	err := r.db.GetContext(ctx, &id, q,
		s.Username, s.Email, s.PasswordHash, s.FullName, s.Phone, s.AcceptedTermsAt,
		s.EmailVerified, s.VerifyTokenHash, s.VerifyTokenExpiresAt, s.MustResetPassword,
		s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return 0, err
	}
	s.ID = id
	return id, nil
}

func (r *SupervisorRepo) getBy(ctx context.Context, column string, v any) (*entity.Supervisor, error) {
	var row entity.Supervisor
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(selectColumns+" WHERE "+column+" = ?"), v); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByID fetches a full supervisor row or sql.ErrNoRows.
func (r *SupervisorRepo) GetByID(ctx context.Context, id int64) (*entity.Supervisor, error) {
	return r.getBy(ctx, "id", id)
}

// GetByEmail expects an already lower-cased email.
func (r *SupervisorRepo) GetByEmail(ctx context.Context, email string) (*entity.Supervisor, error) {
	return r.getBy(ctx, "email", email)
}

// GetByUsername fetches by username.
func (r *SupervisorRepo) GetByUsername(ctx context.Context, username string) (*entity.Supervisor, error) {
	return r.getBy(ctx, "username", username)
}

// GetByVerifyTokenHash finds the account holding a pending verification token.
func (r *SupervisorRepo) GetByVerifyTokenHash(ctx context.Context, hash string) (*entity.Supervisor, error) {
	return r.getBy(ctx, "verify_token_hash", hash)
}

// GetByResetTokenHash finds the account holding a pending reset token.
func (r *SupervisorRepo) GetByResetTokenHash(ctx context.Context, hash string) (*entity.Supervisor, error) {
	return r.getBy(ctx, "reset_token_hash", hash)
}

// IncrementFailedLogin increments the failure counter atomically and returns new value.
func (r *SupervisorRepo) IncrementFailedLogin(ctx context.Context, id int64, now time.Time) (int, error) {
	q := r.db.Rebind(`UPDATE supervisors SET failed_login_attempts = failed_login_attempts + 1, updated_at = ?
		WHERE id = ? RETURNING failed_login_attempts`)
	var v int
	if err := r.db.GetContext(ctx, &v, q, now, id); err != nil {
		return 0, err
	}
	return v, nil
}

// LockIfThreshold forces a password reset once attempts >= threshold.
// Reports whether this call performed the transition.
func (r *SupervisorRepo) LockIfThreshold(ctx context.Context, id int64, threshold int, now time.Time) (bool, error) {
	q := r.db.Rebind(`UPDATE supervisors SET must_reset_password = ?, updated_at = ?
		WHERE id = ? AND must_reset_password = ? AND failed_login_attempts >= ?`)
	return r.affected(r.db.ExecContext(ctx, q, true, now, id, false, threshold))
}

// ResetLoginSuccess resets failure metrics on successful authentication.
func (r *SupervisorRepo) ResetLoginSuccess(ctx context.Context, id int64, now time.Time) error {
	q := r.db.Rebind(`UPDATE supervisors SET failed_login_attempts = 0, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, now, id)
	return err
}

// SetVerifyToken stores a fresh verification token, replacing any previous one.
func (r *SupervisorRepo) SetVerifyToken(ctx context.Context, id int64, hash string, expiresAt, now time.Time) error {
	q := r.db.Rebind(`UPDATE supervisors SET verify_token_hash = ?, verify_token_expires_at = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, hash, expiresAt, now, id)
	return err
}

// MarkVerified consumes the verification token. The token hash is part of the
// predicate so only one caller can consume it.
func (r *SupervisorRepo) MarkVerified(ctx context.Context, id int64, tokenHash string, now time.Time) (bool, error) {
	q := r.db.Rebind(`UPDATE supervisors SET email_verified = ?, verify_token_hash = NULL, verify_token_expires_at = NULL,
		updated_at = ? WHERE id = ? AND verify_token_hash = ?`)
	return r.affected(r.db.ExecContext(ctx, q, true, now, id, tokenHash))
}

// SetResetToken stores a fresh password reset token.
func (r *SupervisorRepo) SetResetToken(ctx context.Context, id int64, hash string, expiresAt, now time.Time) error {
	q := r.db.Rebind(`UPDATE supervisors SET reset_token_hash = ?, reset_token_expires_at = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, hash, expiresAt, now, id)
	return err
}

// ResetPassword consumes the reset token, stores the new hash and clears the
// lockout in one statement.
func (r *SupervisorRepo) ResetPassword(ctx context.Context, id int64, tokenHash, passwordHash string, now time.Time) (bool, error) {
	q := r.db.Rebind(`UPDATE supervisors SET password_hash = ?, reset_token_hash = NULL, reset_token_expires_at = NULL,
		failed_login_attempts = 0, must_reset_password = ?, updated_at = ? WHERE id = ? AND reset_token_hash = ?`)
	return r.affected(r.db.ExecContext(ctx, q, passwordHash, false, now, id, tokenHash))
}

// UpdatePassword replaces the hash and clears lockout and any pending reset token.
func (r *SupervisorRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string, now time.Time) error {
	q := r.db.Rebind(`UPDATE supervisors SET password_hash = ?, reset_token_hash = NULL, reset_token_expires_at = NULL,
		failed_login_attempts = 0, must_reset_password = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, passwordHash, false, now, id)
	return err
}

// RehashPassword swaps the stored hash without touching any other state.
func (r *SupervisorRepo) RehashPassword(ctx context.Context, id int64, passwordHash string, now time.Time) error {
	q := r.db.Rebind(`UPDATE supervisors SET password_hash = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, passwordHash, now, id)
	return err
}

// UpdateProfile writes the editable profile fields.
func (r *SupervisorRepo) UpdateProfile(ctx context.Context, id int64, fullName string, phone *string, now time.Time) error {
	q := r.db.Rebind(`UPDATE supervisors SET full_name = ?, phone = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, fullName, phone, now, id)
	return err
}

// Delete removes the supervisor together with its commands and activity
// logs. Reports whether the supervisor existed.
func (r *SupervisorRepo) Delete(ctx context.Context, id int64) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM activity_logs WHERE supervisor_id = ?`,
		`DELETE FROM commands WHERE supervisor_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), id); err != nil {
			return false, err
		}
	}
	ok, err := r.affected(tx.ExecContext(ctx, tx.Rebind(`DELETE FROM supervisors WHERE id = ?`), id))
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *SupervisorRepo) affected(res interface{ RowsAffected() (int64, error) }, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
