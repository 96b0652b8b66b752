package entity

import "time"

// State is the derived lifecycle state of an account. Exactly one applies.
type State string

const (
	StateUnverified State = "unverified"
	StateActive     State = "active"
	StateLocked     State = "locked"
)

// Supervisor represents an account row in the `supervisors` table.
type Supervisor struct {
	ID                   int64      `db:"id"`
	Username             string     `db:"username"`
	Email                string     `db:"email"`
	PasswordHash         string     `db:"password_hash"`
	FullName             string     `db:"full_name"`
	Phone                *string    `db:"phone"`
	AcceptedTermsAt      *time.Time `db:"accepted_terms_at"`
	EmailVerified        bool       `db:"email_verified"`
	VerifyTokenHash      *string    `db:"verify_token_hash"`
	VerifyTokenExpiresAt *time.Time `db:"verify_token_expires_at"`
	ResetTokenHash       *string    `db:"reset_token_hash"`
	ResetTokenExpiresAt  *time.Time `db:"reset_token_expires_at"`
	FailedLoginAttempts  int        `db:"failed_login_attempts"`
	MustResetPassword    bool       `db:"must_reset_password"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

// State derives the lifecycle state. A pending forced reset wins over
// verification status.
func (s *Supervisor) State() State {
	switch {
	case s.MustResetPassword:
		return StateLocked
	case s.EmailVerified:
		return StateActive
	default:
		return StateUnverified
	}
}

// Profile is the public projection returned by /api/me.
type Profile struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"fullName"`
	Phone         *string   `json:"phone"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (s *Supervisor) Profile() Profile {
	return Profile{
		ID:            s.ID,
		Username:      s.Username,
		Email:         s.Email,
		FullName:      s.FullName,
		Phone:         s.Phone,
		EmailVerified: s.EmailVerified,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
