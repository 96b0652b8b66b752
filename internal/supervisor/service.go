package supervisor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safeplay/safeplay-api/internal/apperr"
	"github.com/safeplay/safeplay-api/internal/supervisor/entity"
	"github.com/safeplay/safeplay-api/internal/supervisor/repo"
	"github.com/safeplay/safeplay-api/internal/token"
)

// Mailer sends the account emails.
type Mailer interface {
	SendVerification(ctx context.Context, to, fullName, link string) error
	SendPasswordReset(ctx context.Context, to, fullName, link string) error
}

// SessionIssuer mints the bearer credential returned by Login.
type SessionIssuer interface {
	Issue(id int64, username string) (string, time.Time, error)
}

type Config struct {
	// BaseURL prefixes every emailed link.
	BaseURL                  string
	RequireEmailVerification bool
	EnforcePasswordPolicy    bool
	// MaxFailed consecutive failures force a password reset.
	MaxFailed int
	VerifyTTL time.Duration
	ResetTTL  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:                  "http://localhost:3000",
		RequireEmailVerification: true,
		EnforcePasswordPolicy:    true,
		MaxFailed:                3,
		VerifyTTL:                token.DefaultVerifyTTL,
		ResetTTL:                 token.DefaultResetTTL,
	}
}

type Deps struct {
	Repo     *repo.SupervisorRepo
	Hasher   PasswordHasher
	Mailer   Mailer
	Sessions SessionIssuer
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

// Service orchestrates registration, verification, login lockout and
// password recovery.
type Service struct {
	repo     *repo.SupervisorRepo
	hasher   PasswordHasher
	mailer   Mailer
	sessions SessionIssuer
	logger   *zap.SugaredLogger
	now      func() time.Time
	cfg      Config
}

func NewService(d Deps, cfg Config) *Service {
	if d.Hasher == nil {
		d.Hasher = BcryptHasher{Cost: 12}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if cfg.MaxFailed <= 0 {
		cfg.MaxFailed = 3
	}
	if cfg.VerifyTTL <= 0 {
		cfg.VerifyTTL = token.DefaultVerifyTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = token.DefaultResetTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Service{
		repo:     d.Repo,
		hasher:   d.Hasher,
		mailer:   d.Mailer,
		sessions: d.Sessions,
		logger:   d.Logger,
		now:      d.Now,
		cfg:      cfg,
	}
}

// clock returns the current time in the form stored by the repository.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	FullName        string
	Phone           *string
	Terms           bool
}

// Register creates an account and mails the verification link.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.Supervisor, error) {
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)
	fullName := strings.TrimSpace(in.FullName)
	switch {
	case username == "" || email == "" || in.Password == "" || fullName == "":
		return nil, apperr.Validation("username, email, password and fullName are required")
	case strings.Contains(username, "@"):
		return nil, apperr.Validation("username must not contain @")
	case !validEmail(email):
		return nil, apperr.Validation("email must be a valid email")
	case !in.Terms:
		return nil, apperr.Validation("you must accept the terms")
	case in.ConfirmPassword != "" && in.ConfirmPassword != in.Password:
		return nil, apperr.Validation("passwords do not match")
	}
	if err := s.checkPassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, apperr.New(apperr.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return nil, apperr.New(apperr.ErrConflict, "username already taken")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.clock()
	sup := &entity.Supervisor{
		Username:        username,
		Email:           email,
		PasswordHash:    hash,
		FullName:        fullName,
		Phone:           trimOptional(in.Phone),
		AcceptedTermsAt: &now,
		EmailVerified:   !s.cfg.RequireEmailVerification,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var issued token.Issued
	if s.cfg.RequireEmailVerification {
		if issued, err = token.Issue(now, s.cfg.VerifyTTL); err != nil {
			return nil, fmt.Errorf("issue verify token: %w", err)
		}
		exp := issued.ExpiresAt.Truncate(time.Microsecond)
		sup.VerifyTokenHash = &issued.Hash
		sup.VerifyTokenExpiresAt = &exp
	}
	if _, err := s.repo.Create(ctx, sup); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, apperr.New(apperr.ErrConflict, "email or username already registered")
		}
		return nil, err
	}
	s.logger.Infow("supervisor registered", "id", sup.ID, "username", sup.Username)

	if s.cfg.RequireEmailVerification {
		s.sendVerification(ctx, sup, issued.Raw)
	}
	return sup, nil
}

// VerifyEmail consumes a verification token and activates the account.
func (s *Service) VerifyEmail(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apperr.ErrTokenInvalid
	}
	hash := token.Hash(raw)
	sup, err := s.repo.GetByVerifyTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrTokenInvalid
		}
		return err
	}
	now := s.clock()
	if err := token.Verify(raw, sup.VerifyTokenHash, sup.VerifyTokenExpiresAt, now); err != nil {
		return err
	}
	ok, err := s.repo.MarkVerified(ctx, sup.ID, hash, now)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrTokenInvalid
	}
	s.logger.Infow("email verified", "id", sup.ID)
	return nil
}

// ResendVerification rotates and re-sends the verification token. It returns
// nil for unknown or already verified addresses.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return apperr.Validation("email must be a valid email")
	}
	sup, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if sup.EmailVerified {
		return nil
	}
	now := s.clock()
	issued, err := token.Issue(now, s.cfg.VerifyTTL)
	if err != nil {
		return fmt.Errorf("issue verify token: %w", err)
	}
	if err := s.repo.SetVerifyToken(ctx, sup.ID, issued.Hash, issued.ExpiresAt.Truncate(time.Microsecond), now); err != nil {
		return err
	}
	s.sendVerification(ctx, sup, issued.Raw)
	return nil
}

type LoginResult struct {
	Token      string
	ExpiresAt  time.Time
	Supervisor *entity.Supervisor
}

// Login authenticates by email (identifier containing '@') or username.
func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, apperr.Validation("identifier and password are required")
	}

	var sup *entity.Supervisor
	var err error
	if strings.Contains(identifier, "@") {
		sup, err = s.repo.GetByEmail(ctx, normalizeEmail(identifier))
	} else {
		sup, err = s.repo.GetByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrInvalidCredentials
		} // avoid user enumeration
		return nil, err
	}

	if sup.State() == entity.StateLocked {
		return nil, apperr.ErrAccountLocked
	}

	if !s.hasher.Verify(sup.PasswordHash, password) {
		now := s.clock()
		n, err := s.repo.IncrementFailedLogin(ctx, sup.ID, now)
		if err != nil {
			return nil, err
		}
		if n >= s.cfg.MaxFailed {
			locked, err := s.repo.LockIfThreshold(ctx, sup.ID, s.cfg.MaxFailed, now)
			if err != nil {
				return nil, err
			}
			if locked {
				s.logger.Warnw("account locked after failed logins", "id", sup.ID, "attempts", n)
			}
		}
		return nil, apperr.ErrInvalidCredentials
	}

	if sup.State() == entity.StateUnverified {
		return nil, apperr.ErrVerificationRequired
	}

	now := s.clock()
	if err := s.repo.ResetLoginSuccess(ctx, sup.ID, now); err != nil {
		return nil, err
	}
	sup.FailedLoginAttempts = 0

	if s.hasher.NeedsRehash(sup.PasswordHash) {
		if h, err := s.hasher.Hash(password); err != nil {
			s.logger.Warnw("password rehash failed", "id", sup.ID, "err", err)
		} else if err := s.repo.RehashPassword(ctx, sup.ID, h, now); err != nil {
			s.logger.Warnw("password rehash failed", "id", sup.ID, "err", err)
		}
	}

	tok, exp, err := s.sessions.Issue(sup.ID, sup.Username)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &LoginResult{Token: tok, ExpiresAt: exp, Supervisor: sup}, nil
}

// ForgotPassword issues a reset token for an existing account. Unknown
// addresses get the same nil result.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return apperr.Validation("email must be a valid email")
	}
	sup, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	now := s.clock()
	issued, err := token.Issue(now, s.cfg.ResetTTL)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}
	if err := s.repo.SetResetToken(ctx, sup.ID, issued.Hash, issued.ExpiresAt.Truncate(time.Microsecond), now); err != nil {
		return err
	}
	link := s.cfg.BaseURL + "/reset-password?token=" + url.QueryEscape(issued.Raw)
	if err := s.mailer.SendPasswordReset(ctx, sup.Email, sup.FullName, link); err != nil {
		s.logger.Errorw("password reset email failed", "id", sup.ID, "err", err)
	}
	return nil
}

// ResetPassword consumes a reset token and sets a new password. The token
// survives a rejected password.
func (s *Service) ResetPassword(ctx context.Context, raw, newPassword string) error {
	if newPassword == "" {
		return apperr.Validation("password is required")
	}
	if err := s.checkPassword(newPassword); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apperr.ErrTokenInvalid
	}
	hash := token.Hash(raw)
	sup, err := s.repo.GetByResetTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrTokenInvalid
		}
		return err
	}
	now := s.clock()
	if err := token.Verify(raw, sup.ResetTokenHash, sup.ResetTokenExpiresAt, now); err != nil {
		return err
	}
	pwHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	ok, err := s.repo.ResetPassword(ctx, sup.ID, hash, pwHash, now)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrTokenInvalid
	}
	s.logger.Infow("password reset", "id", sup.ID)
	return nil
}

// ChangePassword replaces the password of an authenticated account.
func (s *Service) ChangePassword(ctx context.Context, id int64, current, next string) error {
	if current == "" || next == "" {
		return apperr.Validation("currentPassword and newPassword are required")
	}
	sup, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(sup.PasswordHash, current) {
		return apperr.New(apperr.ErrInvalidCredentials, "current password is incorrect")
	}
	if current == next {
		return apperr.Validation("new password must differ from the current one")
	}
	if err := s.checkPassword(next); err != nil {
		return err
	}
	pwHash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, id, pwHash, s.clock()); err != nil {
		return err
	}
	s.logger.Infow("password changed", "id", id)
	return nil
}

// DeleteAccount removes the account and everything it owns. When password
// is non-nil it must match.
func (s *Service) DeleteAccount(ctx context.Context, id int64, password *string) error {
	sup, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if password != nil && !s.hasher.Verify(sup.PasswordHash, *password) {
		return apperr.New(apperr.ErrInvalidCredentials, "password is incorrect")
	}
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.ErrNotFound, "account not found")
	}
	s.logger.Infow("supervisor deleted", "id", id)
	return nil
}

// Profile returns the account for the authenticated caller.
func (s *Service) Profile(ctx context.Context, id int64) (*entity.Supervisor, error) {
	return s.get(ctx, id)
}

// UpdateProfile changes the editable fields. Nil leaves a field as is; an
// empty phone clears it.
func (s *Service) UpdateProfile(ctx context.Context, id int64, fullName, phone *string) (*entity.Supervisor, error) {
	sup, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if fullName != nil {
		name := strings.TrimSpace(*fullName)
		if name == "" {
			return nil, apperr.Validation("fullName cannot be empty")
		}
		sup.FullName = name
	}
	if phone != nil {
		sup.Phone = trimOptional(phone)
	}
	now := s.clock()
	if err := s.repo.UpdateProfile(ctx, id, sup.FullName, sup.Phone, now); err != nil {
		return nil, err
	}
	sup.UpdatedAt = now
	return sup, nil
}

func (s *Service) get(ctx context.Context, id int64) (*entity.Supervisor, error) {
	sup, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "account not found")
		}
		return nil, err
	}
	return sup, nil
}

func (s *Service) checkPassword(pw string) error {
	if s.cfg.EnforcePasswordPolicy {
		return CheckPasswordStrength(pw)
	}
	if len(pw) > 72 {
		return apperr.Validation("password must be at most 72 bytes")
	}
	return nil
}

// sendVerification mails the link. Failures are logged only: the token is
// stored and the user can ask for another email.
func (s *Service) sendVerification(ctx context.Context, sup *entity.Supervisor, raw string) {
	link := s.cfg.BaseURL + "/api/auth/verify?token=" + url.QueryEscape(raw)
	if err := s.mailer.SendVerification(ctx, sup.Email, sup.FullName, link); err != nil {
		s.logger.Errorw("verification email failed", "id", sup.ID, "err", err)
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at+1:], ".")
}

func trimOptional(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
