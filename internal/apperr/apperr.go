// Package apperr defines the error kinds shared by services and the HTTP
// boundary. Services return these kinds (optionally wrapped with a client
// safe message); handlers map them to status codes.
package apperr

import "errors"

var (
	ErrValidation           = errors.New("validation failed")
	ErrConflict             = errors.New("conflict")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrVerificationRequired = errors.New("email verification required")
	ErrAccountLocked        = errors.New("account locked")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrTokenExpired         = errors.New("token expired")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrEmailDelivery        = errors.New("email delivery failed")
)

// Error pairs a kind with a message that is safe to show to clients.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Kind }

// New returns an error of the given kind carrying msg.
func New(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Validation is shorthand for New(ErrValidation, msg).
func Validation(msg string) error {
	return New(ErrValidation, msg)
}

// Message returns the client message attached to err, if any.
func Message(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg, true
	}
	return "", false
}
