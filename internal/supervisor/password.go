package supervisor

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/safeplay/safeplay-api/internal/apperr"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports whether hash was produced with a different cost.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return c != b.cost()
}

const minPasswordLen = 8

// CheckPasswordStrength enforces length plus upper, lower, digit and symbol.
func CheckPasswordStrength(pw string) error {
	if len(pw) < minPasswordLen {
		return apperr.Validation("password must be at least 8 characters")
	}
	// bcrypt ignores everything past 72 bytes
	if len(pw) > 72 {
		return apperr.Validation("password must be at most 72 bytes")
	}
	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return apperr.Validation("password must contain upper and lower case letters, a digit and a symbol")
	}
	return nil
}
