// Package token issues and checks the opaque, single-use secrets embedded in
// verification and password reset links. Only the SHA-256 of a secret is
// ever persisted.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/safeplay/safeplay-api/internal/apperr"
)

const secretBytes = 32

// Default lifetimes.
const (
	DefaultVerifyTTL = 24 * time.Hour
	DefaultResetTTL  = 30 * time.Minute
)

// Issued is a freshly generated token. Raw goes into the emailed link, Hash
// and ExpiresAt are stored against the account.
type Issued struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

// Issue generates a new token valid for ttl from now.
func Issue(now time.Time, ttl time.Duration) (Issued, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return Issued{}, err
	}
	raw := hex.EncodeToString(b)
	return Issued{Raw: raw, Hash: Hash(raw), ExpiresAt: now.Add(ttl).UTC()}, nil
}

// Hash returns the storage form of a raw token.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Verify checks candidate against the stored hash and expiry. Callers must
// clear the stored hash after a successful check.
func Verify(candidate string, storedHash *string, expiresAt *time.Time, now time.Time) error {
	if candidate == "" || storedHash == nil || *storedHash == "" {
		return apperr.ErrTokenInvalid
	}
	if subtle.ConstantTimeCompare([]byte(Hash(candidate)), []byte(*storedHash)) != 1 {
		return apperr.ErrTokenInvalid
	}
	if expiresAt == nil || !now.Before(*expiresAt) {
		return apperr.ErrTokenExpired
	}
	return nil
}
