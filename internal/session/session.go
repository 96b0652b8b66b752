// Package session issues and verifies the stateless bearer credential handed
// out on login. There is no server-side revocation: logout is the client
// discarding its token.
package session

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims carried by a session token.
type Claims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

// Issuer signs and parses HS256 session tokens.
type Issuer struct {
	cfg Config
	now func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	return NewIssuerWithNow(cfg, time.Now)
}

func NewIssuerWithNow(cfg Config, now func() time.Time) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing session secret")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid session ttl")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "safeplay"
	}
	return &Issuer{cfg: cfg, now: now}, nil
}

// TTL is the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.cfg.TTL }

// Issue creates a token for the account.
func (i *Issuer) Issue(id int64, username string) (string, time.Time, error) {
	now := i.now().UTC()
	exp := now.Add(i.cfg.TTL)
	claims := Claims{
		ID:       id,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   strconv.FormatInt(id, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify validates signature, issuer and expiry.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(i.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
