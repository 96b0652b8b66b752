package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeplay/safeplay-api/internal/apperr"
)

func newTestIssuer(t *testing.T, now func() time.Time) *Issuer {
	t.Helper()
	iss, err := NewIssuerWithNow(Config{Secret: "secret", TTL: 24 * time.Hour, Issuer: "test"}, now)
	require.NoError(t, err)
	return iss
}

func TestIssueAndVerify(t *testing.T) {
	iss := newTestIssuer(t, time.Now)
	tok, exp, err := iss.Issue(7, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), exp, time.Minute)

	claims, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.ID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "7", claims.Subject)
	assert.NotEmpty(t, claims.RegisteredClaims.ID)
}

func TestVerifyExpired(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, func() time.Time { return clock })
	tok, _, err := iss.Issue(1, "alice")
	require.NoError(t, err)

	clock = clock.Add(25 * time.Hour)
	_, err = iss.Verify(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	iss := newTestIssuer(t, time.Now)

	other, err := NewIssuer(Config{Secret: "other", TTL: time.Hour, Issuer: "test"})
	require.NoError(t, err)
	foreign, _, err := other.Issue(1, "alice")
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: 1, Username: "alice"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for _, tok := range []string{"", "garbage", "a.b.c", foreign, unsigned} {
		_, err := iss.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, tok)
	}
}

func TestNewIssuerValidation(t *testing.T) {
	_, err := NewIssuer(Config{TTL: time.Hour})
	assert.Error(t, err)
	_, err = NewIssuer(Config{Secret: "x"})
	assert.Error(t, err)
}

func TestRequireAuth(t *testing.T) {
	iss := newTestIssuer(t, time.Now)
	tok, _, err := iss.Issue(9, "bob")
	require.NoError(t, err)

	var gotErr error
	onErr := func(w http.ResponseWriter, r *http.Request, err error) {
		gotErr = err
		w.WriteHeader(http.StatusUnauthorized)
	}
	h := RequireAuth(iss, onErr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := FromContext(r.Context())
		if !ok || c.ID != 9 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer nope"} {
		gotErr = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		assert.ErrorIs(t, gotErr, apperr.ErrUnauthorized)
	}
}
