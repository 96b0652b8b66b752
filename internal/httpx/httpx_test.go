package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safeplay/safeplay-api/internal/apperr"
)

type sampleRequest struct {
	Email string `json:"email" validate:"required,email"`
	Count int    `json:"count" validate:"gte=0"`
}

func newResponder(dev bool) *Responder {
	return NewResponder(zap.NewNop().Sugar(), dev)
}

func TestDecode(t *testing.T) {
	rs := newResponder(false)
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "ok", body: `{"email":"a@x.com","count":1}`},
		{name: "empty", body: ``, wantErr: "request body is required"},
		{name: "unknown field", body: `{"email":"a@x.com","extra":1}`, wantErr: `unknown field "extra"`},
		{name: "bad email", body: `{"email":"nope"}`, wantErr: "email must be a valid email"},
		{name: "missing", body: `{}`, wantErr: "email is required"},
		{name: "negative", body: `{"email":"a@x.com","count":-1}`, wantErr: "count must be at least 0"},
		{name: "trailing", body: `{"email":"a@x.com"} {}`, wantErr: "invalid payload"},
		{name: "wrong type", body: `{"email":1}`, wantErr: "invalid payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst sampleRequest
			err := rs.Decode(req, &dst)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, apperr.ErrValidation)
			msg, _ := apperr.Message(err)
			assert.Equal(t, tt.wantErr, msg)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		key    string
	}{
		{apperr.Validation("bad"), http.StatusBadRequest, ""},
		{apperr.New(apperr.ErrConflict, "email already registered"), http.StatusConflict, ""},
		{apperr.ErrInvalidCredentials, http.StatusUnauthorized, ""},
		{apperr.ErrVerificationRequired, http.StatusForbidden, "needVerification"},
		{apperr.ErrAccountLocked, http.StatusLocked, "locked"},
		{apperr.ErrTokenExpired, http.StatusBadRequest, ""},
		{apperr.ErrTokenInvalid, http.StatusBadRequest, ""},
		{apperr.ErrForbidden, http.StatusForbidden, ""},
		{apperr.ErrNotFound, http.StatusNotFound, ""},
		{apperr.ErrEmailDelivery, http.StatusBadGateway, ""},
		{errors.New("db down"), http.StatusInternalServerError, ""},
	}
	rs := newResponder(false)
	for _, tt := range tests {
		w := httptest.NewRecorder()
		rs.Error(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
		assert.Equal(t, tt.status, w.Code, tt.err.Error())

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.NotEmpty(t, body["error"])
		if tt.key != "" {
			assert.Equal(t, true, body[tt.key])
		}
		assert.NotContains(t, body, "detail")
	}
}

func TestTokenErrorsShareMessage(t *testing.T) {
	rs := newResponder(false)
	_, a := rs.classify(apperr.ErrTokenExpired)
	_, b := rs.classify(apperr.ErrTokenInvalid)
	assert.Equal(t, a, b)
}

func TestInternalDetailOnlyInDev(t *testing.T) {
	w := httptest.NewRecorder()
	newResponder(true).Error(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("db down"))
	assert.Contains(t, w.Body.String(), "db down")
}

func TestQueryAndPathHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&bad=x", nil)
	n, err := QueryInt(req, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = QueryInt(req, "offset", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = QueryInt(req, "bad", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	req.SetPathValue("id", "42")
	id, err := PathInt64(req, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	req.SetPathValue("id", "-1")
	_, err = PathInt64(req, "id")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
