package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/safeplay/safeplay-api/internal/apperr"
)

type ctxKey struct{}

// WithClaims stores claims on ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the authenticated claims, if any.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok && c != nil
}

// ErrorWriter reports a failed authentication.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// RequireAuth rejects requests without a valid "Authorization: Bearer" token.
func RequireAuth(iss *Issuer, onErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				onErr(w, r, apperr.New(apperr.ErrUnauthorized, "token required"))
				return
			}
			claims, err := iss.Verify(strings.TrimSpace(parts[1]))
			if err != nil {
				onErr(w, r, apperr.New(apperr.ErrUnauthorized, "invalid or expired token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
