package router

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/safeplay/safeplay-api/internal/activity"
	"github.com/safeplay/safeplay-api/internal/command"
	"github.com/safeplay/safeplay-api/internal/httpx"
	"github.com/safeplay/safeplay-api/internal/session"
	"github.com/safeplay/safeplay-api/internal/supervisor"
	"github.com/safeplay/safeplay-api/pkg/utilities"
)

const requestIDHeader = "X-Request-ID"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware tags each request with an id (reusing a sane incoming
// X-Request-ID) and logs it at debug level.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" || len(reqID) > 64 {
				reqID = utilities.NewKSUID()
			}
			w.Header().Set(requestIDHeader, reqID)

			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// RecoverMiddleware turns a handler panic into a 500.
func RecoverMiddleware(logger *zap.SugaredLogger, rs *httpx.Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Errorw("panic serving request", "method", r.Method, "path", r.URL.Path, "panic", v)
					rs.JSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
// It is intentionally simple and conservative so it works with most setups.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			// JSON only, nothing to load
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the pieces RegisterRoutes mounts.
type Deps struct {
	Logger      *zap.SugaredLogger
	DB          *sqlx.DB
	Responder   *httpx.Responder
	Sessions    *session.Issuer
	Supervisors *supervisor.Handler
	Commands    *command.Handler
	Activity    *activity.Handler
	// Limiter throttles the public auth endpoints; nil disables it.
	Limiter *RateLimiter
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	rs := d.Responder

	auth := session.RequireAuth(d.Sessions, rs.Error)
	limited := RateLimitMiddleware(d.Limiter, rs)
	public := func(h http.HandlerFunc) http.Handler { return limited(h) }
	private := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if d.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.DB.PingContext(ctx); err != nil {
				d.Logger.Warnw("health check: db ping failed", "err", err)
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// account
	sv := d.Supervisors
	mux.Handle("POST /api/auth/register", public(sv.Register))
	mux.Handle("GET /api/auth/verify", public(sv.Verify))
	mux.Handle("POST /api/auth/resend-verification", public(sv.ResendVerification))
	mux.Handle("POST /api/auth/login", public(sv.Login))
	mux.Handle("POST /api/auth/forgot", public(sv.ForgotPassword))
	mux.Handle("POST /api/auth/forgot-password", public(sv.ForgotPassword))
	mux.Handle("POST /api/auth/reset", public(sv.ResetPassword))
	mux.Handle("POST /api/auth/reset-password", public(sv.ResetPassword))
	mux.Handle("POST /api/auth/change-password", private(sv.ChangePassword))
	mux.Handle("POST /api/auth/logout", private(sv.Logout))
	mux.Handle("DELETE /api/auth/delete-account", private(sv.DeleteAccount))
	mux.Handle("GET /api/me", private(sv.Me))
	mux.Handle("PATCH /api/me", private(sv.UpdateMe))

	// agent command queue
	cmd := d.Commands
	mux.Handle("POST /api/electron/commands", private(cmd.Create))
	mux.Handle("GET /api/electron/commands/pending", private(cmd.Pending))
	mux.Handle("GET /api/electron/commands/history", private(cmd.History))
	mux.Handle("GET /api/electron/commands/{id}", private(cmd.Get))
	mux.Handle("PATCH /api/electron/commands/{id}/executed", private(cmd.Executed))
	mux.Handle("PATCH /api/electron/commands/{id}/failed", private(cmd.Failed))

	// activity ledger
	act := d.Activity
	mux.Handle("POST /api/electron/activity", private(act.Record))
	mux.Handle("POST /api/electron/activity/batch", private(act.RecordBatch))
	mux.Handle("GET /api/electron/activity", private(act.List))
	mux.Handle("GET /api/electron/activity/summary", private(act.Summary))
	mux.Handle("POST /api/electron/activity/send-email", private(act.SendEmail))

	handler := RecoverMiddleware(d.Logger, rs)(mux)
	handler = SecurityHeadersMiddleware()(handler)
	return LoggingMiddleware(d.Logger)(handler)
}
