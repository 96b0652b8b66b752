// Package httpx holds the request/response helpers shared by handlers:
// strict JSON decoding with struct validation, and mapping of apperr kinds
// to status codes.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/safeplay/safeplay-api/internal/apperr"
)

const maxBodyBytes = 1 << 20

// Responder writes JSON responses and errors. Dev enables internal error
// details in 500 responses.
type Responder struct {
	Logger   *zap.SugaredLogger
	Dev      bool
	validate *validator.Validate
}

func NewResponder(logger *zap.SugaredLogger, dev bool) *Responder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Responder{Logger: logger, Dev: dev, validate: v}
}

// JSON writes v with the given status.
func (rs *Responder) JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Decode reads a single JSON object into dst, rejecting unknown fields, and
// runs struct validation. Failures are apperr validation errors.
func (rs *Responder) Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		if strings.HasPrefix(err.Error(), "json: unknown field ") {
			return apperr.Validation("unknown field " + strings.TrimPrefix(err.Error(), "json: unknown field "))
		}
		return apperr.Validation("invalid payload")
	}
	if dec.More() {
		return apperr.Validation("invalid payload")
	}
	return rs.Validate(dst)
}

// Validate runs struct tag validation on v.
func (rs *Responder) Validate(v any) error {
	err := rs.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperr.Validation(describe(verrs[0]))
	}
	return apperr.Validation("invalid payload")
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_without":
		return field + " is required"
	case "excludes":
		return field + " must not contain " + fe.Param()
	case "email":
		return field + " must be a valid email"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "min", "gte":
		return field + " must be at least " + fe.Param()
	case "max", "lte":
		return field + " must be at most " + fe.Param()
	case "eqfield":
		return field + " does not match"
	default:
		return field + " is invalid"
	}
}

// Error maps err to a status code and writes {"error": msg}. Unknown errors
// are logged and answered with a generic 500.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	status, body := rs.classify(err)
	if status >= http.StatusInternalServerError {
		rs.Logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		rs.Logger.Debugw("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	rs.JSON(w, status, body)
}

func (rs *Responder) classify(err error) (int, map[string]any) {
	msg, hasMsg := apperr.Message(err)
	pick := func(fallback string) string {
		if hasMsg {
			return msg
		}
		return fallback
	}
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, map[string]any{"error": pick("invalid payload")}
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, map[string]any{"error": pick("conflict")}
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return http.StatusUnauthorized, map[string]any{"error": "invalid credentials"}
	case errors.Is(err, apperr.ErrVerificationRequired):
		return http.StatusForbidden, map[string]any{"error": "verify your email before logging in", "needVerification": true}
	case errors.Is(err, apperr.ErrAccountLocked):
		return http.StatusLocked, map[string]any{"error": "account locked, reset your password", "locked": true}
	case errors.Is(err, apperr.ErrTokenInvalid), errors.Is(err, apperr.ErrTokenExpired):
		// one message for both so callers cannot probe token state
		return http.StatusBadRequest, map[string]any{"error": "invalid or expired token"}
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, map[string]any{"error": pick("forbidden")}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, map[string]any{"error": pick("not found")}
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, map[string]any{"error": pick("authentication required")}
	case errors.Is(err, apperr.ErrEmailDelivery):
		return http.StatusBadGateway, map[string]any{"error": pick("could not send email, try again later")}
	default:
		out := map[string]any{"error": "internal server error"}
		if rs.Dev {
			out["detail"] = fmt.Sprint(err)
		}
		return http.StatusInternalServerError, out
	}
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(name + " must be an integer")
	}
	return n, nil
}

// PathInt64 parses a numeric path value such as {id}.
func PathInt64(r *http.Request, name string) (int64, error) {
	n, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || n <= 0 {
		return 0, apperr.Validation(name + " must be a positive integer")
	}
	return n, nil
}
