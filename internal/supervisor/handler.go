package supervisor

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/safeplay/safeplay-api/internal/apperr"
	"github.com/safeplay/safeplay-api/internal/httpx"
	"github.com/safeplay/safeplay-api/internal/session"
)

// Handler exposes the account endpoints under /api/auth and /api/me.
type Handler struct {
	svc     *Service
	rs      *httpx.Responder
	logger  *zap.SugaredLogger
	baseURL string
}

func NewHandler(svc *Service, rs *httpx.Responder, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, rs: rs, logger: logger, baseURL: svc.cfg.BaseURL}
}

// Same acknowledgement whether or not the address exists.
const (
	msgResendAck = "If the account exists and is not verified, a new verification email has been sent."
	msgForgotAck = "If the email exists, we sent you a link to reset your password."
)

type RegisterRequest struct {
	Username        string  `json:"username" validate:"required,max=50,excludes=@"`
	Email           string  `json:"email" validate:"required,email,max=120"`
	Password        string  `json:"password" validate:"required"`
	ConfirmPassword string  `json:"confirmPassword"`
	FullName        string  `json:"fullName" validate:"required,max=120"`
	Phone           *string `json:"phone" validate:"omitempty,max=30"`
	Terms           bool    `json:"terms"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.rs.Decode(r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	sup, err := h.svc.Register(r.Context(), RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		FullName:        req.FullName,
		Phone:           req.Phone,
		Terms:           req.Terms,
	})
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	msg := "Account created. Check your email to verify your account."
	if sup.EmailVerified {
		msg = "Account created. You can log in now."
	}
	h.rs.JSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// Verify is the target of the emailed link; success redirects to the site.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.VerifyEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	http.Redirect(w, r, h.baseURL+"/?verified=1", http.StatusFound)
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := h.rs.Decode(r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	if err := h.svc.ResendVerification(r.Context(), req.Email); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, map[string]any{"message": msgResendAck})
}

// LoginRequest login payload.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.rs.Decode(r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	res, err := h.svc.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "identifier", req.Identifier, "err", err)
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, map[string]any{
		"message":   "Login successful",
		"token":     res.Token,
		"expiresAt": res.ExpiresAt,
	})
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := h.rs.Decode(r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, map[string]any{"message": msgForgotAck})
}

// Password is accepted as an alias of NewPassword for the reset page form.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required_without=Password"`
	Password    string `json:"password" validate:"required_without=NewPassword"`
}

func (req ResetPasswordRequest) password() string {
	if req.NewPassword != "" {
		return req.NewPassword
	}
	return req.Password
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := h.rs.Decode(r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.password()); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, map[string]any{"message": "Password updated. You can log in now."})
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if err := h.rs.Decode(r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), claims.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, map[string]any{"message": "Password changed"})
}

// Logout only acknowledges; the client drops its token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.rs.JSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
}

type DeleteAccountRequest struct {
	Password *string `json:"password"`
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	var req DeleteAccountRequest
	if r.ContentLength != 0 {
		if err := h.rs.Decode(r, &req); err != nil {
			h.rs.Error(w, r, err)
			return
		}
	}
	if err := h.svc.DeleteAccount(r.Context(), claims.ID, req.Password); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, map[string]any{"message": "Account deleted"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	sup, err := h.svc.Profile(r.Context(), claims.ID)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, sup.Profile())
}

type UpdateProfileRequest struct {
	FullName *string `json:"fullName" validate:"omitempty,max=120"`
	Phone    *string `json:"phone" validate:"omitempty,max=30"`
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	var req UpdateProfileRequest
	if err := h.rs.Decode(r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	if req.FullName == nil && req.Phone == nil {
		h.rs.Error(w, r, apperr.Validation("nothing to update"))
		return
	}
	if req.FullName != nil && strings.TrimSpace(*req.FullName) == "" {
		h.rs.Error(w, r, apperr.Validation("fullName cannot be empty"))
		return
	}
	sup, err := h.svc.UpdateProfile(r.Context(), claims.ID, req.FullName, req.Phone)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, sup.Profile())
}

func (h *Handler) claims(w http.ResponseWriter, r *http.Request) (*session.Claims, bool) {
	c, ok := session.FromContext(r.Context())
	if !ok {
		h.rs.Error(w, r, apperr.ErrUnauthorized)
		return nil, false
	}
	return c, true
}
