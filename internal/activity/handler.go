package activity

import (
	"context"
	"net/http"

	"github.com/safeplay/safeplay-api/internal/apperr"
	"github.com/safeplay/safeplay-api/internal/httpx"
	"github.com/safeplay/safeplay-api/internal/session"
)

// RecipientFunc adapts a lookup function to Accounts.
type RecipientFunc func(ctx context.Context, id int64) (Recipient, error)

func (f RecipientFunc) Recipient(ctx context.Context, id int64) (Recipient, error) { return f(ctx, id) }

// Handler exposes /api/electron/activity.
type Handler struct {
	svc *Service
	rs  *httpx.Responder
}

func NewHandler(svc *Service, rs *httpx.Responder) *Handler {
	return &Handler{svc: svc, rs: rs}
}

func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req Entry
	if err := h.rs.Decode(r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	a, err := h.svc.Record(r.Context(), owner, req)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusCreated, a)
}

type BatchRequest struct {
	Activities []Entry `json:"activities" validate:"required,min=1,max=100,dive"`
}

func (h *Handler) RecordBatch(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req BatchRequest
	if err := h.rs.Decode(r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	items, err := h.svc.RecordBatch(r.Context(), owner, req.Activities)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusCreated, map[string]any{"count": len(items), "activities": items})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	limit, err := httpx.QueryInt(r, "limit", DefaultLimit)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	page, err := h.svc.Query(r.Context(), owner, limit, offset, r.URL.Query().Get("gameName"))
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, page)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	hours, err := httpx.QueryInt(r, "hours", DefaultHours)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	report, err := h.svc.ActivitySince(r.Context(), owner, hours)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, report)
}

func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	report, err := h.svc.SendSummary(r.Context(), owner)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Activity summary sent",
		"count":   len(report.Entries),
	})
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	c, ok := session.FromContext(r.Context())
	if !ok {
		h.rs.Error(w, r, apperr.ErrUnauthorized)
		return 0, false
	}
	return c.ID, true
}
