package command

import (
	"net/http"

	"github.com/safeplay/safeplay-api/internal/apperr"
	"github.com/safeplay/safeplay-api/internal/command/entity"
	"github.com/safeplay/safeplay-api/internal/httpx"
	"github.com/safeplay/safeplay-api/internal/session"
)

// Handler exposes /api/electron/commands.
type Handler struct {
	svc *Service
	rs  *httpx.Responder
}

func NewHandler(svc *Service, rs *httpx.Responder) *Handler {
	return &Handler{svc: svc, rs: rs}
}

type CreateRequest struct {
	Action   string  `json:"action" validate:"required,oneof=block unblock set_timer get_status"`
	Target   *string `json:"target" validate:"omitempty,max=255"`
	Duration *int    `json:"duration"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if err := h.rs.Decode(r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	c, err := h.svc.Create(r.Context(), owner, entity.Action(req.Action), req.Target, req.Duration)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusCreated, c)
}

func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	limit, err := httpx.QueryInt(r, "limit", MaxPending)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	cmds, err := h.svc.ListPending(r.Context(), owner, limit)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, map[string]any{"commands": cmds, "count": len(cmds)})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	limit, err := httpx.QueryInt(r, "limit", DefaultHistory)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	cmds, err := h.svc.History(r.Context(), owner, r.URL.Query().Get("status"), limit)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, map[string]any{"commands": cmds, "count": len(cmds)})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	c, err := h.svc.Get(r.Context(), id, owner)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, c)
}

func (h *Handler) Executed(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	c, err := h.svc.MarkExecuted(r.Context(), id, owner)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, c)
}

type FailedRequest struct {
	ErrorMessage *string `json:"errorMessage" validate:"omitempty,max=2000"`
}

func (h *Handler) Failed(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	var req FailedRequest
	if r.ContentLength != 0 {
		if err := h.rs.Decode(r, &req); err != nil {
			h.rs.Error(w, r, err)
			return
		}
	}
	c, err := h.svc.MarkFailed(r.Context(), id, owner, req.ErrorMessage)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.JSON(w, http.StatusOK, c)
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	c, ok := session.FromContext(r.Context())
	if !ok {
		h.rs.Error(w, r, apperr.ErrUnauthorized)
		return 0, false
	}
	return c.ID, true
}
