// Package handler serves the activity log over HTTP.
package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"kallied-admin/backend/internal/audit/domain"
	auditrepo "kallied-admin/backend/internal/audit/repository"
	"kallied-admin/backend/internal/server/httpx"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Handler lists activity log entries.
type Handler struct {
	repo auditrepo.Repository
}

// NewHandler returns an activity log handler reading from repo.
func NewHandler(repo auditrepo.Repository) *Handler {
	return &Handler{repo: repo}
}

// Register mounts the routes on r. Callers restrict r to ADMIN.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/activity-logs", h.List).Methods(http.MethodGet)
}

type listResponse struct {
	Logs   []*domain.AuditLog `json:"logs"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// List returns entries newest first, filtered by userId, action and resource.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := httpx.Paging(r, defaultLimit, maxLimit)
	q := r.URL.Query()
	f := domain.Filter{
		UserID:   strings.TrimSpace(q.Get("userId")),
		Action:   strings.TrimSpace(q.Get("action")),
		Resource: strings.TrimSpace(q.Get("resource")),
		Limit:    limit,
		Offset:   offset,
	}
	logs, err := h.repo.List(r.Context(), f)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to list activity logs")
		return
	}
	if logs == nil {
		logs = []*domain.AuditLog{}
	}
	httpx.RespondJSON(w, http.StatusOK, listResponse{Logs: logs, Limit: limit, Offset: offset})
}
