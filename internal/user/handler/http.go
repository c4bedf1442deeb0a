// Package handler serves the read side of user management over HTTP. Mutations go through the
// confirmation gate, not through this package.
package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"kallied-admin/backend/internal/server/httpx"
	"kallied-admin/backend/internal/user/domain"
	userrepo "kallied-admin/backend/internal/user/repository"
)

const (
	defaultLimit = 25
	maxLimit     = 100
)

// Handler lists and reads users.
type Handler struct {
	repo userrepo.Repository
}

// NewHandler returns a user handler reading from repo.
func NewHandler(repo userrepo.Repository) *Handler {
	return &Handler{repo: repo}
}

// Register mounts the user routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/users", h.List).Methods(http.MethodGet)
	r.HandleFunc("/users/stats", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", h.Get).Methods(http.MethodGet)
}

// UserView is the wire form of a user. The password hash never leaves the service.
type UserView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ToView converts u to its wire form.
func ToView(u *domain.User) UserView {
	return UserView{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Phone:     u.Phone,
		Role:      string(u.Role),
		Status:    string(u.Status),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type listResponse struct {
	Users  []UserView `json:"users"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// List handles GET /users?q=&status=&role=&limit=&offset=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := httpx.Paging(r, defaultLimit, maxLimit)
	f := domain.Filter{Query: strings.TrimSpace(q.Get("q")), Limit: limit, Offset: offset}
	if s := q.Get("status"); s != "" {
		f.Status = domain.UserStatus(strings.ToLower(s))
		if !f.Status.Valid() {
			httpx.RespondError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, "unknown status")
			return
		}
	}
	if s := q.Get("role"); s != "" {
		role, ok := domain.ParseRole(s)
		if !ok {
			httpx.RespondError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, "unknown role")
			return
		}
		f.Role = role
	}
	users, err := h.repo.List(r.Context(), f)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to list users")
		return
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, ToView(u))
	}
	httpx.RespondJSON(w, http.StatusOK, listResponse{Users: views, Limit: limit, Offset: offset})
}

// Get handles GET /users/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.repo.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load user")
		return
	}
	if u == nil {
		httpx.RespondError(w, http.StatusNotFound, httpx.CodeNotFound, "user not found")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, ToView(u))
}

// Stats handles GET /users/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.repo.Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load stats")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, s)
}
