// Package handler serves gate policy administration over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"kallied-admin/backend/internal/policy/domain"
	"kallied-admin/backend/internal/policy/engine"
	"kallied-admin/backend/internal/policy/repository"
	"kallied-admin/backend/internal/server/httpx"
)

// Validator compiles candidate rules.
type Validator interface {
	Validate(ctx context.Context, rules string) error
}

// Handler serves /policies. Callers restrict it to ADMIN.
type Handler struct {
	repo      repository.Repository
	validator Validator
	now       func() time.Time
}

// NewHandler returns a policy handler.
func NewHandler(repo repository.Repository, validator Validator) *Handler {
	return &Handler{repo: repo, validator: validator, now: func() time.Time { return time.Now().UTC() }}
}

// Register mounts the policy routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/policies", h.List).Methods(http.MethodGet)
	r.HandleFunc("/policies", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/policies/{id}", h.Update).Methods(http.MethodPut)
	r.HandleFunc("/policies/{id}", h.Delete).Methods(http.MethodDelete)
}

type policyBody struct {
	Name    string `json:"name"`
	Rules   string `json:"rules"`
	Enabled *bool  `json:"enabled"`
}

// List handles GET /policies.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to list policies")
		return
	}
	if list == nil {
		list = []*domain.Policy{}
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"policies": list})
}

// Create handles POST /policies. New policies are enabled unless the body says otherwise.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body policyBody
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		return
	}
	now := h.now()
	p := &domain.Policy{
		ID:        uuid.New().String(),
		Name:      body.Name,
		Rules:     body.Rules,
		Enabled:   body.Enabled == nil || *body.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !h.validate(w, r, p) {
		return
	}
	if err := h.repo.Create(r.Context(), p); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to create policy")
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, p)
}

// Update handles PUT /policies/{id}. Empty fields keep their current value.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r)
	if !ok {
		return
	}
	var body policyBody
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		return
	}
	if body.Name != "" {
		p.Name = body.Name
	}
	if body.Rules != "" {
		p.Rules = body.Rules
	}
	if body.Enabled != nil {
		p.Enabled = *body.Enabled
	}
	p.UpdatedAt = h.now()
	if !h.validate(w, r, p) {
		return
	}
	if err := h.repo.Update(r.Context(), p); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to update policy")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /policies/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), p.ID); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to delete policy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*domain.Policy, bool) {
	p, err := h.repo.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load policy")
		return nil, false
	}
	if p == nil {
		httpx.RespondError(w, http.StatusNotFound, httpx.CodeNotFound, "policy not found")
		return nil, false
	}
	return p, true
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request, p *domain.Policy) bool {
	if err := p.Validate(); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		return false
	}
	if h.validator == nil {
		return true
	}
	if err := h.validator.Validate(r.Context(), p.Rules); err != nil {
		if errors.Is(err, engine.ErrInvalidPolicy) {
			httpx.RespondError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		} else {
			httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to validate policy")
		}
		return false
	}
	return true
}
