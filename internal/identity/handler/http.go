// Package handler serves operator sign-in over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"kallied-admin/backend/internal/identity/service"
	"kallied-admin/backend/internal/server/httpx"
	"kallied-admin/backend/internal/server/middleware"
)

// Authenticator performs password login.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
}

// Handler serves /auth routes.
type Handler struct {
	auth Authenticator
	// onLogout releases per-operator state such as the operator's gate.
	onLogout func(userID string)
	logger   *zap.Logger
}

// NewHandler returns an auth handler. onLogout and logger may be nil.
func NewHandler(auth Authenticator, onLogout func(userID string), logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{auth: auth, onLogout: onLogout, logger: logger}
}

// Register mounts the auth routes on r. /auth/login must be listed as a public path.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", h.Me).Methods(http.MethodGet)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		httpx.RespondError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		h.logger.Error("auth: login failed", zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "login failed")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, loginResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.ExpiresAt,
		UserID:      res.UserID,
		Role:        res.Role,
	})
}

// Logout handles POST /auth/logout. Tokens are stateless, so this only drops server-side state.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if userID, ok := middleware.GetUserID(r.Context()); ok && h.onLogout != nil {
		h.onLogout(userID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httpx.RespondError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing or invalid authorization")
		return
	}
	role, _ := middleware.GetRole(r.Context())
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"userId": userID, "role": role})
}
