// Package handler serves dev-mode code lookup. Never mounted in production.
package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"kallied-admin/backend/internal/devotp"
	"kallied-admin/backend/internal/server/httpx"
)

// Handler returns stored codes by challenge id.
type Handler struct {
	store devotp.Store
}

// NewHandler returns a handler reading from store.
func NewHandler(store devotp.Store) *Handler {
	return &Handler{store: store}
}

// Register mounts GET /dev/gate/otp/{challengeId} on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/dev/gate/otp/{challengeId}", h.GetOTP).Methods(http.MethodGet)
}

type otpResponse struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

// GetOTP returns the code for the challenge while it is live.
func (h *Handler) GetOTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["challengeId"]
	code, ok, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, http.StatusServiceUnavailable, httpx.CodeUnavailable, "dev otp store unavailable")
		return
	}
	if !ok {
		httpx.RespondError(w, http.StatusNotFound, httpx.CodeNotFound, "otp not found or expired")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, otpResponse{ChallengeID: id, Code: code})
}
