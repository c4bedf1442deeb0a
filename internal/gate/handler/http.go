// Package handler exposes the operator's confirmation gate over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"kallied-admin/backend/internal/gate"
	"kallied-admin/backend/internal/gate/domain"
	"kallied-admin/backend/internal/gate/service"
	"kallied-admin/backend/internal/server/httpx"
	"kallied-admin/backend/internal/server/middleware"
	userrepo "kallied-admin/backend/internal/user/repository"
	userservice "kallied-admin/backend/internal/user/service"
)

// Service is the gate surface the handler drives; *service.Manager implements it.
type Service interface {
	Request(ctx context.Context, actor service.Actor, action domain.PendingAction) (*gate.Handle, error)
	Verify(ctx context.Context, actor service.Actor, code string) error
	Resend(ctx context.Context, actor service.Actor) (*gate.Handle, error)
	Cancel(ctx context.Context, actor service.Actor) error
	Status(actor service.Actor) gate.Snapshot
}

// Handler serves /gate routes for the authenticated operator.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// NewHandler returns a gate handler. logger may be nil.
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the gate routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/gate", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/gate/actions", h.Request).Methods(http.MethodPost)
	r.HandleFunc("/gate/verify", h.Verify).Methods(http.MethodPost)
	r.HandleFunc("/gate/resend", h.Resend).Methods(http.MethodPost)
	r.HandleFunc("/gate/cancel", h.Cancel).Methods(http.MethodPost)
}

type requestBody struct {
	Kind     string          `json:"kind"`
	TargetID string          `json:"targetId"`
	Payload  json.RawMessage `json:"payload"`
}

type verifyBody struct {
	Code string `json:"code"`
}

// HandleView is the response for an issued challenge.
type HandleView struct {
	ChallengeID      string    `json:"challengeId"`
	IssuedAt         time.Time `json:"issuedAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RemainingSeconds int       `json:"remainingSeconds"`
}

func toHandleView(hd *gate.Handle) HandleView {
	return HandleView{
		ChallengeID:      hd.ChallengeID,
		IssuedAt:         hd.IssuedAt,
		ExpiresAt:        hd.ExpiresAt,
		RemainingSeconds: hd.Remaining(),
	}
}

// Request handles POST /gate/actions: holds the action and sends a code to the approver.
func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var body requestBody
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		return
	}
	hd, err := h.svc.Request(r.Context(), actor, domain.PendingAction{
		Kind:     domain.ActionKind(body.Kind),
		TargetID: body.TargetID,
		Payload:  body.Payload,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusAccepted, toHandleView(hd))
}

// Verify handles POST /gate/verify. On success the held action has already run.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var body verifyBody
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		httpx.RespondError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, "code is required")
		return
	}
	if err := h.svc.Verify(r.Context(), actor, code); err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, h.svc.Status(actor))
}

// Resend handles POST /gate/resend.
func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	hd, err := h.svc.Resend(r.Context(), actor)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusAccepted, toHandleView(hd))
}

// Cancel handles POST /gate/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := h.svc.Cancel(r.Context(), actor); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /gate.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	httpx.RespondJSON(w, http.StatusOK, h.svc.Status(actor))
}

func actorFrom(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httpx.RespondError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing or invalid authorization")
		return service.Actor{}, false
	}
	role, _ := middleware.GetRole(r.Context())
	return service.Actor{UserID: userID, Role: role}, true
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	status, code, msg := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("gate: request failed", zap.Error(err))
	}
	httpx.RespondError(w, status, code, msg)
}

// StatusFor maps a gate or executor error to an HTTP status, error code and client message.
func StatusFor(err error) (int, string, string) {
	switch {
	case errors.Is(err, gate.ErrMismatch):
		return http.StatusUnprocessableEntity, httpx.CodeUnprocessable, "code does not match"
	case errors.Is(err, gate.ErrExpired):
		return http.StatusGone, httpx.CodeGone, "code expired; request a new one"
	case errors.Is(err, gate.ErrNoActiveChallenge):
		return http.StatusConflict, httpx.CodeConflict, "no pending action to confirm"
	case errors.Is(err, gate.ErrAlreadyVerified):
		return http.StatusConflict, httpx.CodeConflict, "action already confirmed"
	case errors.Is(err, gate.ErrForbidden):
		return http.StatusForbidden, httpx.CodeForbidden, "not permitted to request this action"
	case errors.Is(err, domain.ErrInvalidAction), errors.Is(err, gate.ErrUnknownAction):
		return http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error()
	case errors.Is(err, gate.ErrClosed):
		return http.StatusServiceUnavailable, httpx.CodeUnavailable, "service is shutting down"
	case errors.Is(err, gate.ErrExecutionFailed):
		return executionStatus(err)
	}
	return http.StatusInternalServerError, httpx.CodeInternal, "internal error"
}

// executionStatus classifies the executor's cause; the code was accepted either way.
func executionStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, userservice.ErrUserNotFound):
		return http.StatusNotFound, httpx.CodeNotFound, "user not found"
	case errors.Is(err, userservice.ErrInvalidPayload):
		return http.StatusBadRequest, httpx.CodeInvalidRequest, strings.TrimPrefix(err.Error(), gate.ErrExecutionFailed.Error()+": ")
	case errors.Is(err, userservice.ErrNoChange):
		return http.StatusConflict, httpx.CodeConflict, "user already in requested state"
	case errors.Is(err, userrepo.ErrEmailTaken):
		return http.StatusConflict, httpx.CodeConflict, "email already in use"
	}
	return http.StatusInternalServerError, httpx.CodeInternal, "action failed after confirmation"
}
