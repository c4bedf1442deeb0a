package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"kallied-admin/backend/internal/audit/domain"
	auditrepo "kallied-admin/backend/internal/audit/repository"
)

type brokenRepo struct{}

func (brokenRepo) Create(context.Context, *domain.AuditLog) error { return nil }
func (brokenRepo) List(context.Context, domain.Filter) ([]*domain.AuditLog, error) {
	return nil, errors.New("db down")
}

func newRouter(repo auditrepo.Repository) *mux.Router {
	r := mux.NewRouter()
	NewHandler(repo).Register(r.PathPrefix("/api/v1").Subrouter())
	return r
}

func TestList(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i, a := range []string{"otp_requested", "user_disabled", "otp_requested"} {
		_ = repo.Create(context.Background(), &domain.AuditLog{
			ID: string(rune('a' + i)), UserID: "op-1", Action: a, Resource: "user", IP: "unknown",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	rec := httptest.NewRecorder()
	newRouter(repo).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/activity-logs?action=otp_requested&limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body listResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Logs) != 1 || body.Logs[0].ID != "c" || body.Limit != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestList_EmptyIsArray(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(auditrepo.NewMemoryRepository()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/activity-logs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var raw map[string]json.RawMessage
	_ = json.NewDecoder(rec.Body).Decode(&raw)
	if string(raw["logs"]) != "[]" {
		t.Errorf("logs = %s, want []", raw["logs"])
	}
}

func TestList_RepoError(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(brokenRepo{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/activity-logs", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
