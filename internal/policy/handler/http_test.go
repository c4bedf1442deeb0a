package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"kallied-admin/backend/internal/policy/domain"
	"kallied-admin/backend/internal/policy/engine"
	"kallied-admin/backend/internal/policy/repository"
)

const grantRules = "package kallied.gate\n\nbase_allow if input.role == \"STAFF\"\n"

func setup() (*mux.Router, *repository.MemoryRepository) {
	repo := repository.NewMemoryRepository()
	r := mux.NewRouter()
	NewHandler(repo, engine.NewOPAEvaluator(repo, nil)).Register(r)
	return r, repo
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestPolicyCRUD(t *testing.T) {
	r, repo := setup()
	body, _ := json.Marshal(map[string]any{"name": "staff grant", "rules": grantRules})
	rec := do(r, http.MethodPost, "/policies", string(body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", rec.Code, rec.Body)
	}
	var created domain.Policy
	_ = json.NewDecoder(rec.Body).Decode(&created)
	if created.ID == "" || !created.Enabled {
		t.Fatalf("created = %+v", created)
	}

	rec = do(r, http.MethodPut, "/policies/"+created.ID, `{"enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body %s", rec.Code, rec.Body)
	}
	stored, _ := repo.GetByID(context.Background(), created.ID)
	if stored.Enabled || stored.Rules != grantRules {
		t.Errorf("stored = %+v", stored)
	}

	rec = do(r, http.MethodGet, "/policies", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), created.ID) {
		t.Errorf("list = %d %s", rec.Code, rec.Body)
	}

	if rec := do(r, http.MethodDelete, "/policies/"+created.ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := do(r, http.MethodDelete, "/policies/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestPolicyCreate_Rejects(t *testing.T) {
	r, _ := setup()
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"rules":"package kallied.gate"}`},
		{"missing rules", `{"name":"x"}`},
		{"wrong package", `{"name":"x","rules":"package other\n\nallow if true"}`},
		{"unknown field", `{"name":"x","rules":"package kallied.gate","org":"o"}`},
	}
	for _, tc := range tests {
		if rec := do(r, http.MethodPost, "/policies", tc.body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400 (%s)", tc.name, rec.Code, rec.Body)
		}
	}
}
