package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"kallied-admin/backend/internal/audit"
	"kallied-admin/backend/internal/security"
)

type fakeTokens map[string]security.Identity

func (f fakeTokens) ValidateAccess(token string) (security.Identity, error) {
	id, ok := f[token]
	if !ok {
		return security.Identity{}, errors.New("invalid token")
	}
	return id, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
	ips    []string
}

func (r *recordingAudit) LogEvent(ctx context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	r.ips = append(r.ips, ClientIPFromContext(ctx))
}

func whoami(w http.ResponseWriter, r *http.Request) {
	id, _ := GetUserID(r.Context())
	role, _ := GetRole(r.Context())
	_, _ = w.Write([]byte(id + "/" + role))
}

func TestAuth(t *testing.T) {
	tokens := fakeTokens{"good": {UserID: "U1", Role: "ADMIN"}}
	h := Auth(tokens, nil, map[string]bool{"/api/v1/auth/login": true})(http.HandlerFunc(whoami))

	tests := []struct {
		name       string
		method     string
		path       string
		header     string
		upgrade    bool
		wantStatus int
		wantBody   string
	}{
		{"no token", http.MethodGet, "/api/v1/users", "", false, http.StatusUnauthorized, ""},
		{"bad token", http.MethodGet, "/api/v1/users", "Bearer nope", false, http.StatusUnauthorized, ""},
		{"good token", http.MethodGet, "/api/v1/users", "Bearer good", false, http.StatusOK, "U1/ADMIN"},
		{"case-insensitive scheme", http.MethodGet, "/api/v1/users", "bearer good", false, http.StatusOK, "U1/ADMIN"},
		{"public without token", http.MethodPost, "/api/v1/auth/login", "", false, http.StatusOK, "/"},
		{"public with bad token", http.MethodPost, "/api/v1/auth/login", "Bearer nope", false, http.StatusOK, "/"},
		{"preflight", http.MethodOptions, "/api/v1/users", "", false, http.StatusOK, "/"},
		{"websocket query token", http.MethodGet, "/ws?access_token=good", "", true, http.StatusOK, "U1/ADMIN"},
		{"query token without upgrade", http.MethodGet, "/api/v1/users?access_token=good", "", false, http.StatusUnauthorized, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantBody != "" && rec.Body.String() != tc.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tc.wantBody)
			}
		})
	}
}

type account struct {
	role   string
	active bool
}

type fakeAccounts struct {
	accounts map[string]account
	err      error
}

func (f fakeAccounts) CurrentAccess(_ context.Context, userID string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	a := f.accounts[userID]
	return a.role, a.active, nil
}

func TestAuth_RechecksAccount(t *testing.T) {
	tokens := fakeTokens{
		"admin":    {UserID: "U1", Role: "ADMIN"},
		"demoted":  {UserID: "U2", Role: "ADMIN"},
		"disabled": {UserID: "U3", Role: "ADMIN"},
		"deleted":  {UserID: "U4", Role: "STAFF"},
	}
	accounts := fakeAccounts{accounts: map[string]account{
		"U1": {"ADMIN", true},
		"U2": {"STAFF", true},
		"U3": {"ADMIN", false},
	}}
	public := map[string]bool{"/api/v1/auth/login": true}

	tests := []struct {
		name       string
		accounts   AccountChecker
		path       string
		token      string
		wantStatus int
		wantBody   string
	}{
		{"active account", accounts, "/api/v1/users", "admin", http.StatusOK, "U1/ADMIN"},
		{"stored role wins over token", accounts, "/api/v1/users", "demoted", http.StatusOK, "U2/STAFF"},
		{"disabled account", accounts, "/api/v1/gate/actions", "disabled", http.StatusUnauthorized, ""},
		{"deleted account", accounts, "/api/v1/users", "deleted", http.StatusUnauthorized, ""},
		{"disabled on public path", accounts, "/api/v1/auth/login", "disabled", http.StatusOK, "/"},
		{"lookup failure", fakeAccounts{err: errors.New("db down")}, "/api/v1/users", "admin", http.StatusServiceUnavailable, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := Auth(tokens, tc.accounts, public)(http.HandlerFunc(whoami))
			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantBody != "" && rec.Body.String() != tc.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("ADMIN")(http.HandlerFunc(whoami))
	for role, want := range map[string]int{"ADMIN": http.StatusOK, "MANAGER": http.StatusForbidden, "": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
		req = req.WithContext(WithIdentity(req.Context(), "U1", role))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("role %q: status = %d, want %d", role, rec.Code, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", "198.51.100.4"},
		{"remote addr", nil, "192.0.2.10:5555", "192.0.2.10"},
		{"remote without port", nil, "192.0.2.11", "192.0.2.11"},
		{"nothing", nil, "", "unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
			var fromCtx string
			ClientIPMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				fromCtx = ClientIPFromContext(r.Context())
			})).ServeHTTP(httptest.NewRecorder(), req)
			if fromCtx != tc.want {
				t.Errorf("ClientIPFromContext = %q, want %q", fromCtx, tc.want)
			}
		})
	}
}

func TestAudit(t *testing.T) {
	rec := &recordingAudit{}
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(ClientIPMiddleware, Auth(fakeTokens{"good": {UserID: "U1", Role: "ADMIN"}}, nil, nil),
		Audit(rec, map[string]bool{"/api/v1/gate/verify": true}))
	api.HandleFunc("/policies/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
	api.HandleFunc("/policies", func(w http.ResponseWriter, _ *http.Request) {}).Methods(http.MethodGet)
	api.HandleFunc("/gate/verify", func(w http.ResponseWriter, _ *http.Request) {}).Methods(http.MethodPost)

	do := func(method, path string) {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer good")
		req.Header.Set("X-Real-IP", "198.51.100.4")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	do(http.MethodDelete, "/api/v1/policies/p-1")
	do(http.MethodGet, "/api/v1/policies")
	do(http.MethodPost, "/api/v1/gate/verify")

	if len(rec.events) != 1 {
		t.Fatalf("events = %+v, want only the delete", rec.events)
	}
	got := rec.events[0]
	want := audit.Event{UserID: "U1", Action: "delete", Resource: "policy", ResourceID: "p-1", Status: http.StatusNoContent}
	if got != want {
		t.Errorf("event = %+v, want %+v", got, want)
	}
	if rec.ips[0] != "198.51.100.4" {
		t.Errorf("ip = %q", rec.ips[0])
	}
}

func TestRequestLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := mux.NewRouter()
	r.Use(RequestLog(zap.New(core)))
	r.HandleFunc("/api/v1/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/users/U9", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	e := entries[0]
	if e.Level != zapcore.WarnLevel {
		t.Errorf("level = %v, want warn", e.Level)
	}
	fields := e.ContextMap()
	if fields["route"] != "/api/v1/users/{id}" || fields["status"] != int64(404) {
		t.Errorf("fields = %v", fields)
	}
}

func TestRecover(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Recover(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/gate/verify", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_ERROR") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if logs.Len() != 1 || !bytes.Contains([]byte(logs.All()[0].Message), []byte("panic")) {
		t.Errorf("logs = %v", logs.All())
	}
}
