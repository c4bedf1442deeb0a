package middleware

import (
	"context"
	"net/http"
	"strings"

	"kallied-admin/backend/internal/security"
	"kallied-admin/backend/internal/server/httpx"
)

const bearerPrefix = "bearer "

// TokenValidator validates access tokens.
type TokenValidator interface {
	ValidateAccess(token string) (security.Identity, error)
}

// AccountChecker reports the live state of an authenticated account. active is false once the
// account is disabled or removed; role is the role currently stored for it.
type AccountChecker interface {
	CurrentAccess(ctx context.Context, userID string) (role string, active bool, err error)
}

// Auth validates the Bearer access token and stores user_id and role in the request context.
// When accounts is non-nil the account is re-checked on every request: a disabled account is
// rejected and the stored role replaces the one in the token.
// Requests whose path is in publicPaths pass through without a token; a valid token on a public
// path still populates the context.
func Auth(tokens TokenValidator, accounts AccountChecker, publicPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			public := publicPaths[r.URL.Path] || r.Method == http.MethodOptions
			token := extractBearer(r)
			if token == "" {
				if public {
					next.ServeHTTP(w, r)
					return
				}
				httpx.RespondError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing or invalid authorization")
				return
			}
			id, err := tokens.ValidateAccess(token)
			if err != nil {
				if public {
					next.ServeHTTP(w, r)
					return
				}
				httpx.RespondError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing or invalid authorization")
				return
			}
			role := id.Role
			if accounts != nil {
				current, active, err := accounts.CurrentAccess(r.Context(), id.UserID)
				switch {
				case public && (err != nil || !active):
					next.ServeHTTP(w, r)
					return
				case err != nil:
					httpx.RespondError(w, http.StatusServiceUnavailable, httpx.CodeUnavailable, "account lookup failed")
					return
				case !active:
					httpx.RespondError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "account is disabled")
					return
				}
				role = current
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id.UserID, role)))
		})
	}
}

// RequireRole rejects requests whose authenticated role is not one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := GetRole(r.Context())
			if !allowed[role] {
				httpx.RespondError(w, http.StatusForbidden, httpx.CodeForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearer returns the Bearer token from the Authorization header, or the access_token query
// parameter for WebSocket upgrades (browsers cannot set headers on them). Returns "" if missing.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(v[len(bearerPrefix):])
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}
