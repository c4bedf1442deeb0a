package middleware

import "context"

type contextKey struct{ name string }

var (
	userIDKey = contextKey{"user_id"}
	roleKey   = contextKey{"role"}
)

// WithIdentity returns a context carrying the authenticated user_id and role.
// Handlers read them via GetUserID and GetRole.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, roleKey, role)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok && v != ""
}

// GetRole returns the role from context and true if set; otherwise "", false.
func GetRole(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleKey).(string)
	return v, ok && v != ""
}

var clientIPKey = contextKey{"client_ip"}

// WithClientIP returns a context carrying the caller's IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the IP stored by ClientIPMiddleware, or "unknown".
func ClientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
