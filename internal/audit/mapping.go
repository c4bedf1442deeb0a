package audit

import (
	"net/http"
	"strings"

	gatedomain "kallied-admin/backend/internal/gate/domain"
)

// ActionResource holds the action verb and resource recorded for an activity.
type ActionResource struct {
	Action   string
	Resource string
}

// kindActions maps gated action kinds to the activity recorded once they execute.
var kindActions = map[gatedomain.ActionKind]ActionResource{
	gatedomain.ActionCreateUser:  {Action: "user_created", Resource: "user"},
	gatedomain.ActionEditUser:    {Action: "user_updated", Resource: "user"},
	gatedomain.ActionDisableUser: {Action: "user_disabled", Resource: "user"},
	gatedomain.ActionEnableUser:  {Action: "user_enabled", Resource: "user"},
	gatedomain.ActionChangeRole:  {Action: "role_changed", Resource: "user"},
}

// ForKind returns the activity for an executed gated action. Unknown kinds keep the kind as the
// action with resource "unknown".
func ForKind(kind gatedomain.ActionKind) ActionResource {
	if ar, ok := kindActions[kind]; ok {
		return ar
	}
	return ActionResource{Action: strings.ReplaceAll(string(kind), "-", "_"), Resource: "unknown"}
}

// ParseRoute returns action and resource for an HTTP method and mux path template
// (e.g. POST /api/v1/gate/verify). Resource is the first segment after the API version, singular.
// Action is the trailing verb segment when present (verify, resend, cancel), otherwise derived from
// the method: get, list, create, update or delete.
func ParseRoute(method, template string) ActionResource {
	segs := strings.Split(strings.Trim(template, "/"), "/")
	if len(segs) > 1 && segs[0] == "api" {
		segs = segs[1:]
	}
	if len(segs) > 1 && isVersion(segs[0]) {
		segs = segs[1:]
	}
	if segs[0] == "" {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	resource := singular(segs[0])
	last := segs[len(segs)-1]
	hasID := strings.HasPrefix(last, "{")

	if len(segs) > 1 && !hasID && method == http.MethodPost {
		if segs[1] == "actions" {
			return ActionResource{Action: "request", Resource: resource}
		}
		return ActionResource{Action: strings.ReplaceAll(last, "-", "_"), Resource: resource}
	}
	switch method {
	case http.MethodGet:
		if hasID {
			return ActionResource{Action: "get", Resource: resource}
		}
		return ActionResource{Action: "list", Resource: resource}
	case http.MethodPost:
		return ActionResource{Action: "create", Resource: resource}
	case http.MethodPut, http.MethodPatch:
		return ActionResource{Action: "update", Resource: resource}
	case http.MethodDelete:
		return ActionResource{Action: "delete", Resource: resource}
	default:
		return ActionResource{Action: strings.ToLower(method), Resource: resource}
	}
}

// uncountable resources keep their trailing s.
var uncountable = map[string]bool{"ws": true, "status": true, "metrics": true}

func singular(s string) string {
	s = strings.ReplaceAll(s, "-", "_")
	switch {
	case uncountable[s] || len(s) <= 2:
		return s
	case strings.HasSuffix(s, "ies"):
		return strings.TrimSuffix(s, "ies") + "y"
	case strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss"):
		return strings.TrimSuffix(s, "s")
	default:
		return s
	}
}

func isVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
