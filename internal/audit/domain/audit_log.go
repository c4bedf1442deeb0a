package domain

import "time"

// AuditLog is one entry in the back-office activity log.
type AuditLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId,omitempty"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID string    `json:"resourceId,omitempty"`
	IP         string    `json:"ip"`
	Status     int       `json:"status,omitempty"`
	Metadata   string    `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Filter narrows an activity log listing. Zero fields match everything.
type Filter struct {
	UserID   string
	Action   string
	Resource string
	Limit    int
	Offset   int
}

// Matches reports whether a passes f, ignoring paging.
func (f Filter) Matches(a *AuditLog) bool {
	return (f.UserID == "" || a.UserID == f.UserID) &&
		(f.Action == "" || a.Action == f.Action) &&
		(f.Resource == "" || a.Resource == f.Resource)
}
