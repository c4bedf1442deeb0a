package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kallied-admin/backend/internal/audit/domain"
	auditrepo "kallied-admin/backend/internal/audit/repository"
)

// IPExtractor returns the client IP carried by the request context.
type IPExtractor func(context.Context) string

// Event is one activity to record.
type Event struct {
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	Status     int
	Metadata   string
}

// AuditLogger writes a single activity event. LogEvent is best-effort: failures are logged and do
// not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, e Event)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         *zap.Logger
	now         func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, e Event) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	entry := &domain.AuditLog{
		ID:         uuid.New().String(),
		UserID:     e.UserID,
		Action:     e.Action,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		IP:         ip,
		Status:     e.Status,
		Metadata:   e.Metadata,
		CreatedAt:  l.now(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Warn("audit: failed to log event",
			zap.String("action", e.Action),
			zap.String("resource", e.Resource),
			zap.Error(err))
	}
}
