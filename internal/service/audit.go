package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sumire/authgate/internal/domain"
)

// ActivityStore persists audit entries.
type ActivityStore interface {
	Append(ctx context.Context, entry domain.ActivityLog) error
}

// AuditEvent describes one authentication event.
type AuditEvent struct {
	Action   domain.ActivityAction
	UserID   string
	Provider domain.AuthProvider
	Meta     domain.ClientMeta
	Detail   string
}

// Auditor appends activity logs on a best-effort basis. Failures are logged and
// never returned, so callers cannot be aborted by the audit trail.
type Auditor struct {
	store ActivityStore
	now   func() time.Time
}

// NewAuditor creates an Auditor. A nil now uses time.Now.
func NewAuditor(store ActivityStore, now func() time.Time) *Auditor {
	if now == nil {
		now = time.Now
	}
	return &Auditor{store: store, now: now}
}

// Record appends ev. It is safe to call on a nil Auditor.
func (a *Auditor) Record(ctx context.Context, ev AuditEvent) {
	if a == nil || a.store == nil {
		return
	}

	entry := domain.ActivityLog{
		ID:        uuid.NewString(),
		Action:    ev.Action,
		UserID:    optional(ev.UserID),
		Provider:  optional(string(ev.Provider)),
		IPAddress: optional(ev.Meta.IPAddress),
		UserAgent: optional(ev.Meta.UserAgent),
		Detail:    optional(ev.Detail),
		CreatedAt: a.now(),
	}

	// The entry outlives a cancelled request.
	if err := a.store.Append(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("failed to append activity log",
			"action", ev.Action,
			"user_id", ev.UserID,
			"error", err,
		)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
