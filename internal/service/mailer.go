package service

import (
	"context"
	"log/slog"
)

// Mailer delivers transactional email.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

// LogMailer writes outgoing mail to the structured log instead of sending it.
// The reset link is logged only when IncludeLinks is set.
type LogMailer struct {
	IncludeLinks bool
}

// SendPasswordReset logs the reset email.
func (m LogMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	attrs := []any{"to", to}
	if m.IncludeLinks {
		attrs = append(attrs, "link", link)
	}
	slog.InfoContext(ctx, "password reset email", attrs...)
	return nil
}
