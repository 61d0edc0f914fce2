package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/authgate/internal/domain"
)

// ActivityRepository appends audit records.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append inserts one activity record.
func (r *ActivityRepository) Append(ctx context.Context, entry domain.ActivityLog) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`INSERT INTO activity_logs (id, user_id, action, provider, ip_address, user_agent, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.UserID, string(entry.Action), entry.Provider, entry.IPAddress, entry.UserAgent,
		entry.Detail, toMillis(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("append activity %s: %w", entry.Action, err)
	}
	return nil
}
