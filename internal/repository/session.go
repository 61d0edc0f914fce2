package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/authgate/internal/domain"
)

const sessionColumns = `id, user_id, refresh_token_hash, previous_token_hash, user_agent, ip_address,
	expires_at, rotated_at, revoked_at, revoked_reason, created_at, updated_at`

type sessionRow struct {
	ID                string  `db:"id"`
	UserID            string  `db:"user_id"`
	TokenHash         string  `db:"refresh_token_hash"`
	PreviousTokenHash *string `db:"previous_token_hash"`
	UserAgent         *string `db:"user_agent"`
	IPAddress         *string `db:"ip_address"`
	ExpiresAt         int64   `db:"expires_at"`
	RotatedAt         *int64  `db:"rotated_at"`
	RevokedAt         *int64  `db:"revoked_at"`
	RevokedReason     *string `db:"revoked_reason"`
	CreatedAt         int64   `db:"created_at"`
	UpdatedAt         int64   `db:"updated_at"`
}

func (r sessionRow) toDomain() *domain.Session {
	return &domain.Session{
		ID:                r.ID,
		UserID:            r.UserID,
		TokenHash:         r.TokenHash,
		PreviousTokenHash: r.PreviousTokenHash,
		UserAgent:         r.UserAgent,
		IPAddress:         r.IPAddress,
		ExpiresAt:         fromMillis(r.ExpiresAt),
		RotatedAt:         fromMillisPtr(r.RotatedAt),
		RevokedAt:         fromMillisPtr(r.RevokedAt),
		RevokedReason:     r.RevokedReason,
		CreatedAt:         fromMillis(r.CreatedAt),
		UpdatedAt:         fromMillis(r.UpdatedAt),
	}
}

// SessionRepository handles session data access operations.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		s.ID, s.UserID, s.TokenHash, s.PreviousTokenHash, s.UserAgent, s.IPAddress,
		toMillis(s.ExpiresAt), toMillisPtr(s.RotatedAt), toMillisPtr(s.RevokedAt), s.RevokedReason,
		toMillis(s.CreatedAt), toMillis(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FindByID retrieves a session by ID.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.findOne(ctx, "id", id)
}

// FindByTokenHash retrieves the session whose current refresh token hashes to hash.
func (r *SessionRepository) FindByTokenHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.findOne(ctx, "refresh_token_hash", hash)
}

// FindByPreviousTokenHash retrieves the session whose last superseded refresh token hashes to hash.
func (r *SessionRepository) FindByPreviousTokenHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.findOne(ctx, "previous_token_hash", hash)
}

func (r *SessionRepository) findOne(ctx context.Context, column, value string) (*domain.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row,
		r.db.Rebind(`SELECT `+sessionColumns+` FROM sessions WHERE `+column+` = ?`), value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find session by %s: %w", column, err)
	}
	return row.toDomain(), nil
}

// Rotate swaps the refresh token hash only if the session still holds currentHash
// and is not revoked. It reports whether this call won the swap.
func (r *SessionRepository) Rotate(ctx context.Context, id, currentHash, newHash string, expiresAt, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE sessions
		 SET refresh_token_hash = ?, previous_token_hash = ?, expires_at = ?, rotated_at = ?, updated_at = ?
		 WHERE id = ? AND refresh_token_hash = ? AND revoked_at IS NULL`),
		newHash, currentHash, toMillis(expiresAt), toMillis(now), toMillis(now), id, currentHash)
	if err != nil {
		return false, fmt.Errorf("rotate session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Revoke marks a session revoked. Revoking an already revoked session keeps the
// original reason and time and returns nil.
func (r *SessionRepository) Revoke(ctx context.Context, id, reason string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE sessions SET revoked_at = ?, revoked_reason = ?, updated_at = ?
		 WHERE id = ? AND revoked_at IS NULL`),
		toMillis(now), reason, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("revoke session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RevokeAllForUser revokes every unrevoked session of a user and returns how many changed.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE sessions SET revoked_at = ?, revoked_reason = ?, updated_at = ?
		 WHERE user_id = ? AND revoked_at IS NULL`),
		toMillis(now), reason, toMillis(now), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions for user %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
