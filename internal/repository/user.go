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

const userColumns = `id, email, name, avatar_url, password_hash, onboarding_completed, role,
	reset_token_hash, reset_token_expires_at, created_at, updated_at`

type userRow struct {
	ID                  string  `db:"id"`
	Email               string  `db:"email"`
	Name                string  `db:"name"`
	AvatarURL           *string `db:"avatar_url"`
	PasswordHash        *string `db:"password_hash"`
	OnboardingCompleted bool    `db:"onboarding_completed"`
	Role                string  `db:"role"`
	ResetTokenHash      *string `db:"reset_token_hash"`
	ResetTokenExpiresAt *int64  `db:"reset_token_expires_at"`
	CreatedAt           int64   `db:"created_at"`
	UpdatedAt           int64   `db:"updated_at"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		ID:                  r.ID,
		Email:               r.Email,
		Name:                r.Name,
		AvatarURL:           r.AvatarURL,
		PasswordHash:        r.PasswordHash,
		OnboardingCompleted: r.OnboardingCompleted,
		Role:                domain.Role(r.Role),
		ResetTokenHash:      r.ResetTokenHash,
		ResetTokenExpiresAt: fromMillisPtr(r.ResetTokenExpiresAt),
		CreatedAt:           fromMillis(r.CreatedAt),
		UpdatedAt:           fromMillis(r.UpdatedAt),
	}
}

// UserRepository handles user data access operations.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID retrieves a user by their ID.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, "id", id)
}

// FindByEmail retrieves a user by their lowercase email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, "email", email)
}

func (r *UserRepository) findOne(ctx context.Context, column, value string) (*domain.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row,
		r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`), value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user by %s: %w", column, err)
	}
	return row.toDomain(), nil
}

// Create inserts a new user. A duplicate email yields domain.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	return insertUser(ctx, r.db, user)
}

// CreateWithProviderLink inserts a user and its first provider link in one transaction.
func (r *UserRepository) CreateWithProviderLink(ctx context.Context, user domain.User, link domain.AuthProviderLink) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertUser(ctx, tx, user); err != nil {
		return err
	}
	if err := insertProviderLink(ctx, tx, link); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit user with provider link: %w", err)
	}
	return nil
}

// SetResetToken stores the hash and expiry of a password reset token.
func (r *UserRepository) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE users SET reset_token_hash = ?, reset_token_expires_at = ?, updated_at = ? WHERE id = ?`),
		tokenHash, toMillis(expiresAt), toMillis(now), userID)
	if err != nil {
		return fmt.Errorf("set reset token for user %s: %w", userID, err)
	}
	return expectOneRow(res)
}

// ResetPassword replaces the password of the user holding an unexpired reset token
// matching tokenHash, clearing the reset fields in the same statement.
// It returns the user ID, or domain.ErrInvalidResetToken when nothing matched.
func (r *UserRepository) ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, error) {
	var userID string
	err := r.db.QueryRowxContext(ctx,
		r.db.Rebind(`UPDATE users
		 SET password_hash = ?, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = ?
		 WHERE reset_token_hash = ? AND reset_token_expires_at > ?
		 RETURNING id`),
		passwordHash, toMillis(now), tokenHash, toMillis(now),
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrInvalidResetToken
		}
		return "", fmt.Errorf("reset password: %w", err)
	}
	return userID, nil
}

// CompleteOnboarding marks the user's onboarding as finished.
func (r *UserRepository) CompleteOnboarding(ctx context.Context, userID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE users SET onboarding_completed = ?, updated_at = ? WHERE id = ?`),
		true, toMillis(now), userID)
	if err != nil {
		return fmt.Errorf("complete onboarding for user %s: %w", userID, err)
	}
	return expectOneRow(res)
}

func insertUser(ctx context.Context, ex sqlx.ExtContext, user domain.User) error {
	_, err := ex.ExecContext(ctx,
		ex.Rebind(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		user.ID, user.Email, user.Name, user.AvatarURL, user.PasswordHash, user.OnboardingCompleted,
		string(user.Role), user.ResetTokenHash, toMillisPtr(user.ResetTokenExpiresAt),
		toMillis(user.CreatedAt), toMillis(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email already registered", domain.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
