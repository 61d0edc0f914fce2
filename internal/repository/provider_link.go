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

const providerLinkColumns = `id, user_id, provider, provider_account_id, access_token, refresh_token,
	token_expires_at, created_at, updated_at`

type providerLinkRow struct {
	ID                string  `db:"id"`
	UserID            string  `db:"user_id"`
	Provider          string  `db:"provider"`
	ProviderAccountID string  `db:"provider_account_id"`
	AccessToken       *string `db:"access_token"`
	RefreshToken      *string `db:"refresh_token"`
	TokenExpiresAt    *int64  `db:"token_expires_at"`
	CreatedAt         int64   `db:"created_at"`
	UpdatedAt         int64   `db:"updated_at"`
}

func (r providerLinkRow) toDomain() *domain.AuthProviderLink {
	return &domain.AuthProviderLink{
		ID:                r.ID,
		UserID:            r.UserID,
		Provider:          domain.AuthProvider(r.Provider),
		ProviderAccountID: r.ProviderAccountID,
		AccessToken:       r.AccessToken,
		RefreshToken:      r.RefreshToken,
		TokenExpiresAt:    fromMillisPtr(r.TokenExpiresAt),
		CreatedAt:         fromMillis(r.CreatedAt),
		UpdatedAt:         fromMillis(r.UpdatedAt),
	}
}

// ProviderLinkRepository handles auth provider link data access.
type ProviderLinkRepository struct {
	db *sqlx.DB
}

// NewProviderLinkRepository creates a new ProviderLinkRepository.
func NewProviderLinkRepository(db *sqlx.DB) *ProviderLinkRepository {
	return &ProviderLinkRepository{db: db}
}

// FindByProviderAccount retrieves the link for a provider-assigned account ID.
func (r *ProviderLinkRepository) FindByProviderAccount(ctx context.Context, provider domain.AuthProvider, accountID string) (*domain.AuthProviderLink, error) {
	var row providerLinkRow
	err := r.db.GetContext(ctx, &row,
		r.db.Rebind(`SELECT `+providerLinkColumns+` FROM auth_provider_links WHERE provider = ? AND provider_account_id = ?`),
		string(provider), accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find provider link %s/%s: %w", provider, accountID, err)
	}
	return row.toDomain(), nil
}

// Create inserts a link. Duplicates on either uniqueness constraint yield domain.ErrConflict.
func (r *ProviderLinkRepository) Create(ctx context.Context, link domain.AuthProviderLink) error {
	return insertProviderLink(ctx, r.db, link)
}

// UpdateTokens caches the provider's latest OAuth tokens on the link.
func (r *ProviderLinkRepository) UpdateTokens(ctx context.Context, id string, accessToken, refreshToken *string, expiresAt *time.Time, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE auth_provider_links
		 SET access_token = ?, refresh_token = COALESCE(?, refresh_token), token_expires_at = ?, updated_at = ?
		 WHERE id = ?`),
		accessToken, refreshToken, toMillisPtr(expiresAt), toMillis(now), id)
	if err != nil {
		return fmt.Errorf("update provider link tokens %s: %w", id, err)
	}
	return expectOneRow(res)
}

func insertProviderLink(ctx context.Context, ex sqlx.ExtContext, link domain.AuthProviderLink) error {
	_, err := ex.ExecContext(ctx,
		ex.Rebind(`INSERT INTO auth_provider_links (`+providerLinkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		link.ID, link.UserID, string(link.Provider), link.ProviderAccountID, link.AccessToken, link.RefreshToken,
		toMillisPtr(link.TokenExpiresAt), toMillis(link.CreatedAt), toMillis(link.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: provider already linked", domain.ErrConflict)
		}
		return fmt.Errorf("insert provider link: %w", err)
	}
	return nil
}
