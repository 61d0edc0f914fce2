package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sumire/authgate/internal/domain"
	"github.com/sumire/authgate/internal/provider"
)

// ProviderLinkStore defines the provider link data access interface consumed by OAuthService.
type ProviderLinkStore interface {
	FindByProviderAccount(ctx context.Context, provider domain.AuthProvider, accountID string) (*domain.AuthProviderLink, error)
	Create(ctx context.Context, link domain.AuthProviderLink) error
	UpdateTokens(ctx context.Context, id string, accessToken, refreshToken *string, expiresAt *time.Time, now time.Time) error
}

// LoginResult is the outcome of a completed external login.
type LoginResult struct {
	User  *domain.User
	IsNew bool
	*IssuedSession
}

// OAuthService completes OAuth logins: code exchange, profile fetch,
// find-or-create identity, session issuance and audit.
type OAuthService struct {
	users    UserStore
	links    ProviderLinkStore
	sessions *SessionManager
	auditor  *Auditor
	now      func() time.Time
}

// NewOAuthService creates an OAuthService. A nil now uses time.Now.
func NewOAuthService(users UserStore, links ProviderLinkStore, sessions *SessionManager, auditor *Auditor, now func() time.Time) *OAuthService {
	if now == nil {
		now = time.Now
	}
	return &OAuthService{users: users, links: links, sessions: sessions, auditor: auditor, now: now}
}

// CompleteLogin exchanges code with adapter and signs the resulting user in.
// Upstream failures are returned as *domain.ProviderError.
func (s *OAuthService) CompleteLogin(ctx context.Context, adapter provider.Adapter, code string, meta domain.ClientMeta) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "OAuthService.CompleteLogin")
	defer span.End()
	span.SetAttributes(attribute.String("auth.provider", string(adapter.Name())))

	res, err := s.completeLogin(ctx, adapter, code, meta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("auth.new_user", res.IsNew))
	return res, nil
}

func (s *OAuthService) completeLogin(ctx context.Context, adapter provider.Adapter, code string, meta domain.ClientMeta) (*LoginResult, error) {
	tokens, err := adapter.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	profile, err := adapter.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	user, isNew, err := s.resolveIdentity(ctx, adapter.Name(), profile, tokens)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	issued, err := s.sessions.Start(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	action := domain.ActivitySignin
	if isNew {
		action = domain.ActivitySignup
	}
	s.auditor.Record(ctx, AuditEvent{
		Action:   action,
		UserID:   user.ID,
		Provider: adapter.Name(),
		Meta:     meta,
	})

	return &LoginResult{User: user, IsNew: isNew, IssuedSession: issued}, nil
}

// resolveIdentity finds the user by provider account, then by email (linking the
// account), else creates the user and link together.
func (s *OAuthService) resolveIdentity(ctx context.Context, name domain.AuthProvider, profile *provider.Profile, tokens *provider.Tokens) (*domain.User, bool, error) {
	user, err := s.findLinkedUser(ctx, name, profile, tokens)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	now := s.now()
	link := s.newLink(name, profile, tokens, now)

	user, err = s.users.FindByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		link.UserID = user.ID
		if err := s.links.Create(ctx, link); err != nil {
			return nil, false, fmt.Errorf("link account: %w", err)
		}
		return user, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("find user by email: %w", err)
	}

	created := domain.User{
		ID:        uuid.NewString(),
		Email:     profile.Email,
		Name:      profile.Name,
		AvatarURL: optional(profile.Picture),
		Role:      domain.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	link.UserID = created.ID

	err = s.users.CreateWithProviderLink(ctx, created, link)
	if errors.Is(err, domain.ErrConflict) {
		// A concurrent callback for the same identity won the insert.
		user, err := s.findLinkedUser(ctx, name, profile, tokens)
		if err != nil {
			return nil, false, err
		}
		return user, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	return &created, true, nil
}

func (s *OAuthService) findLinkedUser(ctx context.Context, name domain.AuthProvider, profile *provider.Profile, tokens *provider.Tokens) (*domain.User, error) {
	link, err := s.links.FindByProviderAccount(ctx, name, profile.ID)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, link.UserID)
	if err != nil {
		return nil, fmt.Errorf("find linked user: %w", err)
	}

	if err := s.links.UpdateTokens(ctx, link.ID, optional(tokens.AccessToken), optional(tokens.RefreshToken), expiryPtr(tokens.Expiry), s.now()); err != nil {
		slog.Error("failed to cache provider tokens", "provider", name, "user_id", user.ID, "error", err)
	}
	return user, nil
}

func (s *OAuthService) newLink(name domain.AuthProvider, profile *provider.Profile, tokens *provider.Tokens, now time.Time) domain.AuthProviderLink {
	return domain.AuthProviderLink{
		ID:                uuid.NewString(),
		Provider:          name,
		ProviderAccountID: profile.ID,
		AccessToken:       optional(tokens.AccessToken),
		RefreshToken:      optional(tokens.RefreshToken),
		TokenExpiresAt:    expiryPtr(tokens.Expiry),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func expiryPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
