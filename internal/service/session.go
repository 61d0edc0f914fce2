package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sumire/authgate/internal/domain"
)

var tracer = otel.Tracer("github.com/sumire/authgate/internal/service")

// SessionStore defines the session data access interface consumed by SessionManager.
type SessionStore interface {
	Create(ctx context.Context, s domain.Session) error
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	FindByTokenHash(ctx context.Context, hash string) (*domain.Session, error)
	FindByPreviousTokenHash(ctx context.Context, hash string) (*domain.Session, error)
	Rotate(ctx context.Context, id, currentHash, newHash string, expiresAt, now time.Time) (bool, error)
	Revoke(ctx context.Context, id, reason string, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error)
}

// SessionConfig holds session lifetimes.
type SessionConfig struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Now             func() time.Time
}

// IssuedSession is a session together with the credentials handed to the client.
// RefreshToken is the only copy of the plaintext refresh token.
type IssuedSession struct {
	Session         *domain.Session
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// SessionManager creates, rotates, validates and revokes sessions.
type SessionManager struct {
	store   SessionStore
	codec   *TokenCodec
	auditor *Auditor
	cfg     SessionConfig
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(store SessionStore, codec *TokenCodec, auditor *Auditor, cfg SessionConfig) *SessionManager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionManager{store: store, codec: codec, auditor: auditor, cfg: cfg}
}

// Create starts a new session for userID and returns it with its plaintext refresh token.
func (m *SessionManager) Create(ctx context.Context, userID string, meta domain.ClientMeta) (*domain.Session, string, error) {
	token, hash, err := newHashedSecret()
	if err != nil {
		return nil, "", fmt.Errorf("generate refresh token: %w", err)
	}

	now := m.cfg.Now()
	s := domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hash,
		UserAgent: optional(meta.UserAgent),
		IPAddress: optional(meta.IPAddress),
		ExpiresAt: now.Add(m.cfg.RefreshTokenTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}
	return &s, token, nil
}

// Start creates a session for user and signs its access token.
func (m *SessionManager) Start(ctx context.Context, user *domain.User, meta domain.ClientMeta) (*IssuedSession, error) {
	s, refresh, err := m.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}
	return m.issue(user, s, refresh)
}

// Refresh rotates the session holding presented. A superseded token revokes its
// session. Exactly one of several concurrent calls with the same token succeeds.
func (m *SessionManager) Refresh(ctx context.Context, presented string) (*domain.Session, string, error) {
	ctx, span := tracer.Start(ctx, "SessionManager.Refresh")
	defer span.End()

	s, token, err := m.refresh(ctx, presented)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, "", err
	}
	span.SetAttributes(attribute.String("session.id", s.ID))
	return s, token, nil
}

func (m *SessionManager) refresh(ctx context.Context, presented string) (*domain.Session, string, error) {
	if presented == "" {
		return nil, "", domain.ErrInvalidToken
	}

	hash := HashSecret(presented)
	now := m.cfg.Now()

	s, err := m.store.FindByTokenHash(ctx, hash)
	if errors.Is(err, domain.ErrNotFound) {
		m.detectReuse(ctx, hash, now)
		return nil, "", domain.ErrInvalidToken
	}
	if err != nil {
		return nil, "", fmt.Errorf("find session: %w", err)
	}
	if s.State(now) != domain.SessionStateActive {
		return nil, "", domain.ErrInvalidToken
	}

	next, nextHash, err := newHashedSecret()
	if err != nil {
		return nil, "", fmt.Errorf("generate refresh token: %w", err)
	}
	expiresAt := now.Add(m.cfg.RefreshTokenTTL)

	ok, err := m.store.Rotate(ctx, s.ID, hash, nextHash, expiresAt, now)
	if err != nil {
		return nil, "", fmt.Errorf("rotate session: %w", err)
	}
	if !ok {
		// Lost the race against a concurrent rotation or revocation.
		return nil, "", domain.ErrInvalidToken
	}

	s.PreviousTokenHash = &hash
	s.TokenHash = nextHash
	s.ExpiresAt = expiresAt
	s.RotatedAt = &now
	s.UpdatedAt = now
	return s, next, nil
}

// detectReuse revokes the session whose previous refresh token hash matches.
func (m *SessionManager) detectReuse(ctx context.Context, hash string, now time.Time) {
	s, err := m.store.FindByPreviousTokenHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to look up superseded refresh token", "error", err)
		}
		return
	}
	if s.RevokedAt != nil {
		return
	}

	if err := m.store.Revoke(ctx, s.ID, domain.RevokeReasonTokenReuse, now); err != nil {
		slog.Error("failed to revoke session after token reuse", "session_id", s.ID, "error", err)
		return
	}

	trace.SpanFromContext(ctx).AddEvent("refresh_token_reuse")
	slog.Warn("refresh token reuse detected", "session_id", s.ID, "user_id", s.UserID)
	m.auditor.Record(ctx, AuditEvent{
		Action: domain.ActivityRefreshTokenReuse,
		UserID: s.UserID,
		Detail: "session " + s.ID,
	})
}

// Validate reports whether the session exists, is not revoked and has not expired.
func (m *SessionManager) Validate(ctx context.Context, sessionID string) (bool, error) {
	s, err := m.store.FindByID(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find session: %w", err)
	}
	return s.State(m.cfg.Now()) == domain.SessionStateActive, nil
}

// Revoke marks the session revoked. Revoking an already revoked session is a no-op.
func (m *SessionManager) Revoke(ctx context.Context, sessionID, reason string) error {
	if err := m.store.Revoke(ctx, sessionID, reason, m.cfg.Now()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live session of userID.
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	n, err := m.store.RevokeAllForUser(ctx, userID, reason, m.cfg.Now())
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return n, nil
}

// AccessToken signs an access token for user bound to session s.
func (m *SessionManager) AccessToken(user *domain.User, s *domain.Session) (string, time.Time, error) {
	token, err := m.codec.Issue(domain.AccessClaims{
		UserID:    user.ID,
		Email:     user.Email,
		SessionID: s.ID,
	}, m.cfg.AccessTokenTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, m.cfg.Now().Add(m.cfg.AccessTokenTTL), nil
}

func (m *SessionManager) issue(user *domain.User, s *domain.Session, refresh string) (*IssuedSession, error) {
	access, expiresAt, err := m.AccessToken(user, s)
	if err != nil {
		return nil, err
	}
	return &IssuedSession{
		Session:         s,
		AccessToken:     access,
		AccessExpiresAt: expiresAt,
		RefreshToken:    refresh,
	}, nil
}

// Codec returns the access token codec.
func (m *SessionManager) Codec() *TokenCodec {
	return m.codec
}
