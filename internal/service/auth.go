package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sumire/authgate/internal/domain"
)

const (
	minPasswordLength = 6
	maxPasswordLength = 72 // bcrypt input limit
)

// UserStore defines the user data access interface consumed by the auth services.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user domain.User) error
	CreateWithProviderLink(ctx context.Context, user domain.User, link domain.AuthProviderLink) error
	SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt, now time.Time) error
	ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, error)
	CompleteOnboarding(ctx context.Context, userID string, now time.Time) error
}

// AuthConfig holds local authentication settings.
type AuthConfig struct {
	ResetTokenTTL    time.Duration
	PasswordHashCost int
	Now              func() time.Time
}

// SignupInput is the payload for local registration.
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// AuthResult is a signed-in user with fresh credentials.
type AuthResult struct {
	User *domain.User
	*IssuedSession
}

// AuthService handles email/password authentication and the session endpoints.
type AuthService struct {
	users    UserStore
	sessions *SessionManager
	auditor  *Auditor
	mailer   Mailer
	cfg      AuthConfig
	validate *validator.Validate

	dummyOnce sync.Once
	dummyHash []byte
}

// NewAuthService creates a new AuthService.
func NewAuthService(users UserStore, sessions *SessionManager, auditor *Auditor, mailer Mailer, cfg AuthConfig) *AuthService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PasswordHashCost == 0 {
		cfg.PasswordHashCost = bcrypt.DefaultCost
	}
	return &AuthService{
		users:    users,
		sessions: sessions,
		auditor:  auditor,
		mailer:   mailer,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// Signup registers a password user and starts a session.
func (s *AuthService) Signup(ctx context.Context, in SignupInput, meta domain.ClientMeta) (*AuthResult, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)

	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Message: "name is required"}
	}
	if err := s.checkEmail(email); err != nil {
		return nil, err
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.PasswordHashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	passwordHash := string(hash)

	now := s.cfg.Now()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: &passwordHash,
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	issued, err := s.sessions.Start(ctx, &user, meta)
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, AuditEvent{Action: domain.ActivitySignup, UserID: user.ID, Meta: meta})
	return &AuthResult{User: &user, IssuedSession: issued}, nil
}

// Login verifies email and password. Every failure is domain.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string, meta domain.ClientMeta) (*AuthResult, error) {
	email = normalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if user == nil || !user.HasPassword() {
		// Spend the same bcrypt work as a real comparison.
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		s.auditor.Record(ctx, AuditEvent{Action: domain.ActivityFailedSignin, UserID: userIDOf(user), Meta: meta})
		return nil, domain.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		s.auditor.Record(ctx, AuditEvent{Action: domain.ActivityFailedSignin, UserID: user.ID, Meta: meta})
		return nil, domain.ErrInvalidCredentials
	}

	issued, err := s.sessions.Start(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, AuditEvent{Action: domain.ActivitySignin, UserID: user.ID, Meta: meta})
	return &AuthResult{User: user, IssuedSession: issued}, nil
}

// ForgotPassword stores a reset token for email and mails the link built from
// resetPageURL. Unknown emails succeed silently.
func (s *AuthService) ForgotPassword(ctx context.Context, email, resetPageURL string, meta domain.ClientMeta) error {
	email = normalizeEmail(email)
	if err := s.checkEmail(email); err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Debug("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}

	token, hash, err := newHashedSecret()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	now := s.cfg.Now()
	if err := s.users.SetResetToken(ctx, user.ID, hash, now.Add(s.cfg.ResetTokenTTL), now); err != nil {
		return err
	}

	link := resetPageURL + "?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordReset(ctx, user.Email, link); err != nil {
		slog.Error("failed to send password reset email", "user_id", user.ID, "error", err)
	}

	s.auditor.Record(ctx, AuditEvent{Action: domain.ActivityPasswordResetRequested, UserID: user.ID, Meta: meta})
	return nil
}

// ResetPassword consumes a reset token, replaces the password and revokes every session of the user.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string, meta domain.ClientMeta) error {
	if token == "" {
		return domain.ErrInvalidResetToken
	}
	if err := checkPassword(password); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.PasswordHashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	userID, err := s.users.ResetPassword(ctx, HashSecret(token), string(hash), s.cfg.Now())
	if err != nil {
		return err
	}

	if n, err := s.sessions.RevokeAllForUser(ctx, userID, domain.RevokeReasonPasswordReset); err != nil {
		slog.Error("failed to revoke sessions after password reset", "user_id", userID, "error", err)
	} else {
		slog.Info("sessions revoked after password reset", "user_id", userID, "count", n)
	}

	s.auditor.Record(ctx, AuditEvent{Action: domain.ActivityPasswordResetCompleted, UserID: userID, Meta: meta})
	return nil
}

// Refresh rotates the refresh token and signs a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	session, next, err := s.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("find session user: %w", err)
	}

	access, expiresAt, err := s.sessions.AccessToken(user, session)
	if err != nil {
		return nil, err
	}

	return &AuthResult{User: user, IssuedSession: &IssuedSession{
		Session:         session,
		AccessToken:     access,
		AccessExpiresAt: expiresAt,
		RefreshToken:    next,
	}}, nil
}

// Logout revokes the session. Unknown sessions are ignored.
func (s *AuthService) Logout(ctx context.Context, claims *domain.AccessClaims, meta domain.ClientMeta) error {
	err := s.sessions.Revoke(ctx, claims.SessionID, domain.RevokeReasonLogout)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	s.auditor.Record(ctx, AuditEvent{Action: domain.ActivityLogout, UserID: claims.UserID, Meta: meta})
	return nil
}

// Me returns the user by ID.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.FindByID(ctx, userID)
}

// CompleteOnboarding marks onboarding finished and returns the updated user.
func (s *AuthService) CompleteOnboarding(ctx context.Context, userID string) (*domain.User, error) {
	if err := s.users.CompleteOnboarding(ctx, userID, s.cfg.Now()); err != nil {
		return nil, err
	}
	return s.users.FindByID(ctx, userID)
}

func (s *AuthService) checkEmail(email string) error {
	if email == "" {
		return &domain.ValidationError{Field: "email", Message: "email is required"}
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return &domain.ValidationError{Field: "email", Message: "email is invalid"}
	}
	return nil
}

func (s *AuthService) dummy() []byte {
	s.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("authgate-dummy-password"), s.cfg.PasswordHashCost)
		if err != nil {
			slog.Error("failed to generate dummy password hash", "error", err)
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func checkPassword(password string) error {
	switch {
	case password == "":
		return &domain.ValidationError{Field: "password", Message: "password is required"}
	case len(password) < minPasswordLength:
		return &domain.ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	case len(password) > maxPasswordLength:
		return &domain.ValidationError{Field: "password", Message: fmt.Sprintf("password must be at most %d bytes", maxPasswordLength)}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func userIDOf(u *domain.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
