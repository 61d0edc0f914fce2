package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sumire/authgate/internal/domain"
	"github.com/sumire/authgate/internal/provider"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memSessions struct {
	mu   sync.Mutex
	rows map[string]domain.Session
}

func newMemSessions() *memSessions {
	return &memSessions{rows: map[string]domain.Session{}}
}

func (m *memSessions) Create(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = s
	return nil
}

func (m *memSessions) FindByID(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *memSessions) find(match func(domain.Session) bool) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if match(s) {
			return &s, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSessions) FindByTokenHash(_ context.Context, hash string) (*domain.Session, error) {
	return m.find(func(s domain.Session) bool { return s.TokenHash == hash })
}

func (m *memSessions) FindByPreviousTokenHash(_ context.Context, hash string) (*domain.Session, error) {
	return m.find(func(s domain.Session) bool { return s.PreviousTokenHash != nil && *s.PreviousTokenHash == hash })
}

func (m *memSessions) Rotate(_ context.Context, id, currentHash, newHash string, expiresAt, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.TokenHash != currentHash || s.RevokedAt != nil {
		return false, nil
	}
	prev := currentHash
	s.PreviousTokenHash = &prev
	s.TokenHash = newHash
	s.ExpiresAt = expiresAt
	s.RotatedAt = &now
	s.UpdatedAt = now
	m.rows[id] = s
	return true, nil
}

func (m *memSessions) Revoke(_ context.Context, id, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if s.RevokedAt == nil {
		s.RevokedAt = &now
		s.RevokedReason = &reason
		m.rows[id] = s
	}
	return nil
}

func (m *memSessions) RevokeAllForUser(_ context.Context, userID, reason string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.rows {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
			s.RevokedReason = &reason
			m.rows[id] = s
			n++
		}
	}
	return n, nil
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memUsers struct {
	mu    sync.Mutex
	rows  map[string]domain.User
	links *memLinks
	// writes counts mutating calls.
	writes int
}

func newMemUsers(links *memLinks) *memUsers {
	return &memUsers{rows: map[string]domain.User{}, links: links}
}

func (m *memUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUsers) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(user)
}

func (m *memUsers) insert(user domain.User) error {
	for _, u := range m.rows {
		if u.Email == user.Email {
			return domain.ErrConflict
		}
	}
	m.writes++
	m.rows[user.ID] = user
	return nil
}

func (m *memUsers) CreateWithProviderLink(ctx context.Context, user domain.User, link domain.AuthProviderLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.links.FindByProviderAccount(ctx, link.Provider, link.ProviderAccountID); err == nil {
		return domain.ErrConflict
	}
	if err := m.insert(user); err != nil {
		return err
	}
	return m.links.Create(ctx, link)
}

func (m *memUsers) SetResetToken(_ context.Context, userID, tokenHash string, expiresAt, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.ResetTokenHash = &tokenHash
	u.ResetTokenExpiresAt = &expiresAt
	u.UpdatedAt = now
	m.rows[userID] = u
	m.writes++
	return nil
}

func (m *memUsers) ResetPassword(_ context.Context, tokenHash, passwordHash string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.rows {
		if u.ResetTokenHash != nil && *u.ResetTokenHash == tokenHash && now.Before(*u.ResetTokenExpiresAt) {
			u.PasswordHash = &passwordHash
			u.ResetTokenHash = nil
			u.ResetTokenExpiresAt = nil
			u.UpdatedAt = now
			m.rows[id] = u
			m.writes++
			return id, nil
		}
	}
	return "", domain.ErrInvalidResetToken
}

func (m *memUsers) CompleteOnboarding(_ context.Context, userID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.OnboardingCompleted = true
	u.UpdatedAt = now
	m.rows[userID] = u
	m.writes++
	return nil
}

type memLinks struct {
	mu   sync.Mutex
	rows map[string]domain.AuthProviderLink
}

func newMemLinks() *memLinks {
	return &memLinks{rows: map[string]domain.AuthProviderLink{}}
}

func (m *memLinks) FindByProviderAccount(_ context.Context, p domain.AuthProvider, accountID string) (*domain.AuthProviderLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.rows {
		if l.Provider == p && l.ProviderAccountID == accountID {
			return &l, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memLinks) Create(_ context.Context, link domain.AuthProviderLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.rows {
		if (l.Provider == link.Provider && l.ProviderAccountID == link.ProviderAccountID) ||
			(l.UserID == link.UserID && l.Provider == link.Provider) {
			return domain.ErrConflict
		}
	}
	m.rows[link.ID] = link
	return nil
}

func (m *memLinks) UpdateTokens(_ context.Context, id string, accessToken, refreshToken *string, expiresAt *time.Time, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.AccessToken = accessToken
	if refreshToken != nil {
		l.RefreshToken = refreshToken
	}
	l.TokenExpiresAt = expiresAt
	l.UpdatedAt = now
	m.rows[id] = l
	return nil
}

func (m *memLinks) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memActivity struct {
	mu      sync.Mutex
	entries []domain.ActivityLog
	err     error
}

func (m *memActivity) Append(_ context.Context, entry domain.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memActivity) actions() []domain.ActivityAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ActivityAction, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type recordingMailer struct {
	mu    sync.Mutex
	to    []string
	links []string
	err   error
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = append(m.to, to)
	m.links = append(m.links, link)
	return m.err
}

type fakeAdapter struct {
	name        domain.AuthProvider
	profile     provider.Profile
	exchangeErr error
	profileErr  error
}

func (f *fakeAdapter) Name() domain.AuthProvider { return f.name }

func (f *fakeAdapter) AuthorizationURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (f *fakeAdapter) Exchange(_ context.Context, code string) (*provider.Tokens, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &provider.Tokens{AccessToken: "pat-" + code, RefreshToken: "prt-" + code}, nil
}

func (f *fakeAdapter) FetchProfile(_ context.Context, _ string) (*provider.Profile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p := f.profile
	return &p, nil
}

var errStoreDown = errors.New("store down")

const testSecret = "0123456789abcdef0123456789abcdef"

type harness struct {
	clock    *clock
	sessions *memSessions
	users    *memUsers
	links    *memLinks
	activity *memActivity
	mailer   *recordingMailer
	manager  *SessionManager
	auth     *AuthService
	oauth    *OAuthService
}

func newHarness() *harness {
	h := &harness{
		clock:    newClock(),
		sessions: newMemSessions(),
		links:    newMemLinks(),
		activity: &memActivity{},
		mailer:   &recordingMailer{},
	}
	h.users = newMemUsers(h.links)

	auditor := NewAuditor(h.activity, h.clock.Now)
	codec := NewTokenCodec([]byte(testSecret), h.clock.Now)
	h.manager = NewSessionManager(h.sessions, codec, auditor, SessionConfig{
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		Now:             h.clock.Now,
	})
	h.auth = NewAuthService(h.users, h.manager, auditor, h.mailer, AuthConfig{
		ResetTokenTTL:    time.Hour,
		PasswordHashCost: 4, // bcrypt.MinCost
		Now:              h.clock.Now,
	})
	h.oauth = NewOAuthService(h.users, h.links, h.manager, auditor, h.clock.Now)
	return h
}
