package service

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sumire/authgate/internal/domain"
)

func signup(t *testing.T, h *harness, email, password string) *AuthResult {
	t.Helper()
	res, err := h.auth.Signup(context.Background(), SignupInput{Name: "Test User", Email: email, Password: password}, domain.ClientMeta{})
	require.NoError(t, err)
	return res
}

func TestAuthService_SignupHashesPassword(t *testing.T) {
	for _, password := range []string{"rightpw", "123456", "correct horse battery staple"} {
		t.Run(password, func(t *testing.T) {
			h := newHarness()
			res := signup(t, h, " New@Example.com ", password)

			stored, err := h.users.FindByID(context.Background(), res.User.ID)
			require.NoError(t, err)
			require.Equal(t, "new@example.com", stored.Email)
			require.NotNil(t, stored.PasswordHash)
			require.NotEqual(t, password, *stored.PasswordHash)
			require.NoError(t, bcrypt.CompareHashAndPassword([]byte(*stored.PasswordHash), []byte(password)))

			require.False(t, stored.OnboardingCompleted)
			require.NotEmpty(t, res.AccessToken)
			require.NotEmpty(t, res.RefreshToken)
			require.Equal(t, 1, h.sessions.count())
			require.Equal(t, []domain.ActivityAction{domain.ActivitySignup}, h.activity.actions())
		})
	}
}

func TestAuthService_SignupValidation(t *testing.T) {
	tests := []struct {
		name  string
		in    SignupInput
		field string
	}{
		{name: "missing name", in: SignupInput{Email: "a@b.com", Password: "secret1"}, field: "name"},
		{name: "missing email", in: SignupInput{Name: "A", Password: "secret1"}, field: "email"},
		{name: "bad email", in: SignupInput{Name: "A", Email: "not-an-email", Password: "secret1"}, field: "email"},
		{name: "missing password", in: SignupInput{Name: "A", Email: "a@b.com"}, field: "password"},
		{name: "short password", in: SignupInput{Name: "A", Email: "a@b.com", Password: "12345"}, field: "password"},
		{name: "long password", in: SignupInput{Name: "A", Email: "a@b.com", Password: strings.Repeat("p", 73)}, field: "password"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			_, err := h.auth.Signup(context.Background(), tc.in, domain.ClientMeta{})

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
			require.Zero(t, h.users.writes)
		})
	}
}

func TestAuthService_SignupConflict(t *testing.T) {
	h := newHarness()
	signup(t, h, "dup@x.com", "secret1")

	_, err := h.auth.Signup(context.Background(), SignupInput{Name: "B", Email: "DUP@x.com", Password: "secret2"}, domain.ClientMeta{})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestAuthService_Login(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	signup(t, h, "u@x.com", "rightpw")

	res, err := h.auth.Login(ctx, "U@x.com", "rightpw", domain.ClientMeta{IPAddress: "10.0.0.9"})
	require.NoError(t, err)
	require.Equal(t, "u@x.com", res.User.Email)

	claims, err := h.manager.Codec().Verify(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, res.Session.ID, claims.SessionID)
}

func TestAuthService_LoginFailuresAreGeneric(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	signup(t, h, "u@x.com", "rightpw")

	oauthOnly := domain.User{ID: "oauth-user", Email: "oauth@x.com", Name: "O", Role: domain.RoleUser}
	require.NoError(t, h.users.Create(ctx, oauthOnly))

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{name: "wrong password", email: "u@x.com", password: "wrongpw"},
		{name: "unknown email", email: "nobody@x.com", password: "rightpw"},
		{name: "account without password", email: "oauth@x.com", password: "rightpw"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.auth.Login(ctx, tc.email, tc.password, domain.ClientMeta{})
			require.ErrorIs(t, err, domain.ErrInvalidCredentials)
			require.Equal(t, "invalid email or password", err.Error())
		})
	}
	require.Equal(t, 1, h.sessions.count(), "only the signup session exists")
}

func TestAuthService_ForgotPasswordUnknownEmail(t *testing.T) {
	h := newHarness()

	err := h.auth.ForgotPassword(context.Background(), "ghost@x.com", "https://app.example.com/reset-password", domain.ClientMeta{})
	require.NoError(t, err)
	require.Zero(t, h.users.writes)
	require.Empty(t, h.mailer.to)
	require.Empty(t, h.activity.actions())
}

func TestAuthService_PasswordResetFlow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res := signup(t, h, "u@x.com", "oldpass")
	_, err := h.auth.Login(ctx, "u@x.com", "oldpass", domain.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, h.auth.ForgotPassword(ctx, "u@x.com", "https://app.example.com/reset-password", domain.ClientMeta{}))
	require.Equal(t, []string{"u@x.com"}, h.mailer.to)

	link, err := url.Parse(h.mailer.links[0])
	require.NoError(t, err)
	require.Equal(t, "/reset-password", link.Path)
	token := link.Query().Get("token")
	require.NotEmpty(t, token)

	stored, err := h.users.FindByID(ctx, res.User.ID)
	require.NoError(t, err)
	require.Equal(t, HashSecret(token), *stored.ResetTokenHash)
	require.True(t, stored.ResetTokenExpiresAt.Equal(h.clock.Now().Add(time.Hour)))

	require.ErrorIs(t, h.auth.ResetPassword(ctx, "wrong", "newpass", domain.ClientMeta{}), domain.ErrInvalidResetToken)

	require.NoError(t, h.auth.ResetPassword(ctx, token, "newpass", domain.ClientMeta{}))
	require.ErrorIs(t, h.auth.ResetPassword(ctx, token, "another", domain.ClientMeta{}), domain.ErrInvalidResetToken)

	_, err = h.auth.Login(ctx, "u@x.com", "oldpass", domain.ClientMeta{})
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = h.auth.Login(ctx, "u@x.com", "newpass", domain.ClientMeta{})
	require.NoError(t, err)

	_, _, err = h.manager.Refresh(ctx, res.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken, "reset revokes existing sessions")

	require.Contains(t, h.activity.actions(), domain.ActivityPasswordResetRequested)
	require.Contains(t, h.activity.actions(), domain.ActivityPasswordResetCompleted)
}

func TestAuthService_ResetTokenExpires(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	signup(t, h, "u@x.com", "oldpass")

	require.NoError(t, h.auth.ForgotPassword(ctx, "u@x.com", "/reset-password", domain.ClientMeta{}))
	link, err := url.Parse(h.mailer.links[0])
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	err = h.auth.ResetPassword(ctx, link.Query().Get("token"), "newpass", domain.ClientMeta{})
	require.ErrorIs(t, err, domain.ErrInvalidResetToken)
}

func TestAuthService_ForgotPasswordMailFailureIsSwallowed(t *testing.T) {
	h := newHarness()
	h.mailer.err = errStoreDown
	signup(t, h, "u@x.com", "oldpass")

	require.NoError(t, h.auth.ForgotPassword(context.Background(), "u@x.com", "/reset-password", domain.ClientMeta{}))
}

func TestAuthService_RefreshAndLogout(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res := signup(t, h, "u@x.com", "secret1")

	refreshed, err := h.auth.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, res.Session.ID, refreshed.Session.ID)
	require.NotEqual(t, res.RefreshToken, refreshed.RefreshToken)

	claims, err := h.manager.Codec().Verify(refreshed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "u@x.com", claims.Email)

	require.NoError(t, h.auth.Logout(ctx, claims, domain.ClientMeta{}))
	require.NoError(t, h.auth.Logout(ctx, claims, domain.ClientMeta{}))

	ok, err := h.manager.Validate(ctx, claims.SessionID)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = h.auth.Refresh(ctx, refreshed.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestAuthService_CompleteOnboarding(t *testing.T) {
	h := newHarness()
	res := signup(t, h, "u@x.com", "secret1")

	user, err := h.auth.CompleteOnboarding(context.Background(), res.User.ID)
	require.NoError(t, err)
	require.True(t, user.OnboardingCompleted)

	_, err = h.auth.CompleteOnboarding(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
