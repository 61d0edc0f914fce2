package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sumire/authgate/internal/config"
	"github.com/sumire/authgate/internal/domain"
)

type fakeIdP struct {
	tokenStatus int
	userInfo    any
	userStatus  int
	emails      any
	gotCode     string
	gotBearer   string
}

func (f *fakeIdP) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.gotCode = r.PostForm.Get("code")
		if f.tokenStatus != 0 && f.tokenStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "provider-access",
			"refresh_token": "provider-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	userInfo := func(w http.ResponseWriter, r *http.Request) {
		f.gotBearer = r.Header.Get("Authorization")
		if f.userStatus != 0 {
			w.WriteHeader(f.userStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.userInfo)
	}
	mux.HandleFunc("/userinfo", userInfo)
	mux.HandleFunc("/user", userInfo)
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.emails)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srv *httptest.Server, userInfoPath string) Config {
	return Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/auth/test/callback",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + userInfoPath,
		HTTPClient:   srv.Client(),
	}
}

func TestAuthorizationURL(t *testing.T) {
	adapter := NewLinkedIn(Config{
		ClientID:    "li-client",
		RedirectURL: "https://auth.example.com/auth/linkedin/callback",
	})

	u, err := url.Parse(adapter.AuthorizationURL("s1"))
	require.NoError(t, err)
	require.Equal(t, "www.linkedin.com", u.Host)

	q := u.Query()
	require.Equal(t, "li-client", q.Get("client_id"))
	require.Equal(t, "https://auth.example.com/auth/linkedin/callback", q.Get("redirect_uri"))
	require.Equal(t, "openid profile email", q.Get("scope"))
	require.Equal(t, "s1", q.Get("state"))
	require.Equal(t, "code", q.Get("response_type"))
}

func TestOIDCAdapter_ExchangeAndProfile(t *testing.T) {
	idp := &fakeIdP{userInfo: map[string]any{
		"sub":     "g-123",
		"email":   " Ada@Example.COM ",
		"name":    "Ada Lovelace",
		"picture": "https://img.example.com/ada.png",
	}}
	srv := idp.server(t)
	adapter := NewGoogle(testConfig(srv, "/userinfo"))
	ctx := context.Background()

	tokens, err := adapter.Exchange(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", idp.gotCode)
	require.Equal(t, "provider-access", tokens.AccessToken)
	require.Equal(t, "provider-refresh", tokens.RefreshToken)
	require.False(t, tokens.Expiry.IsZero())

	profile, err := adapter.FetchProfile(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "Bearer provider-access", idp.gotBearer)
	require.Equal(t, &Profile{
		ID:      "g-123",
		Email:   "ada@example.com",
		Name:    "Ada Lovelace",
		Picture: "https://img.example.com/ada.png",
	}, profile)
}

func TestOIDCAdapter_Failures(t *testing.T) {
	tests := []struct {
		name string
		idp  *fakeIdP
		run  func(Adapter) error
	}{
		{
			name: "token endpoint rejects code",
			idp:  &fakeIdP{tokenStatus: http.StatusBadRequest},
			run: func(a Adapter) error {
				_, err := a.Exchange(context.Background(), "bad")
				return err
			},
		},
		{
			name: "userinfo non-2xx",
			idp:  &fakeIdP{userStatus: http.StatusUnauthorized},
			run: func(a Adapter) error {
				_, err := a.FetchProfile(context.Background(), "at")
				return err
			},
		},
		{
			name: "missing email",
			idp:  &fakeIdP{userInfo: map[string]any{"sub": "x", "name": "No Mail"}},
			run: func(a Adapter) error {
				_, err := a.FetchProfile(context.Background(), "at")
				return err
			},
		},
		{
			name: "missing id",
			idp:  &fakeIdP{userInfo: map[string]any{"email": "a@b.c"}},
			run: func(a Adapter) error {
				_, err := a.FetchProfile(context.Background(), "at")
				return err
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := tc.idp.server(t)
			err := tc.run(NewLinkedIn(testConfig(srv, "/userinfo")))

			var perr *domain.ProviderError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, domain.AuthProviderLinkedIn, perr.Provider)
		})
	}
}

func TestOIDCAdapter_NameDefaultsToEmail(t *testing.T) {
	idp := &fakeIdP{userInfo: map[string]any{"sub": "1", "email": "solo@x.com"}}
	srv := idp.server(t)

	profile, err := NewGoogle(testConfig(srv, "/userinfo")).FetchProfile(context.Background(), "at")
	require.NoError(t, err)
	require.Equal(t, "solo@x.com", profile.Name)
	require.Empty(t, profile.Picture)
}

func TestGitHubAdapter_PrimaryEmailFallback(t *testing.T) {
	idp := &fakeIdP{
		userInfo: map[string]any{"id": 42, "login": "octo", "avatar_url": "https://gh/avatar"},
		emails: []map[string]any{
			{"email": "old@x.com", "primary": false, "verified": true},
			{"email": "Octo@X.com", "primary": true, "verified": true},
		},
	}
	srv := idp.server(t)

	profile, err := NewGitHub(testConfig(srv, "/user")).FetchProfile(context.Background(), "at")
	require.NoError(t, err)
	require.Equal(t, "42", profile.ID)
	require.Equal(t, "octo@x.com", profile.Email)
	require.Equal(t, "octo", profile.Name)
}

func TestGitHubAdapter_NoVerifiedEmail(t *testing.T) {
	idp := &fakeIdP{
		userInfo: map[string]any{"id": 42, "login": "octo"},
		emails:   []map[string]any{{"email": "x@x.com", "primary": true, "verified": false}},
	}
	srv := idp.server(t)

	_, err := NewGitHub(testConfig(srv, "/user")).FetchProfile(context.Background(), "at")
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
}

func TestFromConfig(t *testing.T) {
	reg := FromConfig(config.Config{
		PublicURL:            "https://auth.example.com",
		LinkedInClientID:     "li",
		LinkedInClientSecret: "secret",
		GoogleClientID:       "g",
		GoogleClientSecret:   "secret",
		GitHubClientID:       "gh-without-secret",
	})

	require.Equal(t, []domain.AuthProvider{domain.AuthProviderGoogle, domain.AuthProviderLinkedIn}, reg.Names())

	adapter, ok := reg.Lookup("LinkedIn")
	require.True(t, ok)
	u, err := url.Parse(adapter.AuthorizationURL("s"))
	require.NoError(t, err)
	require.Equal(t, "https://auth.example.com/auth/linkedin/callback", u.Query().Get("redirect_uri"))

	_, ok = reg.Lookup("github")
	require.False(t, ok)
}
