package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/authgate/internal/config"
	"github.com/sumire/authgate/internal/domain"
	"github.com/sumire/authgate/internal/service"
)

const (
	cookieAccessToken  = "access_token"
	cookieRefreshToken = "refresh_token"
	cookieRedirect     = "oauth_redirect"
	cookieLocale       = "locale"
	stateCookiePrefix  = "oauth_state_"

	refreshCookiePath = "/auth/refresh"
)

// CookieTransport reads and writes the auth cookies. Every cookie is HttpOnly
// and SameSite=Lax; Secure is set in production.
type CookieTransport struct {
	secure     bool
	domain     string
	stateTTL   time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewCookieTransport creates a CookieTransport from configuration.
func NewCookieTransport(cfg config.Config) *CookieTransport {
	return &CookieTransport{
		secure:     cfg.IsProduction(),
		domain:     cfg.CookieDomain,
		stateTTL:   cfg.OAuthStateTTL,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}
}

func (t *CookieTransport) cookie(name, value, path string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   t.domain,
		MaxAge:   maxAge,
		Secure:   t.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (t *CookieTransport) set(c echo.Context, name, value, path string, ttl time.Duration) {
	c.SetCookie(t.cookie(name, value, path, int(ttl.Seconds())))
}

func (t *CookieTransport) clear(c echo.Context, name, path string) {
	c.SetCookie(t.cookie(name, "", path, -1))
}

func read(c echo.Context, name string) string {
	ck, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

func stateCookieName(p domain.AuthProvider) string {
	return stateCookiePrefix + strings.ToLower(string(p))
}

// SetOAuthState stores the CSRF state for one provider, plus the redirect intent when present.
func (t *CookieTransport) SetOAuthState(c echo.Context, p domain.AuthProvider, state, intent string) {
	t.set(c, stateCookieName(p), state, "/", t.stateTTL)
	if intent != "" {
		t.set(c, cookieRedirect, intent, "/", t.stateTTL)
	} else {
		t.clear(c, cookieRedirect, "/")
	}
}

// OAuthState returns the stored CSRF state for p and the redirect intent.
func (t *CookieTransport) OAuthState(c echo.Context, p domain.AuthProvider) (state, intent string) {
	return read(c, stateCookieName(p)), read(c, cookieRedirect)
}

// ClearOAuthState deletes the provider state cookie and the redirect intent.
func (t *CookieTransport) ClearOAuthState(c echo.Context, p domain.AuthProvider) {
	t.clear(c, stateCookieName(p), "/")
	t.clear(c, cookieRedirect, "/")
}

// SetSession writes the access and refresh token cookies.
func (t *CookieTransport) SetSession(c echo.Context, s *service.IssuedSession) {
	t.set(c, cookieAccessToken, s.AccessToken, "/", t.accessTTL)
	t.set(c, cookieRefreshToken, s.RefreshToken, refreshCookiePath, t.refreshTTL)
}

// ClearSession deletes the access and refresh token cookies.
func (t *CookieTransport) ClearSession(c echo.Context) {
	t.clear(c, cookieAccessToken, "/")
	t.clear(c, cookieRefreshToken, refreshCookiePath)
}

// AccessToken returns the access token cookie value.
func (t *CookieTransport) AccessToken(c echo.Context) string {
	return read(c, cookieAccessToken)
}

// RefreshToken returns the refresh token cookie value.
func (t *CookieTransport) RefreshToken(c echo.Context) string {
	return read(c, cookieRefreshToken)
}
