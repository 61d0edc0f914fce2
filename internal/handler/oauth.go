package handler

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/authgate/internal/domain"
	"github.com/sumire/authgate/internal/provider"
	"github.com/sumire/authgate/internal/service"
)

// OAuthHandler handles the provider login redirect and callback.
type OAuthHandler struct {
	providers  *provider.Registry
	oauth      *service.OAuthService
	auditor    *service.Auditor
	cookies    *CookieTransport
	locales    *Localizer
	redirector *Redirector
}

// NewOAuthHandler creates a new OAuthHandler.
func NewOAuthHandler(providers *provider.Registry, oauth *service.OAuthService, auditor *service.Auditor,
	cookies *CookieTransport, locales *Localizer, redirector *Redirector) *OAuthHandler {
	return &OAuthHandler{
		providers:  providers,
		oauth:      oauth,
		auditor:    auditor,
		cookies:    cookies,
		locales:    locales,
		redirector: redirector,
	}
}

// Login redirects the user to the provider's consent page.
func (h *OAuthHandler) Login(c echo.Context) error {
	adapter, ok := h.providers.Lookup(c.Param("provider"))
	if !ok {
		return domain.ErrNotFound
	}

	state, err := service.NewSecretToken(0)
	if err != nil {
		return fmt.Errorf("generate oauth state: %w", err)
	}

	h.cookies.SetOAuthState(c, adapter.Name(), state, sanitizeIntent(c.QueryParam("redirect")))
	return c.Redirect(http.StatusTemporaryRedirect, adapter.AuthorizationURL(state))
}

// Callback completes the provider login. Every outcome is a redirect to the
// frontend; the state and intent cookies are always cleared.
func (h *OAuthHandler) Callback(c echo.Context) (err error) {
	name := domain.AuthProvider(c.Param("provider"))
	var (
		intent, locale string
		meta           domain.ClientMeta
	)
	fail := func(code string) error {
		return c.Redirect(http.StatusFound, h.redirector.Failure(locale, intent, code))
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in oauth callback", "provider", name, "panic", r)
			h.auditor.Record(c.Request().Context(), service.AuditEvent{
				Action:   domain.ActivityFailedSignin,
				Provider: name,
				Meta:     meta,
				Detail:   codeServerError,
			})
			err = fail(codeServerError)
		}
	}()

	adapter, known := h.providers.Lookup(string(name))
	if known {
		name = adapter.Name()
	}

	storedState, rawIntent := h.cookies.OAuthState(c, name)
	intent = sanitizeIntent(rawIntent)
	h.cookies.ClearOAuthState(c, name)

	locale = h.locales.Resolve(c, intent)
	meta = clientMeta(c)

	if !known {
		return fail(codeInvalidRequest)
	}

	if providerErr := c.QueryParam("error"); providerErr != "" {
		slog.Info("oauth authorization denied", "provider", name)
		return fail(codeOAuthDenied)
	}

	code, state := c.QueryParam("code"), c.QueryParam("state")
	if code == "" || state == "" {
		return fail(codeInvalidRequest)
	}

	if stateErr := checkState(storedState, state); stateErr != nil {
		slog.Warn("oauth callback rejected",
			"provider", name,
			"ip", meta.IPAddress,
			"cookie_present", storedState != "",
			"error", stateErr,
		)
		h.auditor.Record(c.Request().Context(), service.AuditEvent{
			Action:   domain.ActivityOAuthStateMismatch,
			Provider: name,
			Meta:     meta,
			Detail:   stateErr.Error(),
		})
		return fail(codeInvalidState)
	}

	res, loginErr := h.oauth.CompleteLogin(c.Request().Context(), adapter, code, meta)
	if loginErr != nil {
		failure := codeServerError
		var perr *domain.ProviderError
		if errors.As(loginErr, &perr) {
			failure = codeAuthFailed
			slog.Warn("oauth provider call failed", "provider", name, "op", perr.Op)
		} else {
			slog.Error("oauth login failed", "provider", name, "error", loginErr)
		}
		h.auditor.Record(c.Request().Context(), service.AuditEvent{
			Action:   domain.ActivityFailedSignin,
			Provider: name,
			Meta:     meta,
			Detail:   failure,
		})
		return fail(failure)
	}

	h.cookies.SetSession(c, res.IssuedSession)
	return c.Redirect(http.StatusFound,
		h.redirector.Success(locale, intent, res.IsNew, res.User.OnboardingCompleted))
}

// checkState compares the callback state with the one stored in the cookie.
func checkState(stored, got string) error {
	if stored == "" {
		return fmt.Errorf("%w: no state cookie", domain.ErrStateMismatch)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(got)) != 1 {
		return domain.ErrStateMismatch
	}
	return nil
}
