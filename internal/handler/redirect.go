package handler

import (
	"net/url"
	"strings"
)

// Error codes carried on failure redirects.
const (
	codeOAuthDenied    = "oauth_denied"
	codeInvalidRequest = "invalid_request"
	codeInvalidState   = "invalid_state"
	codeAuthFailed     = "auth_failed"
	codeServerError    = "server_error"
)

var genericIntents = map[string]bool{
	"":        true,
	"/":       true,
	"/portal": true,
	"/login":  true,
	"/signup": true,
}

// Redirector builds post-login destinations on the frontend.
type Redirector struct {
	appURL  string
	locales *Localizer
}

// NewRedirector creates a Redirector for the frontend at appURL.
func NewRedirector(appURL string, locales *Localizer) *Redirector {
	return &Redirector{appURL: appURL, locales: locales}
}

// Failure returns the error page for code. Flows that started from onboarding
// go back to onboarding step 1, everything else to the login page.
func (r *Redirector) Failure(locale, intent, code string) string {
	code = url.QueryEscape(code)
	if strings.Contains(intent, "/onboarding") {
		return r.appURL + r.locales.Path(locale, "/onboarding") + "?step=1&error=" + code
	}
	return r.appURL + r.locales.Path(locale, "/login") + "?error=" + code
}

// Success returns the destination after a completed login.
func (r *Redirector) Success(locale, intent string, isNew, onboardingCompleted bool) string {
	switch {
	case isNew, !onboardingCompleted:
		return r.appURL + r.locales.Path(locale, "/onboarding") + "?step=2"
	case !r.isGeneric(intent):
		return r.appURL + intent
	default:
		return r.appURL + r.locales.Path(locale, "/portal")
	}
}

func (r *Redirector) isGeneric(intent string) bool {
	path, _, _ := strings.Cut(intent, "?")
	path = strings.TrimSuffix(r.locales.StripPrefix(path), "/")
	if path == "" {
		return true
	}
	return genericIntents[path]
}

// sanitizeIntent accepts only same-site absolute paths.
func sanitizeIntent(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return ""
	}
	if strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) || strings.Contains(raw, "://") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return raw
}
