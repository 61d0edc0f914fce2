package provider

import (
	"context"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/linkedin"

	"github.com/sumire/authgate/internal/domain"
)

// oidcUserInfo is the standard OpenID Connect userinfo shape served by Google and LinkedIn.
type oidcUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

type oidcAdapter struct {
	base
}

// NewGoogle creates the Google adapter.
func NewGoogle(cfg Config) Adapter {
	return &oidcAdapter{base: newBase(domain.AuthProviderGoogle, cfg, google.Endpoint,
		"https://openidconnect.googleapis.com/v1/userinfo",
		[]string{"openid", "email", "profile"})}
}

// NewLinkedIn creates the LinkedIn adapter (Sign In with LinkedIn using OpenID Connect).
func NewLinkedIn(cfg Config) Adapter {
	return &oidcAdapter{base: newBase(domain.AuthProviderLinkedIn, cfg, linkedin.Endpoint,
		"https://api.linkedin.com/v2/userinfo",
		[]string{"openid", "profile", "email"})}
}

// FetchProfile loads the userinfo document for accessToken.
func (a *oidcAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var info oidcUserInfo
	if err := a.getJSON(ctx, a.userInfoURL, accessToken, &info); err != nil {
		return nil, a.fail("fetch profile", err)
	}
	return a.normalize(info.Sub, info.Email, info.Name, info.Picture)
}
