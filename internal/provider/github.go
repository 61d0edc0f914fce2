package provider

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/oauth2/github"

	"github.com/sumire/authgate/internal/domain"
)

type githubUserInfo struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

type githubAdapter struct {
	base
	emailsURL string
}

// NewGitHub creates the GitHub adapter.
func NewGitHub(cfg Config) Adapter {
	b := newBase(domain.AuthProviderGitHub, cfg, github.Endpoint,
		"https://api.github.com/user",
		[]string{"read:user", "user:email"})
	return &githubAdapter{
		base:      b,
		emailsURL: strings.TrimSuffix(b.userInfoURL, "/user") + "/user/emails",
	}
}

// FetchProfile loads the GitHub user, falling back to the primary verified
// email when the public profile hides it.
func (a *githubAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var info githubUserInfo
	if err := a.getJSON(ctx, a.userInfoURL, accessToken, &info); err != nil {
		return nil, a.fail("fetch profile", err)
	}

	if info.Email == "" {
		email, err := a.primaryEmail(ctx, accessToken)
		if err != nil {
			return nil, a.fail("fetch profile", err)
		}
		info.Email = email
	}

	var id string
	if info.ID != 0 {
		id = strconv.FormatInt(info.ID, 10)
	}
	name := info.Name
	if name == "" {
		name = info.Login
	}
	return a.normalize(id, info.Email, name, info.AvatarURL)
}

func (a *githubAdapter) primaryEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []githubEmail
	if err := a.getJSON(ctx, a.emailsURL, accessToken, &emails); err != nil {
		return "", err
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", errors.New("no verified email found for github user")
}
