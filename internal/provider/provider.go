// Package provider implements OAuth identity provider adapters. Every adapter
// normalizes its provider's profile payload into Profile.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sumire/authgate/internal/config"
	"github.com/sumire/authgate/internal/domain"
)

const maxProfileBytes = 1 << 20

var errMissingField = errors.New("profile is missing a required field")

// Adapter is the capability set every OAuth provider exposes.
type Adapter interface {
	Name() domain.AuthProvider
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (*Tokens, error)
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// Tokens is the result of an authorization-code exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Profile is the canonical identity returned by every provider.
// ID and Email are required; Name defaults to Email and Picture may be empty.
type Profile struct {
	ID      string
	Email   string
	Name    string
	Picture string
}

// Config holds the client credentials of one provider. The endpoint fields
// override the provider defaults when non-empty.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// base carries the oauth2 plumbing shared by all adapters.
type base struct {
	name        domain.AuthProvider
	oauth       *oauth2.Config
	userInfoURL string
	client      *http.Client
}

func newBase(name domain.AuthProvider, cfg Config, endpoint oauth2.Endpoint, userInfoURL string, scopes []string) base {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.UserInfoURL != "" {
		userInfoURL = cfg.UserInfoURL
	}
	if len(cfg.Scopes) > 0 {
		scopes = cfg.Scopes
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return base{
		name: name,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		userInfoURL: userInfoURL,
		client:      client,
	}
}

func (b base) Name() domain.AuthProvider {
	return b.name
}

// AuthorizationURL returns the provider consent URL carrying state.
func (b base) AuthorizationURL(state string) string {
	return b.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for provider tokens.
func (b base) Exchange(ctx context.Context, code string) (*Tokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.client)
	tok, err := b.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, b.fail("exchange code", err)
	}
	if tok.AccessToken == "" {
		return nil, b.fail("exchange code", errors.New("empty access token"))
	}
	return &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

func (b base) getJSON(ctx context.Context, url, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func (b base) fail(op string, err error) error {
	return &domain.ProviderError{Provider: b.name, Op: op, Err: err}
}

// normalize validates required fields and fills defaults.
func (b base) normalize(id, email, name, picture string) (*Profile, error) {
	p := Profile{
		ID:      strings.TrimSpace(id),
		Email:   strings.ToLower(strings.TrimSpace(email)),
		Name:    strings.TrimSpace(name),
		Picture: strings.TrimSpace(picture),
	}
	if p.ID == "" || p.Email == "" {
		return nil, b.fail("fetch profile", errMissingField)
	}
	if p.Name == "" {
		p.Name = p.Email
	}
	return &p, nil
}

// Registry resolves adapters by provider name.
type Registry struct {
	adapters map[domain.AuthProvider]Adapter
}

// NewRegistry creates a Registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.AuthProvider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Lookup returns the adapter registered under name.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	a, ok := r.adapters[domain.AuthProvider(strings.ToLower(name))]
	return a, ok
}

// Names lists the registered providers in stable order.
func (r *Registry) Names() []domain.AuthProvider {
	names := make([]domain.AuthProvider, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// FromConfig registers every provider whose client credentials are configured.
func FromConfig(cfg config.Config) *Registry {
	callback := func(name domain.AuthProvider) string {
		return cfg.PublicURL + "/auth/" + string(name) + "/callback"
	}

	var adapters []Adapter
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		adapters = append(adapters, NewGoogle(Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  callback(domain.AuthProviderGoogle),
		}))
	}
	if cfg.LinkedInClientID != "" && cfg.LinkedInClientSecret != "" {
		adapters = append(adapters, NewLinkedIn(Config{
			ClientID:     cfg.LinkedInClientID,
			ClientSecret: cfg.LinkedInClientSecret,
			RedirectURL:  callback(domain.AuthProviderLinkedIn),
		}))
	}
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		adapters = append(adapters, NewGitHub(Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  callback(domain.AuthProviderGitHub),
		}))
	}
	return NewRegistry(adapters...)
}
