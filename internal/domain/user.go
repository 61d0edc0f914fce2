package domain

import "time"

// AuthProvider represents an OAuth provider.
type AuthProvider string

const (
	AuthProviderGoogle   AuthProvider = "google"
	AuthProviderLinkedIn AuthProvider = "linkedin"
	AuthProviderGitHub   AuthProvider = "github"
)

// Role is the coarse authorization role of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents an identity. Email is unique and stored lowercase.
type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	AvatarURL           *string    `json:"avatar_url,omitempty"`
	PasswordHash        *string    `json:"-"`
	OnboardingCompleted bool       `json:"onboarding_completed"`
	Role                Role       `json:"role"`
	ResetTokenHash      *string    `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// HasPassword reports whether the user can sign in with a local password.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// AuthProviderLink associates a user with an external identity.
// (Provider, ProviderAccountID) is unique, and a user holds at most one link per provider.
type AuthProviderLink struct {
	ID                string       `json:"id"`
	UserID            string       `json:"user_id"`
	Provider          AuthProvider `json:"provider"`
	ProviderAccountID string       `json:"provider_account_id"`
	AccessToken       *string      `json:"-"`
	RefreshToken      *string      `json:"-"`
	TokenExpiresAt    *time.Time   `json:"-"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}
