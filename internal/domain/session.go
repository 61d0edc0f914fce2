package domain

import "time"

// SessionState represents the lifecycle state of a session.
type SessionState string

const (
	SessionStateActive  SessionState = "active"
	SessionStateExpired SessionState = "expired"
	SessionStateRevoked SessionState = "revoked"
)

// Revocation reasons recorded on sessions.
const (
	RevokeReasonLogout        = "logout"
	RevokeReasonTokenReuse    = "refresh_token_reuse"
	RevokeReasonPasswordReset = "password_reset"
)

// Session represents one login. TokenHash is the sha256 of the current refresh token;
// PreviousTokenHash is the hash it replaced on the last rotation.
type Session struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	TokenHash         string     `json:"-"`
	PreviousTokenHash *string    `json:"-"`
	UserAgent         *string    `json:"user_agent,omitempty"`
	IPAddress         *string    `json:"ip_address,omitempty"`
	ExpiresAt         time.Time  `json:"expires_at"`
	RotatedAt         *time.Time `json:"rotated_at,omitempty"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	RevokedReason     *string    `json:"revoked_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// State returns the session state at now. Revocation wins over expiry.
func (s Session) State(now time.Time) SessionState {
	if s.RevokedAt != nil {
		return SessionStateRevoked
	}
	if !now.Before(s.ExpiresAt) {
		return SessionStateExpired
	}
	return SessionStateActive
}

// ClientMeta carries optional request metadata stored with a session.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// AccessClaims is the payload of a signed access token.
type AccessClaims struct {
	UserID    string
	Email     string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
