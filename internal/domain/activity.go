package domain

import "time"

// ActivityAction names an audited authentication event.
type ActivityAction string

const (
	ActivitySignup                 ActivityAction = "signup"
	ActivitySignin                 ActivityAction = "signin"
	ActivityFailedSignin           ActivityAction = "failed_signin"
	ActivityLogout                 ActivityAction = "logout"
	ActivityOAuthStateMismatch     ActivityAction = "oauth_state_mismatch"
	ActivityRefreshTokenReuse      ActivityAction = "refresh_token_reuse"
	ActivityPasswordResetRequested ActivityAction = "password_reset_requested"
	ActivityPasswordResetCompleted ActivityAction = "password_reset_completed"
)

// ActivityLog is an append-only audit record.
type ActivityLog struct {
	ID        string         `json:"id"`
	UserID    *string        `json:"user_id,omitempty"`
	Action    ActivityAction `json:"action"`
	Provider  *string        `json:"provider,omitempty"`
	IPAddress *string        `json:"ip_address,omitempty"`
	UserAgent *string        `json:"user_agent,omitempty"`
	Detail    *string        `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
