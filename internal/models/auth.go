package models

import "time"

// AdminRole values stored in admin_users.role
const (
	AdminRoleAdmin = "admin"
	AdminRoleOwner = "owner"
)

// AdminUser grants a Discord user access to a guild's admin API.
type AdminUser struct {
	DiscordUserID string    `json:"discord_user_id"`
	GuildID       string    `json:"guild_id"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
}

// OAuthState represents a temporary OAuth state for CSRF protection
type OAuthState struct {
	State      string    `json:"state"`
	RedirectTo string    `json:"redirect_to"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired checks if the OAuth state has expired
func (s *OAuthState) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// AdminIdentity is the Discord account behind an admin session.
type AdminIdentity struct {
	DiscordUserID string `json:"discord_user_id"`
	Username      string `json:"username"`
	Avatar        string `json:"avatar,omitempty"`
}
