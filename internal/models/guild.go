// Package models defines the data structures shared by the policy pipeline,
// the approval workflow and the persistence layer.
package models

import "time"

// DefaultSystemPrompt is the persona used for guilds that never set their own.
const DefaultSystemPrompt = "You are GrokBot for Discord. Always answer the user's question directly and concisely. " +
	"Lead with the helpful answer, then optionally add one short sarcastic or blunt comment. " +
	"Tone can be mildly rude but never hateful. Avoid slurs, protected class insults, explicit " +
	"sexual content, or graphic violence. If the user prompt is unclear, spammy, or misuses " +
	"commands, call it out and tell them briefly what to do instead."

// GuildConfig holds the per-guild policy settings. It is loaded fresh for every
// request so admin edits apply immediately.
type GuildConfig struct {
	GuildID                   string    `json:"guild_id"`
	MaxPromptChars            int       `json:"max_prompt_chars"`
	DuplicateWindowSeconds    int       `json:"duplicate_window_seconds"`
	AskWindowSeconds          int       `json:"ask_window_seconds"`
	AskMaxPerWindow           int       `json:"ask_max_per_window"`
	ImageWindowSeconds        int       `json:"image_window_seconds"`
	ImageMaxPerWindow         int       `json:"image_max_per_window"`
	UserDailyChatTokenLimit   int64     `json:"user_daily_chat_token_limit"`
	GlobalDailyChatTokenLimit int64     `json:"global_daily_chat_token_limit"`
	UserDailyImageLimit       int64     `json:"user_daily_image_limit"`
	GlobalDailyImageLimit     int64     `json:"global_daily_image_limit"`
	AutoApproveEnabled        bool      `json:"auto_approve_enabled"`
	AdminBypassAutoApprove    bool      `json:"admin_bypass_auto_approve"`
	SystemPrompt              string    `json:"system_prompt"`
	Temperature               float64   `json:"temperature"`
	MaxCompletionTokens       int       `json:"max_completion_tokens"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// DefaultGuildConfig returns the settings a guild starts with.
func DefaultGuildConfig(guildID string, maxPromptChars int) *GuildConfig {
	if maxPromptChars <= 0 {
		maxPromptChars = 4000
	}
	return &GuildConfig{
		GuildID:                   guildID,
		MaxPromptChars:            maxPromptChars,
		DuplicateWindowSeconds:    60,
		AskWindowSeconds:          60,
		AskMaxPerWindow:           5,
		ImageWindowSeconds:        300,
		ImageMaxPerWindow:         2,
		UserDailyChatTokenLimit:   20000,
		GlobalDailyChatTokenLimit: 200000,
		UserDailyImageLimit:       5,
		GlobalDailyImageLimit:     50,
		AutoApproveEnabled:        false,
		AdminBypassAutoApprove:    true,
		SystemPrompt:              DefaultSystemPrompt,
		Temperature:               0.7,
		MaxCompletionTokens:       512,
	}
}

// DuplicateWindow returns the duplicate detection window.
func (c *GuildConfig) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowSeconds) * time.Second
}

// ConfigUpdate is a partial GuildConfig edit. Nil fields keep their current value.
type ConfigUpdate struct {
	MaxPromptChars            *int     `json:"max_prompt_chars,omitempty" validate:"omitempty,min=1"`
	DuplicateWindowSeconds    *int     `json:"duplicate_window_seconds,omitempty" validate:"omitempty,min=1"`
	AskWindowSeconds          *int     `json:"ask_window_seconds,omitempty" validate:"omitempty,min=1"`
	AskMaxPerWindow           *int     `json:"ask_max_per_window,omitempty" validate:"omitempty,min=1"`
	ImageWindowSeconds        *int     `json:"image_window_seconds,omitempty" validate:"omitempty,min=1"`
	ImageMaxPerWindow         *int     `json:"image_max_per_window,omitempty" validate:"omitempty,min=1"`
	UserDailyChatTokenLimit   *int64   `json:"user_daily_chat_token_limit,omitempty" validate:"omitempty,min=0"`
	GlobalDailyChatTokenLimit *int64   `json:"global_daily_chat_token_limit,omitempty" validate:"omitempty,min=0"`
	UserDailyImageLimit       *int64   `json:"user_daily_image_limit,omitempty" validate:"omitempty,min=0"`
	GlobalDailyImageLimit     *int64   `json:"global_daily_image_limit,omitempty" validate:"omitempty,min=0"`
	AutoApproveEnabled        *bool    `json:"auto_approve_enabled,omitempty"`
	AdminBypassAutoApprove    *bool    `json:"admin_bypass_auto_approve,omitempty"`
	SystemPrompt              *string  `json:"system_prompt,omitempty" validate:"omitempty,max=8000"`
	Temperature               *float64 `json:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	MaxCompletionTokens       *int     `json:"max_completion_tokens,omitempty" validate:"omitempty,min=1,max=8192"`
}

// IsEmpty reports whether the update carries no fields.
func (u *ConfigUpdate) IsEmpty() bool {
	return *u == ConfigUpdate{}
}

// Merge returns a copy of current with every non-nil field of u applied.
// current is left untouched.
func (u *ConfigUpdate) Merge(current *GuildConfig) *GuildConfig {
	merged := *current
	if u == nil {
		return &merged
	}
	setInt(&merged.MaxPromptChars, u.MaxPromptChars)
	setInt(&merged.DuplicateWindowSeconds, u.DuplicateWindowSeconds)
	setInt(&merged.AskWindowSeconds, u.AskWindowSeconds)
	setInt(&merged.AskMaxPerWindow, u.AskMaxPerWindow)
	setInt(&merged.ImageWindowSeconds, u.ImageWindowSeconds)
	setInt(&merged.ImageMaxPerWindow, u.ImageMaxPerWindow)
	setInt64(&merged.UserDailyChatTokenLimit, u.UserDailyChatTokenLimit)
	setInt64(&merged.GlobalDailyChatTokenLimit, u.GlobalDailyChatTokenLimit)
	setInt64(&merged.UserDailyImageLimit, u.UserDailyImageLimit)
	setInt64(&merged.GlobalDailyImageLimit, u.GlobalDailyImageLimit)
	if u.AutoApproveEnabled != nil {
		merged.AutoApproveEnabled = *u.AutoApproveEnabled
	}
	if u.AdminBypassAutoApprove != nil {
		merged.AdminBypassAutoApprove = *u.AdminBypassAutoApprove
	}
	if u.SystemPrompt != nil {
		merged.SystemPrompt = *u.SystemPrompt
	}
	if u.Temperature != nil {
		merged.Temperature = *u.Temperature
	}
	setInt(&merged.MaxCompletionTokens, u.MaxCompletionTokens)
	return &merged
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setInt64(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}
