package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageCounters are the daily aggregates for one scope (a user or a whole guild).
type UsageCounters struct {
	ChatTokensUsed  int64 `json:"chat_tokens_used"`
	ImagesGenerated int64 `json:"images_generated"`
}

// Usage pairs a user's counters with their guild's for a single UTC day.
// User is nil when no user was requested.
type Usage struct {
	Day   time.Time      `json:"day"`
	User  *UsageCounters `json:"user,omitempty"`
	Guild UsageCounters  `json:"guild"`
}

// UserCounters returns the user counters or zeroes.
func (u *Usage) UserCounters() UsageCounters {
	if u.User == nil {
		return UsageCounters{}
	}
	return *u.User
}

// UsageDay truncates t to its UTC calendar day.
func UsageDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StatusCount is a per-status tally.
type StatusCount struct {
	Status RequestStatus `json:"status"`
	Count  int64         `json:"count"`
}

// Analytics summarizes a guild's request log.
type Analytics struct {
	GuildID       string          `json:"guild_id"`
	TotalRequests int64           `json:"total_requests"`
	AskRequests   int64           `json:"ask_requests"`
	ImageRequests int64           `json:"image_requests"`
	TotalTokens   int64           `json:"total_tokens"`
	EstimatedCost decimal.Decimal `json:"estimated_cost_usd"`
	PendingCount  int64           `json:"pending_count"`
	ByStatus      []StatusCount   `json:"by_status"`
	TopUsers      []UserActivity  `json:"top_users"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// UserActivity counts requests for one user.
type UserActivity struct {
	UserID   string `json:"user_id"`
	Requests int64  `json:"requests"`
}
