package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// CommandKind distinguishes chat requests from image requests.
type CommandKind string

// Command kinds
const (
	CommandAsk   CommandKind = "ask"
	CommandImage CommandKind = "image"
)

// ParseCommandKind validates a command kind string.
func ParseCommandKind(s string) (CommandKind, error) {
	switch k := CommandKind(s); k {
	case CommandAsk, CommandImage:
		return k, nil
	}
	return "", fmt.Errorf("unknown command type %q", s)
}

// RequestRecord is one message_log row: a single user action and its disposition.
type RequestRecord struct {
	ID                 int64               `json:"id"`
	GuildID            string              `json:"guild_id"`
	ChannelID          string              `json:"channel_id"`
	UserID             string              `json:"user_id"`
	DiscordMessageID   sql.NullString      `json:"discord_message_id"`
	CommandType        CommandKind         `json:"command_type"`
	UserContent        string              `json:"user_content"`
	Status             RequestStatus       `json:"status"`
	NeedsApproval      bool                `json:"needs_approval"`
	ErrorCode          sql.NullString      `json:"error_code"`
	ErrorDetail        sql.NullString      `json:"error_detail"`
	RequestPayload     json.RawMessage     `json:"grok_request_payload,omitempty"`
	ResponseContent    sql.NullString      `json:"grok_response_content"`
	ImageURLs          pq.StringArray      `json:"grok_image_urls"`
	ManualReplyContent sql.NullString      `json:"manual_reply_content"`
	PromptTokens       sql.NullInt64       `json:"prompt_tokens"`
	CompletionTokens   sql.NullInt64       `json:"completion_tokens"`
	TotalTokens        sql.NullInt64       `json:"total_tokens"`
	EstimatedCostUSD   decimal.NullDecimal `json:"estimated_cost_usd"`
	ApprovedByAdminID  sql.NullString      `json:"approved_by_admin_id"`
	Decision           sql.NullString      `json:"decision"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// MarshalJSON flattens the nullable columns into plain values or null.
func (r RequestRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID                 int64               `json:"id"`
		GuildID            string              `json:"guild_id"`
		ChannelID          string              `json:"channel_id"`
		UserID             string              `json:"user_id"`
		DiscordMessageID   *string             `json:"discord_message_id"`
		CommandType        CommandKind         `json:"command_type"`
		UserContent        string              `json:"user_content"`
		Status             RequestStatus       `json:"status"`
		NeedsApproval      bool                `json:"needs_approval"`
		ErrorCode          *string             `json:"error_code"`
		ErrorDetail        *string             `json:"error_detail"`
		RequestPayload     json.RawMessage     `json:"grok_request_payload,omitempty"`
		ResponseContent    *string             `json:"grok_response_content"`
		ImageURLs          []string            `json:"grok_image_urls"`
		ManualReplyContent *string             `json:"manual_reply_content"`
		PromptTokens       *int64              `json:"prompt_tokens"`
		CompletionTokens   *int64              `json:"completion_tokens"`
		TotalTokens        *int64              `json:"total_tokens"`
		EstimatedCostUSD   decimal.NullDecimal `json:"estimated_cost_usd"`
		ApprovedByAdminID  *string             `json:"approved_by_admin_id"`
		Decision           *string             `json:"decision"`
		CreatedAt          time.Time           `json:"created_at"`
		UpdatedAt          time.Time           `json:"updated_at"`
	}{
		ID:                 r.ID,
		GuildID:            r.GuildID,
		ChannelID:          r.ChannelID,
		UserID:             r.UserID,
		DiscordMessageID:   nullString(r.DiscordMessageID),
		CommandType:        r.CommandType,
		UserContent:        r.UserContent,
		Status:             r.Status,
		NeedsApproval:      r.NeedsApproval,
		ErrorCode:          nullString(r.ErrorCode),
		ErrorDetail:        nullString(r.ErrorDetail),
		RequestPayload:     r.RequestPayload,
		ResponseContent:    nullString(r.ResponseContent),
		ImageURLs:          nonNilStrings(r.ImageURLs),
		ManualReplyContent: nullString(r.ManualReplyContent),
		PromptTokens:       nullInt(r.PromptTokens),
		CompletionTokens:   nullInt(r.CompletionTokens),
		TotalTokens:        nullInt(r.TotalTokens),
		EstimatedCostUSD:   r.EstimatedCostUSD,
		ApprovedByAdminID:  nullString(r.ApprovedByAdminID),
		Decision:           nullString(r.Decision),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	})
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// IsPending reports whether the record still awaits an admin decision.
func (r *RequestRecord) IsPending() bool {
	return r.Status == StatusPendingApproval
}

// FirstImageURL returns the first generated image URL, or "".
func (r *RequestRecord) FirstImageURL() string {
	if len(r.ImageURLs) == 0 {
		return ""
	}
	return r.ImageURLs[0]
}

// TokenUsage is the accounting reported by the AI service for one chat call.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// StatusUpdate carries the fields written when a pending record is resolved.
// Zero-valued optional fields are left unchanged.
type StatusUpdate struct {
	Status             RequestStatus
	Decision           DecisionKind
	ApprovedByAdminID  string
	ErrorCode          string
	ErrorDetail        string
	ResponseContent    string
	ManualReplyContent string
	ImageURLs          []string
	Usage              *TokenUsage
	EstimatedCostUSD   decimal.NullDecimal
}

// Validate checks the update targets a state reachable from pending_approval.
func (u *StatusUpdate) Validate() error {
	if !StatusPendingApproval.CanTransitionTo(u.Status) {
		return fmt.Errorf("invalid target status %q", u.Status)
	}
	return nil
}

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	Limit       int
	Status      RequestStatus
	CommandType CommandKind
}

// Normalize clamps the limit into [1, 500] with a default of 100.
func (f *HistoryFilter) Normalize() {
	switch {
	case f.Limit <= 0:
		f.Limit = 100
	case f.Limit > 500:
		f.Limit = 500
	}
}
