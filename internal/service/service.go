// Package service runs the request policy pipeline and the admin approval
// workflow on top of the store, the Grok client and the Discord notifier.
package service

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/parsascontentcorner/grokgate/internal/grok"
	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/policy"
)

// Error code recorded when the AI call fails.
const GrokErrorCode = "grok_error"

// User-facing replies that are not owned by a policy stage.
const (
	ChatFailureReply     = "Grok had a meltdown. Try again later."
	ImageFailureReply    = "Image service failed. Try later."
	ImageNoURLReply      = "Image generated, but no URL returned."
	ApprovedImageContent = "Here's your approved image."
)

// Store is the persistence the pipeline and the workflow need.
type Store interface {
	policy.HistoryStore
	policy.UsageStore
	GetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error)
	RecordMessage(ctx context.Context, rec *models.RequestRecord) (int64, error)
	GetMessage(ctx context.Context, id int64) (*models.RequestRecord, error)
	UpdateMessageStatus(ctx context.Context, id int64, update *models.StatusUpdate) error
	IncrementDailyChatUsage(ctx context.Context, guildID, userID string, tokens int64) error
	IncrementDailyImageUsage(ctx context.Context, guildID, userID string, count int64) error
}

// AI is the generative service.
type AI interface {
	Chat(ctx context.Context, req grok.ChatRequest) (*grok.ChatResult, error)
	GenerateImage(ctx context.Context, prompt string) (*grok.ImageResult, error)
	ChatModel() string
	ImageModel() string
}

// Notifier posts a reply in a channel, optionally mentioning a user and
// embedding an image.
type Notifier interface {
	SendMessage(ctx context.Context, channelID, content, mentionUserID, embedURL string) error
}

// estimateCost prices a chat call. Zero tokens means no estimate.
func estimateCost(totalTokens int64, pricePerMillion decimal.Decimal) decimal.NullDecimal {
	if totalTokens <= 0 {
		return decimal.NullDecimal{}
	}
	cost := decimal.NewFromInt(totalTokens).Div(decimal.NewFromInt(1_000_000)).Mul(pricePerMillion)
	return decimal.NullDecimal{Decimal: cost, Valid: true}
}

func chatPayload(model string, maxTokens int) json.RawMessage {
	b, _ := json.Marshal(struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
	}{model, maxTokens})
	return b
}

func imagePayload(model string) json.RawMessage {
	b, _ := json.Marshal(struct {
		Model string `json:"model"`
	}{model})
	return b
}

func firstURL(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}
