package policy

import (
	"context"
	"fmt"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

// Error codes recorded on budget rejections.
const (
	ChatBudgetErrorCode  = "chat_budget"
	ImageBudgetErrorCode = "image_budget"
)

// UsageStore reads today's usage counters.
type UsageStore interface {
	GetUsage(ctx context.Context, guildID, userID string) (*models.Usage, error)
}

// BudgetDecision is the tracker's verdict. ErrorCode and Reply are set when blocked.
type BudgetDecision struct {
	Allowed   bool
	ErrorCode string
	Reply     string
}

// BudgetTracker enforces daily quotas. The user limit is checked before the
// guild limit and a counter at or above its limit blocks.
type BudgetTracker struct {
	store UsageStore
}

// NewBudgetTracker creates a tracker backed by store.
func NewBudgetTracker(store UsageStore) *BudgetTracker {
	return &BudgetTracker{store: store}
}

// CheckChat compares today's token usage with the guild's chat limits.
func (b *BudgetTracker) CheckChat(ctx context.Context, guildID, userID string, cfg *models.GuildConfig) (BudgetDecision, error) {
	usage, err := b.store.GetUsage(ctx, guildID, userID)
	if err != nil {
		return BudgetDecision{}, fmt.Errorf("chat budget check: %w", err)
	}

	switch {
	case usage.UserCounters().ChatTokensUsed >= cfg.UserDailyChatTokenLimit:
		return blocked(ChatBudgetErrorCode, "Your daily chat budget is toast. Ask again tomorrow."), nil
	case usage.Guild.ChatTokensUsed >= cfg.GlobalDailyChatTokenLimit:
		return blocked(ChatBudgetErrorCode, "This guild used up the chat budget for today. Cool your jets."), nil
	}
	return BudgetDecision{Allowed: true}, nil
}

// CheckImage compares today's image count with the guild's image limits.
func (b *BudgetTracker) CheckImage(ctx context.Context, guildID, userID string, cfg *models.GuildConfig) (BudgetDecision, error) {
	usage, err := b.store.GetUsage(ctx, guildID, userID)
	if err != nil {
		return BudgetDecision{}, fmt.Errorf("image budget check: %w", err)
	}

	switch {
	case usage.UserCounters().ImagesGenerated >= cfg.UserDailyImageLimit:
		return blocked(ImageBudgetErrorCode, "You hit the image quota for today."), nil
	case usage.Guild.ImagesGenerated >= cfg.GlobalDailyImageLimit:
		return blocked(ImageBudgetErrorCode, "Your server burned through the image budget today."), nil
	}
	return BudgetDecision{Allowed: true}, nil
}

// Check dispatches on the command kind.
func (b *BudgetTracker) Check(ctx context.Context, kind models.CommandKind, guildID, userID string, cfg *models.GuildConfig) (BudgetDecision, error) {
	if kind == models.CommandImage {
		return b.CheckImage(ctx, guildID, userID, cfg)
	}
	return b.CheckChat(ctx, guildID, userID, cfg)
}

func blocked(code, reply string) BudgetDecision {
	return BudgetDecision{ErrorCode: code, Reply: reply}
}
