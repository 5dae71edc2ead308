package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

const (
	// RateLimitedErrorCode is recorded on requests rejected by the limiter.
	RateLimitedErrorCode = "rate_limited"

	rateLimitReply = "Cool it. You hit the spam limit. Try again later."
)

// Rule bounds how many requests of one kind a user may make per window.
type Rule struct {
	Window   time.Duration
	MaxCalls int
}

// RuleFor builds the guild's rule for a command kind.
func RuleFor(cfg *models.GuildConfig, kind models.CommandKind) Rule {
	if kind == models.CommandImage {
		return Rule{
			Window:   time.Duration(cfg.ImageWindowSeconds) * time.Second,
			MaxCalls: cfg.ImageMaxPerWindow,
		}
	}
	return Rule{
		Window:   time.Duration(cfg.AskWindowSeconds) * time.Second,
		MaxCalls: cfg.AskMaxPerWindow,
	}
}

// Key scopes a rate limit to one user's commands of one kind in a guild.
type Key struct {
	GuildID string
	UserID  string
	Kind    models.CommandKind
}

// Decision is the limiter's verdict. Reply is set when the call is refused.
type Decision struct {
	Allowed bool
	Count   int
	Reply   string
}

// RateLimiter is a sliding-window log over committed request records: a
// call is allowed while fewer than MaxCalls records fall inside the window.
type RateLimiter struct {
	store HistoryStore
}

// NewRateLimiter creates a limiter backed by store.
func NewRateLimiter(store HistoryStore) *RateLimiter {
	return &RateLimiter{store: store}
}

// Check counts the key's records inside the rule's window and decides.
func (l *RateLimiter) Check(ctx context.Context, key Key, rule Rule) (Decision, error) {
	count, err := l.store.CountRecent(ctx, key.GuildID, key.UserID, key.Kind, rule.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}

	if count >= rule.MaxCalls {
		return Decision{Count: count, Reply: rateLimitReply}, nil
	}
	return Decision{Allowed: true, Count: count}, nil
}
