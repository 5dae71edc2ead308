package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

// guildScope is the daily_usage.user_id of a guild-wide aggregate row.
const (
	guildScope = ""
	dateLayout = "2006-01-02"
)

// GetUsage returns today's counters for the guild and, when userID is set, the user.
func (db *DB) GetUsage(ctx context.Context, guildID, userID string) (*models.Usage, error) {
	day := models.UsageDay(db.now())
	query := `
		SELECT user_id, chat_tokens_used, images_generated
		FROM daily_usage
		WHERE guild_id = $1 AND usage_date = $2 AND user_id IN ($3, $4)
	`

	rows, err := db.QueryContext(ctx, query, guildID, day.Format(dateLayout), guildScope, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	usage := &models.Usage{Day: day}
	if userID != "" {
		usage.User = &models.UsageCounters{}
	}
	for rows.Next() {
		var (
			scope    string
			counters models.UsageCounters
		)
		if err := rows.Scan(&scope, &counters.ChatTokensUsed, &counters.ImagesGenerated); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		if scope == guildScope {
			usage.Guild = counters
		} else {
			*usage.User = counters
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage: %w", err)
	}

	return usage, nil
}

// IncrementDailyChatUsage adds tokens to the user's and the guild's counters for today.
func (db *DB) IncrementDailyChatUsage(ctx context.Context, guildID, userID string, tokens int64) error {
	return db.incrementUsage(ctx, "chat_tokens_used", guildID, userID, tokens)
}

// IncrementDailyImageUsage adds count to the user's and the guild's image counters for today.
func (db *DB) IncrementDailyImageUsage(ctx context.Context, guildID, userID string, count int64) error {
	return db.incrementUsage(ctx, "images_generated", guildID, userID, count)
}

func (db *DB) incrementUsage(ctx context.Context, column, guildID, userID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("usage counters cannot be decremented (got %d)", amount)
	}
	if amount == 0 {
		return nil
	}

	day := models.UsageDay(db.now())
	query := fmt.Sprintf(`
		INSERT INTO daily_usage (guild_id, user_id, usage_date, %[1]s)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, user_id, usage_date) DO UPDATE
		SET %[1]s = daily_usage.%[1]s + EXCLUDED.%[1]s,
		    updated_at = NOW()
	`, column)

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, scope := range []string{userID, guildScope} {
			if _, err := tx.ExecContext(ctx, query, guildID, scope, day.Format(dateLayout), amount); err != nil {
				return fmt.Errorf("failed to increment %s: %w", column, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.logger.Debug("usage incremented",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("counter", column),
		zap.Int64("amount", amount),
	)
	return nil
}

// Analytics summarizes the guild's request log.
func (db *DB) Analytics(ctx context.Context, guildID string) (*models.Analytics, error) {
	totals := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE command_type = 'ask'),
		       COUNT(*) FILTER (WHERE command_type = 'image'),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(estimated_cost_usd), 0),
		       COUNT(*) FILTER (WHERE status = 'pending_approval')
		FROM message_log
		WHERE guild_id = $1
	`

	a := &models.Analytics{
		GuildID:     guildID,
		ByStatus:    []models.StatusCount{},
		TopUsers:    []models.UserActivity{},
		GeneratedAt: db.now().UTC(),
	}
	var cost decimal.Decimal
	err := db.QueryRowContext(ctx, totals, guildID).Scan(
		&a.TotalRequests,
		&a.AskRequests,
		&a.ImageRequests,
		&a.TotalTokens,
		&cost,
		&a.PendingCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute analytics: %w", err)
	}
	a.EstimatedCost = cost

	byStatus := `
		SELECT status, COUNT(*)
		FROM message_log
		WHERE guild_id = $1
		GROUP BY status
		ORDER BY status
	`
	rows, err := db.QueryContext(ctx, byStatus, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status counts: %w", err)
	}
	for rows.Next() {
		var sc models.StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		a.ByStatus = append(a.ByStatus, sc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	topUsers := `
		SELECT user_id, COUNT(*) AS requests
		FROM message_log
		WHERE guild_id = $1
		GROUP BY user_id
		ORDER BY requests DESC, user_id ASC
		LIMIT 10
	`
	rows, err = db.QueryContext(ctx, topUsers, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query top users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ua models.UserActivity
		if err := rows.Scan(&ua.UserID, &ua.Requests); err != nil {
			return nil, fmt.Errorf("failed to scan user activity: %w", err)
		}
		a.TopUsers = append(a.TopUsers, ua)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user activity: %w", err)
	}

	return a, nil
}
