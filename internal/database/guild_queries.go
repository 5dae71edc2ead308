package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

const guildConfigColumns = `
	guild_id, max_prompt_chars, duplicate_window_seconds,
	ask_window_seconds, ask_max_per_window, image_window_seconds, image_max_per_window,
	user_daily_chat_token_limit, global_daily_chat_token_limit,
	user_daily_image_limit, global_daily_image_limit,
	auto_approve_enabled, admin_bypass_auto_approve,
	system_prompt, temperature, max_completion_tokens,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGuildConfig(row rowScanner) (*models.GuildConfig, error) {
	var cfg models.GuildConfig
	err := row.Scan(
		&cfg.GuildID,
		&cfg.MaxPromptChars,
		&cfg.DuplicateWindowSeconds,
		&cfg.AskWindowSeconds,
		&cfg.AskMaxPerWindow,
		&cfg.ImageWindowSeconds,
		&cfg.ImageMaxPerWindow,
		&cfg.UserDailyChatTokenLimit,
		&cfg.GlobalDailyChatTokenLimit,
		&cfg.UserDailyImageLimit,
		&cfg.GlobalDailyImageLimit,
		&cfg.AutoApproveEnabled,
		&cfg.AdminBypassAutoApprove,
		&cfg.SystemPrompt,
		&cfg.Temperature,
		&cfg.MaxCompletionTokens,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetGuildConfig returns the guild's policy settings, creating the default row
// on first access.
func (db *DB) GetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error) {
	query := `SELECT` + guildConfigColumns + ` FROM guild_config WHERE guild_id = $1`

	cfg, err := scanGuildConfig(db.QueryRowContext(ctx, query, guildID))
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get guild config: %w", err)
	}

	db.logger.Info("creating default guild config", zap.String("guild_id", guildID))

	insert := `
		INSERT INTO guild_config (guild_id, max_prompt_chars, system_prompt)
		VALUES ($1, $2, $3)
		ON CONFLICT (guild_id) DO NOTHING
	`
	defaults := models.DefaultGuildConfig(guildID, db.defaultMaxPromptChars)
	if _, err := db.ExecContext(ctx, insert, guildID, defaults.MaxPromptChars, defaults.SystemPrompt); err != nil {
		return nil, fmt.Errorf("failed to create default guild config: %w", err)
	}

	cfg, err = scanGuildConfig(db.QueryRowContext(ctx, query, guildID))
	if err != nil {
		return nil, fmt.Errorf("failed to get guild config: %w", err)
	}
	return cfg, nil
}

// UpsertGuildConfig writes every field of cfg.
func (db *DB) UpsertGuildConfig(ctx context.Context, cfg *models.GuildConfig) error {
	return upsertGuildConfig(ctx, db.DB, cfg)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func upsertGuildConfig(ctx context.Context, q queryRower, cfg *models.GuildConfig) error {
	query := `
		INSERT INTO guild_config (
			guild_id, max_prompt_chars, duplicate_window_seconds,
			ask_window_seconds, ask_max_per_window, image_window_seconds, image_max_per_window,
			user_daily_chat_token_limit, global_daily_chat_token_limit,
			user_daily_image_limit, global_daily_image_limit,
			auto_approve_enabled, admin_bypass_auto_approve,
			system_prompt, temperature, max_completion_tokens
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (guild_id) DO UPDATE
		SET max_prompt_chars = EXCLUDED.max_prompt_chars,
		    duplicate_window_seconds = EXCLUDED.duplicate_window_seconds,
		    ask_window_seconds = EXCLUDED.ask_window_seconds,
		    ask_max_per_window = EXCLUDED.ask_max_per_window,
		    image_window_seconds = EXCLUDED.image_window_seconds,
		    image_max_per_window = EXCLUDED.image_max_per_window,
		    user_daily_chat_token_limit = EXCLUDED.user_daily_chat_token_limit,
		    global_daily_chat_token_limit = EXCLUDED.global_daily_chat_token_limit,
		    user_daily_image_limit = EXCLUDED.user_daily_image_limit,
		    global_daily_image_limit = EXCLUDED.global_daily_image_limit,
		    auto_approve_enabled = EXCLUDED.auto_approve_enabled,
		    admin_bypass_auto_approve = EXCLUDED.admin_bypass_auto_approve,
		    system_prompt = EXCLUDED.system_prompt,
		    temperature = EXCLUDED.temperature,
		    max_completion_tokens = EXCLUDED.max_completion_tokens,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := q.QueryRowContext(ctx, query,
		cfg.GuildID,
		cfg.MaxPromptChars,
		cfg.DuplicateWindowSeconds,
		cfg.AskWindowSeconds,
		cfg.AskMaxPerWindow,
		cfg.ImageWindowSeconds,
		cfg.ImageMaxPerWindow,
		cfg.UserDailyChatTokenLimit,
		cfg.GlobalDailyChatTokenLimit,
		cfg.UserDailyImageLimit,
		cfg.GlobalDailyImageLimit,
		cfg.AutoApproveEnabled,
		cfg.AdminBypassAutoApprove,
		cfg.SystemPrompt,
		cfg.Temperature,
		cfg.MaxCompletionTokens,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert guild config: %w", err)
	}
	return nil
}

// UpdateGuildConfig applies a partial update and returns the stored result.
// The read and write share a row lock so concurrent edits do not drop fields.
func (db *DB) UpdateGuildConfig(ctx context.Context, guildID string, update *models.ConfigUpdate) (*models.GuildConfig, error) {
	// make sure the row exists before locking it
	if _, err := db.GetGuildConfig(ctx, guildID); err != nil {
		return nil, err
	}

	var merged *models.GuildConfig
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT` + guildConfigColumns + ` FROM guild_config WHERE guild_id = $1 FOR UPDATE`
		current, err := scanGuildConfig(tx.QueryRowContext(ctx, query, guildID))
		if err != nil {
			return fmt.Errorf("failed to lock guild config: %w", err)
		}

		merged = update.Merge(current)
		return upsertGuildConfig(ctx, tx, merged)
	})
	if err != nil {
		return nil, err
	}

	db.logger.Info("guild config updated", zap.String("guild_id", guildID))
	return merged, nil
}

// ListGuilds returns every guild that has a config row or a logged request.
func (db *DB) ListGuilds(ctx context.Context) ([]string, error) {
	query := `
		SELECT guild_id FROM guild_config
		UNION
		SELECT guild_id FROM message_log
		ORDER BY 1
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query guilds: %w", err)
	}
	defer rows.Close()

	guilds := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan guild: %w", err)
		}
		guilds = append(guilds, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating guilds: %w", err)
	}

	return guilds, nil
}
