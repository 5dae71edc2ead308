package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

const messageColumns = `
	id, guild_id, channel_id, user_id, discord_message_id, command_type, user_content,
	status, needs_approval, error_code, error_detail, grok_request_payload,
	grok_response_content, grok_image_urls, manual_reply_content,
	prompt_tokens, completion_tokens, total_tokens, estimated_cost_usd,
	approved_by_admin_id, decision, created_at, updated_at`

func scanMessage(row rowScanner) (*models.RequestRecord, error) {
	var (
		rec     models.RequestRecord
		payload []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.GuildID,
		&rec.ChannelID,
		&rec.UserID,
		&rec.DiscordMessageID,
		&rec.CommandType,
		&rec.UserContent,
		&rec.Status,
		&rec.NeedsApproval,
		&rec.ErrorCode,
		&rec.ErrorDetail,
		&payload,
		&rec.ResponseContent,
		&rec.ImageURLs,
		&rec.ManualReplyContent,
		&rec.PromptTokens,
		&rec.CompletionTokens,
		&rec.TotalTokens,
		&rec.EstimatedCostUSD,
		&rec.ApprovedByAdminID,
		&rec.Decision,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		rec.RequestPayload = payload
	}
	return &rec, nil
}

// RecordMessage inserts a new request record and fills in its id and timestamps.
// created_at comes from the store clock, the same clock the window queries use.
func (db *DB) RecordMessage(ctx context.Context, rec *models.RequestRecord) (int64, error) {
	if !rec.Status.IsInitial() {
		return 0, fmt.Errorf("cannot record message with status %q", rec.Status)
	}

	query := `
		INSERT INTO message_log (
			guild_id, channel_id, user_id, discord_message_id, command_type, user_content,
			status, needs_approval, error_code, error_detail, grok_request_payload,
			grok_response_content, grok_image_urls, manual_reply_content,
			prompt_tokens, completion_tokens, total_tokens, estimated_cost_usd,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13, $14, $15, $16, $17, $18, $19, $19)
		RETURNING id, created_at, updated_at
	`

	payload := "{}"
	if len(rec.RequestPayload) > 0 {
		payload = string(rec.RequestPayload)
	}
	urls := rec.ImageURLs
	if urls == nil {
		urls = pq.StringArray{}
	}

	err := db.QueryRowContext(ctx, query,
		rec.GuildID,
		rec.ChannelID,
		rec.UserID,
		rec.DiscordMessageID,
		string(rec.CommandType),
		rec.UserContent,
		string(rec.Status),
		rec.NeedsApproval,
		rec.ErrorCode,
		rec.ErrorDetail,
		payload,
		rec.ResponseContent,
		urls,
		rec.ManualReplyContent,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
		rec.EstimatedCostUSD,
		db.now(),
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to record message: %w", err)
	}

	db.logger.Debug("recorded message",
		zap.Int64("id", rec.ID),
		zap.String("guild_id", rec.GuildID),
		zap.String("status", string(rec.Status)),
	)

	return rec.ID, nil
}

// GetMessage retrieves a request record by id.
func (db *DB) GetMessage(ctx context.Context, id int64) (*models.RequestRecord, error) {
	query := `SELECT` + messageColumns + ` FROM message_log WHERE id = $1`

	rec, err := scanMessage(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return rec, nil
}

// UpdateMessageStatus resolves a pending record. The write only applies while
// the row is still pending_approval, so two racing resolutions cannot both win.
func (db *DB) UpdateMessageStatus(ctx context.Context, id int64, update *models.StatusUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE message_log
		SET status = $2,
		    decision = COALESCE(NULLIF($3, ''), decision),
		    approved_by_admin_id = COALESCE(NULLIF($4, ''), approved_by_admin_id),
		    error_code = COALESCE(NULLIF($5, ''), error_code),
		    error_detail = COALESCE(NULLIF($6, ''), error_detail),
		    grok_response_content = COALESCE(NULLIF($7, ''), grok_response_content),
		    manual_reply_content = COALESCE(NULLIF($8, ''), manual_reply_content),
		    grok_image_urls = CASE WHEN COALESCE(cardinality($9::text[]), 0) > 0 THEN $9::text[] ELSE grok_image_urls END,
		    prompt_tokens = COALESCE($10, prompt_tokens),
		    completion_tokens = COALESCE($11, completion_tokens),
		    total_tokens = COALESCE($12, total_tokens),
		    estimated_cost_usd = COALESCE($13, estimated_cost_usd),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending_approval'
	`

	var prompt, completion, total sql.NullInt64
	if update.Usage != nil {
		prompt = sql.NullInt64{Int64: update.Usage.PromptTokens, Valid: true}
		completion = sql.NullInt64{Int64: update.Usage.CompletionTokens, Valid: true}
		total = sql.NullInt64{Int64: update.Usage.TotalTokens, Valid: true}
	}

	result, err := db.ExecContext(ctx, query,
		id,
		string(update.Status),
		string(update.Decision),
		update.ApprovedByAdminID,
		update.ErrorCode,
		update.ErrorDetail,
		update.ResponseContent,
		update.ManualReplyContent,
		pq.StringArray(update.ImageURLs),
		prompt,
		completion,
		total,
		update.EstimatedCostUSD,
	)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM message_log WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check message: %w", err)
		}
		if !exists {
			return models.ErrRecordNotFound
		}
		return models.ErrNotPending
	}

	return nil
}

// CountRecent counts the user's requests of one kind created within window.
func (db *DB) CountRecent(ctx context.Context, guildID, userID string, kind models.CommandKind, window time.Duration) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM message_log
		WHERE guild_id = $1 AND user_id = $2 AND command_type = $3 AND created_at >= $4
	`

	var count int
	cutoff := db.now().Add(-window)
	if err := db.QueryRowContext(ctx, query, guildID, userID, string(kind), cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent messages: %w", err)
	}
	return count, nil
}

// HasRecentDuplicate reports whether the user sent identical content within window.
func (db *DB) HasRecentDuplicate(ctx context.Context, guildID, userID, content string, window time.Duration) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM message_log
			WHERE guild_id = $1 AND user_id = $2 AND user_content = $3 AND created_at >= $4
		)
	`

	var exists bool
	cutoff := db.now().Add(-window)
	if err := db.QueryRowContext(ctx, query, guildID, userID, content, cutoff).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return exists, nil
}

// PendingMessages lists the guild's records awaiting approval, oldest first.
func (db *DB) PendingMessages(ctx context.Context, guildID string) ([]*models.RequestRecord, error) {
	query := `SELECT` + messageColumns + `
		FROM message_log
		WHERE guild_id = $1 AND status = 'pending_approval'
		ORDER BY created_at ASC, id ASC
	`
	return db.queryMessages(ctx, query, guildID)
}

// RecentMessages lists the guild's latest records, newest first.
func (db *DB) RecentMessages(ctx context.Context, guildID string, limit int) ([]*models.RequestRecord, error) {
	filter := models.HistoryFilter{Limit: limit}
	return db.History(ctx, guildID, filter)
}

// History lists the guild's records, newest first, optionally filtered.
func (db *DB) History(ctx context.Context, guildID string, filter models.HistoryFilter) ([]*models.RequestRecord, error) {
	filter.Normalize()

	var (
		conds = []string{"guild_id = $1"}
		args  = []interface{}{guildID}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CommandType != "" {
		args = append(args, string(filter.CommandType))
		conds = append(conds, fmt.Sprintf("command_type = $%d", len(args)))
	}
	args = append(args, filter.Limit)

	query := `SELECT` + messageColumns + `
		FROM message_log
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY created_at DESC, id DESC
		LIMIT ` + fmt.Sprintf("$%d", len(args))

	return db.queryMessages(ctx, query, args...)
}

func (db *DB) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.RequestRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	records := []*models.RequestRecord{}
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return records, nil
}
