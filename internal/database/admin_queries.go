package database

import (
	"context"
	"fmt"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

// IsAdmin reports whether the user may use the guild's admin API.
func (db *DB) IsAdmin(ctx context.Context, userID, guildID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM admin_users WHERE discord_user_id = $1 AND guild_id = $2)`

	var isAdmin bool
	if err := db.QueryRowContext(ctx, query, userID, guildID).Scan(&isAdmin); err != nil {
		return false, fmt.Errorf("failed to check admin: %w", err)
	}
	return isAdmin, nil
}

// AddAdmin grants admin access, updating the role if the row exists.
func (db *DB) AddAdmin(ctx context.Context, admin *models.AdminUser) error {
	if admin.Role == "" {
		admin.Role = models.AdminRoleAdmin
	}

	query := `
		INSERT INTO admin_users (discord_user_id, guild_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (discord_user_id, guild_id) DO UPDATE
		SET role = EXCLUDED.role
		RETURNING created_at
	`

	err := db.QueryRowContext(ctx, query, admin.DiscordUserID, admin.GuildID, admin.Role).Scan(&admin.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add admin: %w", err)
	}
	return nil
}

// RemoveAdmin revokes admin access.
func (db *DB) RemoveAdmin(ctx context.Context, userID, guildID string) error {
	query := `DELETE FROM admin_users WHERE discord_user_id = $1 AND guild_id = $2`

	result, err := db.ExecContext(ctx, query, userID, guildID)
	if err != nil {
		return fmt.Errorf("failed to remove admin: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return models.ErrAdminNotFound
	}

	return nil
}

// ListAdmins returns the guild's admins ordered by creation.
func (db *DB) ListAdmins(ctx context.Context, guildID string) ([]*models.AdminUser, error) {
	query := `
		SELECT discord_user_id, guild_id, role, created_at
		FROM admin_users
		WHERE guild_id = $1
		ORDER BY created_at ASC, discord_user_id ASC
	`

	rows, err := db.QueryContext(ctx, query, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %w", err)
	}
	defer rows.Close()

	admins := []*models.AdminUser{}
	for rows.Next() {
		var a models.AdminUser
		if err := rows.Scan(&a.DiscordUserID, &a.GuildID, &a.Role, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		admins = append(admins, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admins: %w", err)
	}

	return admins, nil
}

// GuildsForAdmin lists the guilds in which the user holds an admin row.
func (db *DB) GuildsForAdmin(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT guild_id FROM admin_users WHERE discord_user_id = $1 ORDER BY guild_id`

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query admin guilds: %w", err)
	}
	defer rows.Close()

	guilds := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan admin guild: %w", err)
		}
		guilds = append(guilds, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admin guilds: %w", err)
	}
	return guilds, nil
}
