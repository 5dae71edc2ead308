package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

// CreateOAuthState creates a new OAuth state for CSRF protection
func (db *DB) CreateOAuthState(ctx context.Context, state *models.OAuthState) error {
	query := `
		INSERT INTO oauth_states (state, redirect_to, expires_at)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	err := db.QueryRowContext(ctx, query,
		state.State,
		state.RedirectTo,
		state.ExpiresAt,
	).Scan(&state.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create oauth state: %w", err)
	}

	return nil
}

// ValidateAndDeleteOAuthState validates and deletes an OAuth state (single-use)
func (db *DB) ValidateAndDeleteOAuthState(ctx context.Context, state string) (*models.OAuthState, error) {
	var oauthState *models.OAuthState

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			DELETE FROM oauth_states
			WHERE state = $1
			RETURNING state, redirect_to, created_at, expires_at
		`

		s := &models.OAuthState{}
		err := tx.QueryRowContext(ctx, query, state).Scan(&s.State, &s.RedirectTo, &s.CreatedAt, &s.ExpiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrStateNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to validate oauth state: %w", err)
		}
		oauthState = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	// consumed either way; an expired state cannot be retried
	if oauthState.ExpiresAt.Before(db.now()) {
		return nil, models.ErrStateExpired
	}

	return oauthState, nil
}

// CleanupExpiredStates deletes expired OAuth states
func (db *DB) CleanupExpiredStates(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at < $1`, db.now())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired oauth states: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	db.logger.Debug("cleaned up expired oauth states", zap.Int64("deleted", n))
	return n, nil
}

// StartCleanupJob starts a background job to periodically cleanup expired states
func (db *DB) StartCleanupJob(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := db.CleanupExpiredStates(ctx); err != nil {
					db.logger.Error("failed to cleanup expired oauth states", zap.Error(err))
				}
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()

	db.logger.Info("started cleanup job", zap.Duration("interval", interval))
}
