package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

// StateStore persists single-use OAuth states.
type StateStore interface {
	CreateOAuthState(ctx context.Context, state *models.OAuthState) error
	ValidateAndDeleteOAuthState(ctx context.Context, state string) (*models.OAuthState, error)
}

// StateManager handles OAuth state generation and validation
type StateManager struct {
	store              StateStore
	stateExpiryMinutes int
	now                func() time.Time
}

// NewStateManager creates a new state manager
func NewStateManager(store StateStore, stateExpiryMinutes int) *StateManager {
	return &StateManager{
		store:              store,
		stateExpiryMinutes: stateExpiryMinutes,
		now:                time.Now,
	}
}

// GenerateState generates a cryptographically secure random state
func (sm *StateManager) GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random state: %w", err)
	}

	return base64.URLEncoding.EncodeToString(b), nil
}

// StoreState stores a state in the database with an expiry time
func (sm *StateManager) StoreState(ctx context.Context, state, redirectTo string) error {
	now := sm.now().UTC()
	oauthState := &models.OAuthState{
		State:      state,
		RedirectTo: SafeRedirect(redirectTo),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(sm.stateExpiryMinutes) * time.Minute),
	}

	if err := sm.store.CreateOAuthState(ctx, oauthState); err != nil {
		return fmt.Errorf("failed to store state: %w", err)
	}

	return nil
}

// ValidateState consumes a state and returns where the login should land.
func (sm *StateManager) ValidateState(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", fmt.Errorf("state validation failed: %w", models.ErrStateNotFound)
	}

	oauthState, err := sm.store.ValidateAndDeleteOAuthState(ctx, state)
	if err != nil {
		return "", fmt.Errorf("state validation failed: %w", err)
	}

	return oauthState.RedirectTo, nil
}

// SafeRedirect keeps post-login redirects on this host: only absolute paths
// are accepted, anything else becomes "/".
func SafeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return "/"
	}
	return target
}
