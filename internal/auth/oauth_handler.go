package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

// ErrLoginFailed wraps every callback failure; the cause is logged, not returned
// to the browser.
var ErrLoginFailed = errors.New("authentication failed")

// LoginResult is a completed admin login.
type LoginResult struct {
	Token      string               `json:"token"`
	ExpiresAt  time.Time            `json:"expires_at"`
	Identity   models.AdminIdentity `json:"identity"`
	RedirectTo string               `json:"redirect_to"`
}

// OAuthHandler orchestrates the OAuth flow
type OAuthHandler struct {
	discordClient *DiscordClient
	stateManager  *StateManager
	sessions      *SessionManager
	logger        *zap.Logger
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(discordClient *DiscordClient, stateManager *StateManager, sessions *SessionManager, logger *zap.Logger) *OAuthHandler {
	return &OAuthHandler{
		discordClient: discordClient,
		stateManager:  stateManager,
		sessions:      sessions,
		logger:        logger,
	}
}

// Sessions exposes the session manager used to verify issued tokens.
func (oh *OAuthHandler) Sessions() *SessionManager {
	return oh.sessions
}

// BeginLogin stores a fresh state and returns the Discord authorization URL.
func (oh *OAuthHandler) BeginLogin(ctx context.Context, redirectTo string) (string, error) {
	state, err := oh.stateManager.GenerateState()
	if err != nil {
		return "", err
	}
	if err := oh.stateManager.StoreState(ctx, state, redirectTo); err != nil {
		oh.logger.Error("failed to store OAuth state", zap.Error(err))
		return "", err
	}

	oh.logger.Debug("OAuth login started", zap.String("redirect_to", SafeRedirect(redirectTo)))
	return oh.discordClient.GetAuthURL(state), nil
}

// HandleCallback processes the OAuth callback
func (oh *OAuthHandler) HandleCallback(ctx context.Context, code, state string) (*LoginResult, error) {
	// 1. Validate state
	oh.logger.Debug("validating OAuth state")
	redirectTo, err := oh.stateManager.ValidateState(ctx, state)
	if err != nil {
		oh.logger.Warn("state validation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: invalid state", ErrLoginFailed)
	}

	// 2. Exchange code for token
	token, err := oh.discordClient.ExchangeCode(ctx, code)
	if err != nil {
		oh.logger.Error("failed to exchange code", zap.Error(err))
		return nil, fmt.Errorf("%w: failed to exchange authorization code", ErrLoginFailed)
	}

	// 3. Fetch user info from Discord
	discordUser, err := oh.discordClient.GetUserInfo(ctx, token.AccessToken)
	if err != nil {
		oh.logger.Error("failed to fetch user info", zap.Error(err))
		return nil, fmt.Errorf("%w: failed to fetch user information", ErrLoginFailed)
	}

	// 4. Issue the admin session
	identity := discordUser.Identity()
	signed, expiresAt, err := oh.sessions.Issue(identity)
	if err != nil {
		oh.logger.Error("failed to issue session", zap.String("discord_id", identity.DiscordUserID), zap.Error(err))
		return nil, fmt.Errorf("%w: failed to issue session", ErrLoginFailed)
	}

	oh.logger.Info("admin login completed",
		zap.String("discord_id", identity.DiscordUserID),
		zap.String("username", identity.Username),
	)

	return &LoginResult{
		Token:      signed,
		ExpiresAt:  expiresAt,
		Identity:   identity,
		RedirectTo: redirectTo,
	}, nil
}
