// Package auth implements the admin login: Discord OAuth2 for identity,
// single-use CSRF states and signed session tokens.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/parsascontentcorner/grokgate/internal/config"
	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/ratelimit"
)

const (
	discordAPIEndpoint = "https://discord.com/api/v10"
	discordAuthURL     = "https://discord.com/oauth2/authorize"
	discordTokenURL    = "https://discord.com/api/oauth2/token" //nolint:gosec // Not a hardcoded credential, just an API endpoint URL
	discordTimeout     = 15 * time.Second
)

// DiscordUser represents a Discord user from the API
type DiscordUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
}

// Identity converts the API user into an admin identity.
func (u *DiscordUser) Identity() models.AdminIdentity {
	return models.AdminIdentity{
		DiscordUserID: u.ID,
		Username:      u.Username,
		Avatar:        u.Avatar,
	}
}

// DiscordClient handles Discord OAuth operations
type DiscordClient struct {
	config      *oauth2.Config
	logger      *zap.Logger
	baseURL     string // Discord API base URL (configurable for testing)
	httpClient  *http.Client
	rateLimiter *ratelimit.RateLimiter
}

// NewDiscordClient creates a new Discord OAuth client
func NewDiscordClient(cfg *config.Config, logger *zap.Logger) *DiscordClient {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.Discord.ClientID,
		ClientSecret: cfg.Discord.ClientSecret,
		RedirectURL:  cfg.Discord.RedirectURI,
		Scopes:       cfg.Discord.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   discordAuthURL,
			TokenURL:  discordTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	return &DiscordClient{
		config:     oauthConfig,
		logger:     logger,
		baseURL:    discordAPIEndpoint,
		httpClient: &http.Client{Timeout: discordTimeout},
	}
}

// GetAuthURL constructs the Discord OAuth authorization URL
func (dc *DiscordClient) GetAuthURL(state string) string {
	return dc.config.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for an access token
func (dc *DiscordClient) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, dc.httpClient)
	token, err := dc.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}

	dc.logger.Debug("successfully exchanged code for token",
		zap.String("token_type", token.TokenType),
		zap.Time("expiry", token.Expiry),
	)

	return token, nil
}

// GetUserInfo fetches user information from Discord API
func (dc *DiscordClient) GetUserInfo(ctx context.Context, accessToken string) (*DiscordUser, error) {
	resp, err := dc.makeAPIRequest(ctx, http.MethodGet, "/users/@me", accessToken)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			dc.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("discord API returned status %d: %s", resp.StatusCode, string(body))
	}

	var user DiscordUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("discord API returned a user without an id")
	}

	dc.logger.Debug("fetched user info from Discord",
		zap.String("discord_id", user.ID),
		zap.String("username", user.Username),
	)

	return &user, nil
}

// SetRateLimiter sets the rate limiter for the Discord client
func (dc *DiscordClient) SetRateLimiter(rl *ratelimit.RateLimiter) {
	dc.rateLimiter = rl
}

// SetBaseURL points the client at another API root (used for testing).
// The token endpoint moves with it.
func (dc *DiscordClient) SetBaseURL(url string) {
	dc.baseURL = url + "/v10"
	dc.config.Endpoint.TokenURL = url + "/oauth2/token"
}

// makeAPIRequest makes a rate-limited HTTP request to Discord API
func (dc *DiscordClient) makeAPIRequest(ctx context.Context, method, endpoint, accessToken string) (*http.Response, error) {
	if dc.rateLimiter != nil {
		if err := dc.rateLimiter.Wait(ctx, endpoint); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, dc.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := dc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if dc.rateLimiter != nil {
		dc.rateLimiter.UpdateFromHeaders(endpoint, resp.Header)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		defer func() { _ = resp.Body.Close() }()
		if dc.rateLimiter != nil {
			return nil, dc.rateLimiter.HandleRateLimitResponse(endpoint, resp.Header)
		}
		return nil, fmt.Errorf("rate limited by Discord API")
	}

	return resp, nil
}
