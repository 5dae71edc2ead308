// Package discord connects grokgate to Discord through discordgo: the REST
// calls the permission resolver and reply delivery need, and the gateway bot
// that turns !ask and !image messages into pipeline requests.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// ErrNoToken is returned when the client was built without a bot token.
var ErrNoToken = errors.New("discord bot token is not configured")

// Client is a bot-token Discord session.
type Client struct {
	session *discordgo.Session
	logger  *zap.Logger

	mu    sync.RWMutex
	botID string
}

// NewClient creates a session for the bot token. The gateway is not opened
// until Open is called; REST calls work immediately.
func NewClient(token string, logger *zap.Logger) (*Client, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Client{session: s, logger: logger}, nil
}

// Session returns the underlying discordgo session
func (c *Client) Session() *discordgo.Session {
	return c.session
}

// AddHandler registers a gateway event handler.
func (c *Client) AddHandler(handler interface{}) func() {
	return c.session.AddHandler(handler)
}

// Open connects to the gateway.
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	if c.session.State != nil && c.session.State.User != nil {
		c.mu.Lock()
		c.botID = c.session.State.User.ID
		c.mu.Unlock()
		c.logger.Info("discord gateway connected", zap.String("bot_id", c.session.State.User.ID))
	}
	return nil
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	return c.session.Close()
}

// BotUserID returns the bot's own user id, asking Discord once if the
// gateway has not reported it.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	c.mu.RLock()
	id := c.botID
	c.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	u, err := c.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to get bot user: %w", err)
	}

	c.mu.Lock()
	c.botID = u.ID
	c.mu.Unlock()
	return u.ID, nil
}

// GuildRoles lists the guild's roles.
func (c *Client) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	roles, err := c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get guild roles: %w", err)
	}
	return roles, nil
}

// BotMember returns the bot's membership in the guild.
func (c *Client) BotMember(ctx context.Context, guildID string) (*discordgo.Member, error) {
	botID, err := c.BotUserID(ctx)
	if err != nil {
		return nil, err
	}

	member, err := c.session.GuildMember(guildID, botID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get bot member: %w", err)
	}
	return member, nil
}

// Channel fetches a channel with its permission overwrites.
func (c *Client) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	ch, err := c.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return ch, nil
}

// SendMessage posts content to a channel, prefixed with a mention when
// mentionUserID is set and with an image embed when embedURL is set.
func (c *Client) SendMessage(ctx context.Context, channelID, content, mentionUserID, embedURL string) error {
	msg := BuildMessage(content, mentionUserID, embedURL)

	if _, err := c.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send Discord message: %w", err)
	}

	c.logger.Debug("sent discord message",
		zap.String("channel_id", channelID),
		zap.Bool("embed", embedURL != ""),
	)
	return nil
}
