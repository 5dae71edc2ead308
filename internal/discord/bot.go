package discord

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/permissions"
	"github.com/parsascontentcorner/grokgate/internal/service"
)

const (
	dmRefusal          = "This only works in servers, not DMs."
	defaultPrefix      = "!"
	defaultHandleLimit = 2 * time.Minute
)

// Processor runs the request pipeline.
type Processor interface {
	ProcessChat(ctx context.Context, req service.Request) (*service.Result, error)
	ProcessImage(ctx context.Context, req service.Request) (*service.Result, error)
}

// AdminChecker reports grokgate-level admins.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID, guildID string) (bool, error)
}

// MemberPermissions resolves a member's Discord permissions.
type MemberPermissions interface {
	ForMember(ctx context.Context, guildID string, member *discordgo.Member, channelID string) permissions.Permissions
}

// Command is a parsed prefix command.
type Command struct {
	Kind models.CommandKind
	Args string
}

// ParseCommand recognizes "<prefix>ask ..." and "<prefix>image ...".
func ParseCommand(content, prefix string) (Command, bool) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	rest, ok := strings.CutPrefix(content, prefix)
	if !ok {
		return Command{}, false
	}

	name, args, _ := strings.Cut(rest, " ")
	if i := strings.IndexAny(name, "\n\t"); i >= 0 {
		args = name[i:] + " " + args
		name = name[:i]
	}

	switch name {
	case "ask":
		return Command{Kind: models.CommandAsk, Args: strings.TrimSpace(args)}, true
	case "image":
		return Command{Kind: models.CommandImage, Args: strings.TrimSpace(args)}, true
	}
	return Command{}, false
}

// Bot handles gateway messages.
type Bot struct {
	processor Processor
	admins    AdminChecker
	perms     MemberPermissions
	notifier  service.Notifier
	prefix    string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewBot creates a command bot.
func NewBot(processor Processor, admins AdminChecker, perms MemberPermissions, notifier service.Notifier, prefix string, logger *zap.Logger) *Bot {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Bot{
		processor: processor,
		admins:    admins,
		perms:     perms,
		notifier:  notifier,
		prefix:    prefix,
		timeout:   defaultHandleLimit,
		logger:    logger,
	}
}

// OnMessageCreate is the discordgo handler.
func (b *Bot) OnMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.HandleMessage(ctx, m.Message); err != nil {
		b.logger.Error("failed to handle command",
			zap.String("guild_id", m.GuildID),
			zap.String("channel_id", m.ChannelID),
			zap.String("message_id", m.ID),
			zap.Error(err),
		)
	}
}

// HandleMessage runs one message through the pipeline and replies. Non
// commands and bot authors are ignored.
func (b *Bot) HandleMessage(ctx context.Context, msg *discordgo.Message) error {
	if msg == nil || msg.Author == nil || msg.Author.Bot {
		return nil
	}
	cmd, ok := ParseCommand(msg.Content, b.prefix)
	if !ok {
		return nil
	}

	if msg.GuildID == "" {
		return b.notifier.SendMessage(ctx, msg.ChannelID, dmRefusal, "", "")
	}

	isAdmin := b.isAdmin(ctx, msg)
	req := service.Request{
		GuildID:          msg.GuildID,
		ChannelID:        msg.ChannelID,
		UserID:           msg.Author.ID,
		DiscordMessageID: msg.ID,
		Content:          cmd.Args,
		IsAdmin:          isAdmin,
	}

	var (
		res *service.Result
		err error
	)
	if cmd.Kind == models.CommandImage {
		res, err = b.processor.ProcessImage(ctx, req)
	} else {
		res, err = b.processor.ProcessChat(ctx, req)
	}
	if err != nil {
		return err
	}

	if res.Err != nil {
		b.logger.Warn("command answered with upstream failure",
			zap.Int64("record_id", res.RecordID),
			zap.Error(res.Err),
		)
	}

	b.logger.Info("handled command",
		zap.String("command", string(cmd.Kind)),
		zap.String("guild_id", msg.GuildID),
		zap.String("user_id", msg.Author.ID),
		zap.Bool("admin", isAdmin),
		zap.String("status", string(res.Status)),
	)

	return b.notifier.SendMessage(ctx, msg.ChannelID, res.Reply, "", res.ImageURL)
}

// isAdmin is a grokgate admin row or Discord Administrator/Manage Server.
// Lookup failures count as not admin.
func (b *Bot) isAdmin(ctx context.Context, msg *discordgo.Message) bool {
	dbAdmin, err := b.admins.IsAdmin(ctx, msg.Author.ID, msg.GuildID)
	if err != nil {
		b.logger.Warn("admin lookup failed",
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.Author.ID),
			zap.Error(err),
		)
	}
	if dbAdmin {
		return true
	}

	if msg.Member == nil || b.perms == nil {
		return false
	}
	member := *msg.Member
	if member.User == nil {
		member.User = msg.Author
	}
	return permissions.IsGuildManager(b.perms.ForMember(ctx, msg.GuildID, &member, ""))
}
