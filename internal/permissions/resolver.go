package permissions

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Platform fetches the guild data permission resolution depends on.
type Platform interface {
	GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	BotMember(ctx context.Context, guildID string) (*discordgo.Member, error)
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
}

// Resolver computes effective permissions from role grants and channel
// overwrites. Any fetch failure yields the empty set.
type Resolver struct {
	platform Platform
	logger   *zap.Logger
}

// NewResolver creates a resolver over platform.
func NewResolver(platform Platform, logger *zap.Logger) *Resolver {
	return &Resolver{platform: platform, logger: logger}
}

// CalculatePermissions resolves the bot's permissions in the guild, narrowed
// to channelID when it is not empty.
func (r *Resolver) CalculatePermissions(ctx context.Context, guildID, channelID string) Permissions {
	member, err := r.platform.BotMember(ctx, guildID)
	if err != nil || member == nil {
		r.logger.Warn("bot member unavailable, denying all permissions",
			zap.String("guild_id", guildID),
			zap.Error(err),
		)
		return Permissions{}
	}
	return r.ForMember(ctx, guildID, member, channelID)
}

// ForMember resolves member's permissions the same way.
func (r *Resolver) ForMember(ctx context.Context, guildID string, member *discordgo.Member, channelID string) Permissions {
	roles, err := r.platform.GuildRoles(ctx, guildID)
	if err != nil {
		r.logger.Warn("guild roles unavailable, denying all permissions",
			zap.String("guild_id", guildID),
			zap.Error(err),
		)
		return Permissions{}
	}

	var channel *discordgo.Channel
	if channelID != "" {
		channel, err = r.platform.Channel(ctx, channelID)
		if err != nil || channel == nil {
			r.logger.Warn("channel unavailable, denying all permissions",
				zap.String("guild_id", guildID),
				zap.String("channel_id", channelID),
				zap.Error(err),
			)
			return Permissions{}
		}
	}

	return Compute(guildID, roles, member, channel)
}

// FunFeaturesEnabled reports whether the bot may time out members and change
// nicknames in the guild.
func (r *Resolver) FunFeaturesEnabled(ctx context.Context, guildID string) bool {
	return FunFeatures(r.CalculatePermissions(ctx, guildID, ""))
}

// Compute applies the permission algorithm to already fetched data. A nil
// channel returns the guild-level permissions.
//
// Base permissions are the @everyone role (whose id is the guild id) OR-ed
// with every role the member holds. Administrator short-circuits to
// Unrestricted. Otherwise channel overwrites are applied as three layers,
// each clearing deny bits and then setting allow bits: @everyone, the union
// of the member's role overwrites, and the member's own overwrite.
func Compute(guildID string, roles []*discordgo.Role, member *discordgo.Member, channel *discordgo.Channel) Permissions {
	if member == nil {
		return Permissions{}
	}

	held := make(map[string]struct{}, len(member.Roles))
	for _, id := range member.Roles {
		held[id] = struct{}{}
	}

	var base uint64
	for _, role := range roles {
		if role == nil {
			continue
		}
		if _, ok := held[role.ID]; ok || role.ID == guildID {
			base |= uint64(role.Permissions)
		}
	}

	if base&Administrator != 0 {
		return Unrestricted()
	}
	if channel == nil {
		return Bitmask(base)
	}

	memberID := ""
	if member.User != nil {
		memberID = member.User.ID
	}

	var (
		everyone            *discordgo.PermissionOverwrite
		self                *discordgo.PermissionOverwrite
		roleAllow, roleDeny uint64
	)
	for _, ow := range channel.PermissionOverwrites {
		if ow == nil {
			continue
		}
		switch ow.Type {
		case discordgo.PermissionOverwriteTypeRole:
			if ow.ID == guildID {
				everyone = ow
			} else if _, ok := held[ow.ID]; ok {
				roleAllow |= uint64(ow.Allow)
				roleDeny |= uint64(ow.Deny)
			}
		case discordgo.PermissionOverwriteTypeMember:
			if memberID != "" && ow.ID == memberID {
				self = ow
			}
		}
	}

	perm := base
	if everyone != nil {
		perm = applyOverwrite(perm, uint64(everyone.Allow), uint64(everyone.Deny))
	}
	perm = applyOverwrite(perm, roleAllow, roleDeny)
	if self != nil {
		perm = applyOverwrite(perm, uint64(self.Allow), uint64(self.Deny))
	}

	return Bitmask(perm)
}

func applyOverwrite(perm, allow, deny uint64) uint64 {
	return (perm &^ deny) | allow
}
