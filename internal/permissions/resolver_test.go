package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	guildID   = "100"
	botID     = "900"
	channelID = "555"

	sendMessages uint64 = 1 << 11
	viewChannel  uint64 = 1 << 10
)

type fakePlatform struct {
	roles      []*discordgo.Role
	member     *discordgo.Member
	channel    *discordgo.Channel
	rolesErr   error
	memberErr  error
	channelErr error
}

func (f *fakePlatform) GuildRoles(context.Context, string) ([]*discordgo.Role, error) {
	return f.roles, f.rolesErr
}

func (f *fakePlatform) BotMember(context.Context, string) (*discordgo.Member, error) {
	return f.member, f.memberErr
}

func (f *fakePlatform) Channel(context.Context, string) (*discordgo.Channel, error) {
	return f.channel, f.channelErr
}

func role(id string, perms uint64) *discordgo.Role {
	return &discordgo.Role{ID: id, Permissions: int64(perms)}
}

func botWithRoles(roles ...string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: botID}, Roles: roles}
}

func roleOverwrite(id string, allow, deny uint64) *discordgo.PermissionOverwrite {
	return &discordgo.PermissionOverwrite{ID: id, Type: discordgo.PermissionOverwriteTypeRole, Allow: int64(allow), Deny: int64(deny)}
}

func memberOverwrite(id string, allow, deny uint64) *discordgo.PermissionOverwrite {
	return &discordgo.PermissionOverwrite{ID: id, Type: discordgo.PermissionOverwriteTypeMember, Allow: int64(allow), Deny: int64(deny)}
}

func newTestResolver(p Platform) *Resolver {
	return NewResolver(p, zap.NewNop())
}

func TestCalculatePermissions_BaseIsEveryoneOrMemberRoles(t *testing.T) {
	p := &fakePlatform{
		roles: []*discordgo.Role{
			role(guildID, viewChannel),
			role("r1", sendMessages),
			role("r2", ManageNicknames),
			role("r3", ModerateMembers),
		},
		member: botWithRoles("r1", "r2"),
	}

	perms := newTestResolver(p).CalculatePermissions(context.Background(), guildID, "")

	assert.False(t, perms.IsUnrestricted())
	assert.Equal(t, viewChannel|sendMessages|ManageNicknames, perms.Bits())
	assert.False(t, perms.Has(ModerateMembers), "role not held")
}

func TestCalculatePermissions_AdministratorIgnoresOverwrites(t *testing.T) {
	all := ^uint64(0)
	p := &fakePlatform{
		roles:  []*discordgo.Role{role(guildID, 0), role("admin", Administrator)},
		member: botWithRoles("admin"),
		channel: &discordgo.Channel{PermissionOverwrites: []*discordgo.PermissionOverwrite{
			roleOverwrite(guildID, 0, all),
			roleOverwrite("admin", 0, all),
			memberOverwrite(botID, 0, all),
		}},
	}
	r := newTestResolver(p)

	perms := r.CalculatePermissions(context.Background(), guildID, channelID)
	assert.True(t, perms.IsUnrestricted())
	assert.True(t, perms.Has(ModerateMembers|ManageNicknames))
	assert.True(t, r.FunFeaturesEnabled(context.Background(), guildID))
}

func TestCalculatePermissions_EveryoneAdministrator(t *testing.T) {
	p := &fakePlatform{
		roles:  []*discordgo.Role{role(guildID, Administrator)},
		member: botWithRoles(),
	}

	perms := newTestResolver(p).CalculatePermissions(context.Background(), guildID, "")
	assert.True(t, perms.IsUnrestricted())
}

func TestCalculatePermissions_OverwriteLayering(t *testing.T) {
	base := &fakePlatform{
		roles:  []*discordgo.Role{role(guildID, sendMessages|viewChannel), role("r1", 0)},
		member: botWithRoles("r1"),
	}

	t.Run("everyone deny then role allow grants", func(t *testing.T) {
		p := *base
		p.channel = &discordgo.Channel{PermissionOverwrites: []*discordgo.PermissionOverwrite{
			roleOverwrite(guildID, 0, sendMessages),
			roleOverwrite("r1", sendMessages, 0),
		}}
		perms := newTestResolver(&p).CalculatePermissions(context.Background(), guildID, channelID)
		assert.True(t, perms.Has(sendMessages))
	})

	t.Run("member deny wins last", func(t *testing.T) {
		p := *base
		p.channel = &discordgo.Channel{PermissionOverwrites: []*discordgo.PermissionOverwrite{
			memberOverwrite(botID, 0, sendMessages),
			roleOverwrite(guildID, 0, sendMessages),
			roleOverwrite("r1", sendMessages, 0),
		}}
		perms := newTestResolver(&p).CalculatePermissions(context.Background(), guildID, channelID)
		assert.False(t, perms.Has(sendMessages))
		assert.True(t, perms.Has(viewChannel))
	})

	t.Run("everyone deny alone removes", func(t *testing.T) {
		p := *base
		p.channel = &discordgo.Channel{PermissionOverwrites: []*discordgo.PermissionOverwrite{
			roleOverwrite(guildID, 0, viewChannel),
		}}
		perms := newTestResolver(&p).CalculatePermissions(context.Background(), guildID, channelID)
		assert.Equal(t, sendMessages, perms.Bits())
	})

	t.Run("overwrites for other roles and members are ignored", func(t *testing.T) {
		p := *base
		p.channel = &discordgo.Channel{PermissionOverwrites: []*discordgo.PermissionOverwrite{
			roleOverwrite("r9", 0, sendMessages),
			memberOverwrite("someone-else", 0, viewChannel),
		}}
		perms := newTestResolver(&p).CalculatePermissions(context.Background(), guildID, channelID)
		assert.Equal(t, sendMessages|viewChannel, perms.Bits())
	})
}

func TestCompute_RoleOverwritesAreOneLayer(t *testing.T) {
	// deny from one held role does not override allow from another
	roles := []*discordgo.Role{role(guildID, 0), role("r1", 0), role("r2", 0)}
	channel := &discordgo.Channel{PermissionOverwrites: []*discordgo.PermissionOverwrite{
		roleOverwrite("r1", ManageNicknames, 0),
		roleOverwrite("r2", 0, ManageNicknames),
	}}

	perms := Compute(guildID, roles, botWithRoles("r1", "r2"), channel)
	assert.True(t, perms.Has(ManageNicknames))
}

func TestCalculatePermissions_FailsClosed(t *testing.T) {
	ok := fakePlatform{
		roles:   []*discordgo.Role{role(guildID, ModerateMembers|ManageNicknames)},
		member:  botWithRoles(),
		channel: &discordgo.Channel{},
	}

	tests := []struct {
		name    string
		mutate  func(p *fakePlatform)
		channel string
	}{
		{"roles error", func(p *fakePlatform) { p.rolesErr = errors.New("403") }, ""},
		{"member error", func(p *fakePlatform) { p.memberErr = errors.New("404") }, ""},
		{"member missing", func(p *fakePlatform) { p.member = nil }, ""},
		{"channel error", func(p *fakePlatform) { p.channelErr = errors.New("unknown channel") }, channelID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ok
			tt.mutate(&p)
			r := newTestResolver(&p)

			perms := r.CalculatePermissions(context.Background(), guildID, tt.channel)
			assert.False(t, perms.IsUnrestricted())
			assert.Zero(t, perms.Bits())
			if tt.channel == "" {
				assert.False(t, r.FunFeaturesEnabled(context.Background(), guildID))
			}
		})
	}
}

func TestFunFeatures(t *testing.T) {
	tests := []struct {
		name  string
		perms Permissions
		want  bool
	}{
		{"unrestricted", Unrestricted(), true},
		{"administrator bit", Bitmask(Administrator), true},
		{"both bits", Bitmask(ModerateMembers | ManageNicknames | sendMessages), true},
		{"timeout only", Bitmask(ModerateMembers), false},
		{"nickname only", Bitmask(ManageNicknames), false},
		{"empty", Permissions{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FunFeatures(tt.perms))
		})
	}
}

func TestIsGuildManager(t *testing.T) {
	assert.True(t, IsGuildManager(Bitmask(ManageGuild)))
	assert.True(t, IsGuildManager(Unrestricted()))
	assert.False(t, IsGuildManager(Bitmask(ManageNicknames)))
}

func TestForMember(t *testing.T) {
	p := &fakePlatform{roles: []*discordgo.Role{role(guildID, 0), role("mods", ManageGuild)}}
	author := &discordgo.Member{User: &discordgo.User{ID: "42"}, Roles: []string{"mods"}}

	perms := newTestResolver(p).ForMember(context.Background(), guildID, author, "")
	assert.True(t, IsGuildManager(perms))
}

func TestPermissions_JSON(t *testing.T) {
	b, err := json.Marshal(Bitmask(ModerateMembers))
	require.NoError(t, err)
	assert.JSONEq(t, `{"unrestricted":false,"bitmask":"1099511627776"}`, string(b))

	b, err = json.Marshal(Unrestricted())
	require.NoError(t, err)
	assert.JSONEq(t, `{"unrestricted":true}`, string(b))

	assert.Equal(t, "unrestricted", Unrestricted().String())
	assert.Equal(t, "8", Bitmask(Administrator).String())
}
