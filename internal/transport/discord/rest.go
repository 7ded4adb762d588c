package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"modlog/internal/commands"
	"modlog/internal/transport"

	"github.com/bwmarrin/discordgo"
)

// classify maps REST failures that mean the destination is gone for good to
// transport.ErrDestinationUnreachable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownChannel,
			discordgo.ErrCodeMissingAccess,
			discordgo.ErrCodeMissingPermissions:
			return fmt.Errorf("%w: %s", transport.ErrDestinationUnreachable, rest.Message.Message)
		}
	}
	if rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", transport.ErrDestinationUnreachable, err)
	}
	return err
}

func isNotFound(err error) bool {
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}

// AuditEntries fetches the latest entries of one kind.
func (a *Adapter) AuditEntries(ctx context.Context, guildID string, kind transport.AuditKind, limit int) ([]transport.AuditEntry, error) {
	log, err := a.s.GuildAuditLog(guildID, "", "", int(kind), limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("audit log %d: %w", kind, err)
	}
	return auditEntries(log), nil
}

// CanManageInvites reports whether the bot holds Manage Server in the guild,
// which listing invites requires.
func (a *Adapter) CanManageInvites(guildID string) bool {
	perms, ok := a.guildPermissions(guildID, a.BotID())
	return ok && perms&discordgo.PermissionManageServer != 0
}

func (a *Adapter) GuildInvites(ctx context.Context, guildID string) ([]transport.Invite, error) {
	list, err := a.s.GuildInvites(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	out := make([]transport.Invite, 0, len(list))
	for _, inv := range list {
		if inv != nil {
			out = append(out, invite(inv, ""))
		}
	}
	return out, nil
}

// guildPermissions computes guild-level permissions from cached roles.
func (a *Adapter) guildPermissions(guildID, userID string) (int64, bool) {
	if userID == "" {
		return 0, false
	}
	g, err := a.s.State.Guild(guildID)
	if err != nil {
		return 0, false
	}
	m, err := a.s.State.Member(guildID, userID)
	if err != nil {
		return 0, false
	}
	return memberPermissions(g, m), true
}

// memberPermissions ORs @everyone with the member's roles. Owners and
// administrators get everything.
func memberPermissions(g *discordgo.Guild, m *discordgo.Member) int64 {
	if m.User != nil && g.OwnerID == m.User.ID {
		return discordgo.PermissionAll
	}
	held := make(map[string]bool, len(m.Roles)+1)
	held[g.ID] = true // @everyone shares the guild id
	for _, r := range m.Roles {
		held[r] = true
	}
	var perms int64
	for _, r := range g.Roles {
		if r != nil && held[r.ID] {
			perms |= r.Permissions
		}
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return discordgo.PermissionAll
	}
	return perms
}

// SendRecord posts rec as an embed.
func (a *Adapter) SendRecord(ctx context.Context, channelID string, rec transport.Record) error {
	_, err := a.s.ChannelMessageSendEmbed(channelID, embed(rec), discordgo.WithContext(ctx))
	return classify(err)
}

// SendPlain posts text, used by the ops log sink.
func (a *Adapter) SendPlain(ctx context.Context, channelID, text string) error {
	_, err := a.s.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return classify(err)
}

// ---- commands.Platform ----

func (a *Adapter) Reply(ctx context.Context, channelID, text string) error {
	return a.SendPlain(ctx, channelID, text)
}

var permissionBits = map[commands.Permission]int64{
	commands.PermAdministrator: discordgo.PermissionAdministrator,
	commands.PermKickMembers:   discordgo.PermissionKickMembers,
	commands.PermBanMembers:    discordgo.PermissionBanMembers,
}

func (a *Adapter) HasPermission(guildID, channelID, userID string, p commands.Permission) bool {
	bit, ok := permissionBits[p]
	if !ok {
		return p == commands.PermNone
	}
	perms, err := a.s.State.UserChannelPermissions(userID, channelID)
	if err != nil {
		gp, ok := a.guildPermissions(guildID, userID)
		if !ok {
			return false
		}
		perms = gp
	}
	return perms&discordgo.PermissionAdministrator != 0 || perms&bit != 0
}

// ResolveChannel accepts a mention, an id or a name (with or without #) and
// only matches text channels of guildID.
func (a *Adapter) ResolveChannel(ctx context.Context, guildID, query string) (string, string, error) {
	query = strings.TrimSpace(query)
	if id, ok := commands.MentionID(query); ok {
		c, err := a.channelByID(ctx, id)
		if err != nil {
			return "", "", err
		}
		if c.GuildID != guildID || !isTextChannel(c) {
			return "", "", commands.ErrNotFound
		}
		return c.ID, c.Name, nil
	}

	name := strings.ToLower(strings.TrimPrefix(query, "#"))
	chans, err := a.guildChannels(ctx, guildID)
	if err != nil {
		return "", "", err
	}
	for _, c := range chans {
		if c != nil && isTextChannel(c) && strings.ToLower(c.Name) == name {
			return c.ID, c.Name, nil
		}
	}
	return "", "", commands.ErrNotFound
}

func isTextChannel(c *discordgo.Channel) bool {
	return c.Type == discordgo.ChannelTypeGuildText || c.Type == discordgo.ChannelTypeGuildNews
}

func (a *Adapter) channelByID(ctx context.Context, id string) (*discordgo.Channel, error) {
	if c, err := a.s.State.Channel(id); err == nil {
		return c, nil
	}
	c, err := a.s.Channel(id, discordgo.WithContext(ctx))
	if isNotFound(err) {
		return nil, commands.ErrNotFound
	}
	return c, err
}

func (a *Adapter) guildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	if g, err := a.s.State.Guild(guildID); err == nil && len(g.Channels) > 0 {
		return g.Channels, nil
	}
	return a.s.GuildChannels(guildID, discordgo.WithContext(ctx))
}

func (a *Adapter) ResolveUser(ctx context.Context, query string) (transport.Identity, error) {
	id, ok := commands.MentionID(query)
	if !ok {
		return transport.Identity{}, commands.ErrNotFound
	}
	u, err := a.s.User(id, discordgo.WithContext(ctx))
	if isNotFound(err) {
		return transport.Identity{}, commands.ErrNotFound
	}
	if err != nil {
		return transport.Identity{}, err
	}
	return identity(u), nil
}

func (a *Adapter) Kick(ctx context.Context, guildID, userID, reason string) error {
	return a.s.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

func (a *Adapter) Ban(ctx context.Context, guildID, userID, reason string) error {
	return a.s.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
}

func (a *Adapter) voiceUser(v *discordgo.VoiceState) transport.Identity {
	if v.Member != nil && v.Member.User != nil {
		return identity(v.Member.User)
	}
	return a.lookupUser(v.GuildID, v.UserID)
}

func (a *Adapter) lookupUser(guildID, userID string) transport.Identity {
	if m, err := a.s.State.Member(guildID, userID); err == nil && m.User != nil {
		return identity(m.User)
	}
	return transport.Identity{ID: userID}
}
