package discord

import (
	"sort"
	"strings"
	"time"

	"modlog/internal/modlog"
	"modlog/internal/transport"

	"github.com/bwmarrin/discordgo"
)

func identity(u *discordgo.User) transport.Identity {
	if u == nil {
		return transport.Identity{}
	}
	name := u.Username
	if u.GlobalName != "" {
		name = u.GlobalName
	}
	return transport.Identity{
		ID:        u.ID,
		Name:      name,
		AvatarURL: u.AvatarURL("64"),
		Bot:       u.Bot,
	}
}

func identityPtr(u *discordgo.User) *transport.Identity {
	if u == nil {
		return nil
	}
	id := identity(u)
	return &id
}

// createdAt is the account creation time encoded in a snowflake.
func createdAt(id string) time.Time {
	t, err := discordgo.SnowflakeTimestamp(id)
	if err != nil {
		return time.Time{}
	}
	return t
}

func member(m *discordgo.Member) modlog.Member {
	if m == nil {
		return modlog.Member{}
	}
	out := modlog.Member{
		User:     identity(m.User),
		Nick:     m.Nick,
		Roles:    append([]string(nil), m.Roles...),
		JoinedAt: m.JoinedAt,
	}
	if m.User != nil {
		out.CreatedAt = createdAt(m.User.ID)
	}
	if m.CommunicationDisabledUntil != nil {
		t := *m.CommunicationDisabledUntil
		out.TimeoutUntil = &t
	}
	return out
}

func message(m *discordgo.Message) modlog.Message {
	return modlog.Message{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		Author:      identity(m.Author),
		Content:     m.Content,
		Pinned:      m.Pinned,
		Attachments: len(m.Attachments),
	}
}

var channelTypes = map[discordgo.ChannelType]string{
	discordgo.ChannelTypeGuildText:          "text",
	discordgo.ChannelTypeGuildVoice:         "voice",
	discordgo.ChannelTypeGuildCategory:      "category",
	discordgo.ChannelTypeGuildNews:          "announcement",
	discordgo.ChannelTypeGuildStageVoice:    "stage",
	discordgo.ChannelTypeGuildForum:         "forum",
	discordgo.ChannelTypeGuildNewsThread:    "announcement thread",
	discordgo.ChannelTypeGuildPublicThread:  "public thread",
	discordgo.ChannelTypeGuildPrivateThread: "private thread",
}

func channelType(t discordgo.ChannelType) string {
	if s, ok := channelTypes[t]; ok {
		return s
	}
	return "unknown"
}

func channel(c *discordgo.Channel) modlog.Channel {
	out := modlog.Channel{
		ID:        c.ID,
		Name:      c.Name,
		Type:      channelType(c.Type),
		Topic:     c.Topic,
		NSFW:      c.NSFW,
		Slowmode:  c.RateLimitPerUser,
		Bitrate:   c.Bitrate,
		UserLimit: c.UserLimit,
		ParentID:  c.ParentID,
	}
	for _, o := range c.PermissionOverwrites {
		if o == nil {
			continue
		}
		out.Overwrites = append(out.Overwrites, modlog.Overwrite{
			ID:    o.ID,
			Role:  o.Type == discordgo.PermissionOverwriteTypeRole,
			Allow: o.Allow,
			Deny:  o.Deny,
		})
	}
	return out
}

func role(r *discordgo.Role) modlog.Role {
	return modlog.Role{
		ID:          r.ID,
		Name:        r.Name,
		Color:       r.Color,
		Hoist:       r.Hoist,
		Mentionable: r.Mentionable,
		Permissions: r.Permissions,
	}
}

func guild(g *discordgo.Guild) modlog.Guild {
	return modlog.Guild{
		ID:              g.ID,
		Name:            g.Name,
		Icon:            g.Icon,
		OwnerID:         g.OwnerID,
		Verification:    int(g.VerificationLevel),
		AFKChannelID:    g.AfkChannelID,
		AFKTimeout:      g.AfkTimeout,
		SystemChannelID: g.SystemChannelID,
		Banner:          g.Banner,
		Description:     g.Description,
	}
}

func emojis(in []*discordgo.Emoji) []modlog.Asset {
	out := make([]modlog.Asset, 0, len(in))
	for _, e := range in {
		if e != nil {
			out = append(out, modlog.Asset{ID: e.ID, Name: e.Name})
		}
	}
	return out
}

func stickers(in []*discordgo.Sticker) []modlog.Asset {
	out := make([]modlog.Asset, 0, len(in))
	for _, s := range in {
		if s != nil {
			out = append(out, modlog.Asset{ID: s.ID, Name: s.Name})
		}
	}
	return out
}

func voiceState(v *discordgo.VoiceState) modlog.VoiceState {
	return modlog.VoiceState{ChannelID: v.ChannelID, ServerMute: v.Mute, ServerDeaf: v.Deaf}
}

// presence flattens activities into one line, sorted so payload order does
// not produce a change.
func presence(p *discordgo.Presence) modlog.Presence {
	var acts []string
	for _, a := range p.Activities {
		if a == nil || a.Name == "" {
			continue
		}
		if a.Type == discordgo.ActivityTypeCustom && a.State != "" {
			acts = append(acts, a.State)
			continue
		}
		acts = append(acts, a.Name)
	}
	sort.Strings(acts)
	return modlog.Presence{Status: string(p.Status), Activity: strings.Join(acts, ", ")}
}

func invite(i *discordgo.Invite, channelID string) transport.Invite {
	out := transport.Invite{
		Code:      i.Code,
		Uses:      i.Uses,
		MaxUses:   i.MaxUses,
		ChannelID: channelID,
		Inviter:   identityPtr(i.Inviter),
	}
	if out.ChannelID == "" && i.Channel != nil {
		out.ChannelID = i.Channel.ID
	}
	return out
}

// auditEntries converts an audit log page, resolving actors from the users
// listed alongside the entries.
func auditEntries(log *discordgo.GuildAuditLog) []transport.AuditEntry {
	if log == nil {
		return nil
	}
	users := make(map[string]*discordgo.User, len(log.Users))
	for _, u := range log.Users {
		if u != nil {
			users[u.ID] = u
		}
	}
	out := make([]transport.AuditEntry, 0, len(log.AuditLogEntries))
	for _, e := range log.AuditLogEntries {
		if e == nil || e.ActionType == nil {
			continue
		}
		entry := transport.AuditEntry{
			ID:       e.ID,
			Kind:     transport.AuditKind(*e.ActionType),
			TargetID: e.TargetID,
			Reason:   e.Reason,
			At:       createdAt(e.ID),
		}
		if u, ok := users[e.UserID]; ok {
			entry.Actor = identityPtr(u)
		} else if e.UserID != "" {
			entry.Actor = &transport.Identity{ID: e.UserID}
		}
		if e.Options != nil {
			entry.ChannelID = e.Options.ChannelID
		}
		out = append(out, entry)
	}
	return out
}

// embed renders a record as a Discord embed.
func embed(rec transport.Record) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       rec.Title,
		Description: truncate(rec.Body, maxEmbedDescription),
		Color:       int(rec.Color),
	}
	if !rec.At.IsZero() {
		e.Timestamp = rec.At.UTC().Format(time.RFC3339)
	}
	if rec.Identity != nil {
		e.Author = &discordgo.MessageEmbedAuthor{Name: rec.Identity.Name, IconURL: rec.Identity.AvatarURL}
		e.Footer = &discordgo.MessageEmbedFooter{Text: "User ID: " + rec.Identity.ID}
	}
	return e
}

const maxEmbedDescription = 4096

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
