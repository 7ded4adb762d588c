package modlog

import (
	"context"
	"fmt"

	"modlog/internal/audit"
	"modlog/internal/transport"
	logx "modlog/pkg/logx"
)

// onVoiceState logs channel movement first, then server mute and deafen
// toggles, one record each.
func (n *Normalizer) onVoiceState(ctx context.Context, ev Event) []transport.Record {
	e := ev.(VoiceStateUpdate)
	var before VoiceState
	if e.Before != nil {
		before = *e.Before
	}
	after := e.After
	user := e.User
	member := field("Member", user.Mention())

	var out []transport.Record
	switch {
	case before.ChannelID == "" && after.ChannelID != "":
		rec := n.record("Joined Voice", transport.ColorBlue, &user, member, field("Channel", channelMention(after.ChannelID)))
		rec.Kind = "voice_join"
		out = append(out, rec)
	case before.ChannelID != "" && after.ChannelID == "":
		lines := []string{member, field("Channel", channelMention(before.ChannelID))}
		// Disconnect entries carry no target, only the kind.
		if at := n.resolver.Resolve(ctx, e.GuildID, audit.Query{Kinds: []transport.AuditKind{transport.AuditMemberDisconnect}}); at.Found() {
			lines = append(lines, field("Disconnected by", at.ActorLabel()))
		}
		rec := n.record("Left Voice", transport.ColorBlue, &user, lines...)
		rec.Kind = "voice_leave"
		out = append(out, rec)
	case before.ChannelID != after.ChannelID:
		at := n.resolver.Resolve(ctx, e.GuildID, audit.Query{
			Kinds:     []transport.AuditKind{transport.AuditMemberMove},
			ChannelID: after.ChannelID,
		})
		lines := []string{member, change("Channel", channelMention(before.ChannelID), channelMention(after.ChannelID))}
		if at.Found() {
			lines = append(lines, field("Moved by", at.ActorLabel()))
		}
		rec := n.record("Moved Voice Channel", transport.ColorBlue, &user, lines...)
		rec.Kind = "voice_move"
		out = append(out, rec)
	}

	if e.Before != nil && before.ServerMute != after.ServerMute {
		out = append(out, n.voiceToggle(ctx, e.GuildID, user, "Server Muted", "Server Unmuted", after.ServerMute))
	}
	if e.Before != nil && before.ServerDeaf != after.ServerDeaf {
		out = append(out, n.voiceToggle(ctx, e.GuildID, user, "Server Deafened", "Server Undeafened", after.ServerDeaf))
	}
	if len(out) == 0 {
		return n.skip(skipNoChange)
	}
	return out
}

func (n *Normalizer) voiceToggle(ctx context.Context, guildID string, user transport.Identity, on, off string, state bool) transport.Record {
	title := off
	if state {
		title = on
	}
	at := n.attribute(ctx, guildID, user.ID, transport.AuditMemberUpdate)
	rec := n.record(title, transport.ColorBlue, &user, field("Member", user.Mention()), field("By", at.ActorLabel()))
	rec.Kind = "voice_moderation"
	return rec
}

func (n *Normalizer) onPresence(_ context.Context, ev Event) []transport.Record {
	e := ev.(PresenceUpdate)
	if e.User.Bot {
		return n.skip(skipBot)
	}
	if e.Before == nil {
		return n.skip(skipPartial)
	}
	b, a := *e.Before, e.After
	var changes []string
	if b.Status != a.Status {
		changes = append(changes, change("Status", b.Status, a.Status))
	}
	if b.Activity != a.Activity {
		changes = append(changes, change("Activity", b.Activity, a.Activity))
	}
	if len(changes) == 0 {
		return n.skip(skipNoChange)
	}
	lines := append([]string{field("Member", e.User.Mention())}, changes...)
	return []transport.Record{n.record("Presence Updated", transport.ColorBlue, &e.User, lines...)}
}

type assetKinds struct {
	noun                   string
	create, update, delete transport.AuditKind
}

var (
	emojiKinds   = assetKinds{noun: "Emoji", create: transport.AuditEmojiCreate, update: transport.AuditEmojiUpdate, delete: transport.AuditEmojiDelete}
	stickerKinds = assetKinds{noun: "Sticker", create: transport.AuditStickerCreate, update: transport.AuditStickerUpdate, delete: transport.AuditStickerDelete}
)

func (n *Normalizer) onEmojisUpdate(ctx context.Context, ev Event) []transport.Record {
	e := ev.(EmojisUpdate)
	if !e.Known {
		return n.skip(skipPartial)
	}
	return n.assetChanges(ctx, e.GuildID, e.Before, e.After, emojiKinds)
}

func (n *Normalizer) onStickersUpdate(ctx context.Context, ev Event) []transport.Record {
	e := ev.(StickersUpdate)
	if !e.Known {
		return n.skip(skipPartial)
	}
	return n.assetChanges(ctx, e.GuildID, e.Before, e.After, stickerKinds)
}

// assetChanges emits one record per created, deleted or renamed asset, in
// that order, each following the payload order.
func (n *Normalizer) assetChanges(ctx context.Context, guildID string, before, after []Asset, k assetKinds) []transport.Record {
	prev := make(map[string]Asset, len(before))
	for _, a := range before {
		prev[a.ID] = a
	}
	next := make(map[string]Asset, len(after))
	for _, a := range after {
		next[a.ID] = a
	}

	var out []transport.Record
	for _, a := range after {
		if _, ok := prev[a.ID]; ok {
			continue
		}
		at := n.attribute(ctx, guildID, a.ID, k.create)
		out = append(out, n.record(k.noun+" Created", transport.ColorGreen, nil,
			field("Name", a.Name), field("ID", a.ID), field("Created by", at.ActorLabel())))
	}
	for _, a := range before {
		if _, ok := next[a.ID]; ok {
			continue
		}
		at := n.attribute(ctx, guildID, a.ID, k.delete)
		out = append(out, n.record(k.noun+" Deleted", transport.ColorRed, nil,
			field("Name", a.Name), field("ID", a.ID), field("Deleted by", at.ActorLabel())))
	}
	for _, a := range after {
		p, ok := prev[a.ID]
		if !ok || p.Name == a.Name {
			continue
		}
		at := n.attribute(ctx, guildID, a.ID, k.update)
		out = append(out, n.record(k.noun+" Renamed", transport.ColorOrange, nil,
			change("Name", p.Name, a.Name), field("ID", a.ID), field("Renamed by", at.ActorLabel())))
	}
	if len(out) == 0 {
		return n.skip(skipNoChange)
	}
	return out
}

func (n *Normalizer) onInviteCreate(ctx context.Context, ev Event) []transport.Record {
	e := ev.(InviteCreate)
	n.refreshInvites(ctx, e.GuildID)
	inv := e.Invite
	var inviter string
	if inv.Inviter != nil {
		inviter = inv.Inviter.Mention()
	} else {
		inviter = n.attribute(ctx, e.GuildID, "", transport.AuditInviteCreate).ActorLabel()
	}
	uses := "unlimited"
	if inv.MaxUses > 0 {
		uses = fmt.Sprintf("%d", inv.MaxUses)
	}
	return []transport.Record{n.record("Invite Created", transport.ColorGreen, inv.Inviter,
		field("Code", "`"+inv.Code+"`"),
		field("Channel", channelMention(inv.ChannelID)),
		field("Created by", inviter),
		field("Max uses", uses),
	)}
}

func (n *Normalizer) onInviteDelete(ctx context.Context, ev Event) []transport.Record {
	e := ev.(InviteDelete)
	n.refreshInvites(ctx, e.GuildID)
	at := n.attribute(ctx, e.GuildID, "", transport.AuditInviteDelete)
	return []transport.Record{n.record("Invite Deleted", transport.ColorRed, nil,
		field("Code", "`"+e.Code+"`"),
		field("Channel", channelMention(e.ChannelID)),
		field("Deleted by", at.ActorLabel()),
	)}
}

func (n *Normalizer) refreshInvites(ctx context.Context, guildID string) {
	if n.invites == nil {
		return
	}
	if err := n.invites.Refresh(ctx, guildID); err != nil {
		n.log.Warn("invite refresh failed", logx.String("guild", guildID), logx.Err(err))
	}
}
