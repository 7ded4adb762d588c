package modlog

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"modlog/internal/transport"
)

func (n *Normalizer) onChannelCreate(ctx context.Context, ev Event) []transport.Record {
	e := ev.(ChannelCreate)
	at := n.attribute(ctx, e.GuildID, e.Channel.ID, transport.AuditChannelCreate)
	return []transport.Record{n.record("Channel Created", transport.ColorGreen, nil,
		field("Channel", channelMention(e.Channel.ID)+" ("+e.Channel.Name+")"),
		field("Type", e.Channel.Type),
		categoryLine(e.Channel.ParentID),
		field("Created by", at.ActorLabel()),
	)}
}

func (n *Normalizer) onChannelDelete(ctx context.Context, ev Event) []transport.Record {
	e := ev.(ChannelDelete)
	at := n.attribute(ctx, e.GuildID, e.Channel.ID, transport.AuditChannelDelete)
	return []transport.Record{n.record("Channel Deleted", transport.ColorRed, nil,
		field("Channel", "#"+e.Channel.Name+" ("+e.Channel.ID+")"),
		field("Type", e.Channel.Type),
		categoryLine(e.Channel.ParentID),
		field("Deleted by", at.ActorLabel()),
	)}
}

func categoryLine(parentID string) string {
	if parentID == "" {
		return ""
	}
	return field("Category", channelMention(parentID))
}

func (n *Normalizer) onChannelUpdate(ctx context.Context, ev Event) []transport.Record {
	e := ev.(ChannelUpdate)
	if e.Before == nil {
		return n.skip(skipPartial)
	}
	changes := channelChanges(*e.Before, e.After)
	if len(changes) == 0 {
		return n.skip(skipNoChange)
	}
	at := n.attribute(ctx, e.GuildID, e.After.ID,
		transport.AuditChannelUpdate,
		transport.AuditOverwriteCreate,
		transport.AuditOverwriteUpdate,
		transport.AuditOverwriteDelete,
	)
	lines := append([]string{field("Channel", channelMention(e.After.ID))}, changes...)
	lines = append(lines, field("Updated by", at.ActorLabel()))
	return []transport.Record{n.record("Channel Updated", transport.ColorOrange, nil, lines...)}
}

// channelChanges lists changed fields in a fixed order.
func channelChanges(b, a Channel) []string {
	var out []string
	if b.Name != a.Name {
		out = append(out, change("Name", b.Name, a.Name))
	}
	if b.Topic != a.Topic {
		out = append(out, change("Topic", b.Topic, a.Topic))
	}
	if b.NSFW != a.NSFW {
		out = append(out, change("NSFW", yesNo(b.NSFW), yesNo(a.NSFW)))
	}
	if b.Slowmode != a.Slowmode {
		out = append(out, change("Slowmode", seconds(b.Slowmode), seconds(a.Slowmode)))
	}
	if b.Bitrate != a.Bitrate {
		out = append(out, change("Bitrate", kbps(b.Bitrate), kbps(a.Bitrate)))
	}
	if b.UserLimit != a.UserLimit {
		out = append(out, change("User limit", limit(b.UserLimit), limit(a.UserLimit)))
	}
	if b.ParentID != a.ParentID {
		out = append(out, change("Category", channelMention(b.ParentID), channelMention(a.ParentID)))
	}
	out = append(out, overwriteChanges(b.Overwrites, a.Overwrites)...)
	return out
}

func seconds(s int) string {
	if s == 0 {
		return "off"
	}
	return strconv.Itoa(s) + "s"
}

func kbps(b int) string { return strconv.Itoa(b/1000) + "kbps" }

func limit(l int) string {
	if l == 0 {
		return "unlimited"
	}
	return strconv.Itoa(l)
}

func overwriteTarget(o Overwrite) string {
	if o.Role {
		return roleMention(o.ID)
	}
	return userMention(o.ID)
}

// overwriteChanges reports added, removed and edited permission overwrites,
// sorted by target id so the output does not depend on payload order.
func overwriteChanges(before, after []Overwrite) []string {
	bm := make(map[string]Overwrite, len(before))
	for _, o := range before {
		bm[o.ID] = o
	}
	am := make(map[string]Overwrite, len(after))
	for _, o := range after {
		am[o.ID] = o
	}
	ids := make([]string, 0, len(bm)+len(am))
	for id := range bm {
		ids = append(ids, id)
	}
	for id := range am {
		if _, ok := bm[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []string
	for _, id := range ids {
		b, hadB := bm[id]
		a, hasA := am[id]
		switch {
		case !hadB && hasA:
			out = append(out, field("Overwrite added", fmt.Sprintf("%s allow %s deny %s", overwriteTarget(a), hexPerms(a.Allow), hexPerms(a.Deny))))
		case hadB && !hasA:
			out = append(out, field("Overwrite removed", overwriteTarget(b)))
		case b.Allow != a.Allow || b.Deny != a.Deny:
			out = append(out, field("Overwrite changed", fmt.Sprintf("%s allow %s → %s, deny %s → %s",
				overwriteTarget(a), hexPerms(b.Allow), hexPerms(a.Allow), hexPerms(b.Deny), hexPerms(a.Deny))))
		}
	}
	return out
}

func (n *Normalizer) onRoleCreate(ctx context.Context, ev Event) []transport.Record {
	e := ev.(RoleCreate)
	at := n.attribute(ctx, e.GuildID, e.Role.ID, transport.AuditRoleCreate)
	return []transport.Record{n.record("Role Created", transport.ColorGreen, nil,
		field("Role", roleMention(e.Role.ID)+" ("+e.Role.Name+")"),
		field("Created by", at.ActorLabel()),
	)}
}

func (n *Normalizer) onRoleDelete(ctx context.Context, ev Event) []transport.Record {
	e := ev.(RoleDelete)
	at := n.attribute(ctx, e.GuildID, e.Role.ID, transport.AuditRoleDelete)
	return []transport.Record{n.record("Role Deleted", transport.ColorRed, nil,
		field("Role", "@"+e.Role.Name+" ("+e.Role.ID+")"),
		field("Deleted by", at.ActorLabel()),
	)}
}

func (n *Normalizer) onRoleUpdate(ctx context.Context, ev Event) []transport.Record {
	e := ev.(RoleUpdate)
	if e.Before == nil {
		return n.skip(skipPartial)
	}
	b, a := *e.Before, e.After
	var changes []string
	if b.Name != a.Name {
		changes = append(changes, change("Name", b.Name, a.Name))
	}
	if b.Color != a.Color {
		changes = append(changes, change("Colour", hexColor(b.Color), hexColor(a.Color)))
	}
	if b.Hoist != a.Hoist {
		changes = append(changes, change("Hoisted", yesNo(b.Hoist), yesNo(a.Hoist)))
	}
	if b.Mentionable != a.Mentionable {
		changes = append(changes, change("Mentionable", yesNo(b.Mentionable), yesNo(a.Mentionable)))
	}
	if b.Permissions != a.Permissions {
		changes = append(changes, change("Permissions", hexPerms(b.Permissions), hexPerms(a.Permissions)))
	}
	if len(changes) == 0 {
		return n.skip(skipNoChange)
	}
	at := n.attribute(ctx, e.GuildID, a.ID, transport.AuditRoleUpdate)
	lines := append([]string{field("Role", roleMention(a.ID))}, changes...)
	lines = append(lines, field("Updated by", at.ActorLabel()))
	return []transport.Record{n.record("Role Updated", transport.ColorOrange, nil, lines...)}
}

func (n *Normalizer) onGuildUpdate(ctx context.Context, ev Event) []transport.Record {
	e := ev.(GuildUpdate)
	if e.Before == nil {
		return n.skip(skipPartial)
	}
	b, a := *e.Before, e.After
	var changes []string
	if b.Name != a.Name {
		changes = append(changes, change("Name", b.Name, a.Name))
	}
	if b.Icon != a.Icon {
		changes = append(changes, field("Icon", "changed"))
	}
	if b.OwnerID != a.OwnerID {
		changes = append(changes, change("Owner", userMention(b.OwnerID), userMention(a.OwnerID)))
	}
	if b.Verification != a.Verification {
		changes = append(changes, change("Verification level", strconv.Itoa(b.Verification), strconv.Itoa(a.Verification)))
	}
	if b.AFKChannelID != a.AFKChannelID {
		changes = append(changes, change("AFK channel", channelMention(b.AFKChannelID), channelMention(a.AFKChannelID)))
	}
	if b.AFKTimeout != a.AFKTimeout {
		changes = append(changes, change("AFK timeout", seconds(b.AFKTimeout), seconds(a.AFKTimeout)))
	}
	if b.SystemChannelID != a.SystemChannelID {
		changes = append(changes, change("System channel", channelMention(b.SystemChannelID), channelMention(a.SystemChannelID)))
	}
	if b.Banner != a.Banner {
		changes = append(changes, field("Banner", "changed"))
	}
	if b.Description != a.Description {
		changes = append(changes, change("Description", b.Description, a.Description))
	}
	if len(changes) == 0 {
		return n.skip(skipNoChange)
	}
	at := n.attribute(ctx, e.GuildID, a.ID, transport.AuditGuildUpdate)
	changes = append(changes, field("Updated by", at.ActorLabel()))
	return []transport.Record{n.record("Server Updated", transport.ColorOrange, nil, changes...)}
}
