package modlog

import (
	"context"
	"fmt"

	"modlog/internal/audit"
	"modlog/internal/transport"
)

func (n *Normalizer) onMessageEdit(ctx context.Context, ev Event) []transport.Record {
	e := ev.(MessageEdit)
	if e.After.Author.Bot {
		return n.skip(skipBot)
	}
	if e.Before == nil {
		return n.skip(skipPartial)
	}
	before, after := *e.Before, e.After
	author := after.Author

	var out []transport.Record
	if before.Pinned != after.Pinned {
		title, kind := "Message Pinned", transport.AuditMessagePin
		if !after.Pinned {
			title, kind = "Message Unpinned", transport.AuditMessageUnpin
		}
		at := n.resolver.Resolve(ctx, e.GuildID, audit.Query{
			Kinds:     []transport.AuditKind{kind},
			TargetID:  author.ID,
			ChannelID: after.ChannelID,
		})
		rec := n.record(title, transport.ColorBlue, &author,
			field("Author", author.Mention()),
			field("Channel", channelMention(after.ChannelID)),
			field("By", at.ActorLabel()),
			field("Message", "[Jump]("+messageLink(e.GuildID, after.ChannelID, after.ID)+")"),
		)
		rec.Kind = "message_pin"
		out = append(out, rec)
	}

	if before.Content != after.Content {
		out = append(out, n.record("Message Edited", transport.ColorOrange, &author,
			field("Author", author.Mention()),
			field("Channel", channelMention(after.ChannelID)),
			block("Before", before.Content),
			block("After", after.Content),
			field("Message", "[Jump]("+messageLink(e.GuildID, after.ChannelID, after.ID)+")"),
		))
	}
	if len(out) == 0 {
		return n.skip(skipNoChange)
	}
	return out
}

// onMessageDelete logs a single deletion unless it belongs to a bulk delete,
// detected either by a recent bulk gateway event on the channel or by a
// recent bulk-delete audit entry targeting it.
func (n *Normalizer) onMessageDelete(ctx context.Context, ev Event) []transport.Record {
	e := ev.(MessageDelete)
	if e.Message == nil {
		return n.skip(skipPartial)
	}
	msg := *e.Message
	if msg.Author.Bot {
		return n.skip(skipBot)
	}
	channelID := msg.ChannelID
	if channelID == "" {
		channelID = e.ChannelID
	}
	if _, marked := n.bulk.Get(channelID); marked {
		return n.skip(skipBulk)
	}
	if _, ok := n.resolver.Find(ctx, e.GuildID, audit.Query{
		Kinds:    []transport.AuditKind{transport.AuditMessageBulkDelete},
		TargetID: channelID,
	}); ok {
		return n.skip(skipBulk)
	}

	at := n.resolver.Resolve(ctx, e.GuildID, audit.Query{
		Kinds:     []transport.AuditKind{transport.AuditMessageDelete},
		TargetID:  msg.Author.ID,
		ChannelID: channelID,
	})
	lines := []string{
		field("Author", msg.Author.Mention()),
		field("Channel", channelMention(channelID)),
		field("Deleted by", at.ActorLabel()),
		block("Content", msg.Content),
	}
	if msg.Attachments > 0 {
		lines = append(lines, field("Attachments", fmt.Sprintf("%d", msg.Attachments)))
	}
	return []transport.Record{n.record("Message Deleted", transport.ColorRed, &msg.Author, lines...)}
}

// onMessageBulkDelete logs one summary and marks the channel so single
// deletions arriving for the same purge are suppressed.
func (n *Normalizer) onMessageBulkDelete(ctx context.Context, ev Event) []transport.Record {
	e := ev.(MessageBulkDelete)
	n.bulk.Set(e.ChannelID, len(e.MessageIDs), n.window())
	at := n.attribute(ctx, e.GuildID, e.ChannelID, transport.AuditMessageBulkDelete)
	return []transport.Record{n.record("Messages Bulk Deleted", transport.ColorRed, nil,
		field("Channel", channelMention(e.ChannelID)),
		field("Count", fmt.Sprintf("%d", len(e.MessageIDs))),
		field("Deleted by", at.ActorLabel()),
	)}
}
