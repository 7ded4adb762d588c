// Package transport holds the platform-neutral types shared by the event
// pipeline, the delivery service and the Discord adapter.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrDestinationUnreachable is returned by Sender when the target channel no
// longer exists or the bot lost access to it. It is permanent: callers must not
// retry and should forget the destination.
var ErrDestinationUnreachable = errors.New("destination unreachable")

// Identity is a user as rendered in a log record.
type Identity struct {
	ID        string
	Name      string
	AvatarURL string
	Bot       bool
}

// Mention renders the platform mention for the identity.
func (i Identity) Mention() string {
	if i.ID == "" {
		return i.Name
	}
	return "<@" + i.ID + ">"
}

// Label is "name (id)" or just one of them when the other is unknown.
func (i Identity) Label() string {
	switch {
	case i.Name != "" && i.ID != "":
		return i.Name + " (" + i.ID + ")"
	case i.Name != "":
		return i.Name
	default:
		return i.ID
	}
}

// AuditKind is the platform's numeric audit-trail action type.
type AuditKind int

const (
	AuditGuildUpdate       AuditKind = 1
	AuditChannelCreate     AuditKind = 10
	AuditChannelUpdate     AuditKind = 11
	AuditChannelDelete     AuditKind = 12
	AuditOverwriteCreate   AuditKind = 13
	AuditOverwriteUpdate   AuditKind = 14
	AuditOverwriteDelete   AuditKind = 15
	AuditMemberKick        AuditKind = 20
	AuditMemberBanAdd      AuditKind = 22
	AuditMemberBanRemove   AuditKind = 23
	AuditMemberUpdate      AuditKind = 24
	AuditMemberRoleUpdate  AuditKind = 25
	AuditMemberMove        AuditKind = 26
	AuditMemberDisconnect  AuditKind = 27
	AuditBotAdd            AuditKind = 28
	AuditRoleCreate        AuditKind = 30
	AuditRoleUpdate        AuditKind = 31
	AuditRoleDelete        AuditKind = 32
	AuditInviteCreate      AuditKind = 40
	AuditInviteDelete      AuditKind = 42
	AuditEmojiCreate       AuditKind = 60
	AuditEmojiUpdate       AuditKind = 61
	AuditEmojiDelete       AuditKind = 62
	AuditMessageDelete     AuditKind = 72
	AuditMessageBulkDelete AuditKind = 73
	AuditMessagePin        AuditKind = 74
	AuditMessageUnpin      AuditKind = 75
	AuditStickerCreate     AuditKind = 90
	AuditStickerUpdate     AuditKind = 91
	AuditStickerDelete     AuditKind = 92
)

// AuditEntry is one audit-trail row.
//
// ChannelID is only set for kinds that carry a channel option (message delete,
// pin/unpin, member move).
type AuditEntry struct {
	ID        string
	Kind      AuditKind
	Actor     *Identity
	TargetID  string
	ChannelID string
	Reason    string
	At        time.Time
}

// Invite is a guild invite with its current use count.
type Invite struct {
	Code      string
	Uses      int
	MaxUses   int
	ChannelID string
	Inviter   *Identity
}

// Color is an embed colour.
type Color int

const (
	ColorRed    Color = 0xED4245
	ColorOrange Color = 0xF0B232
	ColorBlue   Color = 0x5865F2
	ColorGreen  Color = 0x57F287
)

// Record is the canonical log record handed to delivery.
type Record struct {
	ID       string
	GuildID  string
	Kind     string
	Title    string
	Body     string
	Color    Color
	Identity *Identity
	At       time.Time
}

// AuditSource queries the platform audit trail.
type AuditSource interface {
	AuditEntries(ctx context.Context, guildID string, kind AuditKind, limit int) ([]AuditEntry, error)
}

// InviteSource lists guild invites.
type InviteSource interface {
	// CanManageInvites reports whether the bot may list invites of the guild.
	CanManageInvites(guildID string) bool
	GuildInvites(ctx context.Context, guildID string) ([]Invite, error)
}

// Sender posts a record to a channel.
type Sender interface {
	SendRecord(ctx context.Context, channelID string, rec Record) error
}
