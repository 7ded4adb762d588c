package modlog

import (
	"time"

	"modlog/internal/transport"
)

// Kind enumerates the gateway events the normalizer understands.
type Kind int

const (
	KindMemberJoin Kind = iota + 1
	KindMemberLeave
	KindMemberUpdate
	KindBanAdd
	KindBanRemove
	KindMessageEdit
	KindMessageDelete
	KindMessageBulkDelete
	KindChannelCreate
	KindChannelDelete
	KindChannelUpdate
	KindRoleCreate
	KindRoleDelete
	KindRoleUpdate
	KindGuildUpdate
	KindVoiceState
	KindPresence
	KindEmojisUpdate
	KindStickersUpdate
	KindInviteCreate
	KindInviteDelete
)

var kindNames = map[Kind]string{
	KindMemberJoin:        "member_join",
	KindMemberLeave:       "member_leave",
	KindMemberUpdate:      "member_update",
	KindBanAdd:            "ban_add",
	KindBanRemove:         "ban_remove",
	KindMessageEdit:       "message_edit",
	KindMessageDelete:     "message_delete",
	KindMessageBulkDelete: "message_bulk_delete",
	KindChannelCreate:     "channel_create",
	KindChannelDelete:     "channel_delete",
	KindChannelUpdate:     "channel_update",
	KindRoleCreate:        "role_create",
	KindRoleDelete:        "role_delete",
	KindRoleUpdate:        "role_update",
	KindGuildUpdate:       "guild_update",
	KindVoiceState:        "voice_state",
	KindPresence:          "presence",
	KindEmojisUpdate:      "emojis_update",
	KindStickersUpdate:    "stickers_update",
	KindInviteCreate:      "invite_create",
	KindInviteDelete:      "invite_delete",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is a gateway event converted to platform-neutral form.
type Event interface {
	Kind() Kind
	Guild() string
}

// Base carries the guild every event belongs to.
type Base struct {
	GuildID string
}

func (b Base) Guild() string { return b.GuildID }

// ---- entity snapshots ----

type Member struct {
	User         transport.Identity
	Nick         string
	Roles        []string
	TimeoutUntil *time.Time
	JoinedAt     time.Time
	CreatedAt    time.Time
}

// DisplayName is the nickname, falling back to the user name.
func (m Member) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.User.Name
}

type Message struct {
	ID          string
	ChannelID   string
	Author      transport.Identity
	Content     string
	Pinned      bool
	Attachments int
}

type Overwrite struct {
	ID    string
	Role  bool
	Allow int64
	Deny  int64
}

type Channel struct {
	ID         string
	Name       string
	Type       string
	Topic      string
	NSFW       bool
	Slowmode   int
	Bitrate    int
	UserLimit  int
	ParentID   string
	Overwrites []Overwrite
}

type Role struct {
	ID          string
	Name        string
	Color       int
	Hoist       bool
	Mentionable bool
	Permissions int64
}

type Guild struct {
	ID              string
	Name            string
	Icon            string
	OwnerID         string
	Verification    int
	AFKChannelID    string
	AFKTimeout      int
	SystemChannelID string
	Banner          string
	Description     string
}

type VoiceState struct {
	ChannelID  string
	ServerMute bool
	ServerDeaf bool
}

type Presence struct {
	Status   string
	Activity string
}

// Asset is an emoji or a sticker.
type Asset struct {
	ID   string
	Name string
}

// ---- events ----

type MemberJoin struct {
	Base
	Member Member
}

type MemberLeave struct {
	Base
	User transport.Identity
}

type MemberUpdate struct {
	Base
	Before *Member
	After  Member
}

type BanAdd struct {
	Base
	User transport.Identity
}

type BanRemove struct {
	Base
	User transport.Identity
}

type MessageEdit struct {
	Base
	Before *Message
	After  Message
}

// MessageDelete carries the cached message; Message is nil when it was not
// in the cache.
type MessageDelete struct {
	Base
	ChannelID string
	MessageID string
	Message   *Message
}

type MessageBulkDelete struct {
	Base
	ChannelID  string
	MessageIDs []string
}

type ChannelCreate struct {
	Base
	Channel Channel
}

type ChannelDelete struct {
	Base
	Channel Channel
}

type ChannelUpdate struct {
	Base
	Before *Channel
	After  Channel
}

type RoleCreate struct {
	Base
	Role Role
}

type RoleDelete struct {
	Base
	Role Role
}

type RoleUpdate struct {
	Base
	Before *Role
	After  Role
}

type GuildUpdate struct {
	Base
	Before *Guild
	After  Guild
}

// VoiceStateUpdate has a nil Before when the user was not in voice.
type VoiceStateUpdate struct {
	Base
	User   transport.Identity
	Before *VoiceState
	After  VoiceState
}

type PresenceUpdate struct {
	Base
	User   transport.Identity
	Before *Presence
	After  Presence
}

type EmojisUpdate struct {
	Base
	Before []Asset
	After  []Asset
	// Known is false when no previous snapshot existed.
	Known bool
}

type StickersUpdate struct {
	Base
	Before []Asset
	After  []Asset
	Known  bool
}

type InviteCreate struct {
	Base
	Invite transport.Invite
}

type InviteDelete struct {
	Base
	Code      string
	ChannelID string
}

func (MemberJoin) Kind() Kind        { return KindMemberJoin }
func (MemberLeave) Kind() Kind       { return KindMemberLeave }
func (MemberUpdate) Kind() Kind      { return KindMemberUpdate }
func (BanAdd) Kind() Kind            { return KindBanAdd }
func (BanRemove) Kind() Kind         { return KindBanRemove }
func (MessageEdit) Kind() Kind       { return KindMessageEdit }
func (MessageDelete) Kind() Kind     { return KindMessageDelete }
func (MessageBulkDelete) Kind() Kind { return KindMessageBulkDelete }
func (ChannelCreate) Kind() Kind     { return KindChannelCreate }
func (ChannelDelete) Kind() Kind     { return KindChannelDelete }
func (ChannelUpdate) Kind() Kind     { return KindChannelUpdate }
func (RoleCreate) Kind() Kind        { return KindRoleCreate }
func (RoleDelete) Kind() Kind        { return KindRoleDelete }
func (RoleUpdate) Kind() Kind        { return KindRoleUpdate }
func (GuildUpdate) Kind() Kind       { return KindGuildUpdate }
func (VoiceStateUpdate) Kind() Kind  { return KindVoiceState }
func (PresenceUpdate) Kind() Kind    { return KindPresence }
func (EmojisUpdate) Kind() Kind      { return KindEmojisUpdate }
func (StickersUpdate) Kind() Kind    { return KindStickersUpdate }
func (InviteCreate) Kind() Kind      { return KindInviteCreate }
func (InviteDelete) Kind() Kind      { return KindInviteDelete }
