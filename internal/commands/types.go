package commands

import (
	"context"
	"errors"
	"time"

	"modlog/internal/transport"
	logx "modlog/pkg/logx"
)

// Permission is a capability a command requires from its invoker.
type Permission int

const (
	PermNone Permission = iota
	PermAdministrator
	PermKickMembers
	PermBanMembers
)

func (p Permission) String() string {
	switch p {
	case PermAdministrator:
		return "Administrator"
	case PermKickMembers:
		return "Kick Members"
	case PermBanMembers:
		return "Ban Members"
	default:
		return "none"
	}
}

// ErrNotFound is returned by Platform lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Platform is what command handlers need from the chat platform.
type Platform interface {
	BotID() string
	Reply(ctx context.Context, channelID, text string) error
	HasPermission(guildID, channelID, userID string, p Permission) bool
	// ResolveChannel finds a text channel of guildID by mention, id or name.
	ResolveChannel(ctx context.Context, guildID, query string) (id, name string, err error)
	// ResolveUser finds a user by mention or id.
	ResolveUser(ctx context.Context, query string) (transport.Identity, error)
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
}

// LogChannels stores the per-guild log destination.
type LogChannels interface {
	SetLogChannel(ctx context.Context, guildID, channelID string) error
}

// Message is an incoming chat message that may hold a command.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	Author    transport.Identity
	Content   string
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Requires    Permission
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Msg      Message
	Command  string
	Args     []string
	// Raw is the text after the command word as typed.
	Raw      string
	ReqID    string
	Logger   logx.Logger
	Platform Platform
}

// Reply answers in the channel the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Platform.Reply(ctx, r.Msg.ChannelID, text)
}

// UserError carries a message meant for the invoker. Other errors are
// answered with a generic failure line.
type UserError struct{ Msg string }

func (e *UserError) Error() string { return e.Msg }

func userErr(msg string) error { return &UserError{Msg: msg} }
