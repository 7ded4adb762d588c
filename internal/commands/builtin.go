package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "modlog/pkg/logx"
)

const defaultReason = "No reason provided"

func (r *Router) builtins() []Command {
	return []Command{
		{
			Name:        "setlog",
			Usage:       "setlog [#channel|id|name]",
			Description: "Set the channel moderation logs are posted to. Defaults to this channel.",
			Requires:    PermAdministrator,
			Handle:      r.setLog,
		},
		{
			Name:        "kick",
			Usage:       "kick <@user|id> [reason]",
			Description: "Kick a member.",
			Requires:    PermKickMembers,
			Handle: func(ctx context.Context, req *Request) error {
				return moderate(ctx, req, "kick", "Kicked", req.Platform.Kick)
			},
		},
		{
			Name:        "ban",
			Usage:       "ban <@user|id> [reason]",
			Description: "Ban a user.",
			Requires:    PermBanMembers,
			Handle: func(ctx context.Context, req *Request) error {
				return moderate(ctx, req, "ban", "Banned", req.Platform.Ban)
			},
		},
		{
			Name:        "help",
			Aliases:     []string{"h"},
			Usage:       "help",
			Description: "List commands.",
			Handle:      r.help,
		},
	}
}

func (r *Router) setLog(ctx context.Context, req *Request) error {
	channelID := req.Msg.ChannelID
	if len(req.Args) > 0 {
		query := strings.Join(req.Args, " ")
		id, _, err := req.Platform.ResolveChannel(ctx, req.Msg.GuildID, query)
		if errors.Is(err, ErrNotFound) {
			return userErr(fmt.Sprintf("Could not find a text channel matching `%s` in this server.", query))
		}
		if err != nil {
			return fmt.Errorf("resolve channel: %w", err)
		}
		channelID = id
	}
	if err := r.channels.SetLogChannel(ctx, req.Msg.GuildID, channelID); err != nil {
		return fmt.Errorf("save log channel: %w", err)
	}
	req.Logger.Info("log channel set", logx.String("guild", req.Msg.GuildID), logx.String("channel", channelID))
	return req.Reply(ctx, "Moderation logs will be posted in <#"+channelID+">.")
}

func moderate(ctx context.Context, req *Request, verb, past string, do func(ctx context.Context, guildID, userID, reason string) error) error {
	if len(req.Args) == 0 {
		return userErr(fmt.Sprintf("Usage: `%s <@user|id> [reason]`", verb))
	}
	target, err := req.Platform.ResolveUser(ctx, req.Args[0])
	if errors.Is(err, ErrNotFound) {
		return userErr("Could not find that user.")
	}
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	switch target.ID {
	case req.Msg.Author.ID:
		return userErr(fmt.Sprintf("You cannot %s yourself.", verb))
	case req.Platform.BotID():
		return userErr(fmt.Sprintf("I cannot %s myself.", verb))
	}
	reason := freeText(skipToken(req.Raw))
	if reason == "" {
		reason = defaultReason
	}
	if err := do(ctx, req.Msg.GuildID, target.ID, reason); err != nil {
		return fmt.Errorf("%s %s: %w", verb, target.ID, err)
	}
	return req.Reply(ctx, fmt.Sprintf("%s **%s**. Reason: %s", past, target.Label(), reason))
}

func (r *Router) help(ctx context.Context, req *Request) error {
	prefix := r.Prefix()
	var b strings.Builder
	b.WriteString("**Commands**\n")
	for _, c := range r.Commands() {
		fmt.Fprintf(&b, "`%s%s` %s", prefix, c.Usage, c.Description)
		if c.Requires != PermNone {
			fmt.Fprintf(&b, " *(requires %s)*", c.Requires)
		}
		b.WriteByte('\n')
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}
