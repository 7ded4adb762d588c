// Package discord adapts a discordgo session to the rest of the bot.
//
// Inbound, it turns gateway events into modlog events and prefixed messages
// into command messages. Outbound, it implements the audit, invite and send
// ports plus the command platform, classifying REST failures so delivery can
// tell a dead destination from a transient error.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"modlog/internal/commands"
	"modlog/internal/invites"
	"modlog/internal/metrics"
	"modlog/internal/modlog"
	logx "modlog/pkg/logx"

	"github.com/bwmarrin/discordgo"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentGuildModeration |
	discordgo.IntentsGuildEmojis |
	discordgo.IntentsGuildInvites |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildPresences |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent

type Config struct {
	Token        string
	MessageCache int
	PresenceTTL  time.Duration
}

// EventSink receives converted gateway events.
type EventSink interface {
	Emit(ctx context.Context, ev modlog.Event)
}

// CommandSink receives guild messages that may be commands.
type CommandSink interface {
	Dispatch(ctx context.Context, msg commands.Message) bool
}

// Hooks are wired after construction; the sinks depend on the adapter's
// ports themselves.
type Hooks struct {
	Events   EventSink
	Commands CommandSink
	Invites  *invites.Tracker
	// OnReady runs once per successful identify.
	OnReady func()
}

type Adapter struct {
	s       *discordgo.Session
	log     logx.Logger
	metrics *metrics.Metrics
	snaps   *snapshots

	mu    sync.RWMutex
	hooks Hooks
	ctx   context.Context

	online atomic.Bool
}

func New(cfg Config, log logx.Logger, m *metrics.Metrics) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = intents
	s.StateEnabled = true
	if cfg.MessageCache > 0 {
		s.State.MaxMessageCount = cfg.MessageCache
	}
	s.State.TrackPresences = false

	a := &Adapter{
		s:       s,
		log:     log,
		metrics: m,
		snaps:   newSnapshots(cfg.PresenceTTL),
		ctx:     context.Background(),
	}
	a.registerHandlers()
	return a, nil
}

// SetLogger replaces the boot logger. Call it before Open.
func (a *Adapter) SetLogger(log logx.Logger) { a.log = log }

func (a *Adapter) Bind(h Hooks) {
	a.mu.Lock()
	a.hooks = h
	a.mu.Unlock()
}

func (a *Adapter) hooksSnapshot() (Hooks, context.Context) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hooks, a.ctx
}

// Open connects to the gateway. ctx bounds every handler run afterwards.
func (a *Adapter) Open(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
	if err := a.s.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	a.log.Info("gateway connected")
	return nil
}

func (a *Adapter) Close() error {
	a.setOnline(false)
	return a.s.Close()
}

// Online reports whether the gateway session is ready.
func (a *Adapter) Online() bool { return a.online.Load() }

func (a *Adapter) setOnline(v bool) {
	a.online.Store(v)
	a.metrics.SetOnline(v)
}

func (a *Adapter) BotID() string {
	if a.s.State == nil || a.s.State.User == nil {
		return ""
	}
	return a.s.State.User.ID
}

func (a *Adapter) emit(ev modlog.Event) {
	h, ctx := a.hooksSnapshot()
	if h.Events == nil {
		return
	}
	h.Events.Emit(ctx, ev)
}

// registerHandlers hooks every gateway event the bot logs. discordgo runs
// each handler call on its own goroutine.
func (a *Adapter) registerHandlers() {
	s := a.s
	s.AddHandler(a.onReady)
	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		a.setOnline(true)
		a.log.Info("gateway resumed")
	})
	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		a.setOnline(false)
		a.log.Warn("gateway disconnected")
	})
	s.AddHandler(a.onGuildCreate)
	s.AddHandler(a.onGuildDelete)
	s.AddHandler(a.onMessageCreate)

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
		if e.Member == nil {
			return
		}
		a.emit(modlog.MemberJoin{Base: base(e.GuildID), Member: member(e.Member)})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberRemove) {
		if e.Member == nil {
			return
		}
		a.emit(modlog.MemberLeave{Base: base(e.GuildID), User: identity(e.User)})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
		if e.Member == nil {
			return
		}
		ev := modlog.MemberUpdate{Base: base(e.GuildID), After: member(e.Member)}
		if e.BeforeUpdate != nil {
			b := member(e.BeforeUpdate)
			if b.User.ID == "" {
				b.User = ev.After.User
			}
			ev.Before = &b
		}
		a.emit(ev)
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildBanAdd) {
		a.emit(modlog.BanAdd{Base: base(e.GuildID), User: identity(e.User)})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildBanRemove) {
		a.emit(modlog.BanRemove{Base: base(e.GuildID), User: identity(e.User)})
	})

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageUpdate) {
		// Embed unfurls arrive as updates without an author.
		if e.Message == nil || e.Author == nil {
			return
		}
		ev := modlog.MessageEdit{Base: base(e.GuildID), After: message(e.Message)}
		if e.BeforeUpdate != nil {
			b := message(e.BeforeUpdate)
			ev.Before = &b
		}
		a.emit(ev)
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageDelete) {
		if e.Message == nil {
			return
		}
		ev := modlog.MessageDelete{Base: base(e.GuildID), ChannelID: e.ChannelID, MessageID: e.ID}
		if e.BeforeDelete != nil && e.BeforeDelete.Author != nil {
			m := message(e.BeforeDelete)
			ev.Message = &m
		}
		a.emit(ev)
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageDeleteBulk) {
		a.emit(modlog.MessageBulkDelete{Base: base(e.GuildID), ChannelID: e.ChannelID, MessageIDs: e.Messages})
	})

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelCreate) {
		if e.Channel == nil {
			return
		}
		a.emit(modlog.ChannelCreate{Base: base(e.GuildID), Channel: channel(e.Channel)})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelDelete) {
		if e.Channel == nil {
			return
		}
		a.emit(modlog.ChannelDelete{Base: base(e.GuildID), Channel: channel(e.Channel)})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelUpdate) {
		if e.Channel == nil {
			return
		}
		ev := modlog.ChannelUpdate{Base: base(e.GuildID), After: channel(e.Channel)}
		if e.BeforeUpdate != nil {
			b := channel(e.BeforeUpdate)
			ev.Before = &b
		}
		a.emit(ev)
	})

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleCreate) {
		if e.GuildRole == nil || e.Role == nil {
			return
		}
		r := role(e.Role)
		a.snaps.swapRole(e.GuildID, r)
		a.emit(modlog.RoleCreate{Base: base(e.GuildID), Role: r})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleUpdate) {
		if e.GuildRole == nil || e.Role == nil {
			return
		}
		r := role(e.Role)
		a.emit(modlog.RoleUpdate{Base: base(e.GuildID), Before: a.snaps.swapRole(e.GuildID, r), After: r})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
		a.emit(modlog.RoleDelete{Base: base(e.GuildID), Role: a.snaps.removeRole(e.GuildID, e.RoleID)})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildUpdate) {
		if e.Guild == nil {
			return
		}
		g := guild(e.Guild)
		a.emit(modlog.GuildUpdate{Base: base(e.ID), Before: a.snaps.swapGuild(g), After: g})
	})

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		if e.VoiceState == nil {
			return
		}
		user := a.voiceUser(e.VoiceState)
		ev := modlog.VoiceStateUpdate{Base: base(e.GuildID), User: user, After: voiceState(e.VoiceState)}
		if e.BeforeUpdate != nil {
			b := voiceState(e.BeforeUpdate)
			ev.Before = &b
		}
		a.emit(ev)
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.PresenceUpdate) {
		if e.User == nil {
			return
		}
		p := presence(&e.Presence)
		user := identity(e.User)
		if user.Name == "" {
			user = a.lookupUser(e.GuildID, e.User.ID)
		}
		a.emit(modlog.PresenceUpdate{Base: base(e.GuildID), User: user, Before: a.snaps.swapPresence(e.GuildID, e.User.ID, p), After: p})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildEmojisUpdate) {
		next := emojis(e.Emojis)
		prev, known := a.snaps.swapEmojis(e.GuildID, next)
		a.emit(modlog.EmojisUpdate{Base: base(e.GuildID), Before: prev, After: next, Known: known})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildStickersUpdate) {
		next := stickers(e.Stickers)
		prev, known := a.snaps.swapStickers(e.GuildID, next)
		a.emit(modlog.StickersUpdate{Base: base(e.GuildID), Before: prev, After: next, Known: known})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.InviteCreate) {
		if e.Invite == nil {
			return
		}
		a.emit(modlog.InviteCreate{Base: base(e.GuildID), Invite: invite(e.Invite, e.ChannelID)})
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.InviteDelete) {
		a.emit(modlog.InviteDelete{Base: base(e.GuildID), Code: e.Code, ChannelID: e.ChannelID})
	})
}

func base(guildID string) modlog.Base { return modlog.Base{GuildID: guildID} }

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.setOnline(true)
	name := ""
	if r.User != nil {
		name = r.User.Username
	}
	a.log.Info("gateway ready", logx.String("user", name), logx.Int("guilds", len(r.Guilds)))
	h, _ := a.hooksSnapshot()
	if h.OnReady != nil {
		h.OnReady()
	}
}

// onGuildCreate seeds snapshots and primes invite tracking for a guild that
// became available, either at startup or after the bot was added.
func (a *Adapter) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if e.Guild == nil || e.Unavailable {
		return
	}
	roles := make([]modlog.Role, 0, len(e.Roles))
	for _, r := range e.Roles {
		if r != nil {
			roles = append(roles, role(r))
		}
	}
	a.snaps.seed(guild(e.Guild), roles, emojis(e.Emojis), stickers(e.Stickers))

	h, ctx := a.hooksSnapshot()
	if h.Invites == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := h.Invites.Prime(cctx, e.ID); err != nil {
		a.log.Warn("invite snapshot failed", logx.String("guild", e.ID), logx.Err(err))
	}
}

func (a *Adapter) onGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	if e.Guild == nil {
		return
	}
	// An outage marks the guild unavailable; keep its snapshots.
	if e.Unavailable {
		return
	}
	a.snaps.forget(e.ID)
	h, _ := a.hooksSnapshot()
	if h.Invites != nil {
		h.Invites.Forget(e.ID)
	}
	a.log.Info("removed from guild", logx.String("guild", e.ID))
}

func (a *Adapter) onMessageCreate(_ *discordgo.Session, e *discordgo.MessageCreate) {
	if e.Message == nil || e.Author == nil || e.GuildID == "" {
		return
	}
	h, ctx := a.hooksSnapshot()
	if h.Commands == nil {
		return
	}
	h.Commands.Dispatch(ctx, commands.Message{
		ID:        e.ID,
		GuildID:   e.GuildID,
		ChannelID: e.ChannelID,
		Author:    identity(e.Author),
		Content:   e.Content,
	})
}

// GuildIDs lists the guilds in the gateway state.
func (a *Adapter) GuildIDs() []string {
	a.s.State.RLock()
	defer a.s.State.RUnlock()
	out := make([]string, 0, len(a.s.State.Guilds))
	for _, g := range a.s.State.Guilds {
		out = append(out, g.ID)
	}
	return out
}
