// Package modlog turns gateway events into moderation log records.
//
// Each event kind has one handler in a dispatch table. A handler decides
// whether the event is worth logging, diffs before/after snapshots in a fixed
// field order, asks the audit resolver who did it and returns zero or more
// records. Handlers never fail: lookups are best-effort and a failed lookup
// renders as an unknown actor.
package modlog

import (
	"context"
	"time"

	"modlog/internal/audit"
	"modlog/internal/invites"
	"modlog/internal/metrics"
	"modlog/internal/state"
	"modlog/internal/transport"
	logx "modlog/pkg/logx"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Suppression reasons, used as metric labels.
const (
	skipNoGuild  = "no_guild"
	skipBot      = "bot"
	skipPartial  = "partial"
	skipNoChange = "no_change"
	skipBulk     = "bulk"
	skipBanned   = "banned"
)

type handlerFunc func(n *Normalizer, ctx context.Context, ev Event) []transport.Record

var handlers = map[Kind]handlerFunc{
	KindMemberJoin:        (*Normalizer).onMemberJoin,
	KindMemberLeave:       (*Normalizer).onMemberLeave,
	KindMemberUpdate:      (*Normalizer).onMemberUpdate,
	KindBanAdd:            (*Normalizer).onBanAdd,
	KindBanRemove:         (*Normalizer).onBanRemove,
	KindMessageEdit:       (*Normalizer).onMessageEdit,
	KindMessageDelete:     (*Normalizer).onMessageDelete,
	KindMessageBulkDelete: (*Normalizer).onMessageBulkDelete,
	KindChannelCreate:     (*Normalizer).onChannelCreate,
	KindChannelDelete:     (*Normalizer).onChannelDelete,
	KindChannelUpdate:     (*Normalizer).onChannelUpdate,
	KindRoleCreate:        (*Normalizer).onRoleCreate,
	KindRoleDelete:        (*Normalizer).onRoleDelete,
	KindRoleUpdate:        (*Normalizer).onRoleUpdate,
	KindGuildUpdate:       (*Normalizer).onGuildUpdate,
	KindVoiceState:        (*Normalizer).onVoiceState,
	KindPresence:          (*Normalizer).onPresence,
	KindEmojisUpdate:      (*Normalizer).onEmojisUpdate,
	KindStickersUpdate:    (*Normalizer).onStickersUpdate,
	KindInviteCreate:      (*Normalizer).onInviteCreate,
	KindInviteDelete:      (*Normalizer).onInviteDelete,
}

type Options struct {
	Resolver *audit.Resolver
	Invites  *invites.Tracker
	State    *state.Store
	Metrics  *metrics.Metrics
	Log      logx.Logger
}

type Normalizer struct {
	resolver *audit.Resolver
	invites  *invites.Tracker
	state    *state.Store
	metrics  *metrics.Metrics
	log      logx.Logger

	// bulk marks channels that just saw a bulk delete; entries expire after
	// the audit window.
	bulk *cache.Cache

	// Now is the clock used for timeouts, account age and record stamps.
	Now func() time.Time
}

func NewNormalizer(opts Options) *Normalizer {
	window := audit.DefaultWindow
	if opts.Resolver != nil {
		window = opts.Resolver.Policy().Window
	}
	return &Normalizer{
		resolver: opts.Resolver,
		invites:  opts.Invites,
		state:    opts.State,
		metrics:  opts.Metrics,
		log:      opts.Log,
		bulk:     cache.New(window, 2*window),
		Now:      time.Now,
	}
}

// Handle runs the handler for ev. Events outside a guild produce nothing.
func (n *Normalizer) Handle(ctx context.Context, ev Event) []transport.Record {
	if ev == nil {
		return nil
	}
	if ev.Guild() == "" {
		return n.skip(skipNoGuild)
	}
	h, ok := handlers[ev.Kind()]
	if !ok {
		n.log.Debug("no handler for event", logx.String("kind", ev.Kind().String()))
		return nil
	}
	recs := h(n, ctx, ev)
	for i := range recs {
		recs[i].GuildID = ev.Guild()
		if recs[i].Kind == "" {
			recs[i].Kind = ev.Kind().String()
		}
		n.metrics.Record(recs[i].Kind)
	}
	return recs
}

func (n *Normalizer) skip(reason string) []transport.Record {
	n.metrics.Suppress(reason)
	return nil
}

func (n *Normalizer) window() time.Duration {
	if n.resolver == nil {
		return audit.DefaultWindow
	}
	return n.resolver.Policy().Window
}

func (n *Normalizer) attribute(ctx context.Context, guildID, targetID string, kinds ...transport.AuditKind) audit.Attribution {
	return n.resolver.Resolve(ctx, guildID, audit.Query{Kinds: kinds, TargetID: targetID})
}

func (n *Normalizer) record(title string, color transport.Color, who *transport.Identity, lines ...string) transport.Record {
	return transport.Record{
		ID:       uuid.NewString(),
		Title:    title,
		Body:     joinLines(lines),
		Color:    color,
		Identity: who,
		At:       n.Now(),
	}
}
