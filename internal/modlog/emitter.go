package modlog

import (
	"context"
	"fmt"
	"runtime/debug"

	"modlog/internal/metrics"
	"modlog/internal/transport"
	logx "modlog/pkg/logx"
)

// Destinations resolves the log channel of a guild.
type Destinations interface {
	LogChannel(guildID string) (string, bool)
}

// Deliverer queues a record for posting.
type Deliverer interface {
	Deliver(ctx context.Context, guildID, channelID string, rec transport.Record) error
}

// Emitter runs the normalizer for an event and hands the resulting records to
// delivery. It never returns an error and never panics into the caller.
type Emitter struct {
	n       *Normalizer
	dest    Destinations
	out     Deliverer
	log     logx.Logger
	metrics *metrics.Metrics
}

func NewEmitter(n *Normalizer, dest Destinations, out Deliverer, log logx.Logger, m *metrics.Metrics) *Emitter {
	return &Emitter{n: n, dest: dest, out: out, log: log, metrics: m}
}

// Emit handles ev. Handlers always run, even for guilds without a log
// channel, because some of them maintain state (nickname history, invite
// snapshots).
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if ev == nil {
		return
	}
	kind := ev.Kind().String()
	e.metrics.Event(kind)

	recs, ok := e.run(ctx, ev)
	if !ok || len(recs) == 0 {
		return
	}
	channelID, ok := e.dest.LogChannel(ev.Guild())
	if !ok || channelID == "" {
		e.metrics.Suppress("no_destination")
		return
	}
	for _, rec := range recs {
		if err := e.out.Deliver(ctx, ev.Guild(), channelID, rec); err != nil {
			e.log.Warn("record not queued",
				logx.String("guild", ev.Guild()),
				logx.String("kind", rec.Kind),
				logx.String("record_id", rec.ID),
				logx.Err(err),
			)
		}
	}
}

func (e *Emitter) run(ctx context.Context, ev Event) (recs []transport.Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.Suppress("panic")
			e.log.Error("event handler panic",
				logx.String("kind", ev.Kind().String()),
				logx.String("guild", ev.Guild()),
				logx.String("panic", fmt.Sprint(r)),
				logx.Stack(string(debug.Stack())),
			)
			recs, ok = nil, false
		}
	}()
	return e.n.Handle(ctx, ev), true
}
