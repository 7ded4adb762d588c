// Package audit attributes gateway events to the moderator who caused them by
// matching recent audit-trail entries.
//
// Audit entries arrive independently of the gateway event and may be late or
// stale, so a match also requires the entry to be recent (Policy.Window).
package audit

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"modlog/internal/metrics"
	"modlog/internal/transport"
	logx "modlog/pkg/logx"
)

const (
	DefaultWindow = 5 * time.Second
	DefaultLimit  = 5
	unknownActor  = "Unknown"
)

// Policy bounds a lookup.
type Policy struct {
	// Window is the maximum age of a matching entry.
	Window time.Duration
	// Limit is the number of entries fetched per kind.
	Limit int
}

func (p Policy) normalized() Policy {
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	return p
}

// Query describes the entry an event is looking for. Empty TargetID or
// ChannelID match any entry.
type Query struct {
	Kinds     []transport.AuditKind
	TargetID  string
	ChannelID string
}

// Attribution is the result of a lookup. The zero value means no actor known.
type Attribution struct {
	Actor  *transport.Identity
	Reason string
	Entry  *transport.AuditEntry
}

func (a Attribution) Found() bool { return a.Entry != nil }

// ActorLabel renders the actor mention or "Unknown".
func (a Attribution) ActorLabel() string {
	if a.Actor == nil {
		return unknownActor
	}
	return a.Actor.Mention()
}

// ReasonLabel renders the reason or "No reason provided".
func (a Attribution) ReasonLabel() string {
	if a.Reason == "" {
		return "No reason provided"
	}
	return a.Reason
}

type Resolver struct {
	src     transport.AuditSource
	log     logx.Logger
	metrics *metrics.Metrics

	// Now is the clock used for the recency window.
	Now func() time.Time

	mu     sync.RWMutex
	policy Policy
}

func NewResolver(src transport.AuditSource, policy Policy, log logx.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		src:     src,
		log:     log,
		metrics: m,
		Now:     time.Now,
		policy:  policy.normalized(),
	}
}

// SetPolicy replaces the policy used by subsequent lookups.
func (r *Resolver) SetPolicy(p Policy) {
	r.mu.Lock()
	r.policy = p.normalized()
	r.mu.Unlock()
}

func (r *Resolver) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// Resolve returns the most recent entry matching q, or the zero Attribution.
// It never fails: fetch errors are logged and treated as no match.
func (r *Resolver) Resolve(ctx context.Context, guildID string, q Query) Attribution {
	e, ok := r.Find(ctx, guildID, q)
	if !ok {
		return Attribution{}
	}
	return Attribution{Actor: e.Actor, Reason: e.Reason, Entry: &e}
}

// Find is Resolve returning the raw entry.
func (r *Resolver) Find(ctx context.Context, guildID string, q Query) (transport.AuditEntry, bool) {
	if r == nil || r.src == nil || guildID == "" || len(q.Kinds) == 0 {
		return transport.AuditEntry{}, false
	}
	p := r.Policy()

	var entries []transport.AuditEntry
	failed := 0
	for _, kind := range q.Kinds {
		got, err := r.src.AuditEntries(ctx, guildID, kind, p.Limit)
		if err != nil {
			failed++
			r.log.Warn("audit lookup failed",
				logx.String("guild", guildID),
				logx.Int("kind", int(kind)),
				logx.Err(err),
			)
			continue
		}
		entries = append(entries, got...)
	}
	if failed == len(q.Kinds) {
		r.metrics.AttributionResult("error")
		return transport.AuditEntry{}, false
	}

	// Entries from different kinds interleave; newest first.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.After(entries[j].At) })

	now := r.Now()
	for _, e := range entries {
		if Matches(e, q, now, p.Window) {
			r.metrics.AttributionResult("matched")
			return e, true
		}
	}
	r.metrics.AttributionResult("unmatched")
	return transport.AuditEntry{}, false
}

// Matches reports whether e satisfies q at time now. An entry exactly window
// old still matches; entries stamped in the future (clock skew) match too.
func Matches(e transport.AuditEntry, q Query, now time.Time, window time.Duration) bool {
	if !slices.Contains(q.Kinds, e.Kind) {
		return false
	}
	if q.TargetID != "" && e.TargetID != q.TargetID {
		return false
	}
	if q.ChannelID != "" && e.ChannelID != q.ChannelID {
		return false
	}
	return now.Sub(e.At) <= window
}

