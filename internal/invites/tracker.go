// Package invites infers which invite a new member used by diffing invite use
// counts before and after the join.
//
// Two joins landing before either refresh can both compare against the same
// cached counts; the second one then reports the first one's invite or
// nothing. This is accepted.
package invites

import (
	"context"
	"sync"

	"modlog/internal/metrics"
	"modlog/internal/transport"
	logx "modlog/pkg/logx"
)

type Status int

const (
	// Found means Invite holds the consumed invite.
	Found Status = iota
	// Indeterminate means no invite's use count increased.
	Indeterminate
	// Disabled means the guild is not tracked (missing Manage Server).
	Disabled
	// Failed means the live invite list could not be fetched.
	Failed
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Indeterminate:
		return "indeterminate"
	case Disabled:
		return "disabled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Result struct {
	Status Status
	Invite transport.Invite
}

// Tracker owns the per-guild invite use snapshot. A guild without a snapshot
// is untracked.
type Tracker struct {
	src     transport.InviteSource
	log     logx.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	snaps map[string]map[string]int
}

func NewTracker(src transport.InviteSource, log logx.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		src:     src,
		log:     log,
		metrics: m,
		snaps:   map[string]map[string]int{},
	}
}

// Prime builds the snapshot for guildID. Without the capability to read
// invites the guild stays untracked; that is not an error.
func (t *Tracker) Prime(ctx context.Context, guildID string) error {
	if !t.src.CanManageInvites(guildID) {
		t.mu.Lock()
		delete(t.snaps, guildID)
		t.mu.Unlock()
		t.log.Debug("invite tracking disabled", logx.String("guild", guildID))
		return nil
	}
	live, err := t.src.GuildInvites(ctx, guildID)
	if err != nil {
		return err
	}
	t.store(guildID, live)
	t.log.Debug("invite snapshot primed", logx.String("guild", guildID), logx.Int("invites", len(live)))
	return nil
}

// Refresh re-snapshots a tracked guild (after invite create/delete and on the
// resync schedule). Untracked guilds are primed instead, which picks up a
// permission granted since startup.
func (t *Tracker) Refresh(ctx context.Context, guildID string) error {
	return t.Prime(ctx, guildID)
}

// AttributeJoin compares live invite counts to the snapshot and returns the
// first invite whose count grew. The snapshot is replaced by the live counts
// whatever the outcome.
func (t *Tracker) AttributeJoin(ctx context.Context, guildID string) Result {
	res := t.attributeJoin(ctx, guildID)
	t.metrics.InviteStatus(res.Status.String())
	return res
}

func (t *Tracker) attributeJoin(ctx context.Context, guildID string) Result {
	t.mu.Lock()
	cached, ok := t.snaps[guildID]
	t.mu.Unlock()
	if !ok {
		return t.primeLate(ctx, guildID)
	}

	live, err := t.src.GuildInvites(ctx, guildID)
	if err != nil {
		t.log.Warn("invite fetch failed", logx.String("guild", guildID), logx.Err(err))
		return Result{Status: Failed}
	}
	t.store(guildID, live)

	for _, inv := range live {
		if inv.Uses > cached[inv.Code] {
			return Result{Status: Found, Invite: inv}
		}
	}
	return Result{Status: Indeterminate}
}

// Forget drops the snapshot of a guild the bot left.
func (t *Tracker) Forget(guildID string) {
	t.mu.Lock()
	delete(t.snaps, guildID)
	t.mu.Unlock()
}

// primeLate handles a join in a guild without a snapshot. Without Manage
// Server tracking is disabled. With it, the earlier prime failed: there is no
// baseline for this join, so it is reported as failed and the live list
// becomes the snapshot for the next one.
func (t *Tracker) primeLate(ctx context.Context, guildID string) Result {
	if !t.src.CanManageInvites(guildID) {
		return Result{Status: Disabled}
	}
	live, err := t.src.GuildInvites(ctx, guildID)
	if err != nil {
		t.log.Warn("invite fetch failed", logx.String("guild", guildID), logx.Err(err))
		return Result{Status: Failed}
	}
	t.store(guildID, live)
	t.log.Info("invite snapshot primed on join", logx.String("guild", guildID), logx.Int("invites", len(live)))
	return Result{Status: Failed}
}

// Tracked reports whether guildID has a snapshot.
func (t *Tracker) Tracked(guildID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.snaps[guildID]
	return ok
}

func (t *Tracker) store(guildID string, live []transport.Invite) {
	snap := make(map[string]int, len(live))
	for _, inv := range live {
		snap[inv.Code] = inv.Uses
	}
	t.mu.Lock()
	t.snaps[guildID] = snap
	t.mu.Unlock()
}
