package modlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"modlog/internal/invites"
	"modlog/internal/transport"
	logx "modlog/pkg/logx"
)

const (
	textIndeterminate  = "Could not determine which invite was used"
	textTrackingOff    = "Invite tracking is disabled (missing Manage Server permission)"
	textLookupFailed   = "Could not determine which invite was used (lookup failed)"
	newAccountDuration = 7 * 24 * time.Hour
)

func (n *Normalizer) onMemberJoin(ctx context.Context, ev Event) []transport.Record {
	e := ev.(MemberJoin)
	m := e.Member
	now := n.Now()

	if m.User.Bot {
		at := n.attribute(ctx, e.GuildID, m.User.ID, transport.AuditBotAdd)
		rec := n.record("Bot Added", transport.ColorGreen, &m.User,
			field("Bot", m.User.Mention()+" ("+m.User.ID+")"),
			field("Added by", at.ActorLabel()),
		)
		rec.Kind = "bot_add"
		return []transport.Record{rec}
	}

	lines := []string{
		field("Member", m.User.Mention()+" ("+m.User.ID+")"),
	}
	if !m.CreatedAt.IsZero() {
		age := now.Sub(m.CreatedAt)
		created := timestamp(m.CreatedAt, "R") + " (" + humanAge(age) + ")"
		if age < newAccountDuration {
			created += " ⚠️ new account"
		}
		lines = append(lines, field("Account created", created))
	}
	lines = append(lines, field("Invite", n.inviteText(ctx, e.GuildID)))
	return []transport.Record{n.record("Member Joined", transport.ColorGreen, &m.User, lines...)}
}

func (n *Normalizer) inviteText(ctx context.Context, guildID string) string {
	if n.invites == nil {
		return textTrackingOff
	}
	res := n.invites.AttributeJoin(ctx, guildID)
	switch res.Status {
	case invites.Found:
		inviter := "Unknown"
		if res.Invite.Inviter != nil {
			inviter = res.Invite.Inviter.Mention()
		}
		uses := fmt.Sprintf("%d", res.Invite.Uses)
		if res.Invite.MaxUses > 0 {
			uses = fmt.Sprintf("%d/%d", res.Invite.Uses, res.Invite.MaxUses)
		}
		return fmt.Sprintf("`%s` by %s (%s uses)", res.Invite.Code, inviter, uses)
	case invites.Disabled:
		return textTrackingOff
	case invites.Failed:
		return textLookupFailed
	default:
		return textIndeterminate
	}
}

// onMemberLeave tells a kick from a voluntary leave. A ban also removes the
// member; the ban handler logs it, so the leave is dropped.
func (n *Normalizer) onMemberLeave(ctx context.Context, ev Event) []transport.Record {
	e := ev.(MemberLeave)
	at := n.attribute(ctx, e.GuildID, e.User.ID, transport.AuditMemberKick, transport.AuditMemberBanAdd)
	if at.Found() && at.Entry.Kind == transport.AuditMemberBanAdd {
		return n.skip(skipBanned)
	}
	who := field("Member", e.User.Mention()+" ("+e.User.Label()+")")
	if at.Found() {
		rec := n.record("Member Kicked", transport.ColorRed, &e.User,
			who,
			field("Kicked by", at.ActorLabel()),
			field("Reason", at.ReasonLabel()),
		)
		rec.Kind = "member_kick"
		return []transport.Record{rec}
	}
	return []transport.Record{n.record("Member Left", transport.ColorRed, &e.User, who)}
}

func (n *Normalizer) onMemberUpdate(ctx context.Context, ev Event) []transport.Record {
	e := ev.(MemberUpdate)
	if e.Before == nil {
		return n.skip(skipPartial)
	}
	before, after := *e.Before, e.After
	user := after.User

	var out []transport.Record
	var lines []string

	if before.Nick != after.Nick {
		lines = append(lines, change("Nickname", before.DisplayName(), after.DisplayName()))
		if prev := n.nicknameHistory(ctx, e.GuildID, user.ID, before.Nick, after.Nick); len(prev) > 0 {
			lines = append(lines, field("Previous nicknames", strings.Join(prev, ", ")))
		}
	}
	added, removed := diffStrings(before.Roles, after.Roles)
	if len(added) > 0 {
		lines = append(lines, field("Roles added", mentionAll(added, roleMention)))
	}
	if len(removed) > 0 {
		lines = append(lines, field("Roles removed", mentionAll(removed, roleMention)))
	}
	if len(lines) > 0 {
		at := n.attribute(ctx, e.GuildID, user.ID, transport.AuditMemberUpdate, transport.AuditMemberRoleUpdate)
		lines = append([]string{field("Member", user.Mention())}, lines...)
		lines = append(lines, field("Updated by", at.ActorLabel()))
		out = append(out, n.record("Member Updated", transport.ColorOrange, &user, lines...))
	}

	if rec, ok := n.timeoutTransition(ctx, e.GuildID, user, before.TimeoutUntil, after.TimeoutUntil); ok {
		out = append(out, rec)
	}
	if len(out) == 0 {
		return n.skip(skipNoChange)
	}
	return out
}

// nicknameHistory records nick and returns the earlier nicknames.
// nicknameHistory records a newly set nickname and returns the earlier ones.
// Clearing a nickname records nothing; the history is shown without the
// nickname that was just removed.
func (n *Normalizer) nicknameHistory(ctx context.Context, guildID, userID, oldNick, newNick string) []string {
	if n.state == nil {
		return nil
	}
	newNick = strings.TrimSpace(newNick)
	if newNick == "" {
		hist := n.state.Nicknames(guildID, userID)
		if len(hist) > 0 && hist[0] == strings.TrimSpace(oldNick) {
			hist = hist[1:]
		}
		return hist
	}
	hist, err := n.state.RecordNickname(ctx, guildID, userID, newNick)
	if err != nil {
		n.log.Warn("nickname history save failed", logx.String("guild", guildID), logx.Err(err))
	}
	if len(hist) > 0 && hist[0] == newNick {
		hist = hist[1:]
	}
	return hist
}

// timeoutTransition detects entering or leaving a timeout. A timeout counts
// as active while its expiry lies in the future.
func (n *Normalizer) timeoutTransition(ctx context.Context, guildID string, user transport.Identity, before, after *time.Time) (transport.Record, bool) {
	now := n.Now()
	was := before != nil && before.After(now)
	is := after != nil && after.After(now)
	switch {
	case !was && is:
		at := n.attribute(ctx, guildID, user.ID, transport.AuditMemberUpdate)
		rec := n.record("Member Timed Out", transport.ColorRed, &user,
			field("Member", user.Mention()),
			field("Until", timestamp(*after, "F")+" ("+timestamp(*after, "R")+")"),
			field("By", at.ActorLabel()),
			field("Reason", at.ReasonLabel()),
		)
		rec.Kind = "member_timeout"
		return rec, true
	case was && !is:
		at := n.attribute(ctx, guildID, user.ID, transport.AuditMemberUpdate)
		rec := n.record("Timeout Ended", transport.ColorGreen, &user,
			field("Member", user.Mention()),
			field("By", at.ActorLabel()),
		)
		rec.Kind = "member_timeout_end"
		return rec, true
	}
	return transport.Record{}, false
}

func (n *Normalizer) onBanAdd(ctx context.Context, ev Event) []transport.Record {
	e := ev.(BanAdd)
	at := n.attribute(ctx, e.GuildID, e.User.ID, transport.AuditMemberBanAdd)
	return []transport.Record{n.record("Member Banned", transport.ColorRed, &e.User,
		field("Member", e.User.Mention()+" ("+e.User.Label()+")"),
		field("Banned by", at.ActorLabel()),
		field("Reason", at.ReasonLabel()),
	)}
}

func (n *Normalizer) onBanRemove(ctx context.Context, ev Event) []transport.Record {
	e := ev.(BanRemove)
	at := n.attribute(ctx, e.GuildID, e.User.ID, transport.AuditMemberBanRemove)
	return []transport.Record{n.record("Member Unbanned", transport.ColorGreen, &e.User,
		field("Member", e.User.Mention()+" ("+e.User.Label()+")"),
		field("Unbanned by", at.ActorLabel()),
	)}
}

// diffStrings returns the elements only in after and only in before, keeping
// their original order.
func diffStrings(before, after []string) (added, removed []string) {
	inBefore := make(map[string]struct{}, len(before))
	for _, s := range before {
		inBefore[s] = struct{}{}
	}
	inAfter := make(map[string]struct{}, len(after))
	for _, s := range after {
		inAfter[s] = struct{}{}
		if _, ok := inBefore[s]; !ok {
			added = append(added, s)
		}
	}
	for _, s := range before {
		if _, ok := inAfter[s]; !ok {
			removed = append(removed, s)
		}
	}
	return added, removed
}

func mentionAll(ids []string, f func(string) string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = f(id)
	}
	return strings.Join(out, ", ")
}
