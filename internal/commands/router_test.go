package commands

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"modlog/internal/transport"
	logx "modlog/pkg/logx"
)

type fakePlatform struct {
	mu       sync.Mutex
	replies  []string
	perms    map[Permission]bool
	channels map[string]string // name -> id, guild "g" only
	users    map[string]transport.Identity
	kicked   []string
	banned   []string
	kickErr  error
	panicky  bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		perms:    map[Permission]bool{},
		channels: map[string]string{"mod-log": "200"},
		users: map[string]transport.Identity{
			"1":   {ID: "1", Name: "invoker"},
			"2":   {ID: "2", Name: "spammer"},
			"999": {ID: "999", Name: "modlog", Bot: true},
		},
	}
}

func (f *fakePlatform) BotID() string { return "999" }

func (f *fakePlatform) Reply(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakePlatform) HasPermission(_, _, _ string, p Permission) bool { return f.perms[p] }

func (f *fakePlatform) ResolveChannel(_ context.Context, guildID, query string) (string, string, error) {
	if f.panicky {
		panic("resolver exploded")
	}
	if guildID != "g" {
		return "", "", ErrNotFound
	}
	if id, ok := MentionID(query); ok {
		for name, cid := range f.channels {
			if cid == id {
				return cid, name, nil
			}
		}
		return "", "", ErrNotFound
	}
	if id, ok := f.channels[strings.TrimPrefix(query, "#")]; ok {
		return id, query, nil
	}
	return "", "", ErrNotFound
}

func (f *fakePlatform) ResolveUser(_ context.Context, query string) (transport.Identity, error) {
	id, ok := MentionID(query)
	if !ok {
		return transport.Identity{}, ErrNotFound
	}
	u, ok := f.users[id]
	if !ok {
		return transport.Identity{}, ErrNotFound
	}
	return u, nil
}

func (f *fakePlatform) Kick(_ context.Context, _, userID, reason string) error {
	if f.kickErr != nil {
		return f.kickErr
	}
	f.kicked = append(f.kicked, userID+":"+reason)
	return nil
}

func (f *fakePlatform) Ban(_ context.Context, _, userID, reason string) error {
	f.banned = append(f.banned, userID+":"+reason)
	return nil
}

func (f *fakePlatform) lastReply(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		t.Fatal("no reply sent")
	}
	return f.replies[len(f.replies)-1]
}

type memChannels map[string]string

func (m memChannels) SetLogChannel(_ context.Context, guildID, channelID string) error {
	m[guildID] = channelID
	return nil
}

func msg(content string) Message {
	return Message{ID: "m", GuildID: "g", ChannelID: "100", Author: transport.Identity{ID: "1", Name: "invoker"}, Content: content}
}

func newTestRouter(p *fakePlatform, ch memChannels) *Router {
	return NewRouter(Options{Platform: p, Channels: ch, Log: logx.Nop()})
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "kick 2", want: []string{"kick", "2"}},
		{in: `ban <@2> "raid   bot" now`, want: []string{"ban", "<@2>", "raid   bot", "now"}},
		{in: `say it\'s`, want: []string{"say", "it's"}},
		{in: "say didn't", want: []string{"say", "didn't"}},
	}
	for _, tt := range tests {
		if got := tokenize(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("tokenize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSkipTokenAndFreeText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, rest, reason string
	}{
		{in: "", rest: "", reason: ""},
		{in: "<@2>", rest: "", reason: ""},
		{in: "  <@2>   it's   fine ", rest: "it's   fine", reason: "it's   fine"},
		{in: `"a b" c`, rest: "c", reason: "c"},
		{in: `2 "spamming links"`, rest: `"spamming links"`, reason: "spamming links"},
		{in: `2 said "hi" twice`, rest: `said "hi" twice`, reason: `said "hi" twice`},
	}
	for _, tt := range tests {
		rest := skipToken(tt.in)
		if rest != tt.rest {
			t.Errorf("skipToken(%q) = %q, want %q", tt.in, rest, tt.rest)
		}
		if got := freeText(rest); got != tt.reason {
			t.Errorf("freeText(%q) = %q, want %q", rest, got, tt.reason)
		}
	}
}

func TestMentionID(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"<@123>":  "123",
		"<@!123>": "123",
		"<#55>":   "55",
		"77":      "77",
		"<@&5>":   "",
		"bob":     "",
		"<:e:1>":  "",
	}
	for in, want := range tests {
		got, ok := MentionID(in)
		if got != want || ok != (want != "") {
			t.Errorf("MentionID(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
}

func TestDispatchIgnoresNonCommands(t *testing.T) {
	t.Parallel()
	p := newFakePlatform()
	r := newTestRouter(p, memChannels{})

	bot := msg("!help")
	bot.Author.Bot = true
	dm := msg("!help")
	dm.GuildID = ""
	for _, m := range []Message{msg("hello"), msg("!unknown"), msg("!"), bot, dm} {
		if r.Dispatch(context.Background(), m) {
			t.Errorf("Dispatch(%+v) handled", m)
		}
	}
	if len(p.replies) != 0 {
		t.Fatalf("unexpected replies: %v", p.replies)
	}
}

func TestSetLog(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		admin   bool
		want    string
		reply   string
	}{
		{name: "current channel", content: "!setlog", admin: true, want: "100", reply: "<#100>"},
		{name: "by mention", content: "!setlog <#200>", admin: true, want: "200", reply: "<#200>"},
		{name: "by name", content: "!SETLOG mod-log", admin: true, want: "200", reply: "<#200>"},
		{name: "unknown channel", content: "!setlog nowhere", admin: true, reply: "Could not find"},
		{name: "not admin", content: "!setlog", reply: "Administrator"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newFakePlatform()
			p.perms[PermAdministrator] = tt.admin
			ch := memChannels{}
			r := newTestRouter(p, ch)
			if !r.Dispatch(context.Background(), msg(tt.content)) {
				t.Fatal("not dispatched")
			}
			if got := ch["g"]; got != tt.want {
				t.Fatalf("log channel = %q, want %q", got, tt.want)
			}
			if reply := p.lastReply(t); !strings.Contains(reply, tt.reply) {
				t.Fatalf("reply = %q, want it to contain %q", reply, tt.reply)
			}
		})
	}
}

func TestKickAndBan(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		kicked  []string
		banned  []string
		reply   string
	}{
		{name: "kick with reason", content: `!kick <@2> "spamming links"`, kicked: []string{"2:spamming links"}, reply: "Kicked **spammer (2)**"},
		{name: "kick default reason", content: "!kick 2", kicked: []string{"2:" + defaultReason}, reply: defaultReason},
		{name: "ban multi-word reason", content: "!ban <@!2> raid bot", banned: []string{"2:raid bot"}, reply: "Banned"},
		{name: "apostrophe in reason", content: "!ban <@2> didn't follow the rules", banned: []string{"2:didn't follow the rules"}, reply: "Reason: didn't follow the rules"},
		{name: "reason spacing kept", content: "!kick 2 spam   and   flood", kicked: []string{"2:spam   and   flood"}, reply: "Reason: spam   and   flood"},
		{name: "missing target", content: "!kick", reply: "Usage"},
		{name: "unknown target", content: "!ban 404", reply: "Could not find that user"},
		{name: "self", content: "!kick <@1>", reply: "cannot kick yourself"},
		{name: "bot", content: "!ban 999", reply: "cannot ban myself"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newFakePlatform()
			p.perms[PermKickMembers] = true
			p.perms[PermBanMembers] = true
			r := newTestRouter(p, memChannels{})
			r.Dispatch(context.Background(), msg(tt.content))
			if !reflect.DeepEqual(p.kicked, tt.kicked) || !reflect.DeepEqual(p.banned, tt.banned) {
				t.Fatalf("kicked=%v banned=%v", p.kicked, p.banned)
			}
			if reply := p.lastReply(t); !strings.Contains(reply, tt.reply) {
				t.Fatalf("reply = %q, want it to contain %q", reply, tt.reply)
			}
		})
	}
}

func TestKickRequiresPermission(t *testing.T) {
	t.Parallel()
	p := newFakePlatform()
	r := newTestRouter(p, memChannels{})
	r.Dispatch(context.Background(), msg("!kick 2"))
	if len(p.kicked) != 0 {
		t.Fatalf("kicked without permission: %v", p.kicked)
	}
	if reply := p.lastReply(t); !strings.Contains(reply, "Kick Members") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestPlatformFailureGetsGenericReply(t *testing.T) {
	t.Parallel()
	p := newFakePlatform()
	p.perms[PermKickMembers] = true
	p.kickErr = errors.New("50013: Missing Permissions")
	var logs bytes.Buffer
	r := NewRouter(Options{Platform: p, Channels: memChannels{}, Log: logx.NewWriter(&logs, "debug")})
	r.Dispatch(context.Background(), msg("!kick 2"))
	if reply := p.lastReply(t); reply != genericFailure {
		t.Fatalf("reply = %q", reply)
	}
	out := logs.String()
	for _, want := range []string{`"level":"warn"`, `"message":"command failed"`, `"cmd":"kick"`, "Missing Permissions"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output lacks %s:\n%s", want, out)
		}
	}
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	t.Parallel()
	p := newFakePlatform()
	p.perms[PermAdministrator] = true
	p.panicky = true
	r := newTestRouter(p, memChannels{})
	if !r.Dispatch(context.Background(), msg("!setlog mod-log")) {
		t.Fatal("not dispatched")
	}
	if reply := p.lastReply(t); reply != genericFailure {
		t.Fatalf("reply = %q", reply)
	}
}

func TestHelpListsCommandsWithPrefix(t *testing.T) {
	t.Parallel()
	p := newFakePlatform()
	r := newTestRouter(p, memChannels{})
	r.SetPrefix("?")
	r.Dispatch(context.Background(), msg("?h"))
	reply := p.lastReply(t)
	for _, want := range []string{"`?setlog", "`?kick", "`?ban", "`?help", "requires Administrator"} {
		if !strings.Contains(reply, want) {
			t.Errorf("help missing %q:\n%s", want, reply)
		}
	}
}
