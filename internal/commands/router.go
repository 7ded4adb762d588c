// Package commands implements the prefix-triggered moderation commands.
//
// The router parses a message, looks the command up, wraps the handler in the
// middleware chain (panic recovery, request log, permission check, timeout)
// and answers failures in the invoking channel. Nothing here knows about
// discordgo; the adapter satisfies Platform.
package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"modlog/internal/metrics"
	logx "modlog/pkg/logx"

	"github.com/google/uuid"
)

const (
	DefaultPrefix  = "!"
	defaultTimeout = 15 * time.Second
	genericFailure = "Something went wrong while running that command."
)

type Options struct {
	Prefix   string
	Platform Platform
	Channels LogChannels
	Metrics  *metrics.Metrics
	Log      logx.Logger
	Timeout  time.Duration
}

type Router struct {
	mu     sync.RWMutex
	prefix string
	byName map[string]*Command
	order  []*Command

	platform Platform
	channels LogChannels
	metrics  *metrics.Metrics
	log      logx.Logger
	timeout  time.Duration
}

// NewRouter returns a router with setlog, kick, ban and help registered.
func NewRouter(opts Options) *Router {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	r := &Router{
		byName:   map[string]*Command{},
		platform: opts.Platform,
		channels: opts.Channels,
		metrics:  opts.Metrics,
		log:      opts.Log,
		timeout:  opts.Timeout,
	}
	r.SetPrefix(opts.Prefix)
	r.Register(r.builtins()...)
	return r
}

// SetPrefix changes the trigger prefix. Safe to call during hot-reload.
func (r *Router) SetPrefix(p string) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = DefaultPrefix
	}
	r.mu.Lock()
	r.prefix = p
	r.mu.Unlock()
}

func (r *Router) Prefix() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prefix
}

// Register adds commands. A later command with the same name or alias wins.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		cc := c
		r.order = append(r.order, &cc)
		r.byName[strings.ToLower(cc.Name)] = &cc
		for _, a := range cc.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				r.byName[a] = &cc
			}
		}
	}
}

// Commands lists registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	seen := map[string]bool{}
	for _, c := range r.order {
		if seen[c.Name] || r.byName[strings.ToLower(c.Name)] != c {
			continue
		}
		seen[c.Name] = true
		out = append(out, *c)
	}
	return out
}

// Dispatch runs the command in msg, if any, and reports whether msg was a
// known command. Bots, direct messages and unknown commands are ignored.
func (r *Router) Dispatch(ctx context.Context, msg Message) bool {
	if msg.Author.Bot || msg.GuildID == "" {
		return false
	}
	r.mu.RLock()
	prefix := r.prefix
	r.mu.RUnlock()

	name, args, raw, ok := splitCommand(prefix, msg.Content)
	if !ok {
		return false
	}
	r.mu.RLock()
	cmd, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Msg:      msg,
		Command:  cmd.Name,
		Args:     args,
		Raw:      raw,
		ReqID:    rid,
		Platform: r.platform,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.String("cmd", cmd.Name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log, r.metrics),
		MWRequire(cmd.Requires),
		MWTimeout(timeout),
	)
	if err := final(ctx, req); err != nil {
		text := genericFailure
		var ue *UserError
		if errors.As(err, &ue) {
			text = ue.Msg
		}
		if rerr := req.Reply(ctx, text); rerr != nil {
			req.Logger.Warn("reply failed", logx.Err(rerr))
		}
	}
	return true
}
