// Package app wires the bot together and owns its lifecycle: start order,
// config hot reload fan-out and bounded shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"modlog/internal/audit"
	"modlog/internal/commands"
	"modlog/internal/config"
	"modlog/internal/eventbus"
	"modlog/internal/health"
	"modlog/internal/invites"
	"modlog/internal/metrics"
	"modlog/internal/modlog"
	"modlog/internal/notifier"
	rtsup "modlog/internal/runtime/supervisor"
	"modlog/internal/state"
	"modlog/internal/storage"
	"modlog/internal/task/scheduler"
	"modlog/internal/transport/discord"
	logx "modlog/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	resyncTimeout = 2 * time.Minute
	flushTimeout  = 30 * time.Second
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	state *state.Store

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	discord  *discord.Adapter
	resolver *audit.Resolver
	invites  *invites.Tracker
	emitter  *modlog.Emitter
	notif    *notifier.Service
	router   *commands.Router
	health   *health.Service
	sched    *scheduler.Service
}

// New loads config and state and builds every component. Nothing runs until
// Start.
func New(ctx context.Context, env *config.Env, cfgPath string) (*App, error) {
	if env == nil {
		return nil, config.ErrMissingToken
	}
	if strings.TrimSpace(cfgPath) == "" {
		cfgPath = env.ConfigPath
	}
	bootLog := logx.NewConsole("INFO")

	cfgm := config.NewManager(cfgPath)
	cfgm.SetLogger(bootLog.With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	healthAddr, err := config.HealthAddr(cfg, env)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	ad, err := discord.New(discord.Config{
		Token:        env.Token,
		MessageCache: cfg.MessageCacheOrDefault(),
	}, bootLog.With(logx.String("comp", "discord")), m)
	if err != nil {
		return nil, err
	}

	// The ops-channel sink posts through the adapter, so logging comes up
	// after it.
	logSvc, log := logx.New(cfg.LogConfig(), ad)
	ad.SetLogger(log.With(logx.String("comp", "discord")))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	st, err := state.Load(ctx, store, state.Options{
		MaxNicknames: cfg.MaxNicknames(),
		Log:          log.With(logx.String("comp", "state")),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()

	resolver := audit.NewResolver(ad, auditPolicy(cfg), log.With(logx.String("comp", "audit")), m)
	tracker := invites.NewTracker(ad, log.With(logx.String("comp", "invites")), m)

	ncfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, notifier.Options{
		Sender:  ad,
		Evictor: st,
		Bus:     bus,
		Metrics: m,
		Log:     log.With(logx.String("comp", "delivery")),
	})

	norm := modlog.NewNormalizer(modlog.Options{
		Resolver: resolver,
		Invites:  tracker,
		State:    st,
		Metrics:  m,
		Log:      log.With(logx.String("comp", "modlog")),
	})
	emitter := modlog.NewEmitter(norm, st, notif, log.With(logx.String("comp", "modlog")), m)

	router := commands.NewRouter(commands.Options{
		Prefix:   cfg.PrefixOrDefault(),
		Platform: ad,
		Channels: st,
		Metrics:  m,
		Log:      log.With(logx.String("comp", "commands")),
	})

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		state:    st,
		registry: reg,
		metrics:  m,
		discord:  ad,
		resolver: resolver,
		invites:  tracker,
		emitter:  emitter,
		notif:    notif,
		router:   router,
		sched:    scheduler.New(schedulerConfig(cfg), log.With(logx.String("comp", "scheduler")), bus),
	}
	a.health = health.New(health.Config{Addr: healthAddr}, health.Options{
		Status:      ad,
		Gatherer:    reg,
		Supervisors: a.supervisorSnapshots,
		Jobs:        a.sched,
		Log:         log.With(logx.String("comp", "health")),
	})

	ad.Bind(discord.Hooks{
		Events:   emitter,
		Commands: router,
		Invites:  tracker,
		OnReady:  a.health.NotifyReady,
	})

	if err := a.registerJobs(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) registerJobs(cfg *config.Config) error {
	if err := a.sched.Add(scheduler.Job{
		Name:     "invites.resync",
		Schedule: cfg.ResyncSpec(),
		Timeout:  resyncTimeout,
		Run: func(ctx context.Context) error {
			return resyncInvites(ctx, a.discord.GuildIDs(), a.invites)
		},
	}); err != nil {
		return err
	}
	return a.sched.Add(scheduler.Job{
		Name:     "state.flush",
		Schedule: cfg.FlushSpec(),
		Timeout:  flushTimeout,
		Run:      a.state.Flush,
	})
}

// resyncInvites re-primes every guild so drift from missed gateway events
// does not misattribute joins.
func resyncInvites(ctx context.Context, guilds []string, tr *invites.Tracker) error {
	var errs []error
	for _, g := range guilds {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := tr.Refresh(ctx, g); err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", g, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) supervisorSnapshots() map[string]rtsup.Snapshot {
	out := map[string]rtsup.Snapshot{}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if sup := a.notif.Supervisor(); sup != nil {
		out["delivery"] = sup.Snapshot()
	}
	if sup := a.health.Supervisor(); sup != nil {
		out["health"] = sup.Snapshot()
	}
	return out
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.notif.Start(c)
	a.health.Start(c)
	a.sched.Start(c)

	events, unsub := a.bus.Subscribe(128, "delivery.", "task.run.")
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				if !a.log.Enabled(logx.LevelDebug) {
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if err := a.discord.Open(c); err != nil {
		return err
	}
	a.log.Info("app started")
	return nil
}

// applyConfig pushes a reloaded config into the components that support hot
// changes and warns about the rest.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	changed, attrs, restart := config.SummarizeChange(oldCfg, newCfg)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if a.logs != nil {
		a.logs.Apply(newCfg.LogConfig())
	}
	if a.resolver != nil {
		a.resolver.SetPolicy(auditPolicy(newCfg))
	}
	if a.notif != nil {
		if ncfg, err := mapDeliveryConfig(newCfg); err != nil {
			a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
	}
	if a.router != nil {
		a.router.SetPrefix(newCfg.PrefixOrDefault())
	}
	if a.state != nil {
		a.state.SetMaxNicknames(newCfg.MaxNicknames())
	}
	if a.sched != nil {
		a.sched.Apply(schedulerConfig(newCfg))
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Gateway first so no new events reach delivery, storage last.
	a.step(ctx, "discord", 2*time.Second, func(context.Context) error { return a.discord.Close() })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "delivery", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "health", time.Second, func(c context.Context) error { a.health.Stop(c); return nil })
	a.step(ctx, "state", time.Second, a.state.Flush)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max (and the caller's deadline). A
// step that overruns is abandoned and reported when it eventually finishes.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
