package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"modlog/internal/eventbus"
	rtsup "modlog/internal/runtime/supervisor"
	logx "modlog/pkg/logx"

	"github.com/robfig/cron/v3"
)

const defaultTimeout = time.Minute

var (
	ErrJobNotFound = errors.New("job not found")
	ErrNotStarted  = errors.New("scheduler not started")
)

type job struct {
	Job
	sched   cron.Schedule
	spec    string
	entryID cron.EntryID
	running atomic.Bool
	runs    atomic.Uint64

	mu      sync.Mutex
	lastErr string
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	sup    *rtsup.Supervisor
	jobs   []*job

	// Now is the clock for startup spread; tests may override it.
	Now func() time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		Now:    time.Now,
	}
}

// Add registers j, replacing any job with the same name.
func (s *Service) Add(j Job) error {
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("job name required")
	}
	if j.Run == nil {
		return fmt.Errorf("job %s: run func required", j.Name)
	}
	if j.Timeout <= 0 {
		j.Timeout = defaultTimeout
	}
	ps, err := ParseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	jb := &job{Job: j}
	switch ps.Kind {
	case SpecCron:
		sched, err := s.parser.Parse(ps.Cron)
		if err != nil {
			return fmt.Errorf("job %s: invalid cron %q: %w", j.Name, ps.Cron, err)
		}
		jb.sched, jb.spec = sched, ps.Cron
	case SpecInterval:
		jb.sched, _ = makeIntervalScheduleWithSpread(ps.Every, s.Now(), j.Name)
		jb.spec = "@every " + ps.Every.String()
	}

	for i, old := range s.jobs {
		if old.Name == j.Name {
			if s.c != nil {
				s.c.Remove(old.entryID)
			}
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			break
		}
	}
	s.jobs = append(s.jobs, jb)
	if s.c != nil {
		s.registerLocked(jb)
	}
	s.log.Debug("job registered", logx.String("name", j.Name), logx.String("spec", jb.spec), logx.Duration("timeout", j.Timeout))
	return nil
}

func (s *Service) registerLocked(jb *job) {
	jb.entryID = s.c.Schedule(jb.sched, cron.FuncJob(func() { s.trigger(jb) }))
}

// Apply updates the timezone, restarting cron when it changed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || !changed {
		return
	}
	old := s.c
	go old.Stop()
	s.startCronLocked()
	s.log.Info("timezone changed; schedules re-registered", logx.String("tz", s.loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, jb := range s.jobs {
		s.registerLocked(jb)
	}
	s.c.Start()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.startCronLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop halts triggering and waits for in-flight runs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, sup := s.c, s.sup
	s.c, s.sup = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("jobs still running at stop", logx.Err(err))
	}
	s.log.Info("service stopped")
}

// RunNow triggers name immediately, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	var found *job
	for _, jb := range s.jobs {
		if jb.Name == name {
			found = jb
			break
		}
	}
	running := s.sup != nil
	s.mu.Unlock()
	if found == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !running {
		return ErrNotStarted
	}
	s.trigger(found)
	return nil
}

func (s *Service) trigger(jb *job) {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if !jb.running.CompareAndSwap(false, true) {
		s.log.Debug("job still running; skipped", logx.String("name", jb.Name))
		s.publish(EventRunSkipped, RunEvent{Name: jb.Name, Started: time.Now()})
		return
	}
	sup.Go("job."+jb.Name, func(ctx context.Context) error {
		defer jb.running.Store(false)
		return s.run(ctx, jb)
	})
}

func (s *Service) run(ctx context.Context, jb *job) (err error) {
	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, jb.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		took := time.Since(start)
		jb.runs.Add(1)
		ev := RunEvent{Name: jb.Name, Started: start, Duration: took}
		jb.mu.Lock()
		jb.lastErr = ""
		if err != nil {
			jb.lastErr = err.Error()
		}
		jb.mu.Unlock()
		if err != nil {
			ev.Error = err.Error()
			s.log.Warn("job failed", logx.String("name", jb.Name), logx.Duration("took", took), logx.Err(err))
			s.publish(EventRunFailed, ev)
			err = nil
			return
		}
		s.log.Debug("job done", logx.String("name", jb.Name), logx.Duration("took", took))
		s.publish(EventRunOK, ev)
	}()
	return jb.Run(rctx)
}

func (s *Service) publish(typ string, ev RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

// Jobs lists registered jobs with their next trigger time.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, jb := range s.jobs {
		info := JobInfo{Name: jb.Name, Spec: jb.spec, Timeout: jb.Timeout, Runs: jb.runs.Load()}
		if s.c != nil {
			e := s.c.Entry(jb.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		jb.mu.Lock()
		info.LastErr = jb.lastErr
		jb.mu.Unlock()
		out = append(out, info)
	}
	return out
}
