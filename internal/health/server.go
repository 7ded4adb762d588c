// Package health serves the liveness page and Prometheus metrics, and tells
// systemd when the bot is ready.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "modlog/internal/runtime/supervisor"
	"modlog/internal/task/scheduler"
	logx "modlog/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultAddr = ":3000"

// Status is the gateway connection flag.
type Status interface {
	Online() bool
}

// Jobs is the maintenance scheduler as seen by /status and the trigger
// route.
type Jobs interface {
	Jobs() []scheduler.JobInfo
	RunNow(name string) error
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Options struct {
	Status   Status
	Gatherer prometheus.Gatherer
	// Supervisors feeds /status with goroutine stats. Optional.
	Supervisors func() map[string]rtsup.Snapshot
	// Jobs adds scheduled jobs to /status and enables POST /jobs/{name}/run.
	Jobs Jobs
	Log  logx.Logger
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	opt Options
	log logx.Logger

	srv *http.Server
	sup *rtsup.Supervisor

	readyOnce sync.Once
}

func New(cfg Config, opt Options) *Service {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Gatherer == nil {
		opt.Gatherer = prometheus.DefaultGatherer
	}
	return &Service{cfg: cfg, opt: opt, log: log}
}

// Handler builds the router.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Get("/", s.handleRoot)
	r.Get("/status", s.handleStatus)
	if s.opt.Jobs != nil {
		r.Post("/jobs/{name}/run", s.handleRunJob)
	}
	r.Handle("/metrics", promhttp.HandlerFor(s.opt.Gatherer, promhttp.HandlerOpts{}))
	return r
}

func (s *Service) online() bool {
	return s.opt.Status != nil && s.opt.Status.Online()
}

func (s *Service) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.online() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("initializing"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("online"))
}

type statusBody struct {
	Online      bool                      `json:"online"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors,omitempty"`
	Jobs        []scheduler.JobInfo       `json:"jobs,omitempty"`
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	body := statusBody{Online: s.online()}
	if s.opt.Supervisors != nil {
		body.Supervisors = s.opt.Supervisors()
	}
	if s.opt.Jobs != nil {
		body.Jobs = s.opt.Jobs.Jobs()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// handleRunJob starts a maintenance job out of schedule. The run itself is
// asynchronous; its outcome shows up in /status.
func (s *Service) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.opt.Jobs.RunNow(name)
	switch {
	case err == nil:
		s.log.Info("job triggered over http", logx.String("name", name), logx.String("remote", r.RemoteAddr))
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, scheduler.ErrJobNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

// Start serves in the background and restarts the listener if it dies.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("health listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cur.ReadTimeout,
		WriteTimeout:      cur.WriteTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("health server started", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("health server exited unexpectedly")
	}
	return err
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup = nil, nil
	s.mu.Unlock()

	if sup == nil {
		return
	}
	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	_ = sup.Wait(ctx)
	s.log.Info("health server stopped")
}

// Supervisor returns the internal supervisor, nil before Start.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// NotifyReady tells systemd the service is up. Only the first call sends;
// outside systemd it does nothing.
func (s *Service) NotifyReady() {
	s.readyOnce.Do(func() {
		sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
		switch {
		case err != nil:
			s.log.Warn("sd_notify failed", logx.Err(err))
		case sent:
			s.log.Info("notified systemd ready")
		}
	})
}
