package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"modlog/internal/eventbus"
	"modlog/internal/metrics"
	rtsup "modlog/internal/runtime/supervisor"
	"modlog/internal/transport"
	logx "modlog/pkg/logx"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

var (
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery stopped")
)

const sendTimeout = 10 * time.Second

type job struct {
	guildID   string
	channelID string
	rec       transport.Record
}

// Service implements the delivery pipeline:
// queue + worker pool + rate limit + retry + dedup + eviction.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	sender  transport.Sender
	evictor Evictor
	bus     eventbus.Bus
	metrics *metrics.Metrics

	cfg     Config
	limiter *rate.Limiter
	dedup   *cache.Cache

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
}

type Options struct {
	Sender  transport.Sender
	Evictor Evictor
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	Log     logx.Logger
}

func New(cfg Config, opts Options) *Service {
	s := &Service{
		sender:  opts.Sender,
		evictor: opts.Evictor,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		log:     opts.Log,
		dedup:   cache.New(cache.NoExpiration, time.Minute),
	}
	s.applyLocked(cfg)
	return s
}

// Apply changes the rate, retry and dedup knobs. Workers and queue size are
// fixed once started.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Supervisor returns the worker supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches the workers. It is idempotent. Workers are not tied to
// ctx cancellation: they run until Stop has drained the queue.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log))
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("delivery.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			if c.Err() != nil || s.stopping() {
				return nil
			}
			return errors.New("delivery worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

func (s *Service) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.accepting
}

// Stop stops intake and drains the queue until ctx is done. Whatever is
// still queued at that point is abandoned.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// In-flight Deliver calls finish before the queue closes.
	s.sendWG.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil && errors.Is(err, ctx.Err()) {
		s.log.Warn("delivery drain timed out", logx.Int("pending", len(q)))
		sup.Cancel()
	}

	s.mu.Lock()
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()
}

// Deliver enqueues rec for channelID. A duplicate inside the dedup window is
// dropped silently.
func (s *Service) Deliver(ctx context.Context, guildID, channelID string, rec transport.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	j := job{guildID: guildID, channelID: channelID, rec: rec}
	if window > 0 {
		if err := s.dedup.Add(dedupKey(channelID, rec), struct{}{}, window); err != nil {
			s.metrics.DeliveryResult("deduped")
			s.publish(EventDeduped, j, 0, nil)
			return nil
		}
	}

	select {
	case q <- j:
		return nil
	default:
		s.metrics.DeliveryResult("dropped")
		s.publish(EventDropped, j, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.send(ctx, j)
		}
	}
}

func (s *Service) send(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil {
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryBase
	bo.MaxInterval = cfg.RetryMaxDelay
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.RetryMax)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if err := lim.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		err := sender.SendRecord(callCtx, j.channelID, j.rec)
		if errors.Is(err, transport.ErrDestinationUnreachable) {
			return backoff.Permanent(err)
		}
		if err != nil {
			s.log.Debug("send failed", logx.String("channel", j.channelID), logx.Int("attempt", attempts), logx.Err(err))
		}
		return err
	}, policy)

	switch {
	case err == nil:
		s.metrics.DeliveryResult("sent")
		s.publish(EventSent, j, attempts, nil)
	case errors.Is(err, transport.ErrDestinationUnreachable):
		s.metrics.DeliveryResult("unreachable")
		s.evict(ctx, j, err)
	default:
		s.metrics.DeliveryResult("failed")
		s.log.Warn("record delivery failed",
			logx.String("guild", j.guildID),
			logx.String("channel", j.channelID),
			logx.String("record_id", j.rec.ID),
			logx.Int("attempts", attempts),
			logx.Err(err),
		)
		s.publish(EventFailed, j, attempts, err)
	}
}

// evict drops the guild's log channel. Only the call that actually removed
// it logs and publishes.
func (s *Service) evict(ctx context.Context, j job, cause error) {
	if s.evictor == nil {
		return
	}
	removed, err := s.evictor.EvictLogChannel(context.WithoutCancel(ctx), j.guildID, j.channelID)
	if err != nil {
		s.log.Error("persist eviction", logx.String("guild", j.guildID), logx.Err(err))
	}
	if !removed {
		return
	}
	s.metrics.Evicted()
	s.log.Warn("log channel unreachable, destination removed",
		logx.String("guild", j.guildID),
		logx.String("channel", j.channelID),
		logx.Err(cause),
	)
	s.publish(EventEvicted, j, 1, cause)
}

func (s *Service) publish(typ string, j job, attempts int, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := DeliveryEvent{
		GuildID:   j.guildID,
		ChannelID: j.channelID,
		RecordID:  j.rec.ID,
		Kind:      j.rec.Kind,
		Attempts:  attempts,
		At:        now,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func dedupKey(channelID string, rec transport.Record) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(channelID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(rec.Title))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(rec.Body))
	return fmt.Sprintf("%x", h.Sum64())
}
