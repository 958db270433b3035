package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chimed/pkg/logx"
)

type Config struct {
	Enabled    bool
	QueueSize  int
	RatePerSec int
}

// Service is an async notification pipeline: bounded queue, one worker,
// token-bucket rate limit. A full queue drops the notification with a
// warning; delivery never blocks or fails the poll loop.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	sinks   []Sink
	limiter *rate.Limiter

	queue     chan Notification
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, sinks []Sink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, sinks: sinks}
	s.applyLocked(cfg)
	return s
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	s.cfg = cfg
	// Burst = rate per sec so a burst of simultaneous firings doesn't stall.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && len(s.sinks) > 0
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return // already running
	}
	if !s.cfg.Enabled || len(s.sinks) == 0 {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.queue = make(chan Notification, s.cfg.QueueSize)

	queue := s.queue
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.worker(runCtx, queue)
	}()
	s.log.Info("notifier started", logx.Int("sinks", len(s.sinks)), logx.Int("queue", s.cfg.QueueSize))
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.queue = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.workerWG.Wait()
}

// Publish enqueues a notification without blocking. A stopped or disabled
// service, or a full queue, drops it.
func (s *Service) Publish(n Notification) {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return
	}
	select {
	case queue <- n:
	default:
		s.log.Warn("notification dropped (queue full)", logx.String("task", n.TaskName))
	}
}

func (s *Service) worker(ctx context.Context, queue <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-queue:
			if !ok {
				return
			}
			s.mu.Lock()
			limiter := s.limiter
			sinks := s.sinks
			s.mu.Unlock()

			if err := limiter.Wait(ctx); err != nil {
				return
			}
			for _, sink := range sinks {
				sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				err := sink.Send(sctx, n)
				cancel()
				if err != nil {
					s.log.Warn("notification send failed",
						logx.String("sink", sink.Name()),
						logx.String("task", n.TaskName),
						logx.Err(err))
				}
			}
		}
	}
}
