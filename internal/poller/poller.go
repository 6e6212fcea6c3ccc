// Package poller drives the completion detector on a cron schedule and
// hands every detected event to the registered consumers.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"matchcall/internal/domain"
	"matchcall/internal/eventbus"
	"matchcall/internal/metrics"
	"matchcall/internal/runtime/supervisor"
	logx "matchcall/pkg/logx"
)

const (
	DefaultSchedule        = "@every 1m"
	DefaultTimeout         = 50 * time.Second
	DefaultDeliveryTimeout = 3 * time.Minute
	DefaultBackoffMax      = 8

	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultBackoff = "backoff"
	ResultBusy    = "busy"
)

var ErrNotStarted = errors.New("poller not started")

type Config struct {
	Schedule        string
	Timeout         time.Duration
	DeliveryTimeout time.Duration
	// BackoffMax caps how many cycles are skipped after the binding list
	// could not be read.
	BackoffMax int
	RunOnStart bool
}

// Detector is the part of detector.Detector the poller drives.
type Detector interface {
	Poll(ctx context.Context) ([]domain.MatchCompletedEvent, error)
}

// HandlerFunc consumes one event. It runs on its own goroutine.
type HandlerFunc func(ctx context.Context, ev domain.MatchCompletedEvent)

// Status describes the most recent cycle.
type Status struct {
	LastRun    time.Time `json:"last_run"`
	LastResult string    `json:"last_result"`
	LastEvents int       `json:"last_events"`
	LastError  string    `json:"last_error,omitempty"`
	SkipCycles int       `json:"skip_cycles"`
	Failures   int       `json:"failures"`
}

type Service struct {
	mu       sync.Mutex
	cfg      Config
	det      Detector
	bus      eventbus.Bus
	log      logx.Logger
	metrics  *metrics.Pipeline
	parser   cron.Parser
	c        *cron.Cron
	sup      *supervisor.Supervisor
	handlers []HandlerFunc
	status   Status
	running  atomic.Bool
}

func New(cfg Config, det Detector, bus eventbus.Bus, log logx.Logger, m *metrics.Pipeline) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     normalizeConfig(cfg),
		det:     det,
		bus:     bus,
		log:     log,
		metrics: m,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func normalizeConfig(cfg Config) Config {
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	return cfg
}

// Handle registers a consumer. Register consumers before Start.
func (s *Service) Handle(fn HandlerFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Supervisor exposes the goroutine registry for health output.
func (s *Service) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start registers the poll cycle on the configured schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	sched, err := s.parser.Parse(s.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("poll schedule %q: %w", s.cfg.Schedule, err)
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.startCronLocked(sched)
	if s.cfg.RunOnStart {
		sup := s.sup
		sup.Go0("poll.initial", func(ctx context.Context) { _ = s.RunOnce(ctx) })
	}
	s.log.Info("poller started", logx.String("schedule", s.cfg.Schedule), logx.Duration("timeout", s.cfg.Timeout))
	return nil
}

func (s *Service) startCronLocked(sched cron.Schedule) {
	s.c = cron.New(cron.WithParser(s.parser), cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})))
	sup := s.sup
	s.c.Schedule(sched, cron.FuncJob(func() { _ = s.RunOnce(sup.Context()) }))
	s.c.Start()
}

// Apply swaps the config and reschedules when the schedule changed. The old
// cron is drained after the lock is released so an in-flight cycle can
// record its status.
func (s *Service) Apply(cfg Config) error {
	cfg = normalizeConfig(cfg)
	s.mu.Lock()
	old, prev := s.cfg.Schedule, s.c
	if cfg.Schedule == old || prev == nil {
		s.cfg = cfg
		s.mu.Unlock()
		return nil
	}
	sched, err := s.parser.Parse(cfg.Schedule)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("poll schedule %q: %w", cfg.Schedule, err)
	}
	s.cfg = cfg
	s.startCronLocked(sched)
	s.mu.Unlock()

	<-prev.Stop().Done()
	s.log.Info("poll rescheduled", logx.String("from", old), logx.String("to", cfg.Schedule))
	return nil
}

// RunOnce executes one cycle. Overlapping calls return ResultBusy without
// polling. After a binding list failure the following cycles are skipped
// with an exponentially growing count.
func (s *Service) RunOnce(ctx context.Context) string {
	s.mu.Lock()
	sup, cfg := s.sup, s.cfg
	if sup == nil {
		s.mu.Unlock()
		s.log.Warn("poll requested before start", logx.Err(ErrNotStarted))
		return ResultFailed
	}
	if s.status.SkipCycles > 0 {
		s.status.SkipCycles--
		s.status.LastResult = ResultBackoff
		s.mu.Unlock()
		s.metrics.PollCycle(ResultBackoff)
		return ResultBackoff
	}
	s.mu.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		s.metrics.PollCycle(ResultBusy)
		s.log.Debug("poll skipped: previous cycle still running")
		return ResultBusy
	}
	defer s.running.Store(false)

	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	events, err := s.det.Poll(cctx)
	cancel()

	s.mu.Lock()
	s.status.LastRun = time.Now()
	s.status.LastEvents = len(events)
	if err != nil {
		s.status.LastResult = ResultFailed
		s.status.LastError = err.Error()
		if errors.Is(err, domain.ErrBindingListUnavailable) {
			s.status.Failures++
			s.status.SkipCycles = backoffCycles(s.status.Failures, cfg.BackoffMax)
		}
		skip := s.status.SkipCycles
		s.mu.Unlock()
		s.log.Warn("poll cycle failed", logx.Int("skip_cycles", skip), logx.Err(err))
		s.publish(eventbus.TypePollFailed, err)
		return ResultFailed
	}
	s.status.LastResult = ResultOK
	s.status.LastError = ""
	s.status.Failures = 0
	handlers := append([]HandlerFunc(nil), s.handlers...)
	s.mu.Unlock()

	for _, ev := range events {
		s.publish(eventbus.TypeMatchCompleted, ev)
		for i, h := range handlers {
			sup.Go0(fmt.Sprintf("deliver.%d", i), func(ctx context.Context) {
				dctx, cancel := context.WithTimeout(ctx, cfg.DeliveryTimeout)
				defer cancel()
				h(dctx, ev)
			})
		}
	}
	return ResultOK
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// backoffCycles returns 1, 2, 4, ... capped at max.
func backoffCycles(failures, max int) int {
	if failures <= 0 {
		return 0
	}
	n := 1
	for i := 1; i < failures && n < max; i++ {
		n *= 2
	}
	if n > max {
		n = max
	}
	return n
}

// Stop halts the schedule and waits for in-flight cycles and consumers.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, sup := s.c, s.sup
	s.c, s.sup = nil, nil
	s.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("poller stopped")
	return err
}

// cronLogger routes cron's internal messages through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
