package scheduler

import (
	"context"
	"strings"
	"time"

	"repeatjob/internal/eventbus"
	"repeatjob/internal/metrics"
	"repeatjob/internal/runtime/supervisor"
	"repeatjob/internal/task/dispatch"
	"repeatjob/internal/task/queue"
	logx "repeatjob/pkg/logx"
)

func New(cfg Config, launcher dispatch.Launcher, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	warn := cfg.QueueWarnDepth
	if warn == 0 {
		warn = queue.DefaultWarnDepth
	}
	q := queue.New(
		queue.WithLogger(log.With(logx.String("comp", "queue"))),
		queue.WithMetrics(m),
		queue.WithWarnDepth(warn),
	)
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		m:        m,
		q:        q,
		launcher: launcher,
		jobs:     map[JobID]*job{},
	}
}

// Start launches the dispatcher. It is idempotent; the dispatcher lives until Stop.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.sup != nil {
		return nil
	}

	s.loc = loadLocation(s.cfg.Timezone, s.log)
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "supervisor"))))
	s.disp = dispatch.New(s.q, s.launcher, s.log.With(logx.String("comp", "dispatcher")), s.bus, s.m)

	disp := s.disp
	// Launch panics are recovered per event; a restart only covers a failure
	// of the loop itself.
	s.sup.GoRestart("dispatcher", 250*time.Millisecond, 5*time.Second, disp.Run)

	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Duration("stop_grace", s.cfg.StopGrace))
	return nil
}

// Stop stops and joins every timer, then stops the dispatcher. Events already
// queued are dispatched before the dispatcher exits.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	jobs := s.jobs
	s.jobs = map[JobID]*job{}
	sup := s.sup
	s.mu.Unlock()

	s.m.SetActiveJobs(0)
	var firstErr error
	for id, j := range jobs {
		if err := j.t.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobRemoved, Data: id})
	}

	if sup != nil {
		// Timers are joined, so the queue can only shrink from here.
		if err := sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.log.Info("scheduler stopped", logx.Int("jobs", len(jobs)), logx.Duration("took", time.Since(start)))
	return firstErr
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
