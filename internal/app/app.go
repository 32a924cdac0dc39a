package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"repeatjob/internal/config"
	"repeatjob/internal/eventbus"
	"repeatjob/internal/metrics"
	"repeatjob/internal/observability/diag"
	"repeatjob/internal/task/dispatch"
	"repeatjob/internal/task/scheduler"
	logx "repeatjob/pkg/logx"
)

type App struct {
	cfg  *config.Config
	plan config.Plan

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry
	m    *metrics.Metrics

	sched *scheduler.Service
	diag  *diag.Server
}

// New wires logging, metrics, the event bus and the scheduler. Dispatch lines
// are written to out.
func New(cfg *config.Config, out io.Writer) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if out == nil {
		out = logx.Stdout()
	}
	plan, err := cfg.ResolvePlan()
	if err != nil {
		return nil, err
	}
	sc, err := cfg.ResolveScheduler()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(cfg.Logging.Logx())

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := eventbus.New()

	sched := scheduler.New(scheduler.Config{
		StopGrace:      sc.StopGrace,
		QueueWarnDepth: sc.QueueWarnDepth,
		Timezone:       sc.Timezone,
	}, dispatch.NewWriterLauncher(out), log.With(logx.String("comp", "scheduler")), bus, m)

	a := &App{
		cfg:   cfg,
		plan:  plan,
		log:   log.With(logx.String("comp", "app")),
		logs:  logSvc,
		bus:   bus,
		reg:   reg,
		m:     m,
		sched: sched,
	}
	a.diag = diag.New(diag.Config{
		Enabled:       cfg.Diag.Enabled,
		Addr:          cfg.Diag.Addr,
		Token:         cfg.Diag.Token,
		AllowInsecure: cfg.Diag.AllowInsecure,
		Pprof:         cfg.Diag.Pprof,
		ReadTimeout:   10 * time.Second,
		IdleTimeout:   60 * time.Second,
	}, reg, func() any { return a.sched.Snapshot() }, log.With(logx.String("comp", "diag")))
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Registry exposes the metrics registry (e.g. for a /metrics handler in embedding programs).
func (a *App) Registry() *prometheus.Registry { return a.reg }

func (a *App) Bus() eventbus.Bus { return a.bus }

// DiagAddr is the diagnostics server's bound address, empty when disabled.
func (a *App) DiagAddr() string { return a.diag.Addr() }

func (a *App) Start(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.diag.Start(ctx)
	return nil
}

// Stop stops the scheduler (draining queued instances) and closes log outputs.
func (a *App) Stop(ctx context.Context) error {
	err := a.sched.Stop(ctx)
	if derr := a.diag.Stop(ctx); derr != nil && err == nil {
		err = derr
	}

	snap := a.sched.Snapshot()
	a.log.Info("shutdown complete",
		logx.Uint64("dispatched", snap.Dispatcher.Dispatched),
		logx.Uint64("failed", snap.Dispatcher.Failed),
		logx.Int("queue_len", snap.QueueLen),
		logx.Uint64("goroutines_started", snap.Supervisor.Counters.Started),
	)

	if cerr := a.logs.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Run starts the app, executes the configured plan and stops. A cancelled ctx
// ends the plan early; that is not an error.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	planErr := a.runPlan(ctx)
	if planErr != nil && ctx.Err() != nil {
		a.log.Info("interrupted, stopping")
		planErr = nil
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.stopTimeout())
	defer cancel()
	if err := a.Stop(stopCtx); err != nil && planErr == nil {
		planErr = fmt.Errorf("stop: %w", err)
	}
	return planErr
}

func (a *App) stopTimeout() time.Duration {
	// every timer gets its own grace; add headroom for the drain
	sc, _ := a.cfg.ResolveScheduler()
	grace := sc.StopGrace
	if grace <= 0 {
		grace = scheduler.DefaultStopGrace
	}
	return grace + 5*time.Second
}
