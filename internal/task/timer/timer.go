package timer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"repeatjob/internal/eventbus"
	"repeatjob/internal/metrics"
	"repeatjob/internal/runtime/supervisor"
	"repeatjob/internal/task/queue"
	logx "repeatjob/pkg/logx"
)

// ErrStopTimeout is returned by Stop when the goroutine did not exit before ctx was done.
var ErrStopTimeout = errors.New("timer did not stop in time")

type Config struct {
	JobID queue.JobID
	// First is the absolute time of the first fire. A First in the past
	// fires immediately.
	First time.Time
	// Schedule yields every activation after a fire. A zero Next ends the timer.
	Schedule cron.Schedule
}

type Timer struct {
	cfg  Config
	sink queue.Sink
	log  logx.Logger
	bus  eventbus.Bus
	m    *metrics.Metrics

	// Written only by the timer goroutine.
	instances atomic.Uint64
	next      atomic.Int64 // unix nanos, 0 when finished

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, sink queue.Sink, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Timer {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	t := &Timer{
		cfg:  cfg,
		sink: sink,
		log:  log.With(logx.Int("job", int(cfg.JobID))),
		bus:  bus,
		m:    m,
		done: make(chan struct{}),
	}
	t.next.Store(cfg.First.UnixNano())
	return t
}

func (t *Timer) JobID() queue.JobID { return t.cfg.JobID }

// Instances is the number of fire events enqueued so far.
func (t *Timer) Instances() uint64 { return t.instances.Load() }

// Next is the time of the upcoming fire; zero once the timer has finished.
func (t *Timer) Next() time.Time {
	n := t.next.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Done is closed when the timer goroutine has exited.
func (t *Timer) Done() <-chan struct{} { return t.done }

// Start launches the timer goroutine under sup, or as a plain goroutine when
// sup is nil. The timer stops when ctx is done or Stop is called.
// Calling Start more than once has no effect.
func (t *Timer) Start(ctx context.Context, sup *supervisor.Supervisor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	run := func(context.Context) {
		defer close(t.done)
		defer t.next.Store(0)
		t.run(runCtx)
	}
	if sup != nil {
		sup.Go0("timer."+strconv.Itoa(int(t.cfg.JobID)), run)
		return
	}
	go run(runCtx)
}

// Stop cancels the timer and waits for its goroutine to exit.
// An event enqueued before Stop is not retracted; none is enqueued after
// Stop returns nil. Stopping a timer that was never started is a no-op.
func (t *Timer) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job %d: %w: %v", t.cfg.JobID, ErrStopTimeout, ctx.Err())
	}
}

func (t *Timer) run(ctx context.Context) {
	next := t.cfg.First
	t.log.Debug("timer started", logx.Time("first", next))
	for {
		if !wait(ctx, next) {
			t.log.Debug("timer stopped", logx.Uint64("instances", t.instances.Load()))
			return
		}

		now := time.Now()
		n := t.instances.Add(1)
		e := queue.Event{JobID: t.cfg.JobID, Instance: n, FiredAt: now}
		t.sink.Enqueue(e)
		t.m.ObserveFire(int(t.cfg.JobID))
		t.bus.Publish(eventbus.Event{Type: eventbus.TypeInstanceFired, Time: now, Data: e})

		next = t.cfg.Schedule.Next(now)
		if next.IsZero() {
			t.log.Debug("schedule exhausted", logx.Uint64("instances", n))
			return
		}
		t.next.Store(next.UnixNano())
	}
}

// wait suspends until at or until ctx is done. It reports whether the caller
// should fire, re-checking cancellation after waking so a Stop that raced
// the wake-up still wins.
func wait(ctx context.Context, at time.Time) bool {
	if ctx.Err() != nil {
		return false
	}
	if d := time.Until(at); d > 0 {
		tmr := time.NewTimer(d)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return false
		case <-tmr.C:
		}
	}
	return ctx.Err() == nil
}
