package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"repeatjob/internal/eventbus"
	"repeatjob/internal/metrics"
	"repeatjob/internal/task/queue"
	logx "repeatjob/pkg/logx"
)

type Dispatcher struct {
	src      queue.Source
	launcher Launcher
	log      logx.Logger
	bus      eventbus.Bus
	m        *metrics.Metrics

	dispatched atomic.Uint64
	failed     atomic.Uint64
	lastAt     atomic.Int64 // unix nanos
}

// Stats is a point-in-time view of the dispatcher counters.
type Stats struct {
	Dispatched uint64
	Failed     uint64
	LastAt     time.Time
}

func New(src queue.Source, launcher Launcher, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Dispatcher {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Dispatcher{src: src, launcher: launcher, log: log, bus: bus, m: m}
}

// Run consumes the queue until ctx is done. Events already queued at that
// point are still dispatched before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Debug("dispatcher started")
	for {
		e, err := d.src.Dequeue(ctx)
		if err != nil {
			n := d.drain(context.WithoutCancel(ctx))
			d.log.Debug("dispatcher stopped", logx.Int("drained", n))
			return err
		}
		d.dispatch(ctx, e)
	}
}

func (d *Dispatcher) drain(ctx context.Context) int {
	n := 0
	for {
		e, ok := d.src.TryDequeue()
		if !ok {
			return n
		}
		d.dispatch(ctx, e)
		n++
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e queue.Event) {
	now := time.Now()
	la := Launch{ID: uuid.New(), Event: e, At: now}
	lag := now.Sub(e.FiredAt)

	if err := d.launch(ctx, la); err != nil {
		d.failed.Add(1)
		d.m.ObserveLaunchFailure()
		d.log.Warn("launch failed",
			logx.Int("job", int(e.JobID)),
			logx.Uint64("instance", e.Instance),
			logx.String("launch", la.ID.String()),
			logx.Err(err),
		)
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeInstanceFailed, Time: now, Data: la})
	} else {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeInstanceDispatched, Time: now, Data: la})
	}

	d.dispatched.Add(1)
	d.lastAt.Store(now.UnixNano())
	d.m.ObserveDispatch(lag)
	d.log.Debug("instance dispatched",
		logx.Int("job", int(e.JobID)),
		logx.Uint64("instance", e.Instance),
		logx.String("launch", la.ID.String()),
		logx.Duration("lag", lag),
	)
}

// launch turns a launcher panic into an error so one bad launch can't stop dispatching.
func (d *Dispatcher) launch(ctx context.Context, la Launch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.log.Error("launcher panicked", logx.Int("job", int(la.Event.JobID)), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return d.launcher.Launch(ctx, la)
}

func (d *Dispatcher) Stats() Stats {
	s := Stats{Dispatched: d.dispatched.Load(), Failed: d.failed.Load()}
	if n := d.lastAt.Load(); n != 0 {
		s.LastAt = time.Unix(0, n)
	}
	return s
}
