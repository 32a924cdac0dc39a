package dispatch

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repeatjob/internal/eventbus"
	"repeatjob/internal/metrics"
	"repeatjob/internal/task/queue"
	logx "repeatjob/pkg/logx"
)

type recorder struct {
	mu       sync.Mutex
	launches []Launch
}

func (r *recorder) Launch(_ context.Context, l Launch) error {
	r.mu.Lock()
	r.launches = append(r.launches, l)
	r.mu.Unlock()
	return nil
}

func (r *recorder) events() []queue.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queue.Event, 0, len(r.launches))
	for _, l := range r.launches {
		out = append(out, l.Event)
	}
	return out
}

func runDispatcher(t *testing.T, d *Dispatcher) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("dispatcher did not stop")
		}
	}
}

func TestDispatchesInEnqueueOrder(t *testing.T) {
	q := queue.New()
	rec := &recorder{}
	d := New(q, rec, logx.Nop(), nil, nil)
	stop := runDispatcher(t, d)
	defer stop()

	want := []queue.Event{
		{JobID: 0, Instance: 1},
		{JobID: 1, Instance: 1},
		{JobID: 0, Instance: 2},
		{JobID: 1, Instance: 2},
		{JobID: 1, Instance: 3},
	}
	for _, e := range want {
		q.Enqueue(e)
	}

	require.Eventually(t, func() bool { return len(rec.events()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, rec.events())
	assert.Equal(t, uint64(len(want)), d.Stats().Dispatched)
}

func TestLaunchTimeIsProcessingTime(t *testing.T) {
	q := queue.New()
	rec := &recorder{}
	d := New(q, rec, logx.Nop(), nil, nil)

	fired := time.Now().Add(-time.Minute)
	q.Enqueue(queue.Event{JobID: 1, Instance: 1, FiredAt: fired})
	begin := time.Now()
	stop := runDispatcher(t, d)
	defer stop()

	require.Eventually(t, func() bool { return len(rec.events()) == 1 }, time.Second, time.Millisecond)
	rec.mu.Lock()
	l := rec.launches[0]
	rec.mu.Unlock()
	assert.False(t, l.At.Before(begin))
	assert.NotEqual(t, fired, l.At)
}

func TestWriterLauncherFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLauncher(&buf)
	at := time.Unix(1700000000, 0)

	require.NoError(t, l.Launch(context.Background(), Launch{Event: queue.Event{JobID: 1, Instance: 3}, At: at}))
	assert.Equal(t, "start instance 3 of job 1 in background at unix timestamp 1700000000\n", buf.String())
}

func TestFailingAndPanickingLaunchesDoNotStopDispatch(t *testing.T) {
	q := queue.New()
	m := metrics.New(prometheus.NewRegistry())
	bus := eventbus.New()
	failed, unsub := bus.Subscribe(8)
	defer unsub()

	var mu sync.Mutex
	var seen []uint64
	launcher := LauncherFunc(func(_ context.Context, l Launch) error {
		mu.Lock()
		seen = append(seen, l.Event.Instance)
		mu.Unlock()
		switch l.Event.Instance {
		case 1:
			return errors.New("exec failed")
		case 2:
			panic("launcher bug")
		}
		return nil
	})
	d := New(q, launcher, logx.Nop(), bus, m)
	stop := runDispatcher(t, d)
	defer stop()

	for i := uint64(1); i <= 3; i++ {
		q.Enqueue(queue.Event{JobID: 4, Instance: i, FiredAt: time.Now()})
	}

	require.Eventually(t, func() bool { return d.Stats().Dispatched == 3 }, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []uint64{1, 2, 3}, seen)
	mu.Unlock()
	assert.Equal(t, uint64(2), d.Stats().Failed)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LaunchFailuresTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DispatchedTotal))

	var types []string
	for i := 0; i < 3; i++ {
		types = append(types, (<-failed).Type)
	}
	assert.Equal(t, []string{eventbus.TypeInstanceFailed, eventbus.TypeInstanceFailed, eventbus.TypeInstanceDispatched}, types)
}

func TestRunDrainsQueueOnCancel(t *testing.T) {
	q := queue.New()
	rec := &recorder{}
	d := New(q, rec, logx.Nop(), nil, nil)

	for i := uint64(1); i <= 5; i++ {
		q.Enqueue(queue.Event{JobID: 2, Instance: i})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rec.events(), 5)
	assert.Equal(t, 0, q.Len())
}
