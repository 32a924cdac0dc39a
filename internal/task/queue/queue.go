package queue

import (
	"context"
	"sync"
	"time"

	ring "github.com/eapache/queue"
	"golang.org/x/time/rate"

	"repeatjob/internal/metrics"
	logx "repeatjob/pkg/logx"
)

// DefaultWarnDepth is the backlog size that triggers a (throttled) warning.
const DefaultWarnDepth = 1024

const backlogWarnEvery = 5 * time.Second

// Queue is an unbounded FIFO of fire events with a blocking, cancellable Dequeue.
//
// The buffer and the ready signal are the only state shared between timers
// and the dispatcher; both are guarded by mu.
type Queue struct {
	mu  sync.Mutex
	buf *ring.Queue

	// ready holds at most one pending wake-up. Enqueue leaves a token when the
	// slot is free; Dequeue re-checks the buffer after every wake-up.
	ready chan struct{}

	log       logx.Logger
	m         *metrics.Metrics
	warnDepth int
	warn      rate.Sometimes
}

type Option func(*Queue)

// WithWarnDepth sets the backlog length that triggers a warning. <= 0 disables it.
func WithWarnDepth(n int) Option { return func(q *Queue) { q.warnDepth = n } }

func WithLogger(log logx.Logger) Option { return func(q *Queue) { q.log = log } }

func WithMetrics(m *metrics.Metrics) Option { return func(q *Queue) { q.m = m } }

func New(opts ...Option) *Queue {
	q := &Queue{
		buf:       ring.New(),
		ready:     make(chan struct{}, 1),
		warnDepth: DefaultWarnDepth,
		warn:      rate.Sometimes{Interval: backlogWarnEvery},
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends e to the tail and wakes the consumer.
func (q *Queue) Enqueue(e Event) {
	q.mu.Lock()
	q.buf.Add(e)
	n := q.buf.Length()
	q.mu.Unlock()

	q.signal()
	q.m.SetQueueDepth(n)

	if q.warnDepth > 0 && n >= q.warnDepth {
		q.warn.Do(func() {
			q.log.Warn("event queue backlog", logx.Int("depth", n), logx.Int("warn_depth", q.warnDepth))
		})
	}
}

// Dequeue blocks until an event is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (Event, error) {
	for {
		if e, ok := q.TryDequeue(); ok {
			return e, nil
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.ready:
			// Loop: the wake-up may be stale.
		}
	}
}

// TryDequeue removes and returns the head without waiting.
func (q *Queue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	if q.buf.Length() == 0 {
		q.mu.Unlock()
		return Event{}, false
	}
	e := q.buf.Remove().(Event)
	n := q.buf.Length()
	q.mu.Unlock()

	if n > 0 {
		// Keep a token around for the remaining backlog.
		q.signal()
	}
	q.m.SetQueueDepth(n)
	return e, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Length()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
