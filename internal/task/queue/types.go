package queue

import (
	"context"
	"fmt"
	"time"
)

// JobID identifies a job among the currently registered jobs.
type JobID int

// Event records that one instance of a job is due.
type Event struct {
	JobID    JobID
	Instance uint64 // 1-based, gap-free per timer
	FiredAt  time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("job=%d instance=%d fired=%s", e.JobID, e.Instance, e.FiredAt.Format(time.RFC3339Nano))
}

// Sink is the producer side of the queue.
type Sink interface {
	Enqueue(e Event)
}

// Source is the consumer side of the queue.
type Source interface {
	Dequeue(ctx context.Context) (Event, error)
	TryDequeue() (Event, bool)
	Len() int
}
