package dispatch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"repeatjob/internal/task/queue"
)

// Launch is one dispatched instance.
type Launch struct {
	// ID correlates log lines and bus events for this dispatch.
	ID    uuid.UUID
	Event queue.Event
	// At is taken when the dispatcher processes the event, not when it fired.
	At time.Time
}

// Launcher starts the external work for an instance.
type Launcher interface {
	Launch(ctx context.Context, l Launch) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, l Launch) error

func (f LauncherFunc) Launch(ctx context.Context, l Launch) error { return f(ctx, l) }

// WriterLauncher reports each launch as one line on w.
type WriterLauncher struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterLauncher(w io.Writer) *WriterLauncher {
	return &WriterLauncher{w: w}
}

func (l *WriterLauncher) Launch(_ context.Context, la Launch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.w, "start instance %d of job %d in background at unix timestamp %d\n",
		la.Event.Instance, la.Event.JobID, la.At.Unix())
	return err
}
