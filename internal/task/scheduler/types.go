package scheduler

import (
	"sync"
	"time"

	"repeatjob/internal/eventbus"
	"repeatjob/internal/metrics"
	"repeatjob/internal/runtime/supervisor"
	"repeatjob/internal/task/dispatch"
	"repeatjob/internal/task/queue"
	"repeatjob/internal/task/timer"
	logx "repeatjob/pkg/logx"
)

// Re-export the types callers need from the task packages.
type (
	JobID    = queue.JobID
	Event    = queue.Event
	Launch   = dispatch.Launch
	Launcher = dispatch.Launcher
)

const (
	DefaultStopGrace = 2 * time.Second
)

// Config controls the scheduler service.
type Config struct {
	// StopGrace bounds how long RemoveJob/ReplaceJob wait for a cancelled
	// timer goroutine to exit. 0 means DefaultStopGrace.
	StopGrace time.Duration

	// QueueWarnDepth is the backlog length that triggers a throttled warning.
	// 0 means queue.DefaultWarnDepth, < 0 disables the warning.
	QueueWarnDepth int

	// Timezone (IANA, e.g. "Asia/Jakarta") for cron schedules. Empty means local time.
	Timezone string
}

type Service struct {
	mu sync.Mutex

	cfg Config
	log logx.Logger
	bus eventbus.Bus
	m   *metrics.Metrics
	loc *time.Location

	q        *queue.Queue
	disp     *dispatch.Dispatcher
	launcher dispatch.Launcher

	sup     *supervisor.Supervisor
	jobs    map[JobID]*job
	stopped bool
}

type job struct {
	t        *timer.Timer
	spec     string
	start    time.Time
	interval time.Duration
	addedAt  time.Time
}

// JobInfo describes one registered job.
type JobInfo struct {
	ID        JobID
	Spec      string
	Start     time.Time
	Interval  time.Duration
	AddedAt   time.Time
	Instances uint64
	Next      time.Time
}

type Snapshot struct {
	Started    bool
	Stopped    bool
	Timezone   string
	QueueLen   int
	Dispatcher dispatch.Stats
	Supervisor supervisor.Snapshot
	Jobs       []JobInfo
}
