// Package scheduler is the registry and public API of the repeating-job scheduler.
//
// A Service owns:
//   - the fire-event queue
//   - one timer per registered job (internal/task/timer)
//   - the single dispatcher (internal/task/dispatch), started once by Start
//
// Job timers only enqueue; the dispatcher only dequeues and launches.
package scheduler
