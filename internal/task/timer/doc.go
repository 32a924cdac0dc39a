// Package timer implements the per-job timer: one goroutine per job that waits
// for each activation of its schedule and enqueues a fire event, until stopped.
//
// Waits are selects on the timer's context, so Stop takes effect immediately
// instead of after the current wait. Stop also joins the goroutine: once it
// returns nil, the timer will never enqueue again.
package timer
