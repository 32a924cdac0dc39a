// Package dispatch is the single consumer of the fire-event queue.
//
// Events are handed to a Launcher one at a time in dequeue order. Launching
// real work is the Launcher's business; it is expected to return quickly and
// hand long-running work off asynchronously.
package dispatch
