// Package queue is the ordered hand-off between job timers and the dispatcher.
//
// Many timers enqueue concurrently; one dispatcher dequeues. The queue is
// unbounded: Enqueue never blocks and never drops. Delivery follows the order
// in which Enqueue calls acquired the queue lock.
package queue
