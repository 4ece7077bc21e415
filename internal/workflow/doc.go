// Package workflow drives queue items through conversion.
//
// Processor handles a single item: it claims the item through a reservation
// store so concurrent workers never convert the same job twice, runs the
// conversion with a heartbeat, mirrors progress into the queue database, and
// records the terminal state before announcing it to Listener subscribers.
//
// Manager owns the worker pool. Workers sleep on a latch.Signal that Enqueue,
// Resume and Retry fire, falling back to periodic polling, and the first
// worker reclaims items whose heartbeat went stale. Running items can be
// cancelled individually without disturbing the rest of the pool.
package workflow
