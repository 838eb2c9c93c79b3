// Package runloop provides the single-threaded cooperative event loop
// that is FlowMesh's unit of concurrency and ownership.
//
// # Core Concepts
//
// A Runloop owns exactly one goroutine and a bounded task queue. Every
// object bound to a runloop (extensions, their envs) is mutated only by
// tasks executing on that goroutine, which removes the need for locks
// on the hot path and gives strict FIFO ordering for tasks posted from
// the same producer.
//
// Post is the only cross-thread entry point. It is non-blocking: a full
// queue returns ErrQueueFull rather than stalling the producer, so a
// runloop can never be deadlocked by another runloop posting into it.
// A runloop also never blocks waiting for a result from another thread;
// continuation is always expressed as a follow-up task.
//
// # Shutdown
//
// Stop closes the queue and the loop drains every remaining task before
// exiting, so work accepted before Stop is never silently lost. Stop
// waits for the drain with a timeout and reports ErrStopTimeout if a
// task wedges the loop.
package runloop
