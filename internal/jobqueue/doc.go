// Package jobqueue runs conversion jobs through a bounded FIFO queue.
//
// A Runner pairs a Queue with a worker loop. Producers call Register (which
// blocks while the queue is full) or Enqueue (which parks the job on an
// ordered pending list that one forwarder moves into the queue). Run starts
// one consumer that launches every dequeued job as an independent task, so
// jobs overlap in time, and a monitor that waits for the queue to join,
// refuses further registrations, and stops the consumer. A job is marked done
// whatever happens to it, including a panicking job or observer, so the drain
// always completes. If Run's context ends first, jobs still queued resolve
// with ErrJobDiscarded.
package jobqueue
