// Package queue provides bounded lock-free FIFO queues used as the physical
// transport underneath Agim's mailbox (internal/mailbox wraps an MPSC) and
// the scheduler's spawn injector (internal/scheduler wraps an MPMC).
//
// Two variants are provided, one per producer/consumer cardinality Agim
// actually needs:
//
//   - MPSC: Multi-Producer Single-Consumer (FAA-based SCQ)
//   - MPMC: Multi-Producer Multi-Consumer (FAA-based SCQ)
//
// The source pack this runtime is built from also carries SPSC and SPMC
// variants (single-producer shapes); this package drops them, since nothing
// in Agim has a single-producer channel to put on one — every sender into a
// mailbox or the injector is a different goroutine's worker.
//
// Both variants share the same Producer/Consumer/Queue interfaces and return
// ErrWouldBlock when an operation cannot proceed immediately (full on
// enqueue, empty on dequeue). Neither blocks; callers that need to wait
// retry with backoff (see Backoff).
//
// Capacity always rounds up to the next power of two; minimum capacity is 2.
// Both use 2n physical slots for capacity n, trading memory for better
// scalability under contention, and implement Drainer so a graceful
// shutdown can stop enforcing the livelock-prevention threshold once
// producers are known to be done (see Mailbox.Close and Scheduler.Stop).
package queue
