// Package statusx provides a thin, opinionated layer on top of asynq to track
// the lifecycle of background jobs in Redis: queued/working/terminal status,
// progress counters, an arbitrary payload, and a cooperative kill flag that
// any process holding the job id can raise.
//
// Quick start:
//  1. Create a go-redis client and wrap it with NewRedisStore.
//  2. Create a Client with NewClient(redis, store, ...). Enqueue with Enqueue.
//  3. Create a Processor, register handlers on a ServeMux, and Start it.
//     Handlers receive a *Container and report progress through it.
//  4. Run a Sweeper somewhere to prune expired records.
//
// Any process can load a container by job id to observe progress, or call
// RequestKill to ask the job to stop at its next checkpoint. Cancellation is
// cooperative: it only takes effect when the job body calls Tick or
// KillRequested, or at finalize time for bodies that never poll.
package statusx
