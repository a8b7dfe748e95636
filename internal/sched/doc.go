// Package sched runs a batch of pipeline runs concurrently while enforcing
// cross-pipeline ordering at the classification stage.
//
// Reference-building runs ("booru" pipelines that contribute images to a
// shared character reference directory) must finish classification before
// any run reading the same reference directory classifies. ResolveDeps
// computes those edges from the batch configuration; the Scheduler launches
// one goroutine per run, and runners rendezvous on per-(run, stage)
// completion signals.
//
// Thread-safety model:
//   - runs and dependency edges are immutable after setup
//   - each completion signal has exactly one writer (its owning runner) and
//     any number of waiters (channel-close broadcast)
//   - outcomes are written into per-run slots, one writer each
package sched
