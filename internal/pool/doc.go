// Package pool implements the dependency-aware scheduler that runs a command
// across every package of a [graph.Graph] with bounded concurrency.
//
// A [Pool] owns a single coordinating loop. The loop is the only writer of
// the [checkpoint.State] document: it promotes pending packages whose
// dependencies have completed, dispatches ready packages in build order while
// slots are free, and applies completions that executions report back over a
// channel. Executions themselves run concurrently and never touch the state.
//
// # Lifecycle
//
//	pending → ready → running → completed | failed
//
// A failure moves every transitive dependent that has not started into the
// skipped bucket. Skipped packages only return to pending through an explicit
// recovery action (see package recovery).
//
// # Persistence
//
// When a [checkpoint.Manager] is configured, the state is saved after every
// transition. A failed save is fatal to the run: in-flight executions are
// canceled, drained, and Execute returns the error. A fully successful run
// removes the checkpoint unless Config.KeepCheckpoint is set.
//
// # Events
//
// Lifecycle events are published on Config.Bus through an
// [event.AsyncPublisher], so the loop never waits on a subscriber.
package pool
