// Package event provides the typed publish/subscribe channel through which
// a tree execution reports its progress.
//
// The scheduler emits nine lifecycle events:
//
//   - [ExecutionStartedEvent] ("execution:started")
//   - [PackageStartedEvent] ("package:started")
//   - [PackageCompletedEvent] ("package:completed")
//   - [PackageFailedEvent] ("package:failed")
//   - [PackageRetryingEvent] ("package:retrying")
//   - [PackageSkippedEvent] ("package:skipped")
//   - [PackageSkippedNoChangesEvent] ("package:skipped-no-changes")
//   - [CheckpointSavedEvent] ("checkpoint:saved")
//   - [ExecutionCompletedEvent] ("execution:completed")
//
// [Bus] dispatches synchronously and recovers handler panics.
// [AsyncPublisher] wraps a Bus with an unbounded queue so the publisher
// never waits on a handler.
//
// # Basic Usage
//
//	bus := event.NewBus()
//	event.On(bus, event.TypePackageFailed, func(e event.PackageFailedEvent) {
//	    fmt.Printf("%s failed: %s\n", e.Package, e.Error)
//	})
//
//	pub := event.NewAsyncPublisher(bus)
//	defer pub.Close()
//	// hand pub to the scheduler as its event.Publisher
package event
