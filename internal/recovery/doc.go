// Package recovery repairs and reports on a saved tree execution.
//
// A [Manager] wraps a loaded [checkpoint.State] together with the package
// graph. Its mutating operations (MarkCompleted, MarkFailed, SkipPackages,
// RetryFailed, SkipFailed, ResetPackage) keep bucket membership exclusive,
// apply the same cascade rules as the scheduler, and persist the checkpoint
// before returning. The next `tree run --continue` resumes from the result.
//
// ValidateState, GenerateRecoveryHints, and the status view only read the
// state; inconsistencies are reported, never raised as errors, so a damaged
// checkpoint can still be inspected and repaired.
//
// # Skip reasons
//
// Every skipped package records why it was skipped: "manual" for operator
// skips, "dependency:<name>" for cascades. When a failure is resolved
// (completed, retried, or reset), dependents skipped because of it return to
// pending as long as no other failed or manually skipped package still
// blocks them. Manual skips are only undone by ResetPackage.
package recovery
