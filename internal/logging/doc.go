// Package logging provides structured logging for tree executions.
//
// It wraps log/slog to write JSON lines to {outputDir}/treebuild.log, with
// optional size-based rotation and helpers to read the file back for
// filtering and export.
//
// # Context Propagation
//
// Child loggers carry persistent attributes:
//
//	logger = logger.WithExecution(state.ExecutionID)
//	pkgLog := logger.WithPackage("core").WithPhase("execute")
//	pkgLog.Info("package completed", "duration_ms", 1520)
//
// # Rotation
//
//	logger, err := logging.NewLoggerWithRotation(outputDir, "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	})
//
// # Reading Logs Back
//
//	entries, err := logging.AggregateLogs(outputDir)
//	failed := logging.FilterLogs(entries, logging.LogFilter{Level: "ERROR", Package: "core"})
//
// # Thread Safety
//
// [Logger] and [RotatingWriter] are safe for concurrent use. Child loggers
// share the underlying writer.
package logging
