package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "tree.max_concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidCommandKinds returns the built-in command kinds. The empty string
// denotes a custom command.
func ValidCommandKinds() []string {
	return []string{"", "commit", "publish", "link", "unlink"}
}

// maxConcurrencyLimit is a sanity bound; larger values are almost always a typo.
const maxConcurrencyLimit = 256

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateTree()...)
	errors = append(errors, c.validateStatus()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateMetrics()...)
	return errors
}

func (c *Config) validateTree() []ValidationError {
	var errors []ValidationError
	t := c.Tree

	if t.MaxConcurrency < 0 || t.MaxConcurrency > maxConcurrencyLimit {
		errors = append(errors, ValidationError{
			Field:   "tree.max_concurrency",
			Value:   t.MaxConcurrency,
			Message: fmt.Sprintf("must be between 0 and %d", maxConcurrencyLimit),
		})
	}

	if t.OutputDir != "" {
		errors = append(errors, validatePath("tree.output_dir", t.OutputDir)...)
	}
	if t.Manifest != "" {
		errors = append(errors, validatePath("tree.manifest", t.Manifest)...)
	}

	if !slices.Contains(ValidCommandKinds(), t.CommandKind) {
		errors = append(errors, ValidationError{
			Field:   "tree.command_kind",
			Value:   t.CommandKind,
			Message: "must be one of: commit, publish, link, unlink (or empty)",
		})
	}

	if t.PackageTimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "tree.package_timeout_minutes",
			Value:   t.PackageTimeoutMinutes,
			Message: "must be non-negative (0 disables the timeout)",
		})
	}

	if t.StaleRunningMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "tree.stale_running_minutes",
			Value:   t.StaleRunningMinutes,
			Message: "must be positive",
		})
	}
	if t.LongRunningMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "tree.long_running_minutes",
			Value:   t.LongRunningMinutes,
			Message: "must be positive",
		})
	}
	if t.StaleRunningMinutes > 0 && t.LongRunningMinutes > t.StaleRunningMinutes {
		errors = append(errors, ValidationError{
			Field:   "tree.long_running_minutes",
			Value:   t.LongRunningMinutes,
			Message: fmt.Sprintf("must not exceed tree.stale_running_minutes (%d)", t.StaleRunningMinutes),
		})
	}

	if t.MaxHints < 1 {
		errors = append(errors, ValidationError{
			Field:   "tree.max_hints",
			Value:   t.MaxHints,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateStatus() []ValidationError {
	var errors []ValidationError

	if c.Status.Width != 0 && (c.Status.Width < 40 || c.Status.Width > 400) {
		errors = append(errors, ValidationError{
			Field:   "status.width",
			Value:   c.Status.Width,
			Message: "must be 0 (auto) or between 40 and 400",
		})
	}
	if c.Status.WatchDebounceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "status.watch_debounce_ms",
			Value:   c.Status.WatchDebounceMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateMetrics() []ValidationError {
	if c.Metrics.Textfile == "" {
		return nil
	}
	errors := validatePath("metrics.textfile", c.Metrics.Textfile)
	if !strings.HasSuffix(c.Metrics.Textfile, ".prom") {
		errors = append(errors, ValidationError{
			Field:   "metrics.textfile",
			Value:   c.Metrics.Textfile,
			Message: "must end in .prom for the textfile collector",
		})
	}
	return errors
}

func validatePath(field, path string) []ValidationError {
	var errors []ValidationError

	if strings.ContainsRune(path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: "path contains invalid null character",
		})
	}

	const maxPathLength = 4096
	if len(path) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}

	return errors
}
