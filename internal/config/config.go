package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/treebuild/internal/logging"
)

// Config represents the complete treebuild configuration
type Config struct {
	Tree    TreeConfig    `mapstructure:"tree"`
	Status  StatusConfig  `mapstructure:"status"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// TreeConfig controls tree execution
type TreeConfig struct {
	// MaxConcurrency caps simultaneous package executions.
	// 0 uses the recommendation for the command kind.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// OutputDir holds the checkpoint, lock, and log files (default: ".treebuild")
	OutputDir string `mapstructure:"output_dir"`
	// Command is the shell command run in each package directory
	Command string `mapstructure:"command"`
	// CommandKind names a built-in command kind ("commit", "publish", "link", "unlink")
	// used for validation and concurrency recommendations. Empty for custom commands.
	CommandKind string `mapstructure:"command_kind"`
	// Manifest is an optional YAML tree manifest; when empty the tree is discovered
	// from package.json files
	Manifest string `mapstructure:"manifest"`
	// DryRun schedules the tree without running the command
	DryRun bool `mapstructure:"dry_run"`
	// UsePTY runs each command attached to a pseudo-terminal
	UsePTY bool `mapstructure:"use_pty"`
	// PackageTimeoutMinutes bounds each package execution (0 = no timeout)
	PackageTimeoutMinutes int `mapstructure:"package_timeout_minutes"`
	// StaleRunningMinutes is the age after which a running entry is reported as stuck
	StaleRunningMinutes int `mapstructure:"stale_running_minutes"`
	// LongRunningMinutes is the age after which a running entry gets an informational hint
	LongRunningMinutes int `mapstructure:"long_running_minutes"`
	// MaxHints caps how many failed packages are listed individually in recovery hints
	MaxHints int `mapstructure:"max_hints"`
	// StrictValidation blocks a run when the command validator reports issues
	StrictValidation bool `mapstructure:"strict_validation"`
	// KeepCheckpoint keeps the checkpoint after a fully successful run
	KeepCheckpoint bool `mapstructure:"keep_checkpoint"`
}

// StatusConfig controls the status view
type StatusConfig struct {
	// Width is the render width in columns (0 = detect from terminal)
	Width int `mapstructure:"width"`
	// ShowHints renders recovery hints below the status
	ShowHints bool `mapstructure:"show_hints"`
	// WatchDebounceMs coalesces checkpoint writes in watch mode
	WatchDebounceMs int `mapstructure:"watch_debounce_ms"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled writes logs to {output_dir}/treebuild.log; otherwise warnings go to stderr
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which the log file rotates
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress"`
}

// MetricsConfig controls Prometheus metrics export
type MetricsConfig struct {
	// Textfile is a path the run writes Prometheus text-format metrics to on
	// completion (for node_exporter's textfile collector). Empty disables export.
	Textfile string `mapstructure:"textfile"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Tree: TreeConfig{
			MaxConcurrency:        0,
			OutputDir:             ".treebuild",
			Command:               "",
			CommandKind:           "",
			Manifest:              "",
			DryRun:                false,
			UsePTY:                false,
			PackageTimeoutMinutes: 0,
			StaleRunningMinutes:   60,
			LongRunningMinutes:    30,
			MaxHints:              5,
			StrictValidation:      true,
			KeepCheckpoint:        false,
		},
		Status: StatusConfig{
			Width:           0,
			ShowHints:       true,
			WatchDebounceMs: 200,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Metrics: MetricsConfig{
			Textfile: "",
		},
	}
}

// PackageTimeout returns the per-package timeout (0 = none).
func (c *TreeConfig) PackageTimeout() time.Duration {
	return time.Duration(c.PackageTimeoutMinutes) * time.Minute
}

// StaleRunning returns the stuck-running threshold.
func (c *TreeConfig) StaleRunning() time.Duration {
	return time.Duration(c.StaleRunningMinutes) * time.Minute
}

// LongRunning returns the long-running hint threshold.
func (c *TreeConfig) LongRunning() time.Duration {
	return time.Duration(c.LongRunningMinutes) * time.Minute
}

// ResolveOutputDir returns the output directory resolved against baseDir.
// A leading ~ expands to the user's home directory.
func (c *TreeConfig) ResolveOutputDir(baseDir string) string {
	path := c.OutputDir
	if path == "" {
		path = Default().Tree.OutputDir
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// WatchDebounce returns the watch-mode debounce interval.
func (c *StatusConfig) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMs) * time.Millisecond
}

// Rotation converts the logging section into a rotation config.
func (c *LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
}

// SetDefaults registers every default with the global viper instance.
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers every default with v.
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Tree defaults
	v.SetDefault("tree.max_concurrency", defaults.Tree.MaxConcurrency)
	v.SetDefault("tree.output_dir", defaults.Tree.OutputDir)
	v.SetDefault("tree.command", defaults.Tree.Command)
	v.SetDefault("tree.command_kind", defaults.Tree.CommandKind)
	v.SetDefault("tree.manifest", defaults.Tree.Manifest)
	v.SetDefault("tree.dry_run", defaults.Tree.DryRun)
	v.SetDefault("tree.use_pty", defaults.Tree.UsePTY)
	v.SetDefault("tree.package_timeout_minutes", defaults.Tree.PackageTimeoutMinutes)
	v.SetDefault("tree.stale_running_minutes", defaults.Tree.StaleRunningMinutes)
	v.SetDefault("tree.long_running_minutes", defaults.Tree.LongRunningMinutes)
	v.SetDefault("tree.max_hints", defaults.Tree.MaxHints)
	v.SetDefault("tree.strict_validation", defaults.Tree.StrictValidation)
	v.SetDefault("tree.keep_checkpoint", defaults.Tree.KeepCheckpoint)

	// Status defaults
	v.SetDefault("status.width", defaults.Status.Width)
	v.SetDefault("status.show_hints", defaults.Status.ShowHints)
	v.SetDefault("status.watch_debounce_ms", defaults.Status.WatchDebounceMs)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	// Metrics defaults
	v.SetDefault("metrics.textfile", defaults.Metrics.Textfile)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is invalid.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "treebuild")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".treebuild"
	}
	return filepath.Join(home, ".config", "treebuild")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LocalConfigFile is the per-repository config file looked up in the
// working directory.
const LocalConfigFile = ".treebuild.yaml"
