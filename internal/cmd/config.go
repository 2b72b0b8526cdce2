package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/treebuild/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View treebuild configuration",
	RunE:  runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after merging defaults, the user config
file, a repository-local .treebuild.yaml, and TREEBUILD_* environment variables.`,
	RunE: runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(settingsOf(cfg))
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path := viper.ConfigFileUsed()
	if path == "" {
		path = config.ConfigFile()
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// settingsOf mirrors the config keys so the output can be pasted back into
// a config file.
func settingsOf(cfg *config.Config) map[string]any {
	return map[string]any{
		"tree": map[string]any{
			"max_concurrency":         cfg.Tree.MaxConcurrency,
			"output_dir":              cfg.Tree.OutputDir,
			"command":                 cfg.Tree.Command,
			"command_kind":            cfg.Tree.CommandKind,
			"manifest":                cfg.Tree.Manifest,
			"dry_run":                 cfg.Tree.DryRun,
			"use_pty":                 cfg.Tree.UsePTY,
			"package_timeout_minutes": cfg.Tree.PackageTimeoutMinutes,
			"stale_running_minutes":   cfg.Tree.StaleRunningMinutes,
			"long_running_minutes":    cfg.Tree.LongRunningMinutes,
			"max_hints":               cfg.Tree.MaxHints,
			"strict_validation":       cfg.Tree.StrictValidation,
			"keep_checkpoint":         cfg.Tree.KeepCheckpoint,
		},
		"status": map[string]any{
			"width":             cfg.Status.Width,
			"show_hints":        cfg.Status.ShowHints,
			"watch_debounce_ms": cfg.Status.WatchDebounceMs,
		},
		"logging": map[string]any{
			"enabled":     cfg.Logging.Enabled,
			"level":       cfg.Logging.Level,
			"max_size_mb": cfg.Logging.MaxSizeMB,
			"max_backups": cfg.Logging.MaxBackups,
			"compress":    cfg.Logging.Compress,
		},
		"metrics": map[string]any{
			"textfile": cfg.Metrics.Textfile,
		},
	}
}
