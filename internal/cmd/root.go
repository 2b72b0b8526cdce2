package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/treebuild/internal/cmd/tree"
	"github.com/Iron-Ham/treebuild/internal/config"
	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/tui/styles"
)

var rootCmd = &cobra.Command{
	Use:   "treebuild",
	Short: "Dependency-aware parallel execution across a monorepo",
	Long: `treebuild runs a command in every package of a monorepo, in dependency
order, with as much parallelism as the dependency graph allows.

Progress is checkpointed after every package, so an interrupted or failed run
can be inspected, repaired, and continued with the "tree" recovery commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

// printError writes err colored by its severity. Warnings are problems the
// user can fix by adjusting input, such as a bad flag or a corrupt checkpoint.
func printError(w io.Writer, err error) {
	style := styles.Error
	if errors.GetSeverity(err) <= errors.SeverityWarning {
		style = styles.Warning
	}
	fmt.Fprintln(w, style.Render("Error: "+err.Error()))
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/treebuild/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	tree.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/treebuild")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TREEBUILD")
	// Replace dots with underscores for nested keys in env vars
	// e.g., TREEBUILD_TREE_MAX_CONCURRENCY for tree.max_concurrency
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()

	// A repository-local file overrides the user config.
	local := viper.New()
	local.SetConfigFile(config.LocalConfigFile)
	local.SetConfigType("yaml")
	if err := local.ReadInConfig(); err == nil {
		_ = viper.MergeConfigMap(local.AllSettings())
	}
}
