// Package tree provides the `treebuild tree` commands: running a command
// across the package graph and repairing an execution from its checkpoint.
package tree

import "github.com/spf13/cobra"

// Register adds the tree command and all of its subcommands to parent.
func Register(parent *cobra.Command) {
	parent.AddCommand(NewCommand())
}

// NewCommand builds the tree command tree. Each call returns fresh commands
// with their own flag state.
func NewCommand() *cobra.Command {
	opts := &globalOptions{}
	treeCmd := &cobra.Command{
		Use:   "tree",
		Short: "Run a command across the package tree and manage its checkpoint",
		Long: `Run a command in every package of the workspace in dependency order,
with bounded parallelism, and inspect or repair the resulting checkpoint.

Packages come from a tree.yaml manifest in the workspace root when present,
otherwise from package.json files discovered under the root.

Recovery workflow:
  treebuild tree status                 # what happened
  treebuild tree retry-failed           # re-queue retriable failures
  treebuild tree mark-completed pkg     # fixed by hand
  treebuild tree run --continue         # pick up where the run stopped`,
	}
	opts.bind(treeCmd)

	treeCmd.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
		newValidateStateCmd(opts),
		newMarkCompletedCmd(opts),
		newMarkFailedCmd(opts),
		newSkipCmd(opts),
		newRetryFailedCmd(opts),
		newSkipFailedCmd(opts),
		newResetPackageCmd(opts),
		newValidateCommandCmd(opts),
		newOrderCmd(opts),
		newLogsCmd(opts),
	)
	return treeCmd
}
