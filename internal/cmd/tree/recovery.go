package tree

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/treebuild/internal/recovery"
	"github.com/Iron-Ham/treebuild/internal/util"
)

// listLimit caps package lists in command output.
const listLimit = 10

func newMarkCompletedCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-completed PACKAGE...",
		Short: "Mark packages as completed",
		Long: `Mark packages as completed, for example after fixing and building them by
hand. Dependents that were skipped because of them become pending again, and
packages whose dependencies are now all completed become ready.

Packages may be named by package name or directory name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withRecovery(cmd, func(m *recovery.Manager, out io.Writer) error {
				names, err := m.MarkCompleted(args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "marked %d package(s) completed: %s\n", len(names), util.JoinLimited(names, listLimit))
				return nil
			})
		},
	}
}

func newMarkFailedCmd(g *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "mark-failed PACKAGE...",
		Short: "Mark packages as failed and skip their dependents",
		Long: `Record a non-retriable failure for packages and skip everything that
depends on them. retry-failed leaves these alone unless --max-retries is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withRecovery(cmd, func(m *recovery.Manager, out io.Writer) error {
				names, err := m.MarkFailed(args, reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "marked %d package(s) failed: %s\n", len(names), util.JoinLimited(names, listLimit))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason recorded in the checkpoint")
	return cmd
}

func newSkipCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "skip PACKAGE...",
		Short: "Skip packages and everything that depends on them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withRecovery(cmd, func(m *recovery.Manager, out io.Writer) error {
				skipped, err := m.SkipPackages(args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "skipped %d package(s): %s\n", len(skipped), util.JoinLimited(skipped, listLimit))
				return nil
			})
		},
	}
}

func newRetryFailedCmd(g *globalOptions) *cobra.Command {
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Return retriable failures to pending",
		Long: `Move failed packages whose errors look transient (timeouts, network
errors, lock contention) back to pending, and restore the dependents that
were skipped because of them. Continue the run with
` + "`treebuild tree run --continue`" + `.

With --max-retries, every failed package is retried regardless of its error
and its retry counter is reset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts recovery.RetryOptions
			if cmd.Flags().Changed("max-retries") {
				opts.MaxRetries = &maxRetries
			}
			return g.withRecovery(cmd, func(m *recovery.Manager, out io.Writer) error {
				res, err := m.RetryFailed(opts)
				if err != nil {
					return err
				}
				printRetry(out, res)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry every failure and reset retry counters")
	return cmd
}

func printRetry(w io.Writer, res recovery.RetryResult) {
	if len(res.Retried) == 0 {
		fmt.Fprintln(w, "no retriable failures")
	} else {
		fmt.Fprintf(w, "retrying %d package(s): %s\n", len(res.Retried), util.JoinLimited(res.Retried, listLimit))
	}
	if len(res.Restored) > 0 {
		fmt.Fprintf(w, "restored %d skipped dependent(s)\n", len(res.Restored))
	}
	if len(res.Remaining) > 0 {
		fmt.Fprintf(w, "%d permanent failure(s) left: %s (use --max-retries to force)\n",
			len(res.Remaining), util.JoinLimited(res.Remaining, listLimit))
	}
}

func newSkipFailedCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "skip-failed",
		Short: "Skip every failed package and its dependents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withRecovery(cmd, func(m *recovery.Manager, out io.Writer) error {
				names, err := m.SkipFailed()
				if err != nil {
					return err
				}
				if len(names) == 0 {
					fmt.Fprintln(out, "no failed packages")
					return nil
				}
				fmt.Fprintf(out, "skipped %d failed package(s): %s\n", len(names), util.JoinLimited(names, listLimit))
				return nil
			})
		},
	}
}

func newResetPackageCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-package PACKAGE",
		Short: "Return a package to pending and clear its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withRecovery(cmd, func(m *recovery.Manager, out io.Writer) error {
				name, err := m.ResetPackage(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "reset %s to pending\n", name)
				return nil
			})
		},
	}
}
