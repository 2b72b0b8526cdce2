package tree

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/treebuild/internal/tui/styles"
	"github.com/Iron-Ham/treebuild/internal/validator"
)

func newValidateCommandCmd(_ *globalOptions) *cobra.Command {
	var (
		kind   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "validate-command COMMAND",
		Short: "Check whether a command is safe to run in parallel across packages",
		Long: `Check a shell command for operations that break when run in many packages
at once, such as switching branches, force pushes, or recursive deletes
outside the package, and report the recommended concurrency.

Exits non-zero when the command has unsafe operations.

Examples:
  treebuild tree validate-command "npm run build"
  treebuild tree validate-command --kind publish "npm publish"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := validator.ParseKind(kind)
			if err != nil {
				return err
			}
			res := validator.ValidateForParallel(strings.Join(args, " "), k)

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, res); err != nil {
					return err
				}
				return res.Err()
			}

			if res.Safe {
				fmt.Fprintln(out, styles.Secondary.Render("✓ safe for parallel execution"))
			} else {
				fmt.Fprintln(out, styles.Error.Render("✗ unsafe for parallel execution"))
			}
			for _, issue := range res.Issues {
				fmt.Fprintf(out, "  issue: %s\n", issue)
			}
			for _, warning := range res.Warnings {
				fmt.Fprintf(out, "  warning: %s\n", warning)
			}
			recommended := res.RecommendedConcurrency
			if recommended == 0 {
				recommended = validator.GetRecommendedConcurrency(k, runtime.NumCPU())
			}
			fmt.Fprintf(out, "recommended concurrency: %d (of %d CPUs)\n", recommended, runtime.NumCPU())
			return res.Err()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Built-in command kind: commit, publish, link, unlink")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}
