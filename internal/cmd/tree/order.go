package tree

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/treebuild/internal/tui/styles"
)

func newOrderCmd(g *globalOptions) *cobra.Command {
	var (
		levels bool
		asJSON bool
		paths  bool
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Print the build order of the workspace packages",
		Long: `Print packages in the order a run would start them. With --levels,
packages are grouped into waves that could run in parallel if concurrency
were unlimited.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			pkgs, _, err := e.graph()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if levels {
				waves := pkgs.Levels()
				if asJSON {
					return writeJSON(out, waves)
				}
				for i, wave := range waves {
					fmt.Fprintf(out, "%s %s\n", styles.Label.Render(fmt.Sprintf("level %d", i)), strings.Join(wave, " "))
				}
				return nil
			}

			order := pkgs.TopologicalOrder()
			if asJSON {
				return writeJSON(out, order)
			}
			for i, name := range order {
				line := fmt.Sprintf("%3d  %s", i+1, name)
				if paths {
					if p, ok := pkgs.Package(name); ok {
						line += "  " + styles.Muted.Render(p.Path)
					}
				}
				if deps := pkgs.Dependencies(name); len(deps) > 0 {
					line += styles.Muted.Render("  <- " + strings.Join(deps, ", "))
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&levels, "levels", false, "Group packages into parallel levels")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	cmd.Flags().BoolVar(&paths, "paths", false, "Show package directories")
	return cmd
}
