package tree

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/graph"
	"github.com/Iron-Ham/treebuild/internal/logging"
	"github.com/Iron-Ham/treebuild/internal/recovery"
	"github.com/Iron-Ham/treebuild/internal/watch"
)

// clearScreen moves the cursor home and clears the terminal.
const clearScreen = "\x1b[H\x1b[2J"

type statusOptions struct {
	watch   bool
	json    bool
	noHints bool
	width   int
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	o := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the progress of the current tree execution",
		Long: `Show bucket counts, running and failed packages, and recovery hints from
the checkpoint. With --watch the view is redrawn whenever the checkpoint
changes, which makes it a live monitor for a run in another terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, g, o)
		},
	}
	cmd.Flags().BoolVarP(&o.watch, "watch", "w", false, "Redraw whenever the checkpoint changes")
	cmd.Flags().BoolVar(&o.json, "json", false, "Print the status as JSON")
	cmd.Flags().BoolVar(&o.noHints, "no-hints", false, "Hide recovery hints")
	cmd.Flags().IntVar(&o.width, "width", 0, "Render width in columns (default: status.width or the terminal width)")
	cmd.MarkFlagsMutuallyExclusive("watch", "json")
	return cmd
}

func runStatus(cmd *cobra.Command, g *globalOptions, o *statusOptions) error {
	e, err := g.load()
	if err != nil {
		return err
	}
	pkgs, _, err := e.graph()
	if err != nil {
		return err
	}
	logger, err := e.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	out := cmd.OutOrStdout()
	opts := recovery.RenderOptions{
		Width:     e.cfg.Status.Width,
		ShowHints: e.cfg.Status.ShowHints && !o.noHints,
	}
	if o.width > 0 {
		opts.Width = o.width
	}

	if !o.watch {
		m, err := e.recovery(pkgs, logger)
		if err != nil {
			return err
		}
		if o.json {
			return writeJSON(out, m.Status())
		}
		if err := m.ShowStatus(out, opts); err != nil {
			return err
		}
		if locked, _ := e.checkpoints.Locked(); locked {
			fmt.Fprintln(out, "\na run is in progress; recovery commands are disabled until it finishes")
		}
		return nil
	}
	return watchStatus(cmd, e, pkgs, logger, opts)
}

// watchStatus redraws the status on every checkpoint change until
// interrupted.
func watchStatus(cmd *cobra.Command, e *env, g *graph.Graph, logger *logging.Logger, opts recovery.RenderOptions) error {
	out := cmd.OutOrStdout()
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	w, err := watch.New(e.checkpoints.Path(),
		watch.WithDebounce(e.cfg.Status.WatchDebounce()),
		watch.WithLogger(logger.WithPhase("watch")),
	)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	home := isTerminal(out)
	draw := func(removed bool) {
		if home {
			fmt.Fprint(out, clearScreen)
		}
		if removed {
			fmt.Fprintf(out, "No checkpoint in %s (the run finished or was discarded). Waiting for a new one...\n", e.outputDir)
			return
		}
		m, err := recovery.Load(e.checkpoints, g, e.recoveryOptions(logger)...)
		switch {
		case errors.Is(err, errors.ErrCheckpointNotFound):
			fmt.Fprintf(out, "No checkpoint in %s yet. Waiting for `treebuild tree run`...\n", e.outputDir)
		case err != nil:
			// A half-written document is replaced atomically, so a read error
			// is reported and the next change redraws.
			fmt.Fprintf(out, "error: %v\n", err)
		default:
			_ = m.ShowStatus(out, opts)
			fmt.Fprintf(out, "\nwatching %s (ctrl+c to stop) %s\n", w.Path(), time.Now().Format(time.TimeOnly))
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	draw(false)
	err = w.Run(ctx, func(c watch.Change) { draw(c.Removed) })
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func newValidateStateCmd(g *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate-state",
		Short: "Check the checkpoint for consistency problems",
		Long: `Check that every package is in exactly one bucket, that completed packages
only depend on completed packages, and that no running entry is stale.
Exits non-zero when the checkpoint has issues.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.inspectRecovery(cmd, func(m *recovery.Manager, out io.Writer) error {
				res := m.ValidateState()
				if asJSON {
					if err := writeJSON(out, res); err != nil {
						return err
					}
				} else {
					printValidation(out, res)
				}
				if !res.Valid {
					return fmt.Errorf("%w: checkpoint has %d issue(s)", errors.ErrInvalidState, len(res.Issues))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func printValidation(w io.Writer, res recovery.ValidationResult) {
	if res.Valid {
		fmt.Fprintln(w, "checkpoint is valid")
	}
	for _, issue := range res.Issues {
		fmt.Fprintf(w, "issue: %s\n", issue)
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
