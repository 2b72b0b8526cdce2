package tree

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/event"
	"github.com/Iron-Ham/treebuild/internal/executor"
	"github.com/Iron-Ham/treebuild/internal/metrics"
	"github.com/Iron-Ham/treebuild/internal/pool"
	"github.com/Iron-Ham/treebuild/internal/tui"
	"github.com/Iron-Ham/treebuild/internal/util"
	"github.com/Iron-Ham/treebuild/internal/validator"
)

type runOptions struct {
	command        string
	kind           string
	maxConcurrency int
	dryRun         bool
	resume         bool
	fresh          bool
	startFrom      string
	useTUI         bool
	keepCheckpoint bool
	usePTY         bool
	timeout        time.Duration
	force          bool
	verbose        bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a command in every package in dependency order",
		Long: `Run a command in every package of the workspace. A package starts only
after all of its dependencies completed; independent packages run in parallel
up to --max-concurrency.

When a package fails, its dependents are skipped and the rest of the tree
continues. The checkpoint is saved after every package, so the run can be
resumed with --continue after fixing the failure.

Examples:
  # Build everything
  treebuild tree run --cmd "npm run build"

  # See the schedule without running anything
  treebuild tree run --dry-run

  # Resume after a failure
  treebuild tree retry-failed && treebuild tree run --continue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTree(cmd, g, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.command, "cmd", "", "Shell command to run in each package (default: tree.command)")
	f.StringVar(&o.kind, "kind", "", "Built-in command kind: commit, publish, link, unlink")
	f.IntVarP(&o.maxConcurrency, "max-concurrency", "j", 0, "Maximum packages running at once (default: recommended for the command kind)")
	f.BoolVar(&o.dryRun, "dry-run", false, "Schedule the tree without running the command")
	f.BoolVar(&o.resume, "continue", false, "Resume from the existing checkpoint")
	f.BoolVar(&o.fresh, "fresh", false, "Discard an existing checkpoint and start over")
	f.StringVar(&o.startFrom, "start-from", "", "Treat packages before this one in the build order as completed")
	f.BoolVar(&o.useTUI, "tui", false, "Show a live progress view")
	f.BoolVar(&o.keepCheckpoint, "keep-checkpoint", false, "Keep the checkpoint after a fully successful run")
	f.BoolVar(&o.usePTY, "pty", false, "Run each command attached to a pseudo-terminal")
	f.DurationVar(&o.timeout, "timeout", 0, "Per-package timeout (default: tree.package_timeout_minutes)")
	f.BoolVar(&o.force, "force", false, "Run even if the command validator reports unsafe operations")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Stream package output to stderr")
	cmd.MarkFlagsMutuallyExclusive("continue", "fresh")
	cmd.MarkFlagsMutuallyExclusive("continue", "start-from")
	return cmd
}

func runTree(cmd *cobra.Command, g *globalOptions, o *runOptions) error {
	e, err := g.load()
	if err != nil {
		return err
	}
	out, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	cfg := e.cfg.Tree
	flags := cmd.Flags()
	if flags.Changed("cmd") {
		cfg.Command = o.command
	}
	if flags.Changed("kind") {
		cfg.CommandKind = o.kind
	}
	if flags.Changed("max-concurrency") {
		cfg.MaxConcurrency = o.maxConcurrency
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = o.dryRun
	}
	if flags.Changed("keep-checkpoint") {
		cfg.KeepCheckpoint = o.keepCheckpoint
	}
	if flags.Changed("pty") {
		cfg.UsePTY = o.usePTY
	}
	timeout := cfg.PackageTimeout()
	if flags.Changed("timeout") {
		timeout = o.timeout
	}

	kind, err := validator.ParseKind(cfg.CommandKind)
	if err != nil {
		return err
	}

	pkgs, manifestCommand, err := e.graph()
	if err != nil {
		return err
	}

	release, err := e.checkpoints.AcquireRunLock()
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	var resume *checkpoint.State
	existing, err := e.checkpoints.Load()
	if errors.Is(err, errors.ErrCheckpointCorrupt) && !o.resume {
		// A corrupt checkpoint cannot be resumed; a fresh run replaces it.
		fmt.Fprintf(stderr, "warning: ignoring unreadable checkpoint: %v\n", err)
		existing, err = nil, nil
	}
	switch {
	case o.fresh:
		if err := e.checkpoints.Clear(); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("%w; use --fresh to discard it", err)
	case o.resume && existing == nil:
		return errors.Wrapf(errors.ErrCheckpointNotFound, "nothing to continue in %s", e.outputDir)
	case o.resume:
		resume = existing
	case existing != nil:
		return fmt.Errorf("%w: execution %s has a checkpoint in %s; use --continue to resume it or --fresh to discard it",
			errors.ErrInvalidState, existing.ExecutionID, e.outputDir)
	}

	command := cfg.Command
	if command == "" && resume != nil {
		command = resume.Command
	}
	if command == "" {
		command = manifestCommand
	}
	if command == "" && !cfg.DryRun {
		return errors.NewValidationError("no command given; pass --cmd or set tree.command").WithField("command")
	}
	if resume != nil && resume.Command != "" && command != resume.Command {
		fmt.Fprintf(stderr, "warning: continuing execution %s with a different command (was %q)\n", resume.ExecutionID, resume.Command)
	}

	if command != "" {
		if err := checkCommand(stderr, command, kind, cfg.StrictValidation && !o.force); err != nil {
			return err
		}
	}

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = validator.GetRecommendedConcurrency(kind, runtime.NumCPU())
	}

	executionID := uuid.NewString()
	if resume != nil {
		executionID = resume.ExecutionID
	}

	base, err := e.logger(stderr)
	if err != nil {
		return err
	}
	defer func() { _ = base.Close() }()
	logger := base.WithExecution(executionID).WithPhase("schedule")

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var prom *metrics.PrometheusRecorder
	if e.cfg.Metrics.Textfile != "" {
		prom = metrics.NewPrometheusRecorder(nil)
		recorder = prom
	}

	shell := &executor.Shell{UsePTY: cfg.UsePTY, Timeout: timeout}
	if o.verbose && !o.useTUI {
		shell.Output = stderr
	}

	bus := event.NewBus()
	bus.SetLogger(base)

	p, err := pool.New(pool.Config{
		Graph:          pkgs,
		Command:        command,
		Options:        map[string]string{"kind": string(kind)},
		MaxConcurrency: maxConcurrency,
		Executor:       shell,
		DryRun:         cfg.DryRun,
		StartFrom:      o.startFrom,
		Resume:         resume,
		Checkpoints:    e.checkpoints,
		KeepCheckpoint: cfg.KeepCheckpoint,
		ExecutionID:    executionID,
		Logger:         logger,
		Bus:            bus,
		Recorder:       recorder,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result *pool.ExecutionResult
	if o.useTUI && isTerminal(out) {
		result, err = executeWithTUI(ctx, p, bus)
	} else {
		newReporter(out).attach(bus)
		result, err = p.Execute(ctx)
	}

	if prom != nil {
		if werr := prom.WriteTextfile(e.cfg.Metrics.Textfile); werr != nil {
			logger.Warn("failed to write metrics textfile", "path", e.cfg.Metrics.Textfile, "error", werr)
		}
	}
	if err != nil {
		return err
	}

	printSummary(out, result)
	switch {
	case result.Success:
		return nil
	case result.Interrupted:
		return fmt.Errorf("%w: run interrupted; resume with `treebuild tree run --continue`", errors.ErrCanceled)
	default:
		return fmt.Errorf("%w: %d package(s) failed: %s", errors.ErrExecutionFailed, len(result.Failed), util.JoinLimited(result.Failed, 5))
	}
}

// executeWithTUI runs the pool while the progress view owns the terminal.
// Quitting the view cancels the run and waits for it to stop.
func executeWithTUI(ctx context.Context, p *pool.Pool, bus *event.Bus) (*pool.ExecutionResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app := tui.New("treebuild tree run", cancel)
	app.Attach(bus)

	var (
		result *pool.ExecutionResult
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = p.Execute(ctx)
		app.Finish(runErr)
	}()

	uiErr := app.Run()
	cancel()
	<-done
	if runErr != nil {
		return nil, runErr
	}
	if uiErr != nil {
		return result, fmt.Errorf("progress view failed: %w", uiErr)
	}
	return result, nil
}

// checkCommand prints validator findings. With strict set, issues block
// the run.
func checkCommand(w io.Writer, command string, kind validator.Kind, strict bool) error {
	res := validator.ValidateForParallel(command, kind)
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if res.Safe {
		return nil
	}
	for _, issue := range res.Issues {
		fmt.Fprintf(w, "unsafe: %s\n", issue)
	}
	if strict {
		return fmt.Errorf("%w (use --force to run anyway)", res.Err())
	}
	return nil
}
