package tree

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/config"
	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/graph"
	"github.com/Iron-Ham/treebuild/internal/logging"
	"github.com/Iron-Ham/treebuild/internal/recovery"
	"github.com/Iron-Ham/treebuild/internal/workspace"
)

// globalOptions are the persistent flags shared by every tree subcommand.
type globalOptions struct {
	dir       string
	manifest  string
	outputDir string
	patterns  []string
}

func (o *globalOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.dir, "dir", "C", ".", "Workspace root")
	f.StringVar(&o.manifest, "manifest", "", "YAML tree manifest (default: tree.yaml in the workspace root, if present)")
	f.StringVar(&o.outputDir, "output-dir", "", "Directory for the checkpoint and logs (default: tree.output_dir)")
	f.StringSliceVar(&o.patterns, "workspace", nil, "Package directory glob patterns relative to the root (default: package.json workspaces)")
}

// env is the resolved context of one tree subcommand invocation.
type env struct {
	cfg         *config.Config
	root        string
	manifest    string
	patterns    []string
	outputDir   string
	checkpoints *checkpoint.Manager
}

// load resolves configuration and paths. Flags override config values.
func (o *globalOptions) load() (*env, error) {
	config.SetDefaults()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	root, err := filepath.Abs(o.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	outputDir := o.outputDir
	if outputDir == "" {
		outputDir = cfg.Tree.ResolveOutputDir(root)
	} else if outputDir, err = filepath.Abs(outputDir); err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}

	manifest := o.manifest
	if manifest == "" {
		manifest = cfg.Tree.Manifest
	}
	if manifest != "" && !filepath.IsAbs(manifest) {
		manifest = filepath.Join(root, manifest)
	}

	return &env{
		cfg:         cfg,
		root:        root,
		manifest:    manifest,
		patterns:    o.patterns,
		outputDir:   outputDir,
		checkpoints: checkpoint.NewManager(outputDir),
	}, nil
}

// graph loads the workspace packages and builds the dependency graph. The
// second return value is the manifest's default command, if any.
func (e *env) graph() (*graph.Graph, string, error) {
	pkgs, command, err := workspace.Load(e.root, e.manifest, e.patterns)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load workspace: %w", err)
	}
	g, err := graph.Build(pkgs)
	if err != nil {
		return nil, "", err
	}
	return g, command, nil
}

// logger opens the run log. With logging disabled, warnings go to stderr.
func (e *env) logger(stderr io.Writer) (*logging.Logger, error) {
	if !e.cfg.Logging.Enabled {
		return logging.NewWriterLogger(stderr, logging.LevelWarn), nil
	}
	return logging.NewLoggerWithRotation(e.outputDir, e.cfg.Logging.Level, e.cfg.Logging.Rotation())
}

func (e *env) recoveryOptions(logger *logging.Logger) []recovery.Option {
	return []recovery.Option{
		recovery.WithLogger(logger),
		recovery.WithStaleAfter(e.cfg.Tree.StaleRunning()),
		recovery.WithLongRunningAfter(e.cfg.Tree.LongRunning()),
		recovery.WithMaxHints(e.cfg.Tree.MaxHints),
	}
}

// recovery loads the checkpoint into a recovery manager.
func (e *env) recovery(g *graph.Graph, logger *logging.Logger) (*recovery.Manager, error) {
	m, err := recovery.Load(e.checkpoints, g, e.recoveryOptions(logger)...)
	if errors.Is(err, errors.ErrCheckpointNotFound) {
		return nil, fmt.Errorf("%w; start one with `treebuild tree run`", err)
	}
	return m, err
}

// withRecovery runs fn against a loaded recovery manager, handling graph,
// log, and checkpoint setup for the mutating recovery commands. It owns the
// output directory while fn runs, so it refuses to start during a tree run.
func (o *globalOptions) withRecovery(cmd *cobra.Command, fn func(m *recovery.Manager, out io.Writer) error) error {
	return o.recoveryCommand(cmd, true, fn)
}

// inspectRecovery is withRecovery for commands that only read the state.
func (o *globalOptions) inspectRecovery(cmd *cobra.Command, fn func(m *recovery.Manager, out io.Writer) error) error {
	return o.recoveryCommand(cmd, false, fn)
}

func (o *globalOptions) recoveryCommand(cmd *cobra.Command, lock bool, fn func(m *recovery.Manager, out io.Writer) error) error {
	e, err := o.load()
	if err != nil {
		return err
	}
	g, _, err := e.graph()
	if err != nil {
		return err
	}
	logger, err := e.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	if lock {
		release, err := e.checkpoints.AcquireRunLock()
		if errors.Is(err, errors.ErrCheckpointLocked) {
			return fmt.Errorf("%w; wait for the run to finish or stop it first", err)
		}
		if err != nil {
			return err
		}
		defer func() { _ = release() }()
	}

	m, err := e.recovery(g, logger)
	if err != nil {
		return err
	}
	return fn(m, cmd.OutOrStdout())
}
