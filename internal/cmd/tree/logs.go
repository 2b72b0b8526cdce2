package tree

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/logging"
)

type logsOptions struct {
	level       string
	pkg         string
	executionID string
	phase       string
	grep        string
	since       time.Duration
	tail        int
	format      string
	output      string
}

func newLogsCmd(g *globalOptions) *cobra.Command {
	o := &logsOptions{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show or export run logs",
		Long: `Read the structured run log from the output directory, including rotated
backups, and print the entries that match the filters.

Examples:
  # Errors from the last hour
  treebuild tree logs --level error --since 1h

  # Everything logged for one package
  treebuild tree logs --package @acme/api

  # Export to CSV
  treebuild tree logs --format csv --output run.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.level, "level", "l", "", "Minimum level: debug, info, warn, error")
	f.StringVarP(&o.pkg, "package", "p", "", "Only entries for this package")
	f.StringVar(&o.executionID, "execution", "", "Only entries for this execution ID")
	f.StringVar(&o.phase, "phase", "", "Only entries for this phase")
	f.StringVar(&o.grep, "grep", "", "Only entries whose message contains this text")
	f.DurationVar(&o.since, "since", 0, "Only entries newer than this (e.g. 30m, 2h)")
	f.IntVarP(&o.tail, "tail", "n", 0, "Only the last N matching entries")
	f.StringVar(&o.format, "format", "text", "Output format: text, json, csv")
	f.StringVarP(&o.output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func runLogs(cmd *cobra.Command, g *globalOptions, o *logsOptions) error {
	if o.level != "" && !slices.Contains(logging.ValidLevels(), strings.ToUpper(o.level)) {
		return errors.NewValidationError("unknown log level").
			WithField("level").
			WithValue(o.level)
	}

	e, err := g.load()
	if err != nil {
		return err
	}
	entries, err := logging.AggregateLogs(e.outputDir)
	if err != nil {
		return err
	}

	filter := logging.LogFilter{
		Level:           o.level,
		ExecutionID:     o.executionID,
		Package:         o.pkg,
		Phase:           o.phase,
		MessageContains: o.grep,
	}
	if o.since > 0 {
		filter.StartTime = time.Now().Add(-o.since)
	}
	entries = logging.FilterLogs(entries, filter)
	if o.tail > 0 && len(entries) > o.tail {
		entries = entries[len(entries)-o.tail:]
	}

	if o.output != "" {
		if err := logging.ExportLogEntries(entries, o.output, o.format); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d entries to %s\n", len(entries), o.output)
		return nil
	}
	if len(entries) == 0 && o.format == "text" {
		fmt.Fprintf(cmd.ErrOrStderr(), "no log entries in %s\n", e.outputDir)
		return nil
	}
	return logging.WriteLogEntries(cmd.OutOrStdout(), entries, o.format)
}
