package tree

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/event"
	"github.com/Iron-Ham/treebuild/internal/pool"
	"github.com/Iron-Ham/treebuild/internal/tui/styles"
	"github.com/Iron-Ham/treebuild/internal/util"
)

// reporter prints one line per package transition. Handlers run on the
// publisher goroutine, so writes are serialized with a mutex.
type reporter struct {
	mu  sync.Mutex
	out io.Writer
}

func newReporter(out io.Writer) *reporter {
	return &reporter{out: out}
}

func (r *reporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *reporter) attach(bus *event.Bus) {
	event.On(bus, event.TypeExecutionStarted, func(e event.ExecutionStartedEvent) {
		mode := "starting"
		if e.Resumed {
			mode = "resuming"
		}
		if e.DryRun {
			mode += " (dry run)"
		}
		r.printf("%s %s: %d packages, max concurrency %d\n",
			styles.Title.UnsetMarginBottom().Render("treebuild"), mode, e.TotalPackages, e.MaxConcurrency)
		if done := len(e.Completed); done > 0 {
			r.printf("  %d already completed\n", done)
		}
	})
	event.On(bus, event.TypePackageStarted, func(e event.PackageStartedEvent) {
		r.printf("%s [%d/%d] %s\n", mark(checkpoint.BucketRunning), e.Index, e.Total, e.Package)
	})
	event.On(bus, event.TypePackageRetrying, func(e event.PackageRetryingEvent) {
		r.printf("%s %s (attempt %d)\n", styles.Warning.Render("↻"), e.Package, e.Attempt)
	})
	event.On(bus, event.TypePackageCompleted, func(e event.PackageCompletedEvent) {
		r.printf("%s %s %s\n", mark(checkpoint.BucketCompleted), e.Package, styles.Muted.Render(util.FormatDuration(e.Duration)))
	})
	event.On(bus, event.TypePackageSkippedNoChanges, func(e event.PackageSkippedNoChangesEvent) {
		r.printf("%s %s %s\n", mark(checkpoint.BucketCompleted), e.Package, styles.Muted.Render("no changes"))
	})
	event.On(bus, event.TypePackageFailed, func(e event.PackageFailedEvent) {
		r.printf("%s %s: %s\n", mark(checkpoint.BucketFailed), e.Package, util.TruncateString(util.FirstLine(e.Error), 120))
	})
	event.On(bus, event.TypePackageSkipped, func(e event.PackageSkippedEvent) {
		r.printf("%s %s %s\n", mark(checkpoint.BucketSkipped), e.Package, styles.Muted.Render("("+e.Reason+")"))
	})
}

// printSummary writes the end-of-run totals.
func printSummary(w io.Writer, res *pool.ExecutionResult) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %d/%d completed", styles.SectionHeader.UnsetMarginTop().Render("Summary:"), len(res.Completed), res.TotalPackages)
	if n := len(res.SkippedNoChanges); n > 0 {
		fmt.Fprintf(w, " (%d with no changes)", n)
	}
	if n := len(res.Failed); n > 0 {
		fmt.Fprintf(w, ", %s", styles.Error.Render(fmt.Sprintf("%d failed", n)))
	}
	if n := len(res.Skipped); n > 0 {
		fmt.Fprintf(w, ", %s", styles.Warning.Render(fmt.Sprintf("%d skipped", n)))
	}
	fmt.Fprintf(w, " in %s\n", util.FormatDuration(res.Duration))
	fmt.Fprintf(w, "%s peak %d, average %.1f\n", styles.Label.Render("concurrency"), res.Metrics.PeakConcurrency, res.Metrics.AverageConcurrency)

	for _, f := range res.FailedPackages {
		fmt.Fprintf(w, "  %s %s: %s\n", styles.Error.Render("✗"), f.Name, util.TruncateString(util.FirstLine(f.Error), 120))
	}
	if res.CheckpointPath != "" {
		fmt.Fprintf(w, "%s %s\n", styles.Label.Render("checkpoint"), res.CheckpointPath)
	}
}

// mark is the colored icon of a bucket.
func mark(b checkpoint.Bucket) string {
	return styles.Bucket(string(b), styles.BucketIcon(string(b)))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
