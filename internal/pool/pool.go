package pool

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/event"
	"github.com/Iron-Ham/treebuild/internal/executor"
	"github.com/Iron-Ham/treebuild/internal/graph"
	"github.com/Iron-Ham/treebuild/internal/metrics"
)

// Pool schedules one execution of a command across a package graph. A Pool
// is single use: Execute may be called once.
type Pool struct {
	cfg     Config
	started atomic.Bool

	// Everything below is owned by the coordinating loop.
	state     *checkpoint.State
	order     []string
	position  map[string]int
	publisher event.Publisher
	tracker   *concurrencyTracker
	aborted   bool
	saveErr   error
}

// completion is what an execution goroutine reports back to the loop.
type completion struct {
	name     string
	attempt  int
	result   executor.Result
	duration time.Duration
	panicked bool
}

type nopPublisher struct{}

func (nopPublisher) Publish(event.Event) {}

// New validates cfg and returns a Pool ready to Execute.
func New(cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Pool{cfg: cfg}, nil
}

// MaxConcurrency returns the effective concurrency limit.
func (p *Pool) MaxConcurrency() int {
	return p.cfg.MaxConcurrency
}

// Execute runs the pool to completion. It returns an error only for setup
// problems (an unknown StartFrom package, a second call) or when the
// checkpoint cannot be saved; package failures are reported in the result.
//
// Canceling ctx aborts in-flight executions, waits for them to report, and
// returns the partial result with Interrupted set.
func (p *Pool) Execute(ctx context.Context) (*ExecutionResult, error) {
	if !p.started.CompareAndSwap(false, true) {
		return nil, errors.Wrap(errors.ErrInvalidState, "pool has already been executed")
	}

	state, err := p.prepare()
	if err != nil {
		return nil, err
	}
	p.state = state
	p.order = slices.Clone(state.BuildOrder)
	p.position = make(map[string]int, len(p.order))
	for i, name := range p.order {
		p.position[name] = i
	}

	p.publisher = nopPublisher{}
	if p.cfg.Bus != nil {
		async := event.NewAsyncPublisher(p.cfg.Bus)
		defer async.Close()
		p.publisher = async
	}

	start := time.Now()
	p.tracker = newConcurrencyTracker(start)
	resumed := p.cfg.Resume != nil

	p.cfg.Logger.Info("tree execution started",
		"execution_id", state.ExecutionID,
		"packages", len(p.order),
		"max_concurrency", p.cfg.MaxConcurrency,
		"resumed", resumed,
		"dry_run", p.cfg.DryRun,
	)
	started := event.NewExecutionStartedEvent(state.ExecutionID, slices.Clone(p.order), p.cfg.MaxConcurrency, resumed, p.cfg.DryRun)
	started.Completed = state.Members(checkpoint.BucketCompleted)
	started.Failed = state.Members(checkpoint.BucketFailed)
	started.Skipped = state.Members(checkpoint.BucketSkipped)
	p.publisher.Publish(started)

	p.promote()
	p.save()
	interrupted := p.run(ctx)

	result := p.finish(start, interrupted)
	if p.saveErr != nil {
		return result, p.saveErr
	}
	return result, nil
}

// prepare builds the initial state, either fresh or from Config.Resume.
func (p *Pool) prepare() (*checkpoint.State, error) {
	if p.cfg.Resume != nil {
		return p.prepareResume(), nil
	}

	g := p.cfg.Graph
	order := g.TopologicalOrder()
	id := p.cfg.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}
	s := checkpoint.New(id, p.cfg.Command, order)

	if p.cfg.StartFrom != "" {
		first, err := g.Resolve(p.cfg.StartFrom)
		if err != nil {
			return nil, err
		}
		for _, name := range order {
			if name == first {
				break
			}
			s.MoveTo(name, checkpoint.BucketCompleted)
		}
		p.cfg.Logger.Info("starting from package", "package", first, "assumed_completed", len(s.Completed))
	}
	return s, nil
}

// prepareResume reconciles a saved state with the current graph. Running and
// ready entries were interrupted and go back to pending.
func (p *Pool) prepareResume() *checkpoint.State {
	g := p.cfg.Graph
	s := p.cfg.Resume.Clone()

	for _, b := range checkpoint.Buckets() {
		for _, name := range s.Members(b) {
			if !g.Has(name) {
				p.cfg.Logger.Warn("dropping package missing from graph", "package", name, "bucket", string(b))
				s.Remove(name)
				s.ClearHistory(name)
			}
		}
	}

	s.BuildOrder = slices.DeleteFunc(s.BuildOrder, func(n string) bool { return !g.Has(n) })
	if !isBuildOrderFor(s.BuildOrder, g) {
		p.cfg.Logger.Warn("checkpoint build order does not match the graph, recomputing")
		s.BuildOrder = g.TopologicalOrder()
	}

	for _, b := range []checkpoint.Bucket{checkpoint.BucketRunning, checkpoint.BucketReady} {
		for _, name := range s.Members(b) {
			s.MoveTo(name, checkpoint.BucketPending)
		}
	}
	for _, name := range s.BuildOrder {
		if _, ok := s.BucketOf(name); !ok {
			s.MoveTo(name, checkpoint.BucketPending)
		}
	}

	if s.Command != "" && p.cfg.Command != "" && s.Command != p.cfg.Command {
		p.cfg.Logger.Warn("resuming with a different command", "checkpoint_command", s.Command, "command", p.cfg.Command)
	}
	if p.cfg.Command != "" {
		s.Command = p.cfg.Command
	}
	if s.TotalStartTime.IsZero() {
		s.TotalStartTime = time.Now()
	}
	return s
}

// isBuildOrderFor reports whether order lists every package of g exactly
// once with each package after its dependencies.
func isBuildOrderFor(order []string, g *graph.Graph) bool {
	if len(order) != g.Len() {
		return false
	}
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if seen[name] || !g.Has(name) {
			return false
		}
		for _, dep := range g.Dependencies(name) {
			if !seen[dep] {
				return false
			}
		}
		seen[name] = true
	}
	return true
}

// run is the coordinating loop. It returns true if ctx was canceled.
func (p *Pool) run(ctx context.Context) bool {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Each package is dispatched at most once per run, so completions never
	// block on a full channel.
	results := make(chan completion, len(p.order))
	var wg conc.WaitGroup
	defer wg.Wait()

	done := ctx.Done()
	interrupted := false
	inFlight := 0
	interrupt := func() {
		done = nil
		interrupted = true
		p.aborted = true
		if inFlight > 0 {
			p.cfg.Logger.Warn("execution interrupted, waiting for running packages", "running", inFlight)
		}
		cancel()
	}
	if ctx.Err() != nil {
		interrupt()
	}

	for {
		if p.saveErr != nil && !p.aborted {
			p.aborted = true
			cancel()
		}
		if !p.aborted {
			inFlight += p.dispatch(runCtx, &wg, results, inFlight)
		}
		if inFlight == 0 {
			if !p.aborted && !p.state.IsFinished() {
				p.cfg.Logger.Warn("no runnable packages left", "pending", len(p.state.Pending))
			}
			return interrupted
		}

		select {
		case c := <-results:
			// A completion caused by cancellation can win the race against
			// ctx.Done in this select.
			if done != nil && ctx.Err() != nil {
				interrupt()
			}
			inFlight--
			p.complete(c)
		case <-done:
			interrupt()
		}
	}
}

// dispatch starts ready packages in build order until the concurrency limit
// is reached and returns how many it started.
func (p *Pool) dispatch(ctx context.Context, wg *conc.WaitGroup, results chan<- completion, inFlight int) int {
	started := 0
	for inFlight+started < p.cfg.MaxConcurrency && len(p.state.Ready) > 0 {
		p.state.SortByBuildOrder(p.state.Ready)
		req := p.begin(p.state.Ready[0])
		wg.Go(func() {
			results <- p.execute(ctx, req)
		})
		started++
	}
	if started > 0 {
		p.setRunning(time.Now())
		p.save()
	}
	return started
}

// begin moves name into running and builds its executor request.
func (p *Pool) begin(name string) executor.Request {
	attempt := p.state.RetryAttempts[name] + 1
	requeued := slices.Contains(p.state.Requeued, name)
	p.state.Requeued = slices.DeleteFunc(p.state.Requeued, func(n string) bool { return n == name })
	p.state.MoveTo(name, checkpoint.BucketRunning)
	p.state.PackageStartTimes[name] = time.Now()
	delete(p.state.PackageEndTimes, name)
	delete(p.state.PackageDurations, name)

	pkg, _ := p.cfg.Graph.Package(name)
	index := p.position[name] + 1
	total := len(p.order)

	if attempt > 1 || requeued {
		p.cfg.Logger.Info("retrying package", "package", name, "attempt", attempt)
		p.publisher.Publish(event.NewPackageRetryingEvent(name, attempt))
	}
	p.cfg.Logger.Info("package started", "package", name, "index", index, "total", total, "attempt", attempt)
	p.publisher.Publish(event.NewPackageStartedEvent(name, index, total, attempt))

	return executor.Request{
		Package:     pkg,
		Command:     p.cfg.Command,
		Options:     p.cfg.Options,
		DryRun:      p.cfg.DryRun,
		Index:       index,
		Total:       total,
		AllPackages: p.order,
		Attempt:     attempt,
	}
}

// execute runs on its own goroutine and must not touch the state.
func (p *Pool) execute(ctx context.Context, req executor.Request) completion {
	start := time.Now()
	var res executor.Result
	var pc panics.Catcher
	pc.Try(func() {
		res = p.cfg.Executor.Execute(ctx, req)
	})

	c := completion{name: req.Package.Name, attempt: req.Attempt}
	if r := pc.Recovered(); r != nil {
		c.panicked = true
		res = executor.Result{
			Err:      errors.NewExecutionError(req.Package.Name, "executor panicked", r.AsError()),
			ExitCode: -1,
		}
	}
	if !res.Success && res.Err == nil {
		res.Err = errors.NewExecutionError(req.Package.Name, "execution failed", nil).WithExitCode(res.ExitCode)
	}
	c.result = res
	c.duration = time.Since(start)
	return c
}

// complete applies an execution result to the state.
func (p *Pool) complete(c completion) {
	now := time.Now()
	name := c.name
	p.state.PackageEndTimes[name] = now
	p.state.PackageDurations[name] = c.duration.Milliseconds()

	switch {
	case c.result.Success:
		p.state.MoveTo(name, checkpoint.BucketCompleted)
		if c.result.SkippedNoChanges {
			p.state.SkippedNoChanges = append(p.state.SkippedNoChanges, name)
			p.cfg.Logger.Info("package had no changes", "package", name, "duration_ms", c.duration.Milliseconds())
			p.publisher.Publish(event.NewPackageSkippedNoChangesEvent(name, c.duration))
			p.recordPackage(name, c.duration, metrics.OutcomeNoChanges)
		} else {
			p.cfg.Logger.Info("package completed", "package", name, "duration_ms", c.duration.Milliseconds())
			p.publisher.Publish(event.NewPackageCompletedEvent(name, c.duration, c.attempt))
			p.recordPackage(name, c.duration, metrics.OutcomeCompleted)
		}
		p.promote()

	case p.aborted:
		// The failure is most likely the abort itself; rerun it on resume.
		p.state.MoveTo(name, checkpoint.BucketPending)
		delete(p.state.PackageStartTimes, name)
		delete(p.state.PackageEndTimes, name)
		delete(p.state.PackageDurations, name)
		p.cfg.Logger.Warn("package interrupted", "package", name, "error", errorText(c.result.Err))
		p.recordPackage(name, c.duration, metrics.OutcomeInterrupted)

	default:
		p.fail(c, now)
	}

	p.setRunning(now)
	p.save()
}

func (p *Pool) fail(c completion, now time.Time) {
	name := c.name
	p.state.RetryAttempts[name]++
	retriable := !c.panicked && IsRetriable(c.result)
	dependents := p.cfg.Graph.FindAllDependents(name)
	msg := errorText(c.result.Err)

	p.state.MarkFailed(checkpoint.FailedPackage{
		Name:          name,
		Error:         msg,
		IsRetriable:   retriable,
		AttemptNumber: c.attempt,
		FailedAt:      now,
		Dependencies:  p.cfg.Graph.Dependencies(name),
		Dependents:    dependents,
	})
	p.cfg.Logger.Error("package failed",
		"package", name,
		"error", msg,
		"retriable", retriable,
		"attempt", c.attempt,
		"dependents", len(dependents),
	)
	p.publisher.Publish(event.NewPackageFailedEvent(name, msg, retriable, c.attempt, c.duration, dependents))
	p.recordPackage(name, c.duration, metrics.OutcomeFailed)

	for _, dep := range dependents {
		if b, ok := p.state.BucketOf(dep); ok && !b.IsTerminal() {
			p.skip(dep, name)
		}
	}
}

// promote moves pending packages whose dependencies are all completed to
// ready, and skips pending packages with a failed or skipped dependency.
// Walking in build order lets a skip reach further dependents in one pass.
func (p *Pool) promote() {
next:
	for _, name := range p.order {
		if b, _ := p.state.BucketOf(name); b != checkpoint.BucketPending {
			continue
		}
		ready := true
		for _, dep := range p.cfg.Graph.Dependencies(name) {
			switch b, _ := p.state.BucketOf(dep); b {
			case checkpoint.BucketCompleted:
			case checkpoint.BucketFailed:
				p.skip(name, dep)
				continue next
			case checkpoint.BucketSkipped:
				cause := dep
				if root := p.state.SkipCause(dep); root != "" {
					cause = root
				}
				p.skip(name, cause)
				continue next
			default:
				ready = false
			}
		}
		if ready {
			p.state.MoveTo(name, checkpoint.BucketReady)
		}
	}
}

func (p *Pool) skip(name, cause string) {
	reason := checkpoint.DependencySkipReason(cause)
	p.state.MarkSkipped(name, reason)
	p.cfg.Logger.Warn("package skipped", "package", name, "cause", cause)
	p.publisher.Publish(event.NewPackageSkippedEvent(name, cause, reason))
	p.cfg.Recorder.IncPackageOutcome(metrics.OutcomeSkipped)
}

func (p *Pool) recordPackage(name string, d time.Duration, outcome metrics.Outcome) {
	p.cfg.Recorder.ObservePackageDuration(name, d, outcome)
	p.cfg.Recorder.IncPackageOutcome(outcome)
}

func (p *Pool) setRunning(now time.Time) {
	n := len(p.state.Running)
	p.tracker.set(n, now)
	p.cfg.Recorder.SetRunning(n)
}

// save persists the state. After the first failure it does nothing; the
// loop sees saveErr and aborts the run.
func (p *Pool) save() {
	if p.cfg.Checkpoints == nil || p.saveErr != nil {
		return
	}
	if err := p.cfg.Checkpoints.Save(p.state); err != nil {
		p.saveErr = errors.Wrap(err, "failed to save checkpoint")
		p.cfg.Recorder.IncCheckpointSave(false)
		p.cfg.Logger.Error("checkpoint save failed", "path", p.cfg.Checkpoints.Path(), "error", err)
		return
	}
	p.cfg.Recorder.IncCheckpointSave(true)
	counts := p.state.Counts()
	p.publisher.Publish(event.NewCheckpointSavedEvent(p.cfg.Checkpoints.Path(), counts.Completed, counts.Total))
}

// finish builds the result, removes the checkpoint after a clean run, and
// emits execution:completed.
func (p *Pool) finish(start time.Time, interrupted bool) *ExecutionResult {
	now := time.Now()
	s := p.state
	duration := now.Sub(start)
	m := p.tracker.metrics(now)
	success := !interrupted && p.saveErr == nil && len(s.Failed) == 0 && s.IsFinished()

	failed := slices.Clone(s.Failed)
	slices.SortStableFunc(failed, func(a, b checkpoint.FailedPackage) int {
		return p.position[a.Name] - p.position[b.Name]
	})
	failedNames := make([]string, len(failed))
	for i, f := range failed {
		failedNames[i] = f.Name
	}

	res := &ExecutionResult{
		Success:          success,
		ExecutionID:      s.ExecutionID,
		Interrupted:      interrupted,
		TotalPackages:    len(p.order),
		Completed:        p.sorted(s.Completed),
		Failed:           failedNames,
		Skipped:          p.sorted(s.Skipped),
		SkippedNoChanges: p.sorted(s.SkippedNoChanges),
		FailedPackages:   failed,
		Duration:         duration,
		Metrics:          m,
	}

	if p.cfg.Checkpoints != nil {
		res.CheckpointPath = p.cfg.Checkpoints.Path()
		if success && !p.cfg.KeepCheckpoint {
			if err := p.cfg.Checkpoints.Clear(); err != nil {
				p.cfg.Logger.Warn("failed to remove checkpoint", "path", res.CheckpointPath, "error", err)
			} else {
				res.CheckpointPath = ""
			}
		}
	}

	outcome := metrics.OutcomeFailed
	switch {
	case interrupted:
		outcome = metrics.OutcomeInterrupted
	case success:
		outcome = metrics.OutcomeCompleted
	}
	p.cfg.Recorder.ObserveExecutionDuration(duration)
	p.cfg.Recorder.IncExecutionOutcome(outcome)
	p.cfg.Recorder.SetPeakConcurrency(m.PeakConcurrency)
	p.cfg.Recorder.SetAverageConcurrency(m.AverageConcurrency)
	p.cfg.Recorder.SetRunning(0)

	p.cfg.Logger.Info("tree execution finished",
		"execution_id", s.ExecutionID,
		"success", success,
		"interrupted", interrupted,
		"completed", len(res.Completed),
		"failed", len(res.Failed),
		"skipped", len(res.Skipped),
		"no_changes", len(res.SkippedNoChanges),
		"duration_ms", duration.Milliseconds(),
		"peak_concurrency", m.PeakConcurrency,
	)
	p.publisher.Publish(event.NewExecutionCompletedEvent(
		s.ExecutionID, success, interrupted, len(p.order),
		len(res.Completed), len(res.Failed), len(res.Skipped), len(res.SkippedNoChanges), duration,
	))
	return res
}

func (p *Pool) sorted(names []string) []string {
	out := slices.Clone(names)
	if out == nil {
		out = []string{}
	}
	p.state.SortByBuildOrder(out)
	return out
}
