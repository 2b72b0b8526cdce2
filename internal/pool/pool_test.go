package pool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/event"
	"github.com/Iron-Ham/treebuild/internal/executor"
	"github.com/Iron-Ham/treebuild/internal/graph"
	"github.com/Iron-Ham/treebuild/internal/logging"
)

var _ Logger = (*logging.Logger)(nil)

func mustGraph(t *testing.T, pkgs ...graph.Package) *graph.Graph {
	t.Helper()
	g, err := graph.Build(pkgs)
	if err != nil {
		t.Fatalf("graph.Build: %v", err)
	}
	return g
}

// chain builds a ← b ← c.
func chain(t *testing.T) *graph.Graph {
	return mustGraph(t,
		graph.Package{Name: "a"},
		graph.Package{Name: "b", Dependencies: []string{"a"}},
		graph.Package{Name: "c", Dependencies: []string{"b"}},
	)
}

// recordingExecutor checks dependency ordering and concurrency from the
// executor's side of the contract.
type recordingExecutor struct {
	g     *graph.Graph
	delay time.Duration
	fail  map[string]bool

	mu         sync.Mutex
	done       map[string]bool
	calls      []string
	running    int
	peak       int
	violations []string
}

func newRecordingExecutor(g *graph.Graph) *recordingExecutor {
	return &recordingExecutor{g: g, fail: map[string]bool{}, done: map[string]bool{}}
}

func (r *recordingExecutor) Execute(ctx context.Context, req executor.Request) executor.Result {
	name := req.Package.Name
	r.mu.Lock()
	r.calls = append(r.calls, name)
	for _, dep := range r.g.Dependencies(name) {
		if !r.done[dep] {
			r.violations = append(r.violations, fmt.Sprintf("%s started before %s finished", name, dep))
		}
	}
	r.running++
	if r.running > r.peak {
		r.peak = r.running
	}
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.running--
	if r.fail[name] {
		return executor.Result{Err: errors.New("build failed: syntax error"), ExitCode: 1}
	}
	r.done[name] = true
	return executor.Result{Success: true}
}

func (r *recordingExecutor) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Executor: executor.DryRun{}}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("New(no graph) error = %v, want ErrInvalidInput", err)
	}
	g := chain(t)
	if _, err := New(Config{Graph: g}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("New(no executor) error = %v, want ErrInvalidInput", err)
	}
	p, err := New(Config{Graph: g, DryRun: true})
	if err != nil {
		t.Fatalf("New(dry run): %v", err)
	}
	if p.MaxConcurrency() <= 0 {
		t.Errorf("MaxConcurrency() = %d, want the CPU count", p.MaxConcurrency())
	}
}

func TestExecute_ChainFailureCascade(t *testing.T) {
	g := chain(t)
	exec := newRecordingExecutor(g)
	exec.fail["a"] = true
	mgr := checkpoint.NewManager(t.TempDir())

	p, err := New(Config{Graph: g, Command: "npm run build", MaxConcurrency: 2, Executor: exec, Checkpoints: mgr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if res.Success {
		t.Error("Success = true, want false")
	}
	if diff := cmp.Diff([]string{"a"}, res.Failed); diff != "" {
		t.Errorf("Failed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b", "c"}, res.Skipped); diff != "" {
		t.Errorf("Skipped mismatch (-want +got):\n%s", diff)
	}
	if len(res.Completed) != 0 {
		t.Errorf("Completed = %v, want none", res.Completed)
	}
	if calls := exec.Calls(); !slices.Equal(calls, []string{"a"}) {
		t.Errorf("executor calls = %v, want only [a]", calls)
	}

	state, err := mgr.Load()
	if err != nil || state == nil {
		t.Fatalf("Load() = %v, %v; want the failed run's checkpoint", state, err)
	}
	for _, name := range []string{"b", "c"} {
		if got := state.SkipReasons[name]; got != "dependency:a" {
			t.Errorf("SkipReasons[%s] = %q, want dependency:a", name, got)
		}
	}
	f, ok := state.FailedEntry("a")
	if !ok {
		t.Fatal("a is not in the failed bucket")
	}
	if f.IsRetriable || f.AttemptNumber != 1 {
		t.Errorf("failed entry = %+v, want non-retriable attempt 1", f)
	}
	if !slices.Equal(f.Dependents, []string{"b", "c"}) {
		t.Errorf("Dependents = %v, want [b c]", f.Dependents)
	}
	if state.RetryAttempts["a"] != 1 {
		t.Errorf("RetryAttempts[a] = %d, want 1", state.RetryAttempts["a"])
	}
	if res.CheckpointPath != mgr.Path() {
		t.Errorf("CheckpointPath = %q, want %q", res.CheckpointPath, mgr.Path())
	}
}

func TestExecute_Diamond(t *testing.T) {
	g := mustGraph(t,
		graph.Package{Name: "top", Dependencies: []string{"left", "right"}},
		graph.Package{Name: "left", Dependencies: []string{"base"}},
		graph.Package{Name: "right", Dependencies: []string{"base"}},
		graph.Package{Name: "base"},
	)

	var (
		mu        sync.Mutex
		running   = map[string]bool{}
		completed = map[string]bool{}
		arrived   sync.WaitGroup
		together  = make(chan struct{})
	)
	arrived.Add(2)
	go func() {
		arrived.Wait()
		close(together)
	}()

	exec := executor.Func(func(ctx context.Context, req executor.Request) executor.Result {
		name := req.Package.Name
		mu.Lock()
		switch name {
		case "base":
			if len(running) != 0 {
				t.Errorf("base started while %v were running", running)
			}
		case "top":
			if !completed["left"] || !completed["right"] {
				t.Errorf("top started before left and right completed: %v", completed)
			}
		}
		running[name] = true
		mu.Unlock()

		if name == "left" || name == "right" {
			arrived.Done()
			select {
			case <-together:
			case <-time.After(5 * time.Second):
				t.Errorf("%s: left and right did not run concurrently", name)
			}
		}

		mu.Lock()
		delete(running, name)
		completed[name] = true
		mu.Unlock()
		return executor.Result{Success: true}
	})

	p, err := New(Config{Graph: g, MaxConcurrency: 3, Executor: exec})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, failed = %v", res.Failed)
	}
	if diff := cmp.Diff([]string{"base", "left", "right", "top"}, res.Completed); diff != "" {
		t.Errorf("Completed mismatch (-want +got):\n%s", diff)
	}
	if res.Metrics.PeakConcurrency != 2 {
		t.Errorf("PeakConcurrency = %d, want 2", res.Metrics.PeakConcurrency)
	}
	if res.Metrics.AverageConcurrency <= 0 || res.Metrics.AverageConcurrency > 2 {
		t.Errorf("AverageConcurrency = %v, want within (0, 2]", res.Metrics.AverageConcurrency)
	}
}

func TestExecute_RandomDAGRespectsOrderAndBound(t *testing.T) {
	for seed := uint64(1); seed <= 3; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed*7))
			var pkgs []graph.Package
			for i := range 30 {
				pkg := graph.Package{Name: fmt.Sprintf("p%02d", i)}
				for j := range i {
					if rng.IntN(6) == 0 {
						pkg.Dependencies = append(pkg.Dependencies, fmt.Sprintf("p%02d", j))
					}
				}
				pkgs = append(pkgs, pkg)
			}
			g := mustGraph(t, pkgs...)
			exec := newRecordingExecutor(g)
			exec.delay = 2 * time.Millisecond

			const limit = 4
			p, err := New(Config{Graph: g, MaxConcurrency: limit, Executor: exec})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			res, err := p.Execute(context.Background())
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !res.Success || len(res.Completed) != 30 {
				t.Fatalf("Success = %v, completed = %d, want all 30", res.Success, len(res.Completed))
			}
			if len(exec.violations) > 0 {
				t.Errorf("dependency violations: %v", exec.violations)
			}
			if exec.peak > limit {
				t.Errorf("executor saw %d concurrent executions, limit %d", exec.peak, limit)
			}
			if res.Metrics.PeakConcurrency > limit {
				t.Errorf("PeakConcurrency = %d, limit %d", res.Metrics.PeakConcurrency, limit)
			}
		})
	}
}

func TestExecute_StartFrom(t *testing.T) {
	g := mustGraph(t,
		graph.Package{Name: "a", Path: "/repo/packages/a"},
		graph.Package{Name: "b", Path: "/repo/packages/bee", Dependencies: []string{"a"}},
		graph.Package{Name: "c", Dependencies: []string{"b"}},
	)
	exec := newRecordingExecutor(g)
	exec.done["a"] = true

	p, err := New(Config{Graph: g, Executor: exec, StartFrom: "bee"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls := exec.Calls(); !slices.Equal(calls, []string{"b", "c"}) {
		t.Errorf("executor calls = %v, want [b c]", calls)
	}
	if !slices.Equal(res.Completed, []string{"a", "b", "c"}) {
		t.Errorf("Completed = %v, want [a b c]", res.Completed)
	}

	p, _ = New(Config{Graph: g, Executor: exec, StartFrom: "nope"})
	_, err = p.Execute(context.Background())
	var notFound *errors.PackageNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Execute(StartFrom=nope) error = %v, want PackageNotFoundError", err)
	}
}

func TestExecute_Resume(t *testing.T) {
	g := chain(t)
	saved := checkpoint.New("exec-1", "npm test", []string{"a", "b", "c", "gone"})
	saved.MoveTo("a", checkpoint.BucketCompleted)
	saved.MoveTo("b", checkpoint.BucketRunning)
	saved.RetryAttempts["b"] = 1

	bus := event.NewBus()
	var mu sync.Mutex
	var retrying []event.PackageRetryingEvent
	event.On(bus, event.TypePackageRetrying, func(e event.PackageRetryingEvent) {
		mu.Lock()
		retrying = append(retrying, e)
		mu.Unlock()
	})

	exec := newRecordingExecutor(g)
	exec.done["a"] = true
	p, err := New(Config{Graph: g, Executor: exec, Resume: saved, Bus: bus})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if res.ExecutionID != "exec-1" {
		t.Errorf("ExecutionID = %q, want exec-1", res.ExecutionID)
	}
	if calls := exec.Calls(); !slices.Equal(calls, []string{"b", "c"}) {
		t.Errorf("executor calls = %v, want [b c]", calls)
	}
	if res.TotalPackages != 3 {
		t.Errorf("TotalPackages = %d, want 3 after dropping unknown packages", res.TotalPackages)
	}
	if !res.Success {
		t.Errorf("Success = false, failed = %v", res.Failed)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(retrying) != 1 || retrying[0].Package != "b" || retrying[0].Attempt != 2 {
		t.Errorf("retrying events = %+v, want one for b attempt 2", retrying)
	}
	if saved.RunningIndex("b") < 0 {
		t.Error("Execute mutated the Resume state")
	}
}

func TestExecute_RequeuedAfterCounterReset(t *testing.T) {
	g := chain(t)
	saved := checkpoint.New("exec-3", "npm test", []string{"a", "b", "c"})
	saved.MoveTo("a", checkpoint.BucketCompleted)
	saved.RetryAttempts["b"] = 0
	saved.Requeued = []string{"b"}

	bus := event.NewBus()
	var mu sync.Mutex
	var retrying []event.PackageRetryingEvent
	event.On(bus, event.TypePackageRetrying, func(e event.PackageRetryingEvent) {
		mu.Lock()
		retrying = append(retrying, e)
		mu.Unlock()
	})

	exec := newRecordingExecutor(g)
	exec.done["a"] = true
	p, err := New(Config{Graph: g, Executor: exec, Resume: saved, Bus: bus})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(retrying) != 1 || retrying[0].Package != "b" || retrying[0].Attempt != 1 {
		t.Errorf("retrying events = %+v, want one for b attempt 1", retrying)
	}
}

func TestExecute_ResumeSkipsBehindFailedDependency(t *testing.T) {
	g := chain(t)
	saved := checkpoint.New("exec-2", "", []string{"a", "b", "c"})
	saved.MarkFailed(checkpoint.FailedPackage{Name: "a", Error: "boom"})

	exec := newRecordingExecutor(g)
	p, err := New(Config{Graph: g, Executor: exec, Resume: saved})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls := exec.Calls(); len(calls) != 0 {
		t.Errorf("executor calls = %v, want none", calls)
	}
	if !slices.Equal(res.Skipped, []string{"b", "c"}) {
		t.Errorf("Skipped = %v, want [b c]", res.Skipped)
	}
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	g := chain(t)
	exec := executor.Func(func(ctx context.Context, req executor.Request) executor.Result {
		if req.Package.Name == "b" {
			panic("network exploded")
		}
		return executor.Result{Success: true}
	})
	p, err := New(Config{Graph: g, Executor: exec})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(res.Failed, []string{"b"}) || !slices.Equal(res.Skipped, []string{"c"}) {
		t.Fatalf("Failed = %v, Skipped = %v, want [b] and [c]", res.Failed, res.Skipped)
	}
	if f := res.FailedPackages[0]; f.IsRetriable {
		t.Errorf("panic failure IsRetriable = true, want false")
	}
}

func TestExecute_Cancel(t *testing.T) {
	g := chain(t)
	mgr := checkpoint.NewManager(t.TempDir())
	started := make(chan struct{})
	exec := executor.Func(func(ctx context.Context, req executor.Request) executor.Result {
		close(started)
		<-ctx.Done()
		return executor.Result{Err: ctx.Err(), ExitCode: -1}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	p, err := New(Config{Graph: g, Executor: exec, Checkpoints: mgr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Execute(ctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Interrupted || res.Success {
		t.Errorf("Interrupted = %v, Success = %v, want true and false", res.Interrupted, res.Success)
	}
	if len(res.Failed) != 0 {
		t.Errorf("Failed = %v, want interrupted packages not to count as failures", res.Failed)
	}

	state, err := mgr.Load()
	if err != nil || state == nil {
		t.Fatalf("Load() = %v, %v", state, err)
	}
	if !slices.Contains(state.Pending, "a") {
		t.Errorf("Pending = %v, want the interrupted package back in pending", state.Pending)
	}
}

func TestExecute_DryRun(t *testing.T) {
	g := chain(t)
	p, err := New(Config{Graph: g, DryRun: true, Command: "rm -rf /"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || !slices.Equal(res.Completed, []string{"a", "b", "c"}) {
		t.Errorf("dry run = %+v, want all completed", res)
	}
}

func TestExecute_CheckpointRemovedOnSuccess(t *testing.T) {
	tests := []struct {
		name     string
		keep     bool
		wantFile bool
	}{
		{"removed", false, false},
		{"kept", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := checkpoint.NewManager(t.TempDir())
			p, err := New(Config{Graph: chain(t), DryRun: true, Checkpoints: mgr, KeepCheckpoint: tt.keep})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			res, err := p.Execute(context.Background())
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got := mgr.Exists(); got != tt.wantFile {
				t.Errorf("checkpoint exists = %v, want %v", got, tt.wantFile)
			}
			if (res.CheckpointPath != "") != tt.wantFile {
				t.Errorf("CheckpointPath = %q, want set = %v", res.CheckpointPath, tt.wantFile)
			}
		})
	}
}

func TestExecute_SaveFailureIsFatal(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := chain(t)
	exec := newRecordingExecutor(g)
	p, err := New(Config{Graph: g, Executor: exec, Checkpoints: checkpoint.NewManager(filepath.Join(blocker, "out"))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute() error = nil, want checkpoint save error")
	}
	if res == nil || res.Success {
		t.Errorf("result = %+v, want a partial unsuccessful result", res)
	}
	if calls := exec.Calls(); len(calls) != 0 {
		t.Errorf("executor calls = %v, want none after the initial save failed", calls)
	}
}

func TestExecute_Events(t *testing.T) {
	g := chain(t)
	exec := executor.Func(func(ctx context.Context, req executor.Request) executor.Result {
		return executor.Result{Success: true, SkippedNoChanges: req.Package.Name == "b"}
	})
	bus := event.NewBus()
	var mu sync.Mutex
	var types []string
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		types = append(types, e.EventType())
		mu.Unlock()
	})

	p, err := New(Config{Graph: g, Executor: exec, Bus: bus, Checkpoints: checkpoint.NewManager(t.TempDir())})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(res.SkippedNoChanges, []string{"b"}) {
		t.Errorf("SkippedNoChanges = %v, want [b]", res.SkippedNoChanges)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(types) == 0 || types[0] != event.TypeExecutionStarted || types[len(types)-1] != event.TypeExecutionCompleted {
		t.Fatalf("events = %v, want execution:started first and execution:completed last", types)
	}
	count := func(typ string) int {
		n := 0
		for _, got := range types {
			if got == typ {
				n++
			}
		}
		return n
	}
	if got := count(event.TypePackageStarted); got != 3 {
		t.Errorf("package:started count = %d, want 3", got)
	}
	if got := count(event.TypePackageCompleted); got != 2 {
		t.Errorf("package:completed count = %d, want 2", got)
	}
	if got := count(event.TypePackageSkippedNoChanges); got != 1 {
		t.Errorf("package:skipped-no-changes count = %d, want 1", got)
	}
	if count(event.TypeCheckpointSaved) == 0 {
		t.Error("no checkpoint:saved events")
	}
}

func TestExecute_OnlyOnce(t *testing.T) {
	p, err := New(Config{Graph: chain(t), DryRun: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if _, err := p.Execute(context.Background()); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("second Execute error = %v, want ErrInvalidState", err)
	}
}

func TestExecute_EmptyGraph(t *testing.T) {
	p, err := New(Config{Graph: mustGraph(t), DryRun: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.TotalPackages != 0 {
		t.Errorf("result = %+v, want an empty successful run", res)
	}
}

func TestIsBuildOrderFor(t *testing.T) {
	g := chain(t)
	tests := []struct {
		order []string
		want  bool
	}{
		{[]string{"a", "b", "c"}, true},
		{[]string{"b", "a", "c"}, false},
		{[]string{"a", "b"}, false},
		{[]string{"a", "b", "b"}, false},
		{[]string{"a", "b", "x"}, false},
	}
	for _, tt := range tests {
		if got := isBuildOrderFor(tt.order, g); got != tt.want {
			t.Errorf("isBuildOrderFor(%v) = %v, want %v", tt.order, got, tt.want)
		}
	}
}
