package tree

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/testutil"
)

// failInB fails only in package b.
const failInB = `test "$TREEBUILD_PACKAGE" != b`

type testWorkspace struct {
	root   string
	output string
}

// newWorkspace creates a manifest workspace: a <- b <- c, a <- d.
func newWorkspace(t *testing.T) testWorkspace {
	t.Helper()
	root := testutil.SetupManifestWorkspace(t,
		testutil.Pkg{Name: "a"},
		testutil.Pkg{Name: "b", Deps: []string{"a"}},
		testutil.Pkg{Name: "c", Deps: []string{"b"}},
		testutil.Pkg{Name: "d", Deps: []string{"a"}},
	)
	return testWorkspace{root: root, output: filepath.Join(root, "out")}
}

func (w testWorkspace) checkpointPath() string {
	return filepath.Join(w.output, checkpoint.FileName)
}

func (w testWorkspace) checkpointExists() bool {
	_, err := os.Stat(w.checkpointPath())
	return err == nil
}

// run executes a tree subcommand against the workspace and returns stdout.
func (w testWorkspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--dir", w.root, "--output-dir", w.output))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRunDryRun(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "run", "--dry-run")
	if err != nil {
		t.Fatalf("run --dry-run error = %v", err)
	}
	if !strings.Contains(out, "4/4 completed") {
		t.Errorf("output missing summary:\n%s", out)
	}
	if w.checkpointExists() {
		t.Error("checkpoint should be removed after a successful run")
	}
}

func TestRunKeepCheckpoint(t *testing.T) {
	w := newWorkspace(t)

	if _, err := w.run(t, "run", "--dry-run", "--keep-checkpoint"); err != nil {
		t.Fatalf("run error = %v", err)
	}
	if !w.checkpointExists() {
		t.Fatal("checkpoint should be kept")
	}

	out, err := w.run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	var st struct {
		Counts struct {
			Completed int `json:"completed"`
			Total     int `json:"total"`
		} `json:"counts"`
	}
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, out)
	}
	if st.Counts.Completed != 4 || st.Counts.Total != 4 {
		t.Errorf("counts = %d/%d, want 4/4", st.Counts.Completed, st.Counts.Total)
	}
}

func TestOrderDiscoversPackageJSON(t *testing.T) {
	root := t.TempDir()
	testutil.WritePackageJSON(t, filepath.Join(root, "packages", "core"), testutil.Pkg{Name: "@acme/core"})
	testutil.WritePackageJSON(t, filepath.Join(root, "packages", "api"), testutil.Pkg{Name: "@acme/api", Deps: []string{"@acme/core"}})
	w := testWorkspace{root: root, output: filepath.Join(root, "out")}

	out, err := w.run(t, "order", "--json")
	if err != nil {
		t.Fatalf("order error = %v", err)
	}
	var order []string
	if err := json.Unmarshal([]byte(out), &order); err != nil {
		t.Fatalf("order output is not JSON: %v", err)
	}
	if diff := cmp.Diff([]string{"@acme/core", "@acme/api"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRequiresCommand(t *testing.T) {
	w := newWorkspace(t)

	_, err := w.run(t, "run")
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("run without command error = %v, want ErrInvalidInput", err)
	}
}

func TestRunRejectsUnsafeCommand(t *testing.T) {
	w := newWorkspace(t)

	_, err := w.run(t, "run", "--cmd", "git checkout main")
	if !errors.Is(err, errors.ErrUnsafeCommand) {
		t.Fatalf("run error = %v, want ErrUnsafeCommand", err)
	}
	if w.checkpointExists() {
		t.Error("rejected run should not write a checkpoint")
	}

	if _, err := w.run(t, "run", "--cmd", "git checkout main", "--force", "--dry-run"); err != nil {
		t.Errorf("run --force error = %v", err)
	}
}

func TestRunFailureAndRecovery(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "run", "--cmd", failInB, "-j", "2")
	if !errors.Is(err, errors.ErrExecutionFailed) {
		t.Fatalf("run error = %v, want ErrExecutionFailed", err)
	}
	if !strings.Contains(out, "1 failed") || !strings.Contains(out, "1 skipped") {
		t.Errorf("summary should report the failure and the skip:\n%s", out)
	}
	if !w.checkpointExists() {
		t.Fatal("checkpoint should remain after a failed run")
	}

	state, err := checkpoint.NewManager(w.output).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff([]string{"a", "d"}, state.Members(checkpoint.BucketCompleted)); diff != "" {
		t.Errorf("completed mismatch (-want +got):\n%s", diff)
	}
	if got := state.SkipReasons["c"]; got != checkpoint.DependencySkipReason("b") {
		t.Errorf("skip reason for c = %q, want %q", got, checkpoint.DependencySkipReason("b"))
	}

	out, err = w.run(t, "status", "--no-hints", "--width", "120")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	for _, want := range []string{"Failed", "b", "permanent", "Skipped"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	// A new run must not silently discard the checkpoint.
	if _, err := w.run(t, "run", "--cmd", "true"); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("run over existing checkpoint error = %v, want ErrInvalidState", err)
	}

	out, err = w.run(t, "mark-completed", "b")
	if err != nil {
		t.Fatalf("mark-completed error = %v", err)
	}
	if !strings.Contains(out, "marked 1 package(s) completed: b") {
		t.Errorf("mark-completed output = %q", out)
	}

	if _, err := w.run(t, "run", "--continue"); err != nil {
		t.Fatalf("run --continue error = %v", err)
	}
	if w.checkpointExists() {
		t.Error("checkpoint should be removed after the resumed run succeeds")
	}
}

func TestRunFresh(t *testing.T) {
	w := newWorkspace(t)

	if _, err := w.run(t, "run", "--cmd", failInB); err == nil {
		t.Fatal("expected the first run to fail")
	}
	if _, err := w.run(t, "run", "--fresh", "--cmd", "true"); err != nil {
		t.Fatalf("run --fresh error = %v", err)
	}
	if w.checkpointExists() {
		t.Error("checkpoint should be removed after the fresh run succeeds")
	}
}

func TestRunReplacesCorruptCheckpoint(t *testing.T) {
	w := newWorkspace(t)
	testutil.WriteFile(t, w.checkpointPath(), "{not json")

	if _, err := w.run(t, "run", "--continue"); !errors.Is(err, errors.ErrCheckpointCorrupt) {
		t.Errorf("run --continue error = %v, want ErrCheckpointCorrupt", err)
	}
	if _, err := w.run(t, "run", "--cmd", "true"); err != nil {
		t.Fatalf("run over corrupt checkpoint error = %v", err)
	}
	if w.checkpointExists() {
		t.Error("checkpoint should be removed after the run succeeds")
	}
}

func TestRunContinueWithoutCheckpoint(t *testing.T) {
	w := newWorkspace(t)

	_, err := w.run(t, "run", "--continue", "--cmd", "true")
	if !errors.Is(err, errors.ErrCheckpointNotFound) {
		t.Errorf("run --continue error = %v, want ErrCheckpointNotFound", err)
	}
}

func TestRecoveryCommandsWithoutCheckpoint(t *testing.T) {
	tests := [][]string{
		{"status"},
		{"validate-state"},
		{"mark-completed", "a"},
		{"retry-failed"},
		{"skip-failed"},
	}
	for _, args := range tests {
		t.Run(args[0], func(t *testing.T) {
			w := newWorkspace(t)
			_, err := w.run(t, args...)
			if !errors.Is(err, errors.ErrCheckpointNotFound) {
				t.Errorf("%s error = %v, want ErrCheckpointNotFound", args[0], err)
			}
		})
	}
}

func TestRetryFailed(t *testing.T) {
	w := newWorkspace(t)

	if _, err := w.run(t, "run", "--cmd", failInB); err == nil {
		t.Fatal("expected the run to fail")
	}

	out, err := w.run(t, "retry-failed")
	if err != nil {
		t.Fatalf("retry-failed error = %v", err)
	}
	if !strings.Contains(out, "no retriable failures") || !strings.Contains(out, "1 permanent failure(s) left: b") {
		t.Errorf("retry-failed output = %q", out)
	}

	out, err = w.run(t, "retry-failed", "--max-retries", "3")
	if err != nil {
		t.Fatalf("retry-failed --max-retries error = %v", err)
	}
	if !strings.Contains(out, "retrying 1 package(s): b") || !strings.Contains(out, "restored 1 skipped dependent(s)") {
		t.Errorf("retry-failed --max-retries output = %q", out)
	}

	state, err := checkpoint.NewManager(w.output).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(state.Failed) != 0 || len(state.Skipped) != 0 {
		t.Errorf("failed = %v, skipped = %v, want both empty", state.Failed, state.Skipped)
	}
}

func TestSkipFailedThenContinue(t *testing.T) {
	w := newWorkspace(t)

	if _, err := w.run(t, "run", "--cmd", failInB); err == nil {
		t.Fatal("expected the run to fail")
	}
	out, err := w.run(t, "skip-failed")
	if err != nil {
		t.Fatalf("skip-failed error = %v", err)
	}
	if !strings.Contains(out, "skipped 1 failed package(s): b") {
		t.Errorf("skip-failed output = %q", out)
	}

	if _, err := w.run(t, "validate-state"); err != nil {
		t.Errorf("validate-state error = %v", err)
	}
	if _, err := w.run(t, "run", "--continue"); err != nil {
		t.Errorf("run --continue error = %v", err)
	}
}

func TestSkipAndReset(t *testing.T) {
	w := newWorkspace(t)

	if _, err := w.run(t, "run", "--dry-run", "--keep-checkpoint"); err != nil {
		t.Fatalf("run error = %v", err)
	}

	out, err := w.run(t, "skip", "b")
	if err != nil {
		t.Fatalf("skip error = %v", err)
	}
	if !strings.Contains(out, "skipped 2 package(s): b, c") {
		t.Errorf("skip output = %q", out)
	}

	out, err = w.run(t, "reset-package", "b")
	if err != nil {
		t.Fatalf("reset-package error = %v", err)
	}
	if !strings.Contains(out, "reset b to pending") {
		t.Errorf("reset-package output = %q", out)
	}

	state, err := checkpoint.NewManager(w.output).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if b, _ := state.BucketOf("b"); b != checkpoint.BucketReady {
		t.Errorf("bucket of b = %v, want ready", b)
	}
	if c, _ := state.BucketOf("c"); c != checkpoint.BucketPending {
		t.Errorf("bucket of c = %v, want pending", c)
	}

	if _, err := w.run(t, "mark-completed", "nope"); !errors.Is(err, errors.ErrPackageNotFound) {
		t.Errorf("mark-completed unknown error = %v, want ErrPackageNotFound", err)
	}
}

func TestRecoveryRefusedDuringRun(t *testing.T) {
	w := newWorkspace(t)

	if _, err := w.run(t, "run", "--dry-run", "--keep-checkpoint"); err != nil {
		t.Fatalf("run error = %v", err)
	}

	// Hold the run lock the way an in-progress tree run does.
	release, err := checkpoint.NewManager(w.output).AcquireRunLock()
	if err != nil {
		t.Fatalf("AcquireRunLock() error = %v", err)
	}

	if _, err := w.run(t, "mark-completed", "b"); !errors.Is(err, errors.ErrCheckpointLocked) {
		t.Errorf("mark-completed during run error = %v, want ErrCheckpointLocked", err)
	}
	if _, err := w.run(t, "run", "--dry-run", "--fresh"); !errors.Is(err, errors.ErrCheckpointLocked) {
		t.Errorf("second run error = %v, want ErrCheckpointLocked", err)
	}
	out, err := w.run(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out, "a run is in progress") {
		t.Errorf("status output missing in-progress note:\n%s", out)
	}
	if _, err := w.run(t, "validate-state"); err != nil {
		t.Errorf("validate-state during run error = %v", err)
	}

	if err := release(); err != nil {
		t.Fatalf("release() error = %v", err)
	}
	if _, err := w.run(t, "mark-completed", "b"); err != nil {
		t.Errorf("mark-completed after run error = %v", err)
	}
}

func TestMarkFailed(t *testing.T) {
	w := newWorkspace(t)

	if _, err := w.run(t, "run", "--dry-run", "--keep-checkpoint"); err != nil {
		t.Fatalf("run error = %v", err)
	}
	if _, err := w.run(t, "mark-failed", "a", "--reason", "broken lockfile"); err != nil {
		t.Fatalf("mark-failed error = %v", err)
	}

	state, err := checkpoint.NewManager(w.output).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	f, ok := state.FailedEntry("a")
	if !ok {
		t.Fatal("a should be failed")
	}
	if f.Error != "broken lockfile" || f.IsRetriable {
		t.Errorf("failed entry = %+v, want non-retriable with the given reason", f)
	}
}

func TestOrder(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "order", "--json")
	if err != nil {
		t.Fatalf("order error = %v", err)
	}
	var order []string
	if err := json.Unmarshal([]byte(out), &order); err != nil {
		t.Fatalf("order output is not JSON: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	out, err = w.run(t, "order", "--levels", "--json")
	if err != nil {
		t.Fatalf("order --levels error = %v", err)
	}
	var levels [][]string
	if err := json.Unmarshal([]byte(out), &levels); err != nil {
		t.Fatalf("levels output is not JSON: %v", err)
	}
	want := [][]string{{"a"}, {"b", "d"}, {"c"}}
	if diff := cmp.Diff(want, levels); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}

	out, err = w.run(t, "order")
	if err != nil {
		t.Fatalf("order error = %v", err)
	}
	if !strings.Contains(out, "<- a") {
		t.Errorf("order output should show dependencies:\n%s", out)
	}
}

func TestValidateCommand(t *testing.T) {
	w := newWorkspace(t)

	tests := []struct {
		name    string
		args    []string
		wantErr error
		want    string
	}{
		{name: "safe", args: []string{"npm run build"}, want: "safe for parallel execution"},
		{name: "unsafe", args: []string{"git checkout main"}, wantErr: errors.ErrUnsafeCommand, want: "unsafe for parallel execution"},
		{name: "kind", args: []string{"--kind", "publish", "npm publish"}, want: "recommended max concurrency for publish"},
		{name: "unknown kind", args: []string{"--kind", "deploy", "make"}, wantErr: errors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := w.run(t, append([]string{"validate-command"}, tt.args...)...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("error = %v", err)
			}
			if tt.want != "" && !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestLogs(t *testing.T) {
	w := newWorkspace(t)

	if _, err := w.run(t, "run", "--cmd", failInB); err == nil {
		t.Fatal("expected the run to fail")
	}

	out, err := w.run(t, "logs", "--package", "b", "--level", "error", "--format", "json")
	if err != nil {
		t.Fatalf("logs error = %v", err)
	}
	var entries []struct {
		Level   string `json:"level"`
		Message string `json:"msg"`
		Package string `json:"package"`
	}
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("logs output is not JSON: %v\n%s", err, out)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1: %+v", len(entries), entries)
	}
	if entries[0].Message != "package failed" || entries[0].Package != "b" {
		t.Errorf("entry = %+v, want the failure of b", entries[0])
	}

	exported := filepath.Join(t.TempDir(), "run.csv")
	if _, err := w.run(t, "logs", "--format", "csv", "--output", exported); err != nil {
		t.Fatalf("logs --output error = %v", err)
	}
	if _, err := os.Stat(exported); err != nil {
		t.Errorf("export file missing: %v", err)
	}

	if _, err := w.run(t, "logs", "--level", "loud"); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("logs --level loud error = %v, want ErrInvalidInput", err)
	}
}
