package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
)

func startWatcher(t *testing.T, path string) (<-chan Change, context.CancelFunc, <-chan error) {
	t.Helper()
	w, err := New(path, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	changes := make(chan Change, 16)
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		done <- w.Run(ctx, func(c Change) { changes <- c })
	}()
	return changes, cancel, done
}

func waitChange(t *testing.T, changes <-chan Change) Change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestWatcher_CheckpointSave(t *testing.T) {
	dir := t.TempDir()
	cm := checkpoint.NewManager(dir)
	changes, _, _ := startWatcher(t, cm.Path())

	state := checkpoint.New("exec-1", "npm test", []string{"a", "b"})
	if err := cm.Save(state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	c := waitChange(t, changes)
	if c.Removed {
		t.Errorf("Change.Removed = true after save, want false")
	}
	if filepath.Base(c.Path) != checkpoint.FileName {
		t.Errorf("Change.Path = %q, want base %q", c.Path, checkpoint.FileName)
	}

	if err := cm.Save(state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	waitChange(t, changes)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "watched.json")
	changes, _, _ := startWatcher(t, target)

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	select {
	case c := <-changes:
		t.Fatalf("got change %+v for unrelated file", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_Remove(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "watched.json")
	if err := os.WriteFile(target, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	changes, _, _ := startWatcher(t, target)

	if err := os.Remove(target); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if c := waitChange(t, changes); !c.Removed {
		t.Errorf("Change.Removed = false after remove, want true")
	}
}

func TestWatcher_Cancel(t *testing.T) {
	_, cancel, done := startWatcher(t, filepath.Join(t.TempDir(), "watched.json"))
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing", "file.json")); err == nil {
		t.Fatal("New() error = nil, want error for missing directory")
	}
}
