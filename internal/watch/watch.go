// Package watch notifies callers when a file changes on disk. `tree status
// --watch` uses it to re-render whenever the checkpoint is rewritten.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/treebuild/internal/logging"
)

// DefaultDebounce coalesces the burst of events produced by one atomic save
// (temp write, rename, lock release).
const DefaultDebounce = 100 * time.Millisecond

// Change describes a debounced change to the watched file.
type Change struct {
	Path    string
	Removed bool
}

// Watcher watches a single file. It watches the parent directory rather than
// the file itself, because atomic saves replace the file and a watch on the
// old inode would go silent.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a change is reported.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger for watcher errors.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher for path. The parent directory must exist; the file
// itself may not exist yet.
func New(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		logger:   logging.NopLogger(),
		watcher:  fw,
	}
	for _, opt := range opts {
		opt(w)
	}

	dir := filepath.Dir(abs)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Run delivers debounced changes to onChange until ctx is cancelled or the
// watcher is closed. onChange runs on the Run goroutine.
func (w *Watcher) Run(ctx context.Context, onChange func(Change)) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var pending *Change
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending = &Change{
				Path:    w.path,
				Removed: ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && ev.Op&(fsnotify.Create|fsnotify.Write) == 0,
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			if pending != nil {
				onChange(*pending)
				pending = nil
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "path", w.path, "error", err)
		}
	}
}

// Close stops the watcher. A blocked Run returns nil.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
