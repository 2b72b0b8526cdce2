// Package checkpoint persists the execution state of a tree run so an
// interrupted or failed run can be inspected, repaired, and resumed.
//
// The state lives in a single JSON document under the output directory.
// Writes are atomic (temporary file then rename) and serialized across
// processes with an advisory file lock, so a concurrent reader sees either
// the previous document or the new one, never a partial write.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/treebuild/internal/errors"
)

const (
	// FileName is the checkpoint document name inside the output directory.
	FileName = "tree-checkpoint.json"

	lockFileName = "tree-checkpoint.lock"

	// runLockFileName guards the output directory for the whole of a run or
	// a recovery mutation. It is separate from lockFileName, which only
	// serializes individual writes.
	runLockFileName = "tree-run.lock"
)

// Manager reads and writes the checkpoint document of one output directory.
type Manager struct {
	dir string
}

// NewManager creates a Manager for the given output directory. The directory
// is created on the first Save.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Dir returns the output directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the checkpoint file path.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, FileName)
}

// Exists reports whether a checkpoint document is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.Path())
	return err == nil
}

// Save writes the state atomically and stamps LastUpdated. A file lock is
// held during the write for cross-process safety.
func (m *Manager) Save(s *State) error {
	if s == nil {
		return errors.NewValidationError("state is required").WithField("state")
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	fl := newFileLock(filepath.Join(m.dir, lockFileName))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	s.normalize()
	if s.Version == 0 {
		s.Version = Version
	}
	s.LastUpdated = time.Now()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	target := m.Path()
	tmp := target + ".tmp"

	if err := writeSynced(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// Load reads the checkpoint document. It returns (nil, nil) when no
// checkpoint exists and a *errors.CheckpointCorruptError when the document
// cannot be parsed or is structurally invalid.
func (m *Manager) Load() (*State, error) {
	target := m.Path()
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.NewCheckpointCorruptError(target, err)
	}
	if err := validateShape(&s); err != nil {
		return nil, errors.NewCheckpointCorruptError(target, err)
	}
	s.normalize()
	return &s, nil
}

// Clear removes the checkpoint document. Removing a missing checkpoint is
// not an error.
func (m *Manager) Clear() error {
	if err := os.Remove(m.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// AcquireRunLock takes exclusive ownership of the output directory until the
// returned release function is called. It fails with
// errors.ErrCheckpointLocked when a run or recovery command already owns it.
// Lock files are left in place; removing a file another process has locked
// would let a third process lock a fresh inode.
func (m *Manager) AcquireRunLock() (release func() error, err error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	fl := newFileLock(filepath.Join(m.dir, runLockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, errors.Wrapf(errors.ErrCheckpointLocked, "%s is in use by another tree run", m.dir)
	}
	return fl.Unlock, nil
}

// Locked reports whether another run or recovery command currently owns the
// output directory.
func (m *Manager) Locked() (bool, error) {
	if _, err := os.Stat(m.dir); os.IsNotExist(err) {
		return false, nil
	}
	fl := newFileLock(filepath.Join(m.dir, runLockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return false, err
	}
	if ok {
		_ = fl.Unlock()
	}
	return !ok, nil
}

func validateShape(s *State) error {
	if s.Version > Version {
		return fmt.Errorf("unsupported checkpoint version %d", s.Version)
	}
	if s.ExecutionID == "" {
		return fmt.Errorf("missing executionId")
	}
	if s.BuildOrder == nil {
		return fmt.Errorf("missing buildOrder")
	}
	for _, f := range s.Failed {
		if f.Name == "" {
			return fmt.Errorf("failed entry without name")
		}
	}
	for _, r := range s.Running {
		if r.Name == "" {
			return fmt.Errorf("running entry without name")
		}
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
