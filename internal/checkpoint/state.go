package checkpoint

import (
	"maps"
	"slices"
	"time"
)

// Version is the checkpoint document version written by this package.
const Version = 1

// Bucket identifies which execution bucket a package belongs to.
type Bucket string

const (
	// BucketPending holds packages blocked on incomplete dependencies.
	BucketPending Bucket = "pending"

	// BucketReady holds packages whose dependencies are all completed and
	// that are waiting for a free execution slot.
	BucketReady Bucket = "ready"

	// BucketRunning holds packages with an in-flight execution.
	BucketRunning Bucket = "running"

	// BucketCompleted holds packages that finished successfully.
	BucketCompleted Bucket = "completed"

	// BucketFailed holds packages whose execution failed.
	BucketFailed Bucket = "failed"

	// BucketSkipped holds packages that were never executed because a
	// dependency failed or an operator skipped them.
	BucketSkipped Bucket = "skipped"
)

// String returns the string representation of the bucket.
func (b Bucket) String() string {
	return string(b)
}

// IsTerminal returns true if packages in this bucket will not be scheduled
// again without an explicit recovery action.
func (b Bucket) IsTerminal() bool {
	return b == BucketCompleted || b == BucketFailed || b == BucketSkipped
}

// Buckets returns every bucket in lifecycle order.
func Buckets() []Bucket {
	return []Bucket{BucketPending, BucketReady, BucketRunning, BucketCompleted, BucketFailed, BucketSkipped}
}

// Skip reasons recorded in State.SkipReasons.
const (
	// SkipReasonManual marks a package skipped by an operator.
	SkipReasonManual = "manual"

	// skipReasonDependencyPrefix prefixes the name of the failed or skipped
	// package that caused a cascade skip.
	skipReasonDependencyPrefix = "dependency:"
)

// DependencySkipReason returns the skip reason recorded for a package that
// was skipped because cause failed or was skipped.
func DependencySkipReason(cause string) string {
	return skipReasonDependencyPrefix + cause
}

// RunningPackage is an entry of the running bucket.
type RunningPackage struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"startTime"`
}

// FailedPackage is a snapshot of a package failure.
type FailedPackage struct {
	Name          string    `json:"name"`
	Error         string    `json:"error"`
	IsRetriable   bool      `json:"isRetriable"`
	AttemptNumber int       `json:"attemptNumber"`
	FailedAt      time.Time `json:"failedAt"`
	Dependencies  []string  `json:"dependencies"`
	Dependents    []string  `json:"dependents"`
}

// State is the persisted execution-state document. Every package named in
// BuildOrder is a member of exactly one bucket.
//
// State is not safe for concurrent use; the scheduler's coordinating loop
// (or a recovery operation) is its only writer.
type State struct {
	Version     int    `json:"version"`
	ExecutionID string `json:"executionId"`
	Command     string `json:"command,omitempty"`

	// BuildOrder is the full topological order, fixed when execution starts.
	BuildOrder []string `json:"buildOrder"`

	Pending   []string         `json:"pending"`
	Ready     []string         `json:"ready"`
	Running   []RunningPackage `json:"running"`
	Completed []string         `json:"completed"`
	Failed    []FailedPackage  `json:"failed"`
	Skipped   []string         `json:"skipped"`

	// SkippedNoChanges lists completed packages whose executor reported
	// nothing to do. It is a subset of Completed, not a bucket.
	SkippedNoChanges []string `json:"skippedNoChanges,omitempty"`

	// SkipReasons maps a skipped package to SkipReasonManual or a
	// dependency reason naming the package that caused the skip.
	SkipReasons map[string]string `json:"skipReasons,omitempty"`

	// Requeued lists packages a recovery retry returned to pending. The
	// scheduler reports their next start as a retry even when the attempt
	// counter was reset.
	Requeued []string `json:"requeued,omitempty"`

	RetryAttempts     map[string]int       `json:"retryAttempts"`
	PackageStartTimes map[string]time.Time `json:"packageStartTimes"`
	PackageEndTimes   map[string]time.Time `json:"packageEndTimes"`
	// PackageDurations are in milliseconds.
	PackageDurations map[string]int64 `json:"packageDurations"`

	TotalStartTime time.Time `json:"totalStartTime"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// New creates a State with every package of buildOrder in the pending bucket.
func New(executionID, command string, buildOrder []string) *State {
	s := &State{
		Version:        Version,
		ExecutionID:    executionID,
		Command:        command,
		BuildOrder:     slices.Clone(buildOrder),
		Pending:        slices.Clone(buildOrder),
		TotalStartTime: time.Now(),
	}
	s.normalize()
	return s
}

// normalize replaces nil slices and maps with empty ones so the document
// always serializes with every field present.
func (s *State) normalize() {
	if s.BuildOrder == nil {
		s.BuildOrder = []string{}
	}
	if s.Pending == nil {
		s.Pending = []string{}
	}
	if s.Ready == nil {
		s.Ready = []string{}
	}
	if s.Running == nil {
		s.Running = []RunningPackage{}
	}
	if s.Completed == nil {
		s.Completed = []string{}
	}
	if s.Failed == nil {
		s.Failed = []FailedPackage{}
	}
	if s.Skipped == nil {
		s.Skipped = []string{}
	}
	if s.SkipReasons == nil {
		s.SkipReasons = make(map[string]string)
	}
	if s.RetryAttempts == nil {
		s.RetryAttempts = make(map[string]int)
	}
	if s.PackageStartTimes == nil {
		s.PackageStartTimes = make(map[string]time.Time)
	}
	if s.PackageEndTimes == nil {
		s.PackageEndTimes = make(map[string]time.Time)
	}
	if s.PackageDurations == nil {
		s.PackageDurations = make(map[string]int64)
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	cp := *s
	cp.BuildOrder = slices.Clone(s.BuildOrder)
	cp.Pending = slices.Clone(s.Pending)
	cp.Ready = slices.Clone(s.Ready)
	cp.Running = slices.Clone(s.Running)
	cp.Completed = slices.Clone(s.Completed)
	cp.Skipped = slices.Clone(s.Skipped)
	cp.SkippedNoChanges = slices.Clone(s.SkippedNoChanges)
	cp.Requeued = slices.Clone(s.Requeued)
	cp.Failed = make([]FailedPackage, len(s.Failed))
	for i, f := range s.Failed {
		f.Dependencies = slices.Clone(f.Dependencies)
		f.Dependents = slices.Clone(f.Dependents)
		cp.Failed[i] = f
	}
	cp.SkipReasons = maps.Clone(s.SkipReasons)
	cp.RetryAttempts = maps.Clone(s.RetryAttempts)
	cp.PackageStartTimes = maps.Clone(s.PackageStartTimes)
	cp.PackageEndTimes = maps.Clone(s.PackageEndTimes)
	cp.PackageDurations = maps.Clone(s.PackageDurations)
	cp.normalize()
	return &cp
}

// BucketsOf returns every bucket that lists name. A consistent state returns
// exactly one bucket for each package in BuildOrder.
func (s *State) BucketsOf(name string) []Bucket {
	var out []Bucket
	if slices.Contains(s.Pending, name) {
		out = append(out, BucketPending)
	}
	if slices.Contains(s.Ready, name) {
		out = append(out, BucketReady)
	}
	if s.RunningIndex(name) >= 0 {
		out = append(out, BucketRunning)
	}
	if slices.Contains(s.Completed, name) {
		out = append(out, BucketCompleted)
	}
	if s.FailedIndex(name) >= 0 {
		out = append(out, BucketFailed)
	}
	if slices.Contains(s.Skipped, name) {
		out = append(out, BucketSkipped)
	}
	return out
}

// BucketOf returns the first bucket that lists name.
func (s *State) BucketOf(name string) (Bucket, bool) {
	b := s.BucketsOf(name)
	if len(b) == 0 {
		return "", false
	}
	return b[0], true
}

// Members returns the package names of the given bucket.
func (s *State) Members(b Bucket) []string {
	switch b {
	case BucketPending:
		return slices.Clone(s.Pending)
	case BucketReady:
		return slices.Clone(s.Ready)
	case BucketRunning:
		out := make([]string, len(s.Running))
		for i, r := range s.Running {
			out[i] = r.Name
		}
		return out
	case BucketCompleted:
		return slices.Clone(s.Completed)
	case BucketFailed:
		out := make([]string, len(s.Failed))
		for i, f := range s.Failed {
			out[i] = f.Name
		}
		return out
	case BucketSkipped:
		return slices.Clone(s.Skipped)
	}
	return nil
}

// IsCompleted reports whether name is in the completed bucket.
func (s *State) IsCompleted(name string) bool {
	return slices.Contains(s.Completed, name)
}

// RunningIndex returns the index of name in Running, or -1.
func (s *State) RunningIndex(name string) int {
	return slices.IndexFunc(s.Running, func(r RunningPackage) bool { return r.Name == name })
}

// FailedIndex returns the index of name in Failed, or -1.
func (s *State) FailedIndex(name string) int {
	return slices.IndexFunc(s.Failed, func(f FailedPackage) bool { return f.Name == name })
}

// FailedEntry returns the failure snapshot for name.
func (s *State) FailedEntry(name string) (FailedPackage, bool) {
	if i := s.FailedIndex(name); i >= 0 {
		return s.Failed[i], true
	}
	return FailedPackage{}, false
}

// Remove deletes name from every bucket and from SkipReasons. Timing and
// retry history are kept.
func (s *State) Remove(name string) {
	s.Pending = deleteName(s.Pending, name)
	s.Ready = deleteName(s.Ready, name)
	s.Running = slices.DeleteFunc(s.Running, func(r RunningPackage) bool { return r.Name == name })
	s.Completed = deleteName(s.Completed, name)
	s.Failed = slices.DeleteFunc(s.Failed, func(f FailedPackage) bool { return f.Name == name })
	s.Skipped = deleteName(s.Skipped, name)
	s.SkippedNoChanges = deleteName(s.SkippedNoChanges, name)
	delete(s.SkipReasons, name)
}

// MoveTo removes name from every bucket and appends it to b. Moving into
// BucketRunning records the current time as the start time; moving into
// BucketFailed records a bare failure snapshot, so callers with details
// should use MarkFailed instead.
func (s *State) MoveTo(name string, b Bucket) {
	s.Remove(name)
	switch b {
	case BucketPending:
		s.Pending = append(s.Pending, name)
	case BucketReady:
		s.Ready = append(s.Ready, name)
	case BucketRunning:
		s.Running = append(s.Running, RunningPackage{Name: name, StartTime: time.Now()})
	case BucketCompleted:
		s.Completed = append(s.Completed, name)
	case BucketFailed:
		s.Failed = append(s.Failed, FailedPackage{Name: name, FailedAt: time.Now()})
	case BucketSkipped:
		s.Skipped = append(s.Skipped, name)
	}
}

// MarkFailed removes the package from every bucket and appends the failure
// snapshot.
func (s *State) MarkFailed(f FailedPackage) {
	s.Remove(f.Name)
	if f.Dependencies == nil {
		f.Dependencies = []string{}
	}
	if f.Dependents == nil {
		f.Dependents = []string{}
	}
	s.Failed = append(s.Failed, f)
}

// MarkSkipped moves name into the skipped bucket with the given reason.
func (s *State) MarkSkipped(name, reason string) {
	s.MoveTo(name, BucketSkipped)
	if s.SkipReasons == nil {
		s.SkipReasons = make(map[string]string)
	}
	s.SkipReasons[name] = reason
}

// SkipCause returns the package named by a dependency skip reason, or ""
// for manual or unknown skips.
func (s *State) SkipCause(name string) string {
	reason := s.SkipReasons[name]
	if len(reason) > len(skipReasonDependencyPrefix) && reason[:len(skipReasonDependencyPrefix)] == skipReasonDependencyPrefix {
		return reason[len(skipReasonDependencyPrefix):]
	}
	return ""
}

// IsManuallySkipped reports whether name was skipped by an operator.
func (s *State) IsManuallySkipped(name string) bool {
	return slices.Contains(s.Skipped, name) && s.SkipReasons[name] == SkipReasonManual
}

// ClearHistory drops retry and timing history for name.
func (s *State) ClearHistory(name string) {
	s.Requeued = deleteName(s.Requeued, name)
	delete(s.RetryAttempts, name)
	delete(s.PackageStartTimes, name)
	delete(s.PackageEndTimes, name)
	delete(s.PackageDurations, name)
}

// SortByBuildOrder orders names by their BuildOrder position. Names not in
// BuildOrder sort last, lexically.
func (s *State) SortByBuildOrder(names []string) {
	index := make(map[string]int, len(s.BuildOrder))
	for i, n := range s.BuildOrder {
		index[n] = i
	}
	slices.SortStableFunc(names, func(a, b string) int {
		ia, okA := index[a]
		ib, okB := index[b]
		switch {
		case okA && okB:
			return ia - ib
		case okA:
			return -1
		case okB:
			return 1
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
}

// Counts is a snapshot of bucket sizes.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Ready     int `json:"ready"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Done returns the number of packages in a terminal bucket.
func (c Counts) Done() int {
	return c.Completed + c.Failed + c.Skipped
}

// Counts returns the current bucket sizes. Total is the BuildOrder length.
func (s *State) Counts() Counts {
	return Counts{
		Total:     len(s.BuildOrder),
		Pending:   len(s.Pending),
		Ready:     len(s.Ready),
		Running:   len(s.Running),
		Completed: len(s.Completed),
		Failed:    len(s.Failed),
		Skipped:   len(s.Skipped),
	}
}

// IsFinished reports whether no package remains pending, ready, or running.
func (s *State) IsFinished() bool {
	return len(s.Pending) == 0 && len(s.Ready) == 0 && len(s.Running) == 0
}

func deleteName(names []string, name string) []string {
	return slices.DeleteFunc(names, func(n string) bool { return n == name })
}
