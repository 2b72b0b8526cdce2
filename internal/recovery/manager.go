package recovery

import (
	"slices"
	"time"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/graph"
	"github.com/Iron-Ham/treebuild/internal/logging"
)

const (
	// DefaultStaleAfter is the running time after which ValidateState warns
	// that a package is probably stuck.
	DefaultStaleAfter = time.Hour

	// DefaultLongRunningAfter is the running time after which hints flag a
	// package as long-running.
	DefaultLongRunningAfter = 30 * time.Minute

	// DefaultMaxHints caps how many non-retriable failures are listed
	// individually in recovery hints.
	DefaultMaxHints = 5

	// DefaultFailReason is recorded by MarkFailed when no reason is given.
	DefaultFailReason = "marked as failed manually"
)

// Manager applies recovery operations to a saved execution state.
// It is not safe for concurrent use.
type Manager struct {
	graph       *graph.Graph
	checkpoints *checkpoint.Manager
	state       *checkpoint.State
	logger      *logging.Logger

	staleAfter       time.Duration
	longRunningAfter time.Duration
	maxHints         int
	now              func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for recovery operations.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.WithPhase("recovery")
		}
	}
}

// WithStaleAfter sets the age at which a running entry is reported as stuck.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

// WithLongRunningAfter sets the age at which a running entry gets a hint.
func WithLongRunningAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.longRunningAfter = d
		}
	}
}

// WithMaxHints caps the number of failures listed individually in hints.
func WithMaxHints(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxHints = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New wraps state. checkpoints may be nil, in which case mutations are not
// persisted.
func New(state *checkpoint.State, g *graph.Graph, checkpoints *checkpoint.Manager, opts ...Option) *Manager {
	m := &Manager{
		graph:            g,
		checkpoints:      checkpoints,
		state:            state,
		logger:           logging.NopLogger(),
		staleAfter:       DefaultStaleAfter,
		longRunningAfter: DefaultLongRunningAfter,
		maxHints:         DefaultMaxHints,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads the checkpoint and wraps it. It returns ErrCheckpointNotFound
// when there is no checkpoint and a *CheckpointCorruptError when it cannot
// be parsed.
func Load(checkpoints *checkpoint.Manager, g *graph.Graph, opts ...Option) (*Manager, error) {
	state, err := checkpoints.Load()
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.Wrapf(errors.ErrCheckpointNotFound, "no checkpoint in %s", checkpoints.Dir())
	}
	return New(state, g, checkpoints, opts...), nil
}

// State returns the managed state. Callers must not modify it while the
// Manager is in use.
func (m *Manager) State() *checkpoint.State {
	return m.state
}

// Save persists the state if a checkpoint manager is configured.
func (m *Manager) Save() error {
	if m.checkpoints == nil {
		return nil
	}
	if err := m.checkpoints.Save(m.state); err != nil {
		return errors.Wrap(err, "failed to save checkpoint")
	}
	return nil
}

// resolve maps package names or directory basenames to package names. It
// fails on the first unknown identifier without changing any state.
func (m *Manager) resolve(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, errors.NewValidationError("at least one package is required").WithField("packages")
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name, err := m.graph.Resolve(id)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	m.ensureTracked(names)
	return names, nil
}

// ensureTracked adds graph packages that the state does not know about yet
// to the build order.
func (m *Manager) ensureTracked(names []string) {
	for _, name := range names {
		if !slices.Contains(m.state.BuildOrder, name) {
			m.state.BuildOrder = append(m.state.BuildOrder, name)
		}
	}
}

// MarkCompleted moves the identified packages to completed, returns
// dependents skipped because of them to pending, and promotes pending
// packages whose dependencies are now all completed.
func (m *Manager) MarkCompleted(ids ...string) ([]string, error) {
	names, err := m.resolve(ids)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		m.state.MoveTo(name, checkpoint.BucketCompleted)
		m.logger.Info("package marked completed", logging.KeyPackage, name)
	}
	m.restoreSkipped()
	m.recomputeReady()
	return names, m.Save()
}

// MarkFailed records a non-retriable failure for the identified packages and
// skips their transitive dependents.
func (m *Manager) MarkFailed(ids []string, reason string) ([]string, error) {
	names, err := m.resolve(ids)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = DefaultFailReason
	}
	now := m.now()
	for _, name := range names {
		dependents := m.graph.FindAllDependents(name)
		m.state.MarkFailed(checkpoint.FailedPackage{
			Name:          name,
			Error:         reason,
			IsRetriable:   false,
			AttemptNumber: m.state.RetryAttempts[name],
			FailedAt:      now,
			Dependencies:  m.graph.Dependencies(name),
			Dependents:    dependents,
		})
		m.logger.Info("package marked failed", logging.KeyPackage, name, "reason", reason)
		m.cascadeSkip(name, dependents, names)
	}
	return names, m.Save()
}

// SkipPackages skips the identified packages and every transitive dependent.
// It returns every package that ended up skipped, in build order.
func (m *Manager) SkipPackages(ids ...string) ([]string, error) {
	names, err := m.resolve(ids)
	if err != nil {
		return nil, err
	}
	skipped := slices.Clone(names)
	for _, name := range names {
		m.state.MarkSkipped(name, checkpoint.SkipReasonManual)
		m.logger.Info("package skipped manually", logging.KeyPackage, name)
	}
	for _, name := range names {
		for _, dep := range m.graph.FindAllDependents(name) {
			if slices.Contains(skipped, dep) || m.state.IsManuallySkipped(dep) {
				continue
			}
			m.state.MarkSkipped(dep, checkpoint.DependencySkipReason(name))
			skipped = append(skipped, dep)
		}
	}
	m.state.SortByBuildOrder(skipped)
	return skipped, m.Save()
}

// RetryOptions controls RetryFailed.
type RetryOptions struct {
	// MaxRetries, when set, retries every failed package regardless of
	// classification and resets its retry counter. The value is the retry
	// budget granted from the reset point and is recorded in the log.
	MaxRetries *int
}

// RetryResult reports what RetryFailed did.
type RetryResult struct {
	Retried []string
	// Remaining are non-retriable failures left in the failed bucket.
	Remaining []string
	// Restored are dependents that returned from skipped to pending.
	Restored []string
}

// RetryFailed moves retriable failures back to pending. With
// opts.MaxRetries set every failure is retried and its counter reset.
func (m *Manager) RetryFailed(opts RetryOptions) (RetryResult, error) {
	var res RetryResult
	force := opts.MaxRetries != nil
	for _, f := range slices.Clone(m.state.Failed) {
		if !f.IsRetriable && !force {
			res.Remaining = append(res.Remaining, f.Name)
			continue
		}
		m.state.MoveTo(f.Name, checkpoint.BucketPending)
		if force {
			m.state.RetryAttempts[f.Name] = 0
		}
		if !slices.Contains(m.state.Requeued, f.Name) {
			m.state.Requeued = append(m.state.Requeued, f.Name)
		}
		res.Retried = append(res.Retried, f.Name)
	}
	res.Restored = m.restoreSkipped()
	m.recomputeReady()

	m.state.SortByBuildOrder(res.Retried)
	m.state.SortByBuildOrder(res.Remaining)
	args := []any{"retried", len(res.Retried), "remaining", len(res.Remaining), "restored", len(res.Restored)}
	if force {
		args = append(args, "max_retries", *opts.MaxRetries)
	}
	m.logger.Info("retrying failed packages", args...)
	return res, m.Save()
}

// SkipFailed skips every failed package and its pending dependents, leaving
// the failed bucket empty so a new run can proceed with the rest.
func (m *Manager) SkipFailed() ([]string, error) {
	names := m.state.Members(checkpoint.BucketFailed)
	m.state.SortByBuildOrder(names)
	for _, name := range names {
		m.state.MarkSkipped(name, checkpoint.SkipReasonManual)
	}
	for _, name := range names {
		m.cascadeSkip(name, m.graph.FindAllDependents(name), names)
	}
	m.logger.Info("failed packages skipped", "count", len(names))
	return names, m.Save()
}

// ResetPackage returns one package to pending with no retry or timing
// history. Dependents that were skipped because of it return to pending,
// and when it was completed its completed dependents are reset too.
func (m *Manager) ResetPackage(id string) (string, error) {
	names, err := m.resolve([]string{id})
	if err != nil {
		return "", err
	}
	name := names[0]
	wasCompleted := m.state.IsCompleted(name)
	m.state.MoveTo(name, checkpoint.BucketPending)
	m.state.ClearHistory(name)
	if wasCompleted {
		for _, dep := range m.graph.FindAllDependents(name) {
			if m.state.IsCompleted(dep) {
				m.state.MoveTo(dep, checkpoint.BucketPending)
				m.state.ClearHistory(dep)
				m.logger.Info("dependent reset", logging.KeyPackage, dep, "cause", name)
			}
		}
	}
	m.restoreSkipped()
	m.recomputeReady()
	m.logger.Info("package reset", logging.KeyPackage, name)
	return name, m.Save()
}

// cascadeSkip skips dependents of cause that have not already failed or
// been skipped. Packages listed in exclude are left alone.
func (m *Manager) cascadeSkip(cause string, dependents, exclude []string) {
	reason := checkpoint.DependencySkipReason(cause)
	for _, dep := range dependents {
		if slices.Contains(exclude, dep) {
			continue
		}
		b, ok := m.state.BucketOf(dep)
		if ok && (b == checkpoint.BucketFailed || b == checkpoint.BucketSkipped) {
			continue
		}
		m.state.MarkSkipped(dep, reason)
	}
}

// blocked reports whether any transitive dependency of name is failed or
// manually skipped.
func (m *Manager) blocked(name string) bool {
	for _, dep := range m.graph.FindAllDependencies(name) {
		if m.state.FailedIndex(dep) >= 0 || m.state.IsManuallySkipped(dep) {
			return true
		}
	}
	return false
}

// restoreSkipped returns dependency-skipped packages that nothing blocks
// anymore to pending, and reports them in build order.
func (m *Manager) restoreSkipped() []string {
	var restored []string
	for _, name := range m.state.Members(checkpoint.BucketSkipped) {
		if m.state.SkipReasons[name] == checkpoint.SkipReasonManual {
			continue
		}
		if !m.graph.Has(name) || m.blocked(name) {
			continue
		}
		m.state.MoveTo(name, checkpoint.BucketPending)
		restored = append(restored, name)
	}
	m.state.SortByBuildOrder(restored)
	return restored
}

// recomputeReady promotes pending packages whose dependencies are all
// completed.
func (m *Manager) recomputeReady() {
	pending := m.state.Members(checkpoint.BucketPending)
	m.state.SortByBuildOrder(pending)
	for _, name := range pending {
		ready := true
		for _, dep := range m.graph.Dependencies(name) {
			if !m.state.IsCompleted(dep) {
				ready = false
				break
			}
		}
		if ready {
			m.state.MoveTo(name, checkpoint.BucketReady)
		}
	}
}
