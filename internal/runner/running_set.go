package runner

import (
	"sync"
	"time"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
	"github.com/MasslessAI/push-claude-plugin/internal/supervisor"
)

// ActiveTask is what the scheduler needs to sweep a running task for
// timeout/idle conditions and render it in the status file, without
// reaching into the runner's private dispatch state.
type ActiveTask struct {
	Record       *contracts.RunningTask
	RepoPath     string
	WorktreePath string
	Branch       string
	StartedAt    time.Time

	// Timeout is this task's wall-clock budget, resolved at dispatch from
	// the repo's push.yaml overlay or the daemon default. The scheduler's
	// timeout sweep compares elapsed time against it.
	Timeout time.Duration
	// AutoMerge is the resolved per-task PR-hook toggle: the
	// daemon-wide default unless the repo's overlay overrides it.
	AutoMerge bool

	// TerminateFunc is wired by the runner to the spawned supervisor's own
	// Terminate method; nil until the child is actually running. Exported
	// so the scheduler and lifecycle packages, which only ever read from a
	// RunningSet, can wire termination into their own sweeps and drains
	// without a dependency back on internal/runner's dispatch internals.
	TerminateFunc func(supervisor.ExitOutcome)
}

// Terminate forces the child down with the given terminal outcome. Used by
// the scheduler's timeout sweep and by graceful shutdown.
func (a *ActiveTask) Terminate(outcome supervisor.ExitOutcome) {
	if a.TerminateFunc != nil {
		a.TerminateFunc(outcome)
	}
}

// RunningSet is the in-memory set of tasks currently executing on this
// machine. It is the fast-path "already running?" gate ensuring no two
// running-task records ever share a display number; the backend's atomic
// claim remains the actual linearization point.
type RunningSet struct {
	mu    sync.Mutex
	tasks map[int]*ActiveTask
}

func NewRunningSet() *RunningSet {
	return &RunningSet{tasks: map[int]*ActiveTask{}}
}

// TryAdd registers active under displayNumber iff nothing is already there.
func (s *RunningSet) TryAdd(displayNumber int, active *ActiveTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[displayNumber]; exists {
		return false
	}
	s.tasks[displayNumber] = active
	return true
}

func (s *RunningSet) Remove(displayNumber int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, displayNumber)
}

// Has reports whether displayNumber currently has a running-task record.
func (s *RunningSet) Has(displayNumber int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[displayNumber]
	return ok
}

// Get returns the ActiveTask for displayNumber, if any.
func (s *RunningSet) Get(displayNumber int) (*ActiveTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active, ok := s.tasks[displayNumber]
	return active, ok
}

// Len reports how many tasks are currently running.
func (s *RunningSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Snapshot returns a stable copy of the currently running tasks, for the
// scheduler's sweeps and the status file renderer.
func (s *RunningSet) Snapshot() []*ActiveTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ActiveTask, 0, len(s.tasks))
	for _, a := range s.tasks {
		out = append(out, a)
	}
	return out
}
