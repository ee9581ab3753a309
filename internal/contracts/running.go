package contracts

import (
	"sync"
	"time"
)

// Phase is the supervisor's coarse read on what a child process is doing.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseExecuting Phase = "executing"
	PhaseStuck     Phase = "stuck"
)

// TailRing is a fixed-capacity ring buffer of the most recent stdout lines.
// Safe for concurrent use: the runner owns the record, the supervisor writes
// the mutable sub-fields, so access is serialized here.
type TailRing struct {
	mu  sync.Mutex
	cap int
	buf []string
}

func NewTailRing(capacity int) *TailRing {
	if capacity <= 0 {
		capacity = 20
	}
	return &TailRing{cap: capacity}
}

func (r *TailRing) Push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, line)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
}

func (r *TailRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.buf))
	copy(out, r.buf)
	return out
}

// RunningTask is the in-memory record for one task currently being executed.
// Ownership: the runner exclusively owns this record from claim through
// finalize; the supervisor writes only the fields behind the mutex below.
type RunningTask struct {
	TaskID        string
	DisplayNumber int
	Summary       string
	WorktreePath  string
	RepoPath      string
	StartedAt     time.Time
	Tail          *TailRing

	mu           sync.Mutex
	agentPID     int
	lastOutputAt time.Time
	phase        Phase
	phaseDetail  string
}

func NewRunningTask(taskID string, displayNumber int, summary, worktreePath, repoPath string, startedAt time.Time) *RunningTask {
	return &RunningTask{
		TaskID:        taskID,
		DisplayNumber: displayNumber,
		Summary:       summary,
		WorktreePath:  worktreePath,
		RepoPath:      repoPath,
		StartedAt:     startedAt,
		Tail:          NewTailRing(20),
		lastOutputAt:  startedAt,
		phase:         PhaseStarting,
	}
}

func (t *RunningTask) SetAgentPID(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agentPID = pid
}

func (t *RunningTask) AgentPID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agentPID
}

func (t *RunningTask) Touch(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastOutputAt = at
}

func (t *RunningTask) LastOutputAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastOutputAt
}

func (t *RunningTask) SetPhase(phase Phase, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
	t.phaseDetail = detail
}

func (t *RunningTask) Phase() (Phase, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase, t.phaseDetail
}
