// Package scheduler drives the daemon's single periodic tick: sweep running
// tasks for timeout and idle conditions, poll the backend for new work, and
// dispatch up to the concurrency headroom.
package scheduler

import (
	"context"
	"time"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
	"github.com/MasslessAI/push-claude-plugin/internal/decrypt"
	"github.com/MasslessAI/push-claude-plugin/internal/runner"
	"github.com/MasslessAI/push-claude-plugin/internal/supervisor"
)

const (
	// DefaultInterval is the tick period; configurable by the caller.
	DefaultInterval = 30 * time.Second

	timeoutAfter      = time.Hour
	idleWarnAfter     = 5 * time.Minute
	idleDeclaredAfter = 10 * time.Minute
)

// Poller fetches queued tasks for this machine. Satisfied by
// contracts.BackendClient.Poll.
type Poller interface {
	Poll(ctx context.Context, machineID, machineName string, repoURLs []string) ([]contracts.Task, error)
}

// RepoSource supplies the registered repo URLs for the poll's heartbeat
// headers. Satisfied by *config.Registry.
type RepoSource interface {
	RepoURLs() []string
}

// Dispatcher hands a candidate task to the runner's gate/claim/dispatch
// pipeline. Satisfied by *runner.Runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, task contracts.Task)
}

// Scheduler owns the daemon's single periodic tick. It never
// mutates running-task state itself outside of a timeout-driven Terminate
// call; the runner remains the sole owner of RunningSet membership.
type Scheduler struct {
	Backend  Poller
	Registry RepoSource
	Runner   Dispatcher
	Running  *runner.RunningSet

	// Decryptor decrypts encrypted task fields before dispatch; nil
	// leaves tasks unchanged, matching the "helper absent" pass-through.
	Decryptor contracts.Decryptor

	MachineID     string
	MachineName   string
	MaxConcurrent int

	Now  func() time.Time
	Logf func(format string, args ...interface{})

	// OnIdleDeclared is invoked each tick for every task past the 10-minute
	// idle threshold, after the warning is logged. Optional; cmd/push-daemon
	// wires it to the stuck-event log so idle surfaces alongside stuck
	// detections.
	OnIdleDeclared func(displayNumber int, idleFor time.Duration)
	// OnPollSucceeded is invoked after each successful backend poll with the
	// poll time, feeding the status file's lastPollAt field. Optional.
	OnPollSucceeded func(at time.Time)
	// OnTickComplete is invoked at the end of every tick, whatever path the
	// tick took, so the status snapshot is refreshed each tick.
	// Optional.
	OnTickComplete func()
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) logf(format string, args ...interface{}) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// Run blocks, ticking at interval until ctx is cancelled. It performs an
// immediate tick before the first sleep, so a freshly started daemon polls
// right away instead of waiting out a full interval.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.Tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep-poll-dispatch cycle. Panics from an individual step
// are not caught here; callers that want tick isolation wrap Tick in their
// own recover.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.OnTickComplete != nil {
		defer s.OnTickComplete()
	}

	s.sweepTimeouts()
	s.sweepIdle()

	if s.MaxConcurrent > 0 && s.Running.Len() >= s.MaxConcurrent {
		return
	}

	tasks, err := s.Backend.Poll(ctx, s.MachineID, s.MachineName, s.Registry.RepoURLs())
	if err != nil {
		s.logf("scheduler: poll failed: %v", err)
		return
	}
	if s.OnPollSucceeded != nil {
		s.OnPollSucceeded(s.now())
	}

	headroom := len(tasks)
	if s.MaxConcurrent > 0 {
		if available := s.MaxConcurrent - s.Running.Len(); available < headroom {
			headroom = available
		}
	}
	if headroom < 0 {
		headroom = 0
	}

	for i := 0; i < headroom; i++ {
		s.Runner.Dispatch(ctx, decrypt.DecryptTaskFields(s.Decryptor, tasks[i]))
	}
}

// sweepTimeouts terminates any running task past its wall-clock budget.
// The runner's finalize step is what actually reports the
// failure; this only signals.
func (s *Scheduler) sweepTimeouts() {
	now := s.now()
	for _, active := range s.Running.Snapshot() {
		budget := active.Timeout
		if budget <= 0 {
			budget = timeoutAfter
		}
		if now.Sub(active.StartedAt) > budget {
			active.Terminate(supervisor.ExitTimeout)
		}
	}
}

// sweepIdle logs a warning past 5 minutes of silence and declares idle past
// 10; neither terminates the task. Idle alone never kills a run.
func (s *Scheduler) sweepIdle() {
	now := s.now()
	for _, active := range s.Running.Snapshot() {
		if active.Record == nil {
			continue
		}
		idleFor := now.Sub(active.Record.LastOutputAt())
		switch {
		case idleFor > idleDeclaredAfter:
			s.logf("scheduler: task %d idle for %s, declaring idle", active.Record.DisplayNumber, idleFor.Round(time.Second))
			if s.OnIdleDeclared != nil {
				s.OnIdleDeclared(active.Record.DisplayNumber, idleFor)
			}
		case idleFor > idleWarnAfter:
			s.logf("scheduler: task %d idle for %s", active.Record.DisplayNumber, idleFor.Round(time.Second))
		}
	}
}
