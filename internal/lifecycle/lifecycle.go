// Package lifecycle owns the daemon's start/stop sequence: PID and
// daemon-version files, signal-triggered graceful drain, and the
// version-mismatch self-restart check that is the sole in-band update
// mechanism.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
	"github.com/MasslessAI/push-claude-plugin/internal/runner"
	"github.com/MasslessAI/push-claude-plugin/internal/statusfile"
	"github.com/MasslessAI/push-claude-plugin/internal/supervisor"
)

// WorktreeManager is the subset of contracts.WorktreeManager lifecycle needs
// to clean up after a drained task.
type WorktreeManager interface {
	Remove(ctx context.Context, repoPath, worktreePath string) error
}

// BackendClient is the subset of contracts.BackendClient lifecycle needs to
// report a drained task as failed with a daemon_shutdown event.
type BackendClient interface {
	UpdateStatus(ctx context.Context, update contracts.StatusUpdate) error
}

// Daemon coordinates graceful shutdown for every task in a RunningSet and
// the status/PID file bookkeeping around it.
type Daemon struct {
	Running     *runner.RunningSet
	Backend     BackendClient
	Worktrees   WorktreeManager
	Status      *statusfile.Writer
	MachineName string

	// ShutdownGrace is how long Stop waits after signalling the running
	// children before it reports and cleans up the tasks still in the
	// running set; the supervisor itself enforces the actual
	// SIGTERM->SIGKILL escalation.
	ShutdownGrace time.Duration

	Now  func() time.Time
	Logf func(format string, args ...interface{})

	draining atomic.Bool
}

func (d *Daemon) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Daemon) logf(format string, args ...interface{}) {
	if d.Logf != nil {
		d.Logf(format, args...)
	}
}

// RunUntilSignal blocks until ctx is cancelled or SIGTERM/SIGINT arrives,
// then runs the stop sequence and returns. Start-sequence responsibilities
// (write PID, write version file, initial status, immediate poll) belong to
// the caller (cmd/push-daemon) since they need the fully wired scheduler;
// this only owns the signal wait and the drain.
func (d *Daemon) RunUntilSignal(ctx context.Context) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	select {
	case <-ctx.Done():
	case <-sigs:
		d.logf("lifecycle: signal received, draining")
	}
	d.Stop(context.Background())
}

// Draining reports whether the stop sequence has been entered. The runner
// can consult this to avoid starting new work mid-drain if wired to do so.
func (d *Daemon) Draining() bool { return d.draining.Load() }

// Stop runs the drain sequence: mark draining, SIGTERM every running
// child and report it failed with a daemon_shutdown event, remove
// worktrees, delete the PID file, write the final stopped snapshot.
func (d *Daemon) Stop(ctx context.Context) {
	d.draining.Store(true)

	for _, active := range d.Running.Snapshot() {
		active.Terminate(supervisor.ExitShutdown)
	}

	// Give each supervisor's own SIGTERM->SIGKILL escalation (up to 5s)
	// a chance to land before reporting; finalize (owned by
	// internal/runner) removes the task from the running set once its
	// supervisor actually exits, so this is best-effort draining, not a
	// wait-for-completion barrier; the daemon process is about to exit
	// regardless.
	if d.ShutdownGrace > 0 {
		time.Sleep(d.ShutdownGrace)
	}

	for _, active := range d.Running.Snapshot() {
		d.reportShutdown(ctx, active)
		if d.Worktrees != nil {
			if err := d.Worktrees.Remove(ctx, active.RepoPath, active.WorktreePath); err != nil {
				d.logf("lifecycle: removing worktree during shutdown: %v", err)
			}
		}
	}

	if d.Status != nil {
		if err := d.Status.RemovePID(); err != nil {
			d.logf("lifecycle: removing PID file: %v", err)
		}
		if err := d.Status.WriteStopped(); err != nil {
			d.logf("lifecycle: writing final status: %v", err)
		}
	}
}

func (d *Daemon) reportShutdown(ctx context.Context, active *runner.ActiveTask) {
	if d.Backend == nil || active.Record == nil {
		return
	}
	now := d.now()
	err := d.Backend.UpdateStatus(ctx, contracts.StatusUpdate{
		DisplayNumber: active.Record.DisplayNumber,
		Status:        contracts.StatusFailed,
		Error:         "daemon shutting down",
		Event: &contracts.LifecycleEvent{
			Type:        contracts.EventDaemonShutdown,
			Timestamp:   now,
			MachineName: d.MachineName,
		},
	})
	if err != nil {
		d.logf("lifecycle: reporting shutdown for #%d: %v", active.Record.DisplayNumber, err)
	}
}

// EnsureRunning compares the daemon version recorded at startup against the
// currently installed package version and, on mismatch, stops the running
// daemon (by PID) and signals that a fresh one should be started. This is
// the sole in-band update mechanism; callers (any privileged CLI
// operation) invoke it before depending on a running daemon.
func EnsureRunning(stateDir, installedVersion string) (restarted bool, err error) {
	recorded, err := RecordedVersion(stateDir)
	if err != nil {
		return false, fmt.Errorf("reading recorded daemon version: %w", err)
	}
	if recorded == "" || recorded == installedVersion {
		// No daemon has ever recorded a version (fresh install) or the
		// versions already agree: nothing to restart.
		return false, nil
	}

	pid, ok := statusfile.ReadPID(stateDir)
	if ok && statusfile.ProcessAlive(pid) {
		if err := stopByPID(pid); err != nil {
			return false, fmt.Errorf("stopping stale daemon (pid %d): %w", pid, err)
		}
	}
	return true, nil
}

// WriteDaemonVersion records the running daemon's version, read back by
// EnsureRunning on the next privileged CLI invocation.
func WriteDaemonVersion(stateDir, version string) error {
	return os.WriteFile(filepath.Join(stateDir, "daemon.version"), []byte(version+"\n"), 0o644)
}

// RecordedVersion reads the version the last daemon start stamped into
// daemon.version, or "" when no daemon has ever recorded one.
func RecordedVersion(stateDir string) (string, error) {
	content, err := os.ReadFile(filepath.Join(stateDir, "daemon.version"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	version := string(content)
	for len(version) > 0 && (version[len(version)-1] == '\n' || version[len(version)-1] == '\r') {
		version = version[:len(version)-1]
	}
	return version, nil
}

func stopByPID(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGTERM)
}
