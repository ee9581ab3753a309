// Package statusfile renders the daemon's local status surface: an atomic
// JSON snapshot at <state_dir>/daemon_status.json and a PID file, the only
// two channels besides the backend for observing what this machine is doing.
package statusfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
	"github.com/MasslessAI/push-claude-plugin/internal/runner"
)

// DaemonInfo identifies the running daemon process in the status snapshot.
type DaemonInfo struct {
	PID             int        `json:"pid"`
	Version         string     `json:"version"`
	StartedAt       time.Time  `json:"startedAt"`
	MachineName     string     `json:"machineName"`
	MachineIDSuffix string     `json:"machineId_suffix"`
	LastPollAt      *time.Time `json:"lastPollAt,omitempty"`
}

// ActiveTaskView is the per-task row rendered into activeTasks/runningTasks.
type ActiveTaskView struct {
	DisplayNumber  int       `json:"displayNumber"`
	Summary        string    `json:"summary"`
	Status         string    `json:"status"`
	Phase          string    `json:"phase"`
	Detail         string    `json:"detail,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	ElapsedSeconds float64   `json:"elapsedSeconds"`
}

// Stats summarizes the snapshot for quick display.
type Stats struct {
	Running        int `json:"running"`
	MaxConcurrent  int `json:"maxConcurrent"`
	CompletedToday int `json:"completedToday"`
}

// Snapshot is the exact shape written to daemon_status.json.
type Snapshot struct {
	Daemon         DaemonInfo                  `json:"daemon"`
	Running        bool                        `json:"running"`
	ActiveTasks    []ActiveTaskView            `json:"activeTasks"`
	RunningTasks   []ActiveTaskView            `json:"runningTasks"`
	QueuedTasks    []ActiveTaskView            `json:"queuedTasks"`
	CompletedToday []contracts.CompletedRecord `json:"completedToday"`
	Stats          Stats                       `json:"stats"`
	UpdatedAt      time.Time                   `json:"updatedAt"`
	StoppedAt      *time.Time                  `json:"stoppedAt,omitempty"`
}

// Writer owns the status and PID files under one state directory.
type Writer struct {
	StateDir        string
	MachineName     string
	MachineIDSuffix string
	Version         string
	MaxConcurrent   int
	StartedAt       time.Time
	PID             int

	Now func() time.Time

	mu         sync.Mutex
	lastPollAt time.Time
}

func NewWriter(stateDir, machineName, machineIDSuffix, version string, maxConcurrent int) *Writer {
	return &Writer{
		StateDir:        stateDir,
		MachineName:     machineName,
		MachineIDSuffix: machineIDSuffix,
		Version:         version,
		MaxConcurrent:   maxConcurrent,
		StartedAt:       time.Now(),
		PID:             os.Getpid(),
	}
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// SetLastPollAt records the time of the most recent successful backend
// poll, surfaced in the snapshot's daemon block so a reader can tell a
// silently failing poll loop from a genuinely idle one.
func (w *Writer) SetLastPollAt(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastPollAt = t
}

func (w *Writer) lastPoll() *time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastPollAt.IsZero() {
		return nil
	}
	t := w.lastPollAt
	return &t
}

func (w *Writer) statusPath() string { return filepath.Join(w.StateDir, "daemon_status.json") }
func (w *Writer) pidPath() string    { return filepath.Join(w.StateDir, "daemon.pid") }

// WritePID records the current process PID, read back by ReapStalePID,
// lifecycle.EnsureRunning and the stop command.
func (w *Writer) WritePID() error {
	return atomicWriteFile(w.pidPath(), []byte(strconv.Itoa(w.PID)+"\n"), 0o644)
}

// RemovePID deletes the PID file, part of the graceful stop sequence.
func (w *Writer) RemovePID() error {
	err := os.Remove(w.pidPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadPID returns the PID recorded in the PID file, if any.
func ReadPID(stateDir string) (int, bool) {
	content, err := os.ReadFile(filepath.Join(stateDir, "daemon.pid"))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// ProcessAlive reports whether pid is a live process on this machine. On
// Unix, signal 0 probes for existence without affecting the target.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// ReapStalePID removes the PID file if it names a process that is no
// longer running; stale PIDs are reaped on startup.
func ReapStalePID(stateDir string) error {
	pid, ok := ReadPID(stateDir)
	if !ok {
		return nil
	}
	if ProcessAlive(pid) {
		return nil
	}
	err := os.Remove(filepath.Join(stateDir, "daemon.pid"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Write renders and atomically persists a full snapshot from the current
// running set and completed-today records, after every meaningful state
// change and at the end of each tick.
func (w *Writer) Write(active []*runner.ActiveTask, queued []ActiveTaskView, completedToday []contracts.CompletedRecord) error {
	now := w.now()

	activeViews := make([]ActiveTaskView, 0, len(active))
	for _, a := range active {
		view := ActiveTaskView{StartedAt: a.StartedAt, ElapsedSeconds: now.Sub(a.StartedAt).Seconds()}
		if a.Record != nil {
			view.DisplayNumber = a.Record.DisplayNumber
			view.Summary = a.Record.Summary
			phase, detail := a.Record.Phase()
			view.Phase = string(phase)
			view.Detail = detail
		}
		view.Status = string(contracts.StatusRunning)
		activeViews = append(activeViews, view)
	}

	if len(completedToday) > 10 {
		completedToday = completedToday[len(completedToday)-10:]
	}

	snapshot := Snapshot{
		Daemon: DaemonInfo{
			PID:             w.PID,
			Version:         w.Version,
			StartedAt:       w.StartedAt,
			MachineName:     w.MachineName,
			MachineIDSuffix: w.MachineIDSuffix,
			LastPollAt:      w.lastPoll(),
		},
		Running:        true,
		ActiveTasks:    activeViews,
		RunningTasks:   activeViews,
		QueuedTasks:    queued,
		CompletedToday: completedToday,
		Stats: Stats{
			Running:        len(active),
			MaxConcurrent:  w.MaxConcurrent,
			CompletedToday: len(completedToday),
		},
		UpdatedAt: now,
	}

	return w.writeSnapshot(snapshot)
}

// WriteStopped writes the final {running: false, stoppedAt} snapshot as the
// last act of the stop sequence.
func (w *Writer) WriteStopped() error {
	now := w.now()
	snapshot := Snapshot{
		Daemon: DaemonInfo{
			PID:             w.PID,
			Version:         w.Version,
			StartedAt:       w.StartedAt,
			MachineName:     w.MachineName,
			MachineIDSuffix: w.MachineIDSuffix,
		},
		Running:   false,
		UpdatedAt: now,
		StoppedAt: &now,
	}
	return w.writeSnapshot(snapshot)
}

func (w *Writer) writeSnapshot(snapshot Snapshot) error {
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status snapshot: %w", err)
	}
	return atomicWriteFile(w.statusPath(), payload, 0o644)
}

// Read loads the current snapshot, for the CLI's watch/status commands.
func Read(stateDir string) (Snapshot, error) {
	content, err := os.ReadFile(filepath.Join(stateDir, "daemon_status.json"))
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(content, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("parse status snapshot: %w", err)
	}
	return snapshot, nil
}

// atomicWriteFile writes content to a temp file in the same directory, then
// renames it into place, so readers of daemon_status.json never observe a
// partial write. Mirrors internal/config's own helper of the same
// shape; kept package-local rather than shared since each caller's
// directory-creation and permission needs differ slightly.
func atomicWriteFile(path string, content []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, perm); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
