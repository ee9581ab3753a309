package statusfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
	"github.com/MasslessAI/push-claude-plugin/internal/runner"
)

func TestWriteProducesAtomicallyReadableSnapshot(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	w := &Writer{
		StateDir:        dir,
		MachineName:     "box-1",
		MachineIDSuffix: "ab12",
		Version:         "1.2.3",
		MaxConcurrent:   5,
		StartedAt:       now,
		PID:             4242,
		Now:             func() time.Time { return now },
	}

	record := contracts.NewRunningTask("t-1", 427, "fix login", "/wt", "/repo", now.Add(-time.Minute))
	active := []*runner.ActiveTask{{Record: record, StartedAt: now.Add(-time.Minute)}}
	completed := []contracts.CompletedRecord{{DisplayNumber: 400, Outcome: contracts.OutcomeSessionFinished}}

	require.NoError(t, w.Write(active, nil, completed))

	snapshot, err := Read(dir)
	require.NoError(t, err)
	require.Equal(t, 4242, snapshot.Daemon.PID)
	require.Equal(t, "1.2.3", snapshot.Daemon.Version)
	require.True(t, snapshot.Running)
	require.Len(t, snapshot.ActiveTasks, 1)
	require.Equal(t, 427, snapshot.ActiveTasks[0].DisplayNumber)
	require.Equal(t, 1, snapshot.Stats.Running)
	require.Equal(t, 5, snapshot.Stats.MaxConcurrent)

	require.NoFileExists(t, filepath.Join(dir, "daemon_status.json.tmp"), "temp file must not survive a successful write")
}

func TestWriteCapsCompletedTodayAtTen(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{StateDir: dir, Now: func() time.Time { return time.Now() }}

	completed := make([]contracts.CompletedRecord, 15)
	for i := range completed {
		completed[i] = contracts.CompletedRecord{DisplayNumber: i}
	}

	require.NoError(t, w.Write(nil, nil, completed))

	snapshot, err := Read(dir)
	require.NoError(t, err)
	require.Len(t, snapshot.CompletedToday, 10)
	require.Equal(t, 14, snapshot.CompletedToday[len(snapshot.CompletedToday)-1].DisplayNumber, "should keep the last 10, not the first 10")
}

func TestWriteStoppedSetsRunningFalseWithStoppedAt(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	w := &Writer{StateDir: dir, Now: func() time.Time { return now }}

	require.NoError(t, w.WriteStopped())

	snapshot, err := Read(dir)
	require.NoError(t, err)
	require.False(t, snapshot.Running)
	require.NotNil(t, snapshot.StoppedAt)
}

func TestWritePIDAndReapStalePID(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{StateDir: dir, PID: os.Getpid()}
	require.NoError(t, w.WritePID())

	pid, ok := ReadPID(dir)
	require.True(t, ok)
	require.Equal(t, os.Getpid(), pid)

	require.NoError(t, ReapStalePID(dir))
	_, ok = ReadPID(dir)
	require.True(t, ok, "a live process's PID file must survive reaping")

	require.NoError(t, w.RemovePID())
	_, ok = ReadPID(dir)
	require.False(t, ok)
}

func TestReapStalePIDRemovesDeadProcessEntry(t *testing.T) {
	dir := t.TempDir()
	// A PID astronomically unlikely to be alive.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daemon.pid"), []byte("999999"), 0o644))

	require.NoError(t, ReapStalePID(dir))

	_, ok := ReadPID(dir)
	require.False(t, ok, "stale PID file should be removed")
}

func TestSnapshotRoundTripsViaJSON(t *testing.T) {
	snapshot := Snapshot{
		Daemon: DaemonInfo{PID: 1, Version: "v", MachineName: "m", MachineIDSuffix: "s"},
		Stats:  Stats{Running: 2, MaxConcurrent: 5, CompletedToday: 3},
	}
	payload, err := json.Marshal(snapshot)
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, snapshot.Daemon, decoded.Daemon)
}

func TestWriteSurfacesLastPollAt(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	w := &Writer{StateDir: dir, Now: func() time.Time { return now }}

	require.NoError(t, w.Write(nil, nil, nil))
	snapshot, err := Read(dir)
	require.NoError(t, err)
	require.Nil(t, snapshot.Daemon.LastPollAt, "no poll has succeeded yet")

	polled := now.Add(-10 * time.Second)
	w.SetLastPollAt(polled)
	require.NoError(t, w.Write(nil, nil, nil))

	snapshot, err = Read(dir)
	require.NoError(t, err)
	require.NotNil(t, snapshot.Daemon.LastPollAt)
	require.WithinDuration(t, polled, *snapshot.Daemon.LastPollAt, time.Second)
}
