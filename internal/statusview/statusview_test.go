package statusview

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/MasslessAI/push-claude-plugin/internal/statusfile"
)

func TestRenderPlainIncludesMachineNameAndStats(t *testing.T) {
	snapshot := statusfile.Snapshot{
		Daemon: statusfile.DaemonInfo{MachineName: "build-box-1"},
		Stats:  statusfile.Stats{Running: 2, MaxConcurrent: 4, CompletedToday: 7},
		ActiveTasks: []statusfile.ActiveTaskView{
			{DisplayNumber: 12, Phase: "working", Summary: "fix login", ElapsedSeconds: 95},
		},
		UpdatedAt: time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC),
	}

	out := renderPlain(snapshot)

	require.Contains(t, out, "build-box-1")
	require.Contains(t, out, "running=2/4")
	require.Contains(t, out, "completedToday=7")
	require.Contains(t, out, "#12")
	require.Contains(t, out, "fix login")
}

func TestRenderPlainHandlesNoActiveTasks(t *testing.T) {
	snapshot := statusfile.Snapshot{Daemon: statusfile.DaemonInfo{MachineName: "idle-box"}}
	out := renderPlain(snapshot)
	require.Contains(t, out, "idle-box")
}

func TestIsTerminalFalseForBuffer(t *testing.T) {
	var buf bytes.Buffer
	require.False(t, isTerminal(&buf))
}

func TestModelViewRendersActiveTasksAndQuitHint(t *testing.T) {
	m := model{
		snapshot: statusfile.Snapshot{
			Daemon: statusfile.DaemonInfo{MachineName: "build-box-1"},
			Stats:  statusfile.Stats{Running: 1, MaxConcurrent: 3, CompletedToday: 2},
			ActiveTasks: []statusfile.ActiveTaskView{
				{DisplayNumber: 5, Phase: "reviewing", Summary: "refactor queue", ElapsedSeconds: 12},
			},
		},
	}

	view := m.View()

	require.Contains(t, view, "build-box-1")
	require.Contains(t, view, "#5")
	require.Contains(t, view, "refactor queue")
	require.Contains(t, view, "q to quit")
}

func TestModelViewRendersNoRunningTasksPlaceholder(t *testing.T) {
	m := model{snapshot: statusfile.Snapshot{Daemon: statusfile.DaemonInfo{MachineName: "idle-box"}}}
	view := m.View()
	require.Contains(t, view, "no running tasks")
}

func TestModelViewSurfacesReadError(t *testing.T) {
	m := model{err: errTest}
	view := m.View()
	require.Contains(t, view, "status file unavailable")
}

var errTest = &testError{"status file missing"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestModelUpdateQuitsOnLowercaseQ(t *testing.T) {
	m := model{}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
}
