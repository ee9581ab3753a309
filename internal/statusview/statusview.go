// Package statusview renders a live view of daemon_status.json: a Bubble
// Tea dashboard when stdout is a TTY, a plain periodic print otherwise.
// This is a read-only observer of the file internal/statusfile writes; it
// never talks to the daemon process directly; there is no IPC channel
// besides this file and the PID file.
package statusview

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/MasslessAI/push-claude-plugin/internal/statusfile"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// Watch renders daemon_status.json at stateDir until the user quits,
// picking a TTY dashboard or a plain ticker print based on out.
func Watch(stateDir string, interval time.Duration, out io.Writer) error {
	if interval <= 0 {
		interval = time.Second
	}
	if isTerminal(out) {
		return runDashboard(stateDir, interval)
	}
	return runPlain(stateDir, interval, out)
}

func isTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func runPlain(stateDir string, interval time.Duration, out io.Writer) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		snapshot, err := statusfile.Read(stateDir)
		if err != nil {
			fmt.Fprintf(out, "status: %v\n", err)
		} else {
			fmt.Fprint(out, renderPlain(snapshot))
		}
		<-ticker.C
	}
}

func renderPlain(snapshot statusfile.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  running=%d/%d  completedToday=%d  updated=%s\n",
		snapshot.Daemon.MachineName,
		snapshot.Stats.Running, snapshot.Stats.MaxConcurrent, snapshot.Stats.CompletedToday,
		snapshot.UpdatedAt.Format(time.Kitchen))
	for _, task := range snapshot.ActiveTasks {
		fmt.Fprintf(&b, "  #%-5d %-10s %6.0fs  %s\n", task.DisplayNumber, task.Phase, task.ElapsedSeconds, task.Summary)
	}
	return b.String()
}

// model is the Bubble Tea program state for the interactive dashboard.
type model struct {
	stateDir string
	interval time.Duration
	spinner  spinner.Model
	snapshot statusfile.Snapshot
	err      error
}

type tickMsg struct{}
type snapshotMsg struct {
	snapshot statusfile.Snapshot
	err      error
}

func runDashboard(stateDir string, interval time.Duration) error {
	m := model{stateDir: stateDir, interval: interval, spinner: spinner.New(spinner.WithSpinner(spinner.Dot))}
	program := tea.NewProgram(m)
	_, err := program.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadSnapshot(), tickCmd(m.interval))
}

func (m model) loadSnapshot() tea.Cmd {
	return func() tea.Msg {
		snapshot, err := statusfile.Read(m.stateDir)
		return snapshotMsg{snapshot: snapshot, err: err}
	}
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch typed := msg.(type) {
	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case tickMsg:
		return m, tea.Batch(m.loadSnapshot(), tickCmd(m.interval))
	case snapshotMsg:
		m.snapshot = typed.snapshot
		m.err = typed.err
		return m, nil
	case tea.KeyMsg:
		if typed.Type == tea.KeyCtrlC || (typed.Type == tea.KeyRunes && len(typed.Runes) == 1 && typed.Runes[0] == 'q') {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s  %d/%d running, %d completed today",
		m.snapshot.Daemon.MachineName, m.snapshot.Stats.Running, m.snapshot.Stats.MaxConcurrent, m.snapshot.Stats.CompletedToday)))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(warnStyle.Render(fmt.Sprintf("status file unavailable: %v\n", m.err)))
		return b.String()
	}

	if len(m.snapshot.ActiveTasks) == 0 {
		b.WriteString(dimStyle.Render("no running tasks\n"))
	}
	for _, task := range m.snapshot.ActiveTasks {
		fmt.Fprintf(&b, "#%-5d %-10s %6.0fs  %s\n", task.DisplayNumber, task.Phase, task.ElapsedSeconds, task.Summary)
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}
