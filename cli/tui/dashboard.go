package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/sluice/monitor"
)

// TakeFunc produces a fresh run snapshot on every poll.
type TakeFunc func() (*monitor.Snapshot, error)

// tickMsg requests the next poll.
type tickMsg time.Time

// snapshotMsg carries a poll result into the model.
type snapshotMsg struct {
	snap *monitor.Snapshot
	err  error
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// DashboardModel is the Bubble Tea model for the live run dashboard.
// It polls the monitor on a fixed interval and renders the aggregate
// and per-worker progress.
type DashboardModel struct {
	take     TakeFunc
	interval time.Duration

	snap *monitor.Snapshot
	err  error

	bar      progress.Model
	width    int
	quitting bool
}

// NewDashboardModel creates a dashboard polling take every interval.
func NewDashboardModel(take TakeFunc, interval time.Duration) DashboardModel {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 50
	return DashboardModel{
		take:     take,
		interval: interval,
		bar:      bar,
	}
}

// Init implements tea.Model.
func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.tick())
}

func (m DashboardModel) poll() tea.Cmd {
	take := m.take
	return func() tea.Msg {
		snap, err := take()
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m DashboardModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		width := msg.Width - 24
		if width > 60 {
			width = 60
		}
		if width > 0 {
			m.bar.Width = width
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case snapshotMsg:
		m.snap = msg.snap
		m.err = msg.err
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.poll(), m.tick())
	}

	return m, nil
}

// View implements tea.Model.
func (m DashboardModel) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return ErrorStyle.Render(fmt.Sprintf("monitor error: %v", m.err)) + "\n" +
			HelpStyle.Render("Press q or Ctrl+C to quit")
	}
	if m.snap == nil {
		return MutedStyle.Render("waiting for first snapshot...")
	}

	var b strings.Builder

	title := "sluice run " + m.snap.RunID
	if m.snap.Paused {
		title += "  " + PausedStyle.Render("[PAUSED]")
	}
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(m.bar.ViewAs(m.snap.ProgressPct / 100))
	b.WriteString(fmt.Sprintf("  %d/%d rows\n\n", m.snap.RowsProcessed, m.snap.TotalRows))

	boxes := []string{
		m.renderStatBox("Rows/sec", fmt.Sprintf("%.1f", m.snap.RowsPerSec), highlightColor),
		m.renderStatBox("Tokens/sec", fmt.Sprintf("%.0f", m.snap.TokensPerSec), highlightColor),
		m.renderStatBox("Completed", fmt.Sprintf("%d", m.snap.Completed), successColor),
		m.renderStatBox("Failed", fmt.Sprintf("%d", m.snap.Failed), errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	for i := range m.snap.Workers {
		b.WriteString(m.renderWorker(&m.snap.Workers[i]))
		b.WriteString("\n")
	}

	if eta := m.snap.ETASeconds; eta > 0 {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("ETA:"))
		b.WriteString(ValueStyle.Render(formatETA(eta)))
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

func (m DashboardModel) renderWorker(w *monitor.WorkerView) string {
	state := StateStyle(w.State).Render(fmt.Sprintf("%-9s", w.State))
	pct := 0.0
	if w.TotalRows > 0 {
		pct = float64(w.RowsProcessed) / float64(w.TotalRows)
	}

	line := fmt.Sprintf("w%-3d %-12s %s %s %5d/%-5d",
		w.WorkerID, w.Label, state, m.bar.ViewAs(pct), w.RowsProcessed, w.TotalRows)
	if w.LastError != "" {
		line += "  " + ErrorStyle.Render(w.LastError)
	}
	return line
}

func (m DashboardModel) renderStatBox(label, value string, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(value)
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

func formatETA(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	return d.Round(time.Second).String()
}

// RunDashboard runs the live dashboard until the user quits.
func RunDashboard(take TakeFunc, interval time.Duration) error {
	p := tea.NewProgram(NewDashboardModel(take, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
