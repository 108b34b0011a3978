package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/sluice/monitor"
)

func sampleSnapshot() *monitor.Snapshot {
	return &monitor.Snapshot{
		RunID:         "bookings_v2_m7_20260207_120000",
		RowsProcessed: 4,
		TotalRows:     10,
		ProgressPct:   40,
		RowsPerSec:    2.5,
		TokensPerSec:  80,
		Completed:     1,
		Workers: []monitor.WorkerView{
			{WorkerID: 1, Label: "reviews", State: "completed", RowsProcessed: 5, TotalRows: 5},
			{WorkerID: 2, Label: "reviews", State: "running", RowsProcessed: 4, TotalRows: 5,
				LastError: "timeout on batch 3"},
		},
	}
}

func TestDashboard_ViewRendersSnapshot(t *testing.T) {
	m := NewDashboardModel(func() (*monitor.Snapshot, error) { return sampleSnapshot(), nil }, time.Second)

	updated, _ := m.Update(snapshotMsg{snap: sampleSnapshot()})
	view := updated.View()

	if !strings.Contains(view, "bookings_v2_m7_20260207_120000") {
		t.Errorf("view missing run id:\n%s", view)
	}
	if !strings.Contains(view, "4/10 rows") {
		t.Errorf("view missing aggregate rows:\n%s", view)
	}
	if !strings.Contains(view, "completed") || !strings.Contains(view, "running") {
		t.Errorf("view missing worker states:\n%s", view)
	}
	if !strings.Contains(view, "timeout on batch 3") {
		t.Errorf("view missing worker error:\n%s", view)
	}
}

func TestDashboard_PausedBadge(t *testing.T) {
	snap := sampleSnapshot()
	snap.Paused = true

	m := NewDashboardModel(func() (*monitor.Snapshot, error) { return snap, nil }, time.Second)
	updated, _ := m.Update(snapshotMsg{snap: snap})

	if !strings.Contains(updated.View(), "PAUSED") {
		t.Error("paused run does not show the pause badge")
	}
}

func TestDashboard_MonitorError(t *testing.T) {
	m := NewDashboardModel(func() (*monitor.Snapshot, error) { return nil, errors.New("boom") }, time.Second)
	updated, _ := m.Update(snapshotMsg{err: errors.New("boom")})

	if !strings.Contains(updated.View(), "monitor error") {
		t.Error("monitor error not surfaced in view")
	}
}

func TestDashboard_QuitKey(t *testing.T) {
	m := NewDashboardModel(func() (*monitor.Snapshot, error) { return sampleSnapshot(), nil }, time.Second)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("quit key did not produce a command")
	}
	if updated.View() != "" {
		t.Error("quitting view should be empty")
	}
}

func TestDashboard_TickPollsAgain(t *testing.T) {
	m := NewDashboardModel(func() (*monitor.Snapshot, error) { return sampleSnapshot(), nil }, time.Millisecond)

	_, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("tick did not schedule the next poll")
	}
}

func TestFormatETA(t *testing.T) {
	if got := formatETA(90); got != "1m30s" {
		t.Errorf("formatETA(90) = %s, want 1m30s", got)
	}
}
