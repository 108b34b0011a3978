// Package monitor aggregates worker status documents into a run-level
// view. The monitor only reads; it can be started fresh at any time
// (orchestrator polling, monitor-only mode, summary) and derives
// everything from the manifest and the status directory.
package monitor

import (
	"time"

	"github.com/justapithecus/sluice/manifest"
	"github.com/justapithecus/sluice/status"
	"github.com/justapithecus/sluice/types"
)

// Presentation-only states, distinct from persisted lifecycle states.
const (
	// ViewPending marks a planned worker with no status document yet.
	ViewPending = "pending"
	// ViewStalled marks a non-terminal worker whose document has not
	// been updated within the stall timeout.
	ViewStalled = "stalled"
)

// WorkerView is one worker's row in the aggregated view.
type WorkerView struct {
	WorkerID int    `json:"worker_id"`
	Label    string `json:"label"`
	// State is the presentation state: a persisted lifecycle state,
	// or "pending"/"stalled" derived at read time.
	State string `json:"state"`

	StartRow      int64   `json:"start_row"`
	EndRow        int64   `json:"end_row"`
	RowsProcessed int64   `json:"rows_processed"`
	TotalRows     int64   `json:"total_rows"`
	ProgressPct   float64 `json:"progress_pct"`

	RowsPerSec   float64 `json:"rows_per_sec"`
	TokensPerSec float64 `json:"tokens_per_sec"`
	ETASeconds   float64 `json:"eta_seconds"`

	Errors    int64  `json:"errors"`
	LastError string `json:"last_error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the worker needs no further observation.
func (v *WorkerView) Terminal() bool {
	return v.State == string(types.StateCompleted) || v.State == string(types.StateFailed)
}

// Snapshot is a point-in-time aggregate over every planned worker.
type Snapshot struct {
	RunID   string       `json:"run_id"`
	Workers []WorkerView `json:"workers"`

	RowsProcessed int64   `json:"rows_processed"`
	TotalRows     int64   `json:"total_rows"`
	ProgressPct   float64 `json:"progress_pct"`

	// RowsPerSec and TokensPerSec sum the active workers' rates.
	RowsPerSec   float64 `json:"rows_per_sec"`
	TokensPerSec float64 `json:"tokens_per_sec"`
	// ETASeconds is the max over active workers: the run finishes
	// when its slowest worker does.
	ETASeconds float64 `json:"eta_seconds"`

	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Paused    bool `json:"paused"`

	TakenAt time.Time `json:"taken_at"`
}

// AllTerminal reports whether every planned worker reached a terminal
// persisted state. Stalled workers are not terminal: the monitor
// cannot distinguish a stall from a dead worker.
func (s *Snapshot) AllTerminal() bool {
	for i := range s.Workers {
		if !s.Workers[i].Terminal() {
			return false
		}
	}
	return len(s.Workers) > 0
}

// Monitor reads run state from the filesystem.
type Monitor struct {
	dir   *status.Dir
	man   *manifest.Store
	stall time.Duration

	now func() time.Time
}

// New creates a monitor over a run's status directory and manifest.
func New(dir *status.Dir, man *manifest.Store, stallTimeout time.Duration) *Monitor {
	return &Monitor{dir: dir, man: man, stall: stallTimeout, now: time.Now}
}

// Take reads every status document and builds the aggregate view.
// Planned workers without a document present as pending; stale
// non-terminal documents present as stalled.
func (m *Monitor) Take() (*Snapshot, error) {
	doc, err := m.man.Load()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	snap := &Snapshot{
		RunID:   doc.Run.RunID,
		TakenAt: now,
		Paused:  m.dir.NewPauseController().Paused(),
	}

	for _, file := range doc.Files {
		for _, rng := range file.Ranges {
			view := WorkerView{
				WorkerID:  rng.WorkerID,
				Label:     file.Label,
				State:     ViewPending,
				StartRow:  rng.Start,
				EndRow:    rng.End,
				TotalRows: rng.Rows(),
			}

			st, err := m.dir.Read(rng.WorkerID)
			if err == nil {
				view.State = string(st.State)
				view.RowsProcessed = st.RowsProcessed
				view.TotalRows = st.TotalRows
				view.ProgressPct = st.ProgressPct
				view.RowsPerSec = st.RowsPerSec
				view.TokensPerSec = st.TokensPerSec
				view.ETASeconds = st.ETASeconds
				view.Errors = st.Errors
				view.LastError = st.LastError
				view.UpdatedAt = st.UpdatedAt

				if !st.State.Terminal() && m.stall > 0 && now.Sub(st.UpdatedAt) > m.stall {
					view.State = ViewStalled
				}
			}

			snap.Workers = append(snap.Workers, view)
			snap.RowsProcessed += view.RowsProcessed
			snap.TotalRows += view.TotalRows

			switch view.State {
			case string(types.StateCompleted):
				snap.Completed++
			case string(types.StateFailed):
				snap.Failed++
			case string(types.StateRunning):
				snap.RowsPerSec += view.RowsPerSec
				snap.TokensPerSec += view.TokensPerSec
				if view.ETASeconds > snap.ETASeconds {
					snap.ETASeconds = view.ETASeconds
				}
			}
		}
	}

	if snap.TotalRows > 0 {
		snap.ProgressPct = 100 * float64(snap.RowsProcessed) / float64(snap.TotalRows)
	}
	return snap, nil
}
