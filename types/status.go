package types //nolint:revive // types is a valid package name

import "time"

// WorkerState is the persisted lifecycle state of a worker.
type WorkerState string

const (
	// StatePending indicates the worker has been assigned a range but
	// has not written a status document yet.
	StatePending WorkerState = "pending"
	// StateRunning indicates the worker is processing batches.
	StateRunning WorkerState = "running"
	// StatePaused indicates the worker observed the pause flag and is
	// idle at a batch boundary.
	StatePaused WorkerState = "paused"
	// StateCompleted indicates the worker finished its full range.
	StateCompleted WorkerState = "completed"
	// StateFailed indicates the worker terminated without finishing.
	StateFailed WorkerState = "failed"
)

// Terminal reports whether the state is final. Terminal workers never
// write another status update.
func (s WorkerState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// WorkerStatus is the worker's status document, overwritten wholesale
// on every checkpoint flush and state transition. Each worker is the
// single writer of its own document.
type WorkerStatus struct {
	WorkerID int         `json:"worker_id"`
	RunID    string      `json:"run_id"`
	Label    string      `json:"label"`
	State    WorkerState `json:"state"`

	// StartRow and EndRow are the assigned range bounds (1-based, inclusive).
	StartRow int64 `json:"start_row"`
	EndRow   int64 `json:"end_row"`

	RowsProcessed int64   `json:"rows_processed"`
	TotalRows     int64   `json:"total_rows"`
	ProgressPct   float64 `json:"progress_pct"`

	APICalls     int64   `json:"api_calls"`
	RowsPerSec   float64 `json:"rows_per_sec"`
	TokensPerSec float64 `json:"tokens_per_sec"`
	TokensTotal  int64   `json:"tokens_total"`
	ETASeconds   float64 `json:"eta_seconds"`

	// Errors counts batches that exhausted their retries.
	Errors    int64  `json:"errors"`
	LastError string `json:"last_error,omitempty"`

	// Checkpoints counts checkpoint parts written so far.
	Checkpoints int64 `json:"checkpoints"`
	// CheckpointParts lists the part filenames behind that count, in
	// part order, including parts inherited from a prior incarnation.
	CheckpointParts []string `json:"checkpoint_parts,omitempty"`

	// OutputFile is the worker's expected output artifact name.
	OutputFile string `json:"output_file,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
