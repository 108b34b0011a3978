// Package adapter defines the run event notification boundary.
//
// Adapters publish run lifecycle events to downstream systems.
// The orchestrator owns adapter lifecycle; users provide configuration
// only.
package adapter

import "context"

// Event types published by the orchestrator.
const (
	// EventFileMerged is published after one input file's merged
	// artifact is written.
	EventFileMerged = "file_merged"
	// EventRunCompleted is published when the run reaches its final
	// outcome.
	EventRunCompleted = "run_completed"
)

// RunEvent is the payload published to downstream systems.
type RunEvent struct {
	EventType string `json:"event_type"`
	RunID     string `json:"run_id"`
	Project   string `json:"project"`
	ModelName string `json:"model_name"`
	// Label and MergedOutput are set for file_merged events.
	Label        string `json:"label,omitempty"`
	MergedOutput string `json:"merged_output,omitempty"`
	RowsMerged   int64  `json:"rows_merged,omitempty"`
	// Outcome is set for run_completed events: success, partial, failed.
	Outcome    string `json:"outcome,omitempty"`
	Timestamp  string `json:"timestamp"` // ISO 8601
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Adapter publishes run events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	// Publish sends a run event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunEvent) error

	// Close releases adapter resources.
	Close() error
}
