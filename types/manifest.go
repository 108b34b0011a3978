package types //nolint:revive // types is a valid package name

import (
	"encoding/json"
	"time"
)

// FileStatus is the lifecycle state of one input file within a run.
type FileStatus string

const (
	// FileStatusPending indicates no worker has been spawned for the file.
	FileStatusPending FileStatus = "pending"
	// FileStatusProcessing indicates workers are active on the file.
	FileStatusProcessing FileStatus = "processing"
	// FileStatusCompleted indicates every range finished successfully.
	FileStatusCompleted FileStatus = "completed"
	// FileStatusPartial indicates some ranges finished and some failed.
	FileStatusPartial FileStatus = "partial"
	// FileStatusFailed indicates no range finished successfully.
	FileStatusFailed FileStatus = "failed"
)

// FileEntry is the manifest record for one input file.
type FileEntry struct {
	// Label is the short name workers and outputs use for the file.
	Label string `json:"label"`
	// InputFile is the path to the input CSV.
	InputFile string `json:"input_file"`
	// Status is the file's aggregate lifecycle state.
	Status FileStatus `json:"status"`
	// Ranges are the planned row ranges, one per worker.
	Ranges []RowRange `json:"row_ranges"`
	// ExpectedOutputs are the per-worker output names recorded at
	// planning time, index-aligned with Ranges.
	ExpectedOutputs []string `json:"expected_outputs,omitempty"`
	// FailedSpawns are ranges whose worker process could not be
	// started after all spawn retries.
	FailedSpawns []RowRange `json:"failed_spawns,omitempty"`
	// MergedOutput is the merged artifact path, set after a merge.
	MergedOutput string `json:"merged_output,omitempty"`
	// LastUpdated is when this entry last changed.
	LastUpdated time.Time `json:"last_updated"`
}

// Manifest is the run's shared coordination document. Writers
// serialize on a lock file; Revision increments on every successful
// update so readers can tell documents apart.
type Manifest struct {
	Run RunMeta `json:"run"`
	// Revision counts successful updates. Starts at 1.
	Revision int64 `json:"revision"`
	// Config is the JSON snapshot of the job config at run creation.
	Config json.RawMessage `json:"config,omitempty"`
	// Files are the per-input-file records.
	Files []FileEntry `json:"files"`
	// UpdatedAt is when the manifest was last replaced.
	UpdatedAt time.Time `json:"updated_at"`
}

// File returns the entry for a label, or nil when absent.
func (m *Manifest) File(label string) *FileEntry {
	for i := range m.Files {
		if m.Files[i].Label == label {
			return &m.Files[i]
		}
	}
	return nil
}
