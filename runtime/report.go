package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/justapithecus/sluice/manifest"
	"github.com/justapithecus/sluice/monitor"
	"github.com/justapithecus/sluice/status"
	"github.com/justapithecus/sluice/types"
)

// RunReport is the structured JSON report written by --report and
// rendered by the summary command.
type RunReport struct {
	RunID      string `json:"run_id"`
	Project    string `json:"project"`
	ModelName  string `json:"model_name"`
	Outcome    string `json:"outcome"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	RowsProcessed int64   `json:"rows_processed"`
	TotalRows     int64   `json:"total_rows"`
	ProgressPct   float64 `json:"progress_pct"`

	WorkersCompleted int `json:"workers_completed"`
	WorkersFailed    int `json:"workers_failed"`

	Files []FileReport `json:"files"`

	GeneratedAt time.Time `json:"generated_at"`
}

// FileReport holds one input file's outcome in the report.
type FileReport struct {
	Label        string           `json:"label"`
	Status       types.FileStatus `json:"status"`
	Workers      int              `json:"workers"`
	FailedSpawns int              `json:"failed_spawns,omitempty"`
	MergedOutput string           `json:"merged_output,omitempty"`
	RowsMerged   int              `json:"rows_merged,omitempty"`
}

// BuildRunReport composes a RunReport from the manifest and the final
// monitor snapshot. rowsMerged maps label to merged row count and may
// be nil when no merge ran.
func BuildRunReport(doc *types.Manifest, snap *monitor.Snapshot, rowsMerged map[string]int, outcome string, duration time.Duration) *RunReport {
	report := &RunReport{
		RunID:            doc.Run.RunID,
		Project:          doc.Run.Project,
		ModelName:        doc.Run.ModelName,
		Outcome:          outcome,
		DurationMs:       duration.Milliseconds(),
		RowsProcessed:    snap.RowsProcessed,
		TotalRows:        snap.TotalRows,
		ProgressPct:      snap.ProgressPct,
		WorkersCompleted: snap.Completed,
		WorkersFailed:    snap.Failed,
		GeneratedAt:      time.Now().UTC(),
	}

	for _, file := range doc.Files {
		report.Files = append(report.Files, FileReport{
			Label:        file.Label,
			Status:       file.Status,
			Workers:      len(file.Ranges),
			FailedSpawns: len(file.FailedSpawns),
			MergedOutput: file.MergedOutput,
			RowsMerged:   rowsMerged[file.Label],
		})
	}
	return report
}

// Summarize builds a report for an existing run from its manifest and
// status directory. Works from a fresh process; no orchestrator state
// is needed. A run that has not settled reports outcome "running".
func Summarize(l *Layout, stall time.Duration) (*RunReport, error) {
	man := manifest.NewStore(l.ManifestPath())
	dir, err := status.NewDir(l.StatusDir())
	if err != nil {
		return nil, err
	}

	snap, err := monitor.New(dir, man, stall).Take()
	if err != nil {
		return nil, err
	}
	doc, err := man.Load()
	if err != nil {
		return nil, err
	}

	outcome := "running"
	if snap.AllTerminal() {
		outcome = runOutcome(doc.Files)
	}
	return BuildRunReport(doc, snap, nil, outcome, 0), nil
}

// WriteRunReport writes the report as JSON to the given path.
// Path "-" writes to stderr, keeping stdout clean for rendered output.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		if _, err := os.Stderr.Write(data); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeRunReportTo writes report JSON to any writer (for testing).
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
