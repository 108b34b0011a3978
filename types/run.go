// Package types defines core domain types for the sluice runtime.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// RunIDTimeLayout is the timestamp layout embedded in run identifiers.
const RunIDTimeLayout = "20060102_150405"

// RunMeta contains run identity metadata shared by the orchestrator,
// workers, and the monitor.
type RunMeta struct {
	// RunID is the canonical run identifier. Must be globally unique.
	RunID string `json:"run_id"`
	// Project is the project name the run belongs to.
	Project string `json:"project"`
	// Version is the operator-supplied config version label.
	Version string `json:"version"`
	// ModelName is the full model name used for classification.
	ModelName string `json:"model_name"`
	// ModelTag is the short model tag embedded in the run ID.
	ModelTag string `json:"model_tag"`
	// CreatedAt is when the run was created.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks identity rules for a run.
func (r *RunMeta) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id must be non-empty")
	}
	if r.Project == "" {
		return errors.New("project must be non-empty")
	}
	if r.ModelName == "" {
		return errors.New("model_name must be non-empty")
	}
	return nil
}

// ResolveModelTag derives a short model tag from a full model name:
// the alphanumeric characters of the name, trimmed to 10, prefixed
// with "m". An operator-supplied tag wins when non-empty.
//
// Example: "gpt-4o-mini" -> "mgpt4omini".
func ResolveModelTag(modelName, override string) string {
	if override != "" {
		return "m" + override
	}
	var b strings.Builder
	for _, ch := range modelName {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			b.WriteRune(ch)
		}
	}
	tag := b.String()
	if len(tag) > 10 {
		tag = tag[:10]
	}
	if tag == "" {
		tag = "unknown"
	}
	return "m" + tag
}

// BuildRunID builds the canonical run identifier:
//
//	<project>_<version>_<modeltag>_<YYYYMMDD_HHMMSS>
//
// Project and version segments are sanitized so the ID stays safe as a
// filename component. Example: bookings_v2_m7_20250129_153012.
func BuildRunID(project, version, modelTag string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s",
		cleanSegment(project), cleanSegment(version), modelTag,
		ts.Format(RunIDTimeLayout))
}

// JobID is the checkpoint namespace for one worker's slice of one input
// file. All checkpoint parts written by that worker carry this ID.
func JobID(runID, label string, workerID int) string {
	return fmt.Sprintf("%s_%s_w%d", runID, cleanSegment(label), workerID)
}

// WorkerOutputName is the expected per-worker output filename recorded
// in the manifest at run creation.
func WorkerOutputName(runID, label string, workerID int) string {
	return fmt.Sprintf("%s_%s_w%d.csv", cleanSegment(label), runID, workerID)
}

// MergedOutputName is the merged artifact filename for one input label.
func MergedOutputName(runID, label string) string {
	return fmt.Sprintf("%s_%s_merged.csv", cleanSegment(label), runID)
}

// cleanSegment keeps alphanumerics, '-' and '_'; everything else
// becomes '_'. Segments are embedded in run IDs and filenames.
func cleanSegment(s string) string {
	var b strings.Builder
	for _, ch := range s {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '-' || ch == '_' {
			b.WriteRune(ch)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
