// Package runtime orchestrates a run end-to-end: plan partitions,
// create the manifest, spawn detached workers, poll the monitor until
// every worker settles, merge outputs, and notify. Workers outlive the
// orchestrator; completion is observed through the filesystem, never
// through process handles.
package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/justapithecus/sluice/manifest"
)

// Layout is the on-disk shape of one run:
//
//	<base_dir>/<project>/runs/<run_id>/
//	    run_manifest.json
//	    job_config.yaml
//	    checkpoints/
//	    status/
//	    outputs/
//	    logs/
type Layout struct {
	root string
}

// NewLayout builds the layout for a run without touching the disk.
func NewLayout(baseDir, project, runID string) *Layout {
	return &Layout{root: filepath.Join(baseDir, project, "runs", runID)}
}

// Root returns the run directory.
func (l *Layout) Root() string { return l.root }

// CheckpointsDir returns the checkpoint parts directory.
func (l *Layout) CheckpointsDir() string { return filepath.Join(l.root, "checkpoints") }

// StatusDir returns the worker status directory.
func (l *Layout) StatusDir() string { return filepath.Join(l.root, "status") }

// OutputsDir returns the merged outputs directory.
func (l *Layout) OutputsDir() string { return filepath.Join(l.root, "outputs") }

// LogsDir returns the per-worker log directory.
func (l *Layout) LogsDir() string { return filepath.Join(l.root, "logs") }

// ManifestPath returns the run manifest path.
func (l *Layout) ManifestPath() string { return filepath.Join(l.root, manifest.Name) }

// ConfigPath returns the run's frozen config snapshot path. Workers
// and resume read this copy, never the operator's live config file.
func (l *Layout) ConfigPath() string { return filepath.Join(l.root, "job_config.yaml") }

// Create makes every run directory.
func (l *Layout) Create() error {
	for _, dir := range []string{l.root, l.CheckpointsDir(), l.StatusDir(), l.OutputsDir(), l.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create run directory %s: %w", dir, err)
		}
	}
	return nil
}

// ListRuns returns the run IDs under a project, oldest first by
// directory modification time.
func ListRuns(baseDir, project string) ([]string, error) {
	runsDir := filepath.Join(baseDir, project, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}

	type runDir struct {
		id  string
		mod time.Time
	}
	var runs []runDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, runDir{id: e.Name(), mod: info.ModTime()})
	}
	for i := 1; i < len(runs); i++ {
		for j := i; j > 0 && runs[j].mod.Before(runs[j-1].mod); j-- {
			runs[j], runs[j-1] = runs[j-1], runs[j]
		}
	}

	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}

// LatestRun returns the most recently modified run ID under a project.
func LatestRun(baseDir, project string) (string, error) {
	runs, err := ListRuns(baseDir, project)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no runs found under %s", filepath.Join(baseDir, project, "runs"))
	}
	return runs[len(runs)-1], nil
}
