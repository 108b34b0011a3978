// Package status implements the run's status directory: per-worker
// status documents, the pause flag, and the failed-range ledger. All
// writes go through atomic replace so readers never see a torn
// document.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/sluice/iox"
	"github.com/justapithecus/sluice/types"
)

// PauseFlagName is the pause sentinel filename.
const PauseFlagName = "pause.flag"

// LedgerName is the failed-range ledger filename.
const LedgerName = "failed_ranges.json"

// workerFileName builds the status document name for a worker slot.
func workerFileName(workerID int) string {
	return fmt.Sprintf("worker_%d.json", workerID)
}

// Dir is a run's status directory.
type Dir struct {
	path string
}

// NewDir opens (creating if needed) the status directory.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("status dir: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.path }

// Writer is a worker's handle to its own status document. Exactly one
// process writes each document; everything else only reads.
type Writer struct {
	dir      *Dir
	workerID int
}

// NewWriter creates the single writer for one worker's document.
func (d *Dir) NewWriter(workerID int) *Writer {
	return &Writer{dir: d, workerID: workerID}
}

// Write replaces the worker's status document wholesale.
func (w *Writer) Write(st *types.WorkerStatus) error {
	st.WorkerID = w.workerID
	st.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode worker status: %w", err)
	}
	path := filepath.Join(w.dir.path, workerFileName(w.workerID))
	return iox.WriteFileAtomic(path, data, 0o644)
}

// Read loads one worker's status document. A missing document returns
// os.ErrNotExist wrapped; the monitor maps that to "pending".
func (d *Dir) Read(workerID int) (*types.WorkerStatus, error) {
	path := filepath.Join(d.path, workerFileName(workerID))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker status: %w", err)
	}
	var st types.WorkerStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &st, nil
}

// ReadAll loads every worker status document present, sorted by
// worker ID. Unreadable or partially-written documents are skipped;
// the monitor tolerates transient inconsistency.
func (d *Dir) ReadAll() ([]*types.WorkerStatus, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("list status dir: %w", err)
	}

	var all []*types.WorkerStatus
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "worker_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		idStr := strings.TrimSuffix(strings.TrimPrefix(name, "worker_"), ".json")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		st, err := d.Read(id)
		if err != nil {
			continue
		}
		all = append(all, st)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].WorkerID < all[j].WorkerID })
	return all, nil
}
