package checkpoint

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/sluice/iox"
	"github.com/justapithecus/sluice/types"
)

// Metadata column names appended to every merged artifact.
var metaColumns = []string{"Run_ID", "Model_Name", "Worker_ID"}

// Store reads and writes checkpoint parts under a run's checkpoint
// directory. Parts are immutable once written: progress accrues by
// adding parts, never by rewriting them.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) the checkpoint directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapErr("init", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string { return s.dir }

// partName builds the canonical part filename.
func partName(jobID string, num int) string {
	return fmt.Sprintf("checkpoint_%s_part%04d.bin", jobID, num)
}

// partFile is one discovered part, ordered by number.
type partFile struct {
	path string
	num  int
}

// parts lists a job's part files in ascending part order.
func (s *Store) parts(jobID string) ([]partFile, error) {
	pattern := filepath.Join(s.dir, "checkpoint_"+jobID+"_part*.bin")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, wrapErr("list", s.dir, err)
	}

	prefix := "checkpoint_" + jobID + "_part"
	var files []partFile
	for _, m := range matches {
		base := filepath.Base(m)
		numStr := strings.TrimSuffix(strings.TrimPrefix(base, prefix), ".bin")
		num, err := strconv.Atoi(numStr)
		if err != nil {
			continue // staging leftovers or foreign files
		}
		files = append(files, partFile{path: m, num: num})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].num < files[j].num })
	return files, nil
}

// Save writes one checkpoint part: the header frame followed by a row
// frame per result. The part is staged under a unique temp name and
// renamed into place, so a crash mid-save never leaves a partial part
// under a canonical name. Part numbers are strictly increasing per job.
//
// Returns the part path. Any failure is wrapped in *Error; callers
// treat save failure as fatal.
func (s *Store) Save(header PartHeader, rows []types.ResultRow) (string, error) {
	if header.JobID == "" {
		return "", &Error{Kind: ErrCorrupt, Op: "save", Err: fmt.Errorf("empty job_id")}
	}

	existing, err := s.parts(header.JobID)
	if err != nil {
		return "", err
	}
	next := 1
	if n := len(existing); n > 0 {
		next = existing[n-1].num + 1
	}

	header.Type = PartHeaderType
	header.Rows = int64(len(rows))
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}

	staging := filepath.Join(s.dir, ".staging_"+uuid.NewString()+".bin")
	f, err := os.Create(staging)
	if err != nil {
		return "", wrapErr("save", staging, err)
	}

	if err := writeFrame(f, &header); err != nil {
		iox.DiscardClose(f)
		_ = os.Remove(staging)
		return "", wrapErr("save", staging, err)
	}
	for i := range rows {
		if err := writeFrame(f, &rowFrame{Type: RowType, Row: rows[i]}); err != nil {
			iox.DiscardClose(f)
			_ = os.Remove(staging)
			return "", wrapErr("save", staging, err)
		}
	}
	if err := f.Sync(); err != nil {
		iox.DiscardClose(f)
		_ = os.Remove(staging)
		return "", wrapErr("save", staging, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(staging)
		return "", wrapErr("save", staging, err)
	}

	dest := filepath.Join(s.dir, partName(header.JobID, next))
	if err := iox.RenameAtomic(staging, dest); err != nil {
		return "", wrapErr("save", dest, err)
	}
	return dest, nil
}

// ReadPart decodes one part file.
func (s *Store) ReadPart(path string) (*PartHeader, []types.ResultRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, wrapErr("read", path, err)
	}
	defer iox.DiscardClose(f)

	d := newFrameDecoder(f, path)
	header, err := d.readHeader()
	if err != nil {
		return nil, nil, err
	}

	rows := make([]types.ResultRow, 0, header.Rows)
	for {
		row, err := d.readRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, *row)
	}
	return header, rows, nil
}

// ProcessedRows returns the set of row IDs covered by a job's parts.
func (s *Store) ProcessedRows(jobID string) (map[int64]bool, error) {
	files, err := s.parts(jobID)
	if err != nil {
		return nil, err
	}
	done := make(map[int64]bool)
	for _, pf := range files {
		_, rows, err := s.ReadPart(pf.path)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			done[rows[i].Row.ID] = true
		}
	}
	return done, nil
}

// ResumePoint derives a job's restart position from part contents
// alone. Given the job's full assigned rows, it returns the rows not
// yet covered by any part, the highest checkpointed row ID, and
// whether any checkpoint existed. Calling it repeatedly without new
// work yields the same answer.
func (s *Store) ResumePoint(jobID string, full []types.Row) ([]types.Row, int64, bool, error) {
	done, err := s.ProcessedRows(jobID)
	if err != nil {
		return nil, 0, false, err
	}
	if len(done) == 0 {
		return full, 0, false, nil
	}

	var lastID int64
	for id := range done {
		if id > lastID {
			lastID = id
		}
	}
	remaining := make([]types.Row, 0, len(full))
	for i := range full {
		if !done[full[i].ID] {
			remaining = append(remaining, full[i])
		}
	}
	return remaining, lastID, true, nil
}

// PartCount returns the number of parts a job has written.
func (s *Store) PartCount(jobID string) (int, error) {
	files, err := s.parts(jobID)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// PartPaths returns a job's part filenames in ascending part order.
func (s *Store) PartPaths(jobID string) ([]string, error) {
	files, err := s.parts(jobID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(files))
	for i, pf := range files {
		names[i] = filepath.Base(pf.path)
	}
	return names, nil
}

// mergedRow pairs a result with the identity of the worker that
// produced it, for the metadata columns.
type mergedRow struct {
	result    types.ResultRow
	runID     string
	modelName string
	workerID  int
}

// MergeJobs merges every part of the given jobs into one CSV at dest,
// written atomically. Rows are sorted ascending by row ID; when the
// same row ID appears more than once (overlapping checkpoints from a
// resumed worker), the first occurrence in part order wins. Column
// order: RowID, input columns, derived columns, then Run_ID,
// Model_Name, Worker_ID. Returns the merged row count.
func (s *Store) MergeJobs(jobIDs []string, dest string) (int, error) {
	var (
		collected []mergedRow
		inputCols []string
		derivCols []string
		seen      = make(map[int64]bool)
	)

	for _, jobID := range jobIDs {
		files, err := s.parts(jobID)
		if err != nil {
			return 0, err
		}
		for _, pf := range files {
			header, rows, err := s.ReadPart(pf.path)
			if err != nil {
				return 0, err
			}
			if inputCols == nil {
				inputCols = header.InputColumns
				derivCols = header.DerivedColumns
			}
			for i := range rows {
				if seen[rows[i].Row.ID] {
					continue
				}
				seen[rows[i].Row.ID] = true
				collected = append(collected, mergedRow{
					result:    rows[i],
					runID:     header.RunID,
					modelName: header.ModelName,
					workerID:  header.WorkerID,
				})
			}
		}
	}

	if len(collected) == 0 {
		return 0, &Error{Kind: ErrNotFound, Op: "merge", Path: dest,
			Err: fmt.Errorf("no checkpoint parts for jobs %v", jobIDs)}
	}

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].result.Row.ID < collected[j].result.Row.ID
	})

	if err := s.writeMerged(dest, inputCols, derivCols, collected); err != nil {
		return 0, err
	}
	return len(collected), nil
}

// Merge merges a single job's parts into dest.
func (s *Store) Merge(jobID, dest string) (int, error) {
	return s.MergeJobs([]string{jobID}, dest)
}

func (s *Store) writeMerged(dest string, inputCols, derivCols []string, rows []mergedRow) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return wrapErr("merge", dest, err)
	}

	staging := filepath.Join(filepath.Dir(dest), ".staging_"+uuid.NewString()+".csv")
	f, err := os.Create(staging)
	if err != nil {
		return wrapErr("merge", staging, err)
	}

	w := csv.NewWriter(f)
	header := append([]string{"RowID"}, inputCols...)
	header = append(header, derivCols...)
	header = append(header, metaColumns...)
	if err := w.Write(header); err != nil {
		iox.DiscardClose(f)
		_ = os.Remove(staging)
		return wrapErr("merge", staging, err)
	}

	record := make([]string, 0, len(header))
	for i := range rows {
		r := &rows[i]
		record = record[:0]
		record = append(record, strconv.FormatInt(r.result.Row.ID, 10))
		record = append(record, padTo(r.result.Row.Values, len(inputCols))...)
		record = append(record, padTo(r.result.Derived, len(derivCols))...)
		record = append(record, r.runID, r.modelName, strconv.Itoa(r.workerID))
		if err := w.Write(record); err != nil {
			iox.DiscardClose(f)
			_ = os.Remove(staging)
			return wrapErr("merge", staging, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		iox.DiscardClose(f)
		_ = os.Remove(staging)
		return wrapErr("merge", staging, err)
	}
	if err := f.Sync(); err != nil {
		iox.DiscardClose(f)
		_ = os.Remove(staging)
		return wrapErr("merge", staging, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(staging)
		return wrapErr("merge", staging, err)
	}
	if err := iox.RenameAtomic(staging, dest); err != nil {
		return wrapErr("merge", dest, err)
	}
	return nil
}

// padTo returns vals extended with empty strings to width n. Parts
// written before a derived column was added stay mergeable.
func padTo(vals []string, n int) []string {
	if len(vals) >= n {
		return vals[:n]
	}
	out := make([]string, n)
	copy(out, vals)
	return out
}

// Cleanup removes a job's part files. Call only after a successful
// merge, and only when the run is configured to discard parts.
func (s *Store) Cleanup(jobID string) error {
	files, err := s.parts(jobID)
	if err != nil {
		return err
	}
	for _, pf := range files {
		if err := os.Remove(pf.path); err != nil {
			return wrapErr("cleanup", pf.path, err)
		}
	}
	return nil
}
