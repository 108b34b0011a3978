package checkpoint

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/justapithecus/sluice/iox"
	"github.com/justapithecus/sluice/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "checkpoints"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func testHeader(jobID string, workerID int) PartHeader {
	return PartHeader{
		JobID:          jobID,
		RunID:          "proj_v1_m7_20250129_153012",
		Label:          "reviews",
		WorkerID:       workerID,
		ModelName:      "gpt-4o-mini",
		InputColumns:   []string{"id", "text"},
		DerivedColumns: []string{"category"},
	}
}

func resultRow(id int64, text, category string) types.ResultRow {
	return types.ResultRow{
		Row:     types.Row{ID: id, Values: []string{"r", text}},
		Derived: []string{category},
	}
}

func TestStore_SaveIncrementsParts(t *testing.T) {
	s := newTestStore(t)
	h := testHeader("job_w1", 1)

	p1, err := s.Save(h, []types.ResultRow{resultRow(1, "a", "x")})
	if err != nil {
		t.Fatalf("Save 1: %v", err)
	}
	p2, err := s.Save(h, []types.ResultRow{resultRow(2, "b", "y")})
	if err != nil {
		t.Fatalf("Save 2: %v", err)
	}

	if !strings.HasSuffix(p1, "checkpoint_job_w1_part0001.bin") {
		t.Errorf("part 1 path = %s", p1)
	}
	if !strings.HasSuffix(p2, "checkpoint_job_w1_part0002.bin") {
		t.Errorf("part 2 path = %s", p2)
	}

	n, err := s.PartCount("job_w1")
	if err != nil {
		t.Fatalf("PartCount: %v", err)
	}
	if n != 2 {
		t.Errorf("PartCount = %d, want 2", n)
	}
}

func TestStore_SaveNoStagingLeftovers(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save(testHeader("job_w1", 1), []types.ResultRow{resultRow(1, "a", "x")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".staging_") {
			t.Errorf("staging leftover %s", e.Name())
		}
	}
}

func TestStore_ReadPartRoundTrip(t *testing.T) {
	s := newTestStore(t)
	in := []types.ResultRow{resultRow(5, "hello", "pos"), resultRow(6, "world", "neg")}
	path, err := s.Save(testHeader("job_w2", 2), in)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	header, rows, err := s.ReadPart(path)
	if err != nil {
		t.Fatalf("ReadPart: %v", err)
	}
	if header.WorkerID != 2 || header.Rows != 2 {
		t.Errorf("header = %+v", header)
	}
	if len(rows) != 2 || rows[0].Row.ID != 5 || rows[1].Derived[0] != "neg" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestStore_ResumePoint(t *testing.T) {
	s := newTestStore(t)
	full := []types.Row{
		{ID: 1, Values: []string{"a"}},
		{ID: 2, Values: []string{"b"}},
		{ID: 3, Values: []string{"c"}},
		{ID: 4, Values: []string{"d"}},
	}

	remaining, lastID, had, err := s.ResumePoint("job_w1", full)
	if err != nil {
		t.Fatalf("ResumePoint (fresh): %v", err)
	}
	if had || lastID != 0 || len(remaining) != 4 {
		t.Errorf("fresh resume: had=%v lastID=%d remaining=%d", had, lastID, len(remaining))
	}

	if _, err := s.Save(testHeader("job_w1", 1), []types.ResultRow{
		resultRow(1, "a", "x"), resultRow(2, "b", "y"),
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	remaining, lastID, had, err = s.ResumePoint("job_w1", full)
	if err != nil {
		t.Fatalf("ResumePoint: %v", err)
	}
	if !had || lastID != 2 {
		t.Errorf("had=%v lastID=%d, want true/2", had, lastID)
	}
	if len(remaining) != 2 || remaining[0].ID != 3 || remaining[1].ID != 4 {
		t.Errorf("remaining = %+v", remaining)
	}
}

func TestStore_ResumePointIdempotent(t *testing.T) {
	s := newTestStore(t)
	full := []types.Row{{ID: 1}, {ID: 2}, {ID: 3}}
	if _, err := s.Save(testHeader("job_w1", 1), []types.ResultRow{resultRow(1, "a", "x")}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r1, l1, _, err := s.ResumePoint("job_w1", full)
	if err != nil {
		t.Fatalf("ResumePoint: %v", err)
	}
	r2, l2, _, err := s.ResumePoint("job_w1", full)
	if err != nil {
		t.Fatalf("ResumePoint again: %v", err)
	}
	if l1 != l2 || len(r1) != len(r2) {
		t.Errorf("resume not stable: (%d,%d) vs (%d,%d)", l1, len(r1), l2, len(r2))
	}
}

func TestStore_MergeJobs_SortedDeduped(t *testing.T) {
	s := newTestStore(t)

	// Worker 2 checkpoints rows out of order relative to worker 1,
	// and row 3 appears twice (overlap from a resumed worker).
	if _, err := s.Save(testHeader("job_w2", 2), []types.ResultRow{
		resultRow(4, "d", "x"), resultRow(3, "c", "x"),
	}); err != nil {
		t.Fatalf("Save w2: %v", err)
	}
	if _, err := s.Save(testHeader("job_w1", 1), []types.ResultRow{
		resultRow(1, "a", "x"), resultRow(2, "b", "x"), resultRow(3, "c-dup", "dup"),
	}); err != nil {
		t.Fatalf("Save w1: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "merged.csv")
	n, err := s.MergeJobs([]string{"job_w1", "job_w2"}, dest)
	if err != nil {
		t.Fatalf("MergeJobs: %v", err)
	}
	if n != 4 {
		t.Errorf("merged %d rows, want 4", n)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatalf("open merged: %v", err)
	}
	defer iox.DiscardClose(f)
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}

	wantHeader := []string{"RowID", "id", "text", "category", "Run_ID", "Model_Name", "Worker_ID"}
	for i, col := range wantHeader {
		if records[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], col)
		}
	}

	if len(records) != 5 {
		t.Fatalf("got %d records, want header + 4", len(records))
	}
	for i, wantID := range []string{"1", "2", "3", "4"} {
		if records[i+1][0] != wantID {
			t.Errorf("row %d has RowID %s, want %s", i, records[i+1][0], wantID)
		}
	}

	// First part in job order wins: job_w1 saved after job_w2, but
	// job_w1 is listed first, so its row 3 is the survivor.
	if records[3][3] != "dup" {
		t.Errorf("row 3 category = %q, want first-seen %q", records[3][3], "dup")
	}

	// Worker metadata column follows the producing part.
	if records[4][6] != "2" {
		t.Errorf("row 4 Worker_ID = %q, want 2", records[4][6])
	}
}

func TestStore_MergeDeterministic(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save(testHeader("job_w1", 1), []types.ResultRow{
		resultRow(2, "b", "x"), resultRow(1, "a", "y"),
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dir := t.TempDir()
	d1 := filepath.Join(dir, "m1.csv")
	d2 := filepath.Join(dir, "m2.csv")
	if _, err := s.Merge("job_w1", d1); err != nil {
		t.Fatalf("Merge 1: %v", err)
	}
	if _, err := s.Merge("job_w1", d2); err != nil {
		t.Fatalf("Merge 2: %v", err)
	}

	b1, _ := os.ReadFile(d1)
	b2, _ := os.ReadFile(d2)
	if string(b1) != string(b2) {
		t.Error("repeated merges produced different bytes")
	}
}

func TestStore_MergeNoParts(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Merge("missing_job", filepath.Join(t.TempDir(), "out.csv"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_CorruptPart(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Dir(), "checkpoint_job_w1_part0001.bin")
	if err := os.WriteFile(path, []byte{0x00, 0x00}, 0o644); err != nil {
		t.Fatalf("write corrupt part: %v", err)
	}

	_, _, err := s.ReadPart(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
	var ce *Error
	if !errors.As(err, &ce) {
		t.Errorf("err = %v, want *checkpoint.Error", err)
	}
}

func TestStore_Cleanup(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save(testHeader("job_w1", 1), []types.ResultRow{resultRow(1, "a", "x")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Cleanup("job_w1"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	n, err := s.PartCount("job_w1")
	if err != nil {
		t.Fatalf("PartCount: %v", err)
	}
	if n != 0 {
		t.Errorf("PartCount = %d after cleanup", n)
	}
}
