package status

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/justapithecus/sluice/types"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	d, err := NewDir(filepath.Join(t.TempDir(), "status"))
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	return d
}

func TestWriter_WriteAndRead(t *testing.T) {
	d := newTestDir(t)
	w := d.NewWriter(3)

	st := &types.WorkerStatus{
		RunID:         "run-1",
		Label:         "reviews",
		State:         types.StateRunning,
		StartRow:      501,
		EndRow:        750,
		RowsProcessed: 40,
		TotalRows:     250,
	}
	if err := w.Write(st); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := d.Read(3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.WorkerID != 3 {
		t.Errorf("WorkerID = %d, want 3 (stamped by writer)", got.WorkerID)
	}
	if got.State != types.StateRunning || got.RowsProcessed != 40 {
		t.Errorf("got %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}
}

func TestWriter_OverwritesWholesale(t *testing.T) {
	d := newTestDir(t)
	w := d.NewWriter(1)

	if err := w.Write(&types.WorkerStatus{State: types.StateRunning, LastError: "boom"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(&types.WorkerStatus{State: types.StateCompleted}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := d.Read(1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.State != types.StateCompleted {
		t.Errorf("State = %s, want completed", got.State)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want cleared by wholesale overwrite", got.LastError)
	}
}

func TestDir_ReadMissing(t *testing.T) {
	d := newTestDir(t)
	if _, err := d.Read(7); err == nil {
		t.Fatal("expected error for missing status document")
	}
}

func TestDir_ReadAll(t *testing.T) {
	d := newTestDir(t)
	for _, id := range []int{2, 1, 3} {
		if err := d.NewWriter(id).Write(&types.WorkerStatus{State: types.StateRunning}); err != nil {
			t.Fatalf("Write %d: %v", id, err)
		}
	}

	// A torn document must not break the others.
	if err := os.WriteFile(filepath.Join(d.Path(), "worker_4.json"), []byte("{tru"), 0o644); err != nil {
		t.Fatalf("write torn doc: %v", err)
	}

	all, err := d.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d docs, want 3", len(all))
	}
	for i, want := range []int{1, 2, 3} {
		if all[i].WorkerID != want {
			t.Errorf("all[%d].WorkerID = %d, want %d", i, all[i].WorkerID, want)
		}
	}
}

func TestPauseController(t *testing.T) {
	d := newTestDir(t)
	c := d.NewPauseController()

	if c.Paused() {
		t.Fatal("fresh run reported paused")
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !c.Paused() {
		t.Fatal("not paused after Pause")
	}

	// Idempotent both directions.
	if err := c.Pause(); err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if c.Paused() {
		t.Fatal("still paused after Resume")
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("second Resume: %v", err)
	}
}

func TestLedger_AppendAndRecords(t *testing.T) {
	d := newTestDir(t)
	l := d.NewLedger()

	records, err := l.Records()
	if err != nil {
		t.Fatalf("Records (empty): %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("fresh ledger has %d records", len(records))
	}

	if err := l.Append(FailedRange{WorkerID: 1, Label: "reviews", RowIDs: []int64{10, 11}, Reason: "retries exhausted"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(FailedRange{WorkerID: 2, Label: "reviews", RowIDs: []int64{99}, Reason: "retries exhausted"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err = l.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].RowIDs[1] != 11 || records[1].WorkerID != 2 {
		t.Errorf("records = %+v", records)
	}
	if records[0].At.IsZero() {
		t.Error("At not stamped")
	}
}
