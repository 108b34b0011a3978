package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/sluice/checkpoint"
	"github.com/justapithecus/sluice/log"
	"github.com/justapithecus/sluice/processor"
	"github.com/justapithecus/sluice/status"
	"github.com/justapithecus/sluice/types"
)

type harness struct {
	store *checkpoint.Store
	dir   *status.Dir
	input string
}

func newHarness(t *testing.T, rows int) *harness {
	t.Helper()
	root := t.TempDir()

	store, err := checkpoint.NewStore(filepath.Join(root, "checkpoints"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	dir, err := status.NewDir(filepath.Join(root, "status"))
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	csv := "id,text\n"
	for i := 1; i <= rows; i++ {
		csv += string(rune('a'+(i-1)%26)) + ",row\n"
	}
	inputPath := filepath.Join(root, "input.csv")
	if err := os.WriteFile(inputPath, []byte(csv), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return &harness{store: store, dir: dir, input: inputPath}
}

func testOptions(h *harness, rng types.RowRange) Options {
	return Options{
		RunID:     "proj_v1_m7_20250129_153012",
		Label:     "reviews",
		WorkerID:  rng.WorkerID,
		Range:     rng,
		InputPath: h.input,
		ModelName: "gpt-4o-mini",
		Prompt: &processor.PromptConfig{
			ColumnsToCode:         []string{"category"},
			NotApplicableDefaults: map[string]string{"category": "uncoded"},
		},
		BatchSize:          2,
		CheckpointInterval: 4,
		MaxRetries:         1,
		RetryDelay:         time.Millisecond,
		PausePoll:          5 * time.Millisecond,
		FailureStrategy:    "continue",
	}
}

func newTestWorker(h *harness, opts Options, proc processor.Processor) *Worker {
	logger := log.NewWorkerLogger(opts.RunID, opts.Label, opts.WorkerID).WithOutput(io.Discard)
	return New(opts, proc, h.store, h.dir, logger)
}

func TestWorker_CompletesRange(t *testing.T) {
	h := newHarness(t, 10)
	opts := testOptions(h, types.RowRange{Start: 1, End: 10, WorkerID: 1})
	stub := &processor.Stub{Columns: []string{"category"}, Value: "books", TokensPerRow: 10}
	w := newTestWorker(h, opts, stub)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st, err := h.dir.Read(1)
	if err != nil {
		t.Fatalf("Read status: %v", err)
	}
	if st.State != types.StateCompleted {
		t.Errorf("State = %s, want completed", st.State)
	}
	if st.RowsProcessed != 10 || st.ProgressPct != 100 {
		t.Errorf("status = %+v", st)
	}
	if st.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if st.TokensTotal != 100 {
		t.Errorf("TokensTotal = %d, want 100", st.TokensTotal)
	}

	// 10 rows, checkpoint every 4 accumulated: parts at 4, 8, 10.
	n, err := h.store.PartCount(w.JobID())
	if err != nil {
		t.Fatalf("PartCount: %v", err)
	}
	if n != 3 {
		t.Errorf("PartCount = %d, want 3", n)
	}

	done, err := h.store.ProcessedRows(w.JobID())
	if err != nil {
		t.Fatalf("ProcessedRows: %v", err)
	}
	for id := int64(1); id <= 10; id++ {
		if !done[id] {
			t.Errorf("row %d not checkpointed", id)
		}
	}
}

func TestWorker_ResumeSkipsCheckpointedRows(t *testing.T) {
	h := newHarness(t, 10)
	opts := testOptions(h, types.RowRange{Start: 1, End: 10, WorkerID: 1})
	jobID := types.JobID(opts.RunID, opts.Label, opts.WorkerID)

	// A previous incarnation checkpointed rows 1-4 before crashing.
	prior := make([]types.ResultRow, 0, 4)
	for id := int64(1); id <= 4; id++ {
		prior = append(prior, types.ResultRow{
			Row:     types.Row{ID: id, Values: []string{"x", "row"}},
			Derived: []string{"books"},
		})
	}
	if _, err := h.store.Save(checkpoint.PartHeader{
		JobID: jobID, RunID: opts.RunID, Label: opts.Label, WorkerID: 1,
		ModelName: opts.ModelName, Range: opts.Range,
		InputColumns: []string{"id", "text"}, DerivedColumns: []string{"category"},
	}, prior); err != nil {
		t.Fatalf("seed part: %v", err)
	}

	stub := &processor.Stub{Columns: []string{"category"}, Value: "books"}
	w := newTestWorker(h, opts, stub)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, batch := range stub.Batches() {
		for _, id := range batch {
			if id <= 4 {
				t.Errorf("row %d reprocessed after resume", id)
			}
		}
	}

	done, err := h.store.ProcessedRows(jobID)
	if err != nil {
		t.Fatalf("ProcessedRows: %v", err)
	}
	if len(done) != 10 {
		t.Errorf("checkpointed rows = %d, want 10", len(done))
	}

	// The inherited part shows up in the status document too.
	st, err := h.dir.Read(1)
	if err != nil {
		t.Fatalf("Read status: %v", err)
	}
	if len(st.CheckpointParts) == 0 ||
		st.CheckpointParts[0] != fmt.Sprintf("checkpoint_%s_part0001.bin", jobID) {
		t.Errorf("inherited part missing from status: %v", st.CheckpointParts)
	}
}

func TestWorker_StatusListsCheckpointParts(t *testing.T) {
	h := newHarness(t, 10)
	opts := testOptions(h, types.RowRange{Start: 1, End: 10, WorkerID: 1})
	stub := &processor.Stub{Columns: []string{"category"}, Value: "books"}
	w := newTestWorker(h, opts, stub)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st, err := h.dir.Read(1)
	if err != nil {
		t.Fatalf("Read status: %v", err)
	}
	if st.Checkpoints != 3 || len(st.CheckpointParts) != 3 {
		t.Fatalf("checkpoints = %d, parts = %v", st.Checkpoints, st.CheckpointParts)
	}
	for i, name := range st.CheckpointParts {
		want := fmt.Sprintf("checkpoint_%s_part%04d.bin", w.JobID(), i+1)
		if name != want {
			t.Errorf("part[%d] = %s, want %s", i, name, want)
		}
	}
}

func TestWorker_RetryThenSucceed(t *testing.T) {
	h := newHarness(t, 4)
	opts := testOptions(h, types.RowRange{Start: 1, End: 4, WorkerID: 1})
	stub := &processor.Stub{Columns: []string{"category"}, Value: "ok", FailFirst: 1}
	w := newTestWorker(h, opts, stub)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st, _ := h.dir.Read(1)
	if st.Errors != 0 {
		t.Errorf("Errors = %d, want 0 after successful retry", st.Errors)
	}

	records, err := h.dir.NewLedger().Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("ledger has %d records, want 0", len(records))
	}
}

func TestWorker_ContinueStrategySubstitutesDefaults(t *testing.T) {
	h := newHarness(t, 4)
	opts := testOptions(h, types.RowRange{Start: 1, End: 4, WorkerID: 1})
	// First batch fails both attempts (MaxRetries=1), rest succeed.
	stub := &processor.Stub{Columns: []string{"category"}, Value: "ok", FailFirst: 2}
	w := newTestWorker(h, opts, stub)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st, _ := h.dir.Read(1)
	if st.State != types.StateCompleted {
		t.Errorf("State = %s, want completed under continue strategy", st.State)
	}
	if st.Errors != 2 {
		t.Errorf("Errors = %d, want 2 failed rows", st.Errors)
	}
	if st.LastError == "" {
		t.Error("LastError not recorded")
	}

	records, err := h.dir.NewLedger().Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 || len(records[0].RowIDs) != 2 {
		t.Fatalf("ledger = %+v", records)
	}

	dest := filepath.Join(t.TempDir(), "out.csv")
	if _, err := h.store.Merge(w.JobID(), dest); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	data, _ := os.ReadFile(dest)
	if !containsLine(string(data), "uncoded") {
		t.Error("merged output missing not-applicable default")
	}
}

// vanishingDirProcessor fails its first calls while removing the
// status directory, then restores the directory and delegates to a
// stub. It simulates the status document becoming unwritable while a
// batch is exhausting its retries.
type vanishingDirProcessor struct {
	stub  *processor.Stub
	dir   string
	fails int
	calls int
}

func (p *vanishingDirProcessor) ProcessBatch(ctx context.Context, batch []types.Row) ([]types.ResultRow, error) {
	p.calls++
	if p.calls <= p.fails {
		_ = os.RemoveAll(p.dir)
		return nil, errors.New("model unavailable")
	}
	_ = os.MkdirAll(p.dir, 0o755)
	return p.stub.ProcessBatch(ctx, batch)
}

func TestWorker_ContinueSurvivesStatusWriteFailure(t *testing.T) {
	h := newHarness(t, 4)
	opts := testOptions(h, types.RowRange{Start: 1, End: 4, WorkerID: 1})
	// First batch exhausts both attempts with the status dir gone, so
	// the continue path's status refresh fails.
	proc := &vanishingDirProcessor{
		stub:  &processor.Stub{Columns: []string{"category"}, Value: "ok"},
		dir:   h.dir.Path(),
		fails: 2,
	}

	var buf bytes.Buffer
	logger := log.NewWorkerLogger(opts.RunID, opts.Label, opts.WorkerID).WithOutput(&buf)
	w := New(opts, proc, h.store, h.dir, logger)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !containsLine(buf.String(), "status refresh failed") {
		t.Error("status write failure not logged")
	}

	st, err := h.dir.Read(1)
	if err != nil {
		t.Fatalf("Read status: %v", err)
	}
	if st.State != types.StateCompleted {
		t.Errorf("State = %s, want completed", st.State)
	}
	if st.Errors != 2 {
		t.Errorf("Errors = %d, want 2 failed rows", st.Errors)
	}
}

func TestWorker_AbortStrategyFails(t *testing.T) {
	h := newHarness(t, 4)
	opts := testOptions(h, types.RowRange{Start: 1, End: 4, WorkerID: 1})
	opts.FailureStrategy = "abort"
	stub := &processor.Stub{Columns: []string{"category"}, Value: "ok", FailFirst: 99}
	w := newTestWorker(h, opts, stub)

	if err := w.Run(context.Background()); err == nil {
		t.Fatal("Run should fail under abort strategy")
	}

	st, err := h.dir.Read(1)
	if err != nil {
		t.Fatalf("Read status: %v", err)
	}
	if st.State != types.StateFailed {
		t.Errorf("State = %s, want failed", st.State)
	}
	if st.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestWorker_PauseAndResume(t *testing.T) {
	h := newHarness(t, 10)
	opts := testOptions(h, types.RowRange{Start: 1, End: 10, WorkerID: 1})
	pc := h.dir.NewPauseController()
	if err := pc.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	stub := &processor.Stub{Columns: []string{"category"}, Value: "ok"}
	w := newTestWorker(h, opts, stub)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	// Worker must report paused without processing anything.
	waitFor(t, time.Second, func() bool {
		st, err := h.dir.Read(1)
		return err == nil && st.State == types.StatePaused
	})
	if stub.Calls() != 0 {
		t.Errorf("processor called %d times while paused", stub.Calls())
	}

	if err := pc.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish after resume")
	}

	st, _ := h.dir.Read(1)
	if st.State != types.StateCompleted {
		t.Errorf("State = %s, want completed", st.State)
	}
}

func TestWorker_CrashRecoveryTwoWorkers(t *testing.T) {
	h := newHarness(t, 10)

	// Worker 1 finishes its half cleanly.
	opts1 := testOptions(h, types.RowRange{Start: 1, End: 5, WorkerID: 1})
	w1 := newTestWorker(h, opts1, &processor.Stub{Columns: []string{"category"}, Value: "a"})
	if err := w1.Run(context.Background()); err != nil {
		t.Fatalf("worker 1: %v", err)
	}

	// Worker 2 crashed after checkpointing rows 6-7; a respawn picks
	// up from the parts.
	opts2 := testOptions(h, types.RowRange{Start: 6, End: 10, WorkerID: 2})
	jobID2 := types.JobID(opts2.RunID, opts2.Label, 2)
	crashed := []types.ResultRow{
		{Row: types.Row{ID: 6, Values: []string{"f", "row"}}, Derived: []string{"b"}},
		{Row: types.Row{ID: 7, Values: []string{"g", "row"}}, Derived: []string{"b"}},
	}
	if _, err := h.store.Save(checkpoint.PartHeader{
		JobID: jobID2, RunID: opts2.RunID, Label: opts2.Label, WorkerID: 2,
		ModelName: opts2.ModelName, Range: opts2.Range,
		InputColumns: []string{"id", "text"}, DerivedColumns: []string{"category"},
	}, crashed); err != nil {
		t.Fatalf("seed crashed part: %v", err)
	}

	w2 := newTestWorker(h, opts2, &processor.Stub{Columns: []string{"category"}, Value: "b"})
	if err := w2.Run(context.Background()); err != nil {
		t.Fatalf("worker 2 respawn: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "merged.csv")
	n, err := h.store.MergeJobs([]string{w1.JobID(), jobID2}, dest)
	if err != nil {
		t.Fatalf("MergeJobs: %v", err)
	}
	if n != 10 {
		t.Errorf("merged %d rows, want all 10 exactly once", n)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func containsLine(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
