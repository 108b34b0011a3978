// Package worker implements the worker lifecycle: claim a range,
// resume from checkpoints, process batches with retries, flush
// checkpoint parts, and report status. A worker's side effects are
// confined to its own status document and its own checkpoint parts.
package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/justapithecus/sluice/checkpoint"
	"github.com/justapithecus/sluice/input"
	"github.com/justapithecus/sluice/log"
	"github.com/justapithecus/sluice/metrics"
	"github.com/justapithecus/sluice/processor"
	"github.com/justapithecus/sluice/status"
	"github.com/justapithecus/sluice/types"
)

// Options configures one worker process.
type Options struct {
	RunID    string
	Label    string
	WorkerID int
	Range    types.RowRange

	InputPath  string
	OutputFile string
	ModelName  string
	Prompt     *processor.PromptConfig

	BatchSize          int
	CheckpointInterval int
	MaxRetries         int
	RetryDelay         time.Duration
	PausePoll          time.Duration
	// FailureStrategy is "continue" or "abort".
	FailureStrategy string
}

// Worker processes one row range of one input file.
type Worker struct {
	opts  Options
	proc  processor.Processor
	store *checkpoint.Store

	writer *status.Writer
	pause  *status.PauseController
	ledger *status.Ledger

	logger    *log.Logger
	collector *metrics.Collector

	startedAt time.Time
	lastError string
	// parts are the job's checkpoint part filenames, carried into the
	// status document.
	parts []string
}

// New assembles a worker from its collaborators.
func New(opts Options, proc processor.Processor, store *checkpoint.Store, dir *status.Dir, logger *log.Logger) *Worker {
	return &Worker{
		opts:   opts,
		proc:   proc,
		store:  store,
		writer: dir.NewWriter(opts.WorkerID),
		pause:  dir.NewPauseController(),
		ledger: dir.NewLedger(),
		logger: logger,
	}
}

// JobID returns the worker's checkpoint namespace.
func (w *Worker) JobID() string {
	return types.JobID(w.opts.RunID, w.opts.Label, w.opts.WorkerID)
}

// Run executes the worker to a terminal state. On success the full
// range is covered by checkpoint parts and the status document reads
// completed. Any returned error has already been recorded as a failed
// status (best effort).
func (w *Worker) Run(ctx context.Context) error {
	w.startedAt = time.Now().UTC()

	if err := w.run(ctx); err != nil {
		w.lastError = err.Error()
		w.writeStatus(types.StateFailed)
		w.logger.Error("worker failed", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}

func (w *Worker) run(ctx context.Context) error {
	jobID := w.JobID()

	full, err := input.ReadRange(w.opts.InputPath, w.opts.Range)
	if err != nil {
		return fmt.Errorf("load assigned range: %w", err)
	}
	inputCols, err := input.Header(w.opts.InputPath)
	if err != nil {
		return fmt.Errorf("load input header: %w", err)
	}

	remaining, lastID, resumed, err := w.store.ResumePoint(jobID, full)
	if err != nil {
		return fmt.Errorf("derive resume point: %w", err)
	}

	w.collector = metrics.NewCollector(w.opts.Range.Rows())
	done := int64(len(full) - len(remaining))
	if done > 0 {
		w.collector.AddRows(done, 0)
	}
	if resumed {
		w.logger.Info("resuming from checkpoint", map[string]any{
			"last_row_id": lastID,
			"remaining":   len(remaining),
		})
		parts, err := w.store.PartPaths(jobID)
		if err == nil {
			w.parts = parts
			for range parts {
				w.collector.IncCheckpoint()
			}
		}
	}

	if err := w.writeStatus(types.StateRunning); err != nil {
		return err
	}

	var pending []types.ResultRow
	for start := 0; start < len(remaining); start += w.opts.BatchSize {
		if err := w.waitIfPaused(ctx); err != nil {
			return err
		}

		end := start + w.opts.BatchSize
		if end > len(remaining) {
			end = len(remaining)
		}
		batch := remaining[start:end]

		results, err := w.processWithRetries(ctx, batch)
		if err != nil {
			return err
		}
		pending = append(pending, results...)

		if len(pending) >= w.opts.CheckpointInterval {
			if err := w.flush(jobID, inputCols, pending); err != nil {
				return err
			}
			pending = pending[:0]
		}
	}

	if len(pending) > 0 {
		if err := w.flush(jobID, inputCols, pending); err != nil {
			return err
		}
	}

	w.logger.Info("range complete", map[string]any{"rows": len(full)})
	return w.writeCompleted()
}

// processWithRetries runs one batch through the processor, retrying
// up to MaxRetries times with a fixed delay. On exhaustion the rows
// go to the failed-range ledger and the failure strategy decides:
// continue substitutes not-applicable defaults, abort fails the worker.
func (w *Worker) processWithRetries(ctx context.Context, batch []types.Row) ([]types.ResultRow, error) {
	var lastErr error
	attempts := 1 + w.opts.MaxRetries
	for i := 0; i < attempts; i++ {
		if i > 0 {
			w.collector.IncBatchRetry()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(w.opts.RetryDelay):
			}
		}

		w.collector.IncAPICall()
		results, err := w.proc.ProcessBatch(ctx, batch)
		if err == nil {
			var tokens int64
			for i := range results {
				tokens += results[i].Usage.Total()
			}
			w.collector.AddRows(int64(len(results)), tokens)
			return results, nil
		}
		lastErr = err
		w.logger.Warn("batch failed", map[string]any{
			"attempt":   i + 1,
			"first_row": batch[0].ID,
			"error":     err.Error(),
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	ids := make([]int64, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
	}
	if err := w.ledger.Append(status.FailedRange{
		WorkerID: w.opts.WorkerID,
		Label:    w.opts.Label,
		RowIDs:   ids,
		Reason:   lastErr.Error(),
	}); err != nil {
		w.logger.Warn("ledger append failed", map[string]any{"error": err.Error()})
	}
	w.lastError = lastErr.Error()
	w.collector.AddFailedRows(int64(len(batch)))

	if w.opts.FailureStrategy == "abort" {
		return nil, fmt.Errorf("batch at row %d exhausted %d attempts: %w", batch[0].ID, attempts, lastErr)
	}

	// Continue strategy: the rows are coded with defaults so the
	// merged artifact still covers the full range.
	results := make([]types.ResultRow, len(batch))
	for i := range batch {
		results[i] = w.opts.Prompt.NotApplicableRow(batch[i])
	}
	w.collector.AddRows(int64(len(batch)), 0)
	if err := w.writeStatus(types.StateRunning); err != nil {
		w.logger.Warn("status refresh failed", map[string]any{"error": err.Error()})
	}
	return results, nil
}

// waitIfPaused blocks at a batch boundary while the pause flag exists.
func (w *Worker) waitIfPaused(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !w.pause.Paused() {
		return nil
	}

	w.logger.Info("paused", nil)
	if err := w.writeStatus(types.StatePaused); err != nil {
		return err
	}
	for w.pause.Paused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.opts.PausePoll):
		}
	}
	w.logger.Info("resumed", nil)
	return w.writeStatus(types.StateRunning)
}

// flush writes one checkpoint part and refreshes the status document.
// Checkpoint failure is fatal: progress that cannot be persisted does
// not count.
func (w *Worker) flush(jobID string, inputCols []string, rows []types.ResultRow) error {
	snap := w.collector.Snapshot()
	header := checkpoint.PartHeader{
		JobID:          jobID,
		RunID:          w.opts.RunID,
		Label:          w.opts.Label,
		WorkerID:       w.opts.WorkerID,
		ModelName:      w.opts.ModelName,
		Range:          w.opts.Range,
		InputColumns:   inputCols,
		DerivedColumns: w.opts.Prompt.ColumnsToCode,
		RowsPerSec:     snap.RowsPerSec,
		TokensPerSec:   snap.TokensPerSec,
	}
	dest, err := w.store.Save(header, rows)
	if err != nil {
		return fmt.Errorf("checkpoint flush: %w", err)
	}
	w.parts = append(w.parts, filepath.Base(dest))
	w.collector.IncCheckpoint()
	return w.writeStatus(types.StateRunning)
}

func (w *Worker) writeCompleted() error {
	now := time.Now().UTC()
	st := w.buildStatus(types.StateCompleted)
	st.CompletedAt = &now
	return w.writer.Write(st)
}

func (w *Worker) writeStatus(state types.WorkerState) error {
	return w.writer.Write(w.buildStatus(state))
}

func (w *Worker) buildStatus(state types.WorkerState) *types.WorkerStatus {
	snap := w.collector.Snapshot()
	return &types.WorkerStatus{
		RunID:           w.opts.RunID,
		Label:           w.opts.Label,
		State:           state,
		StartRow:        w.opts.Range.Start,
		EndRow:          w.opts.Range.End,
		RowsProcessed:   snap.RowsProcessed,
		TotalRows:       snap.TotalRows,
		ProgressPct:     snap.ProgressPct,
		APICalls:        snap.APICalls,
		RowsPerSec:      snap.RowsPerSec,
		TokensPerSec:    snap.TokensPerSec,
		TokensTotal:     snap.TokensTotal,
		ETASeconds:      snap.ETASeconds,
		Errors:          snap.FailedRows,
		LastError:       w.lastError,
		Checkpoints:     snap.Checkpoints,
		CheckpointParts: w.parts,
		OutputFile:      w.opts.OutputFile,
		StartedAt:       w.startedAt,
	}
}
