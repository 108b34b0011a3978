package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/justapithecus/sluice/adapter"
	"github.com/justapithecus/sluice/archive"
	"github.com/justapithecus/sluice/checkpoint"
	"github.com/justapithecus/sluice/cli/config"
	"github.com/justapithecus/sluice/input"
	"github.com/justapithecus/sluice/iox"
	"github.com/justapithecus/sluice/log"
	"github.com/justapithecus/sluice/manifest"
	"github.com/justapithecus/sluice/monitor"
	"github.com/justapithecus/sluice/partition"
	"github.com/justapithecus/sluice/status"
	"github.com/justapithecus/sluice/types"
)

// Run outcome values reported in events and reports.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultSpawnDelay   = time.Second
)

// Options configures an orchestrator.
type Options struct {
	// Config is the validated job configuration.
	Config *config.JobConfig
	// Run is the run identity.
	Run types.RunMeta
	// Spawner overrides worker process creation (for testing).
	// If nil, uses ExecSpawner with the configured worker binary.
	Spawner Spawner
	// Notifier publishes run events. If nil, no events are published.
	Notifier adapter.Adapter
	// Uploader archives merged artifacts. If nil, no uploads happen.
	Uploader *archive.Uploader
	// Logger overrides the default run logger.
	Logger *log.Logger
	// PollInterval overrides how often the monitor is polled.
	PollInterval time.Duration
}

// FilePlan is the partition plan for one input file.
type FilePlan struct {
	Label     string
	InputPath string
	TotalRows int64
	// Ranges carry run-global worker IDs.
	Ranges []types.RowRange
}

// Orchestrator drives a run end-to-end.
type Orchestrator struct {
	cfg *config.JobConfig
	run types.RunMeta

	layout *Layout
	man    *manifest.Store
	dir    *status.Dir
	store  *checkpoint.Store

	spawner  Spawner
	notify   adapter.Adapter
	uploader *archive.Uploader
	logger   *log.Logger

	poll       time.Duration
	spawnDelay time.Duration
}

// New assembles an orchestrator and creates the run directory tree.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := opts.Run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run metadata: %w", err)
	}

	layout := NewLayout(opts.Config.BaseDir, opts.Config.Project, opts.Run.RunID)
	if err := layout.Create(); err != nil {
		return nil, err
	}

	dir, err := status.NewDir(layout.StatusDir())
	if err != nil {
		return nil, err
	}
	store, err := checkpoint.NewStore(layout.CheckpointsDir())
	if err != nil {
		return nil, err
	}

	spawner := opts.Spawner
	if spawner == nil {
		spawner = &ExecSpawner{Binary: opts.Config.WorkerBinary, LogsDir: layout.LogsDir()}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(opts.Run.RunID)
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	return &Orchestrator{
		cfg:        opts.Config,
		run:        opts.Run,
		layout:     layout,
		man:        manifest.NewStore(layout.ManifestPath()),
		dir:        dir,
		store:      store,
		spawner:    spawner,
		notify:     opts.Notifier,
		uploader:   opts.Uploader,
		logger:     logger,
		poll:       poll,
		spawnDelay: defaultSpawnDelay,
	}, nil
}

// Layout returns the run's directory layout.
func (o *Orchestrator) Layout() *Layout { return o.layout }

// Plan builds the partition plan for every input file.
func (o *Orchestrator) Plan() ([]FilePlan, error) {
	return PlanFiles(o.cfg)
}

// PlanFiles builds the partition plan for every input file of a config
// without touching the run directory. Worker IDs are remapped to be
// unique across the whole run: status documents and checkpoint
// namespaces share one directory per run.
func PlanFiles(cfg *config.JobConfig) ([]FilePlan, error) {
	var (
		plans  []FilePlan
		offset int
	)
	for _, in := range cfg.Inputs {
		total, err := input.CountRows(in.Path)
		if err != nil {
			return nil, fmt.Errorf("count rows in %s: %w", in.Path, err)
		}

		strategy := partition.Strategy(in.Strategy)
		if strategy == "" {
			strategy = partition.StrategyAuto
		}
		ranges, err := partition.Plan(total, cfg.Workers.Count, strategy, in.Ranges)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", in.Label, err)
		}
		for i := range ranges {
			ranges[i].WorkerID += offset
		}
		offset += len(ranges)

		plans = append(plans, FilePlan{
			Label:     in.Label,
			InputPath: in.Path,
			TotalRows: total,
			Ranges:    ranges,
		})
	}
	return plans, nil
}

// Execute runs a fresh run: plan, create the manifest, spawn workers,
// wait, merge, notify, archive.
func (o *Orchestrator) Execute(ctx context.Context) (*RunReport, error) {
	start := time.Now()

	plans, err := o.Plan()
	if err != nil {
		return nil, err
	}

	o.logger.Info("starting run", map[string]any{
		"project": o.run.Project,
		"model":   o.run.ModelName,
		"files":   len(plans),
	})

	if err := o.writeConfigSnapshot(); err != nil {
		return nil, err
	}
	if err := o.createManifest(plans); err != nil {
		return nil, err
	}

	specs := make([]WorkerSpec, 0, len(plans))
	for _, plan := range plans {
		for _, rng := range plan.Ranges {
			specs = append(specs, WorkerSpec{
				ConfigPath: o.layout.ConfigPath(),
				RunID:      o.run.RunID,
				Label:      plan.Label,
				WorkerID:   rng.WorkerID,
				Range:      rng,
			})
		}
	}

	failed := o.spawnAll(ctx, specs)

	snap, err := o.awaitCompletion(ctx, failed)
	if err != nil {
		return nil, err
	}
	return o.finish(ctx, start, snap, failed)
}

// Resume respawns only the incomplete ranges of an existing run.
// Completed workers are recognized by their status documents; resumed
// workers skip already-checkpointed rows on their own.
func (o *Orchestrator) Resume(ctx context.Context) (*RunReport, error) {
	start := time.Now()

	doc, err := o.man.Load()
	if err != nil {
		return nil, err
	}

	var specs []WorkerSpec
	for _, file := range doc.Files {
		for _, rng := range file.Ranges {
			st, err := o.dir.Read(rng.WorkerID)
			if err == nil && st.State == types.StateCompleted {
				continue
			}
			specs = append(specs, WorkerSpec{
				ConfigPath: o.layout.ConfigPath(),
				RunID:      o.run.RunID,
				Label:      file.Label,
				WorkerID:   rng.WorkerID,
				Range:      rng,
			})
		}
	}

	o.logger.Info("resuming run", map[string]any{
		"respawn": len(specs),
	})

	// Prior spawn failures are retried; clear them before respawning.
	_, err = o.man.Update(func(m *types.Manifest) error {
		for i := range m.Files {
			m.Files[i].FailedSpawns = nil
			m.Files[i].Status = types.FileStatusProcessing
			m.Files[i].LastUpdated = time.Now().UTC()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	failed := o.spawnAll(ctx, specs)

	snap, err := o.awaitCompletion(ctx, failed)
	if err != nil {
		return nil, err
	}
	return o.finish(ctx, start, snap, failed)
}

// writeConfigSnapshot freezes the validated config inside the run
// directory. Workers and resume read this copy, so edits to the live
// config file cannot change a run already in flight.
func (o *Orchestrator) writeConfigSnapshot() error {
	data, err := yaml.Marshal(o.cfg)
	if err != nil {
		return fmt.Errorf("snapshot config: %w", err)
	}
	return iox.WriteFileAtomic(o.layout.ConfigPath(), data, 0o644)
}

func (o *Orchestrator) createManifest(plans []FilePlan) error {
	snapshot, err := json.Marshal(o.cfg)
	if err != nil {
		return fmt.Errorf("snapshot config: %w", err)
	}

	now := time.Now().UTC()
	files := make([]types.FileEntry, 0, len(plans))
	for _, plan := range plans {
		entry := types.FileEntry{
			Label:       plan.Label,
			InputFile:   plan.InputPath,
			Status:      types.FileStatusPending,
			Ranges:      plan.Ranges,
			LastUpdated: now,
		}
		for _, rng := range plan.Ranges {
			entry.ExpectedOutputs = append(entry.ExpectedOutputs,
				types.WorkerOutputName(o.run.RunID, plan.Label, rng.WorkerID))
		}
		files = append(files, entry)
	}

	return o.man.Create(&types.Manifest{
		Run:    o.run,
		Config: snapshot,
		Files:  files,
	})
}

// spawnAll launches every worker, retrying each spawn up to
// MaxSpawnRetries. A worker that cannot be started is recorded in the
// manifest as a failed spawn and does not block its siblings. Returns
// the set of worker IDs that never started.
func (o *Orchestrator) spawnAll(ctx context.Context, specs []WorkerSpec) map[int]bool {
	failed := make(map[int]bool)
	byLabel := make(map[string][]types.RowRange)

	for _, spec := range specs {
		if err := o.spawnWithRetries(ctx, spec); err != nil {
			o.logger.Error("worker spawn failed", map[string]any{
				"worker_id": spec.WorkerID,
				"label":     spec.Label,
				"error":     err.Error(),
			})
			failed[spec.WorkerID] = true
			byLabel[spec.Label] = append(byLabel[spec.Label], spec.Range)
			continue
		}
		o.logger.Info("worker spawned", map[string]any{
			"worker_id": spec.WorkerID,
			"label":     spec.Label,
			"range":     spec.Range.String(),
		})
	}

	_, err := o.man.Update(func(m *types.Manifest) error {
		for i := range m.Files {
			file := &m.Files[i]
			file.Status = types.FileStatusProcessing
			file.FailedSpawns = byLabel[file.Label]
			file.LastUpdated = time.Now().UTC()
		}
		return nil
	})
	if err != nil {
		o.logger.Error("manifest update failed", map[string]any{"error": err.Error()})
	}
	return failed
}

func (o *Orchestrator) spawnWithRetries(ctx context.Context, spec WorkerSpec) error {
	attempts := 1 + o.cfg.Workers.MaxSpawnRetries
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.spawnDelay):
			}
		}
		if lastErr = o.spawner.Spawn(ctx, spec); lastErr == nil {
			return nil
		}
	}
	return &SpawnError{
		WorkerID: spec.WorkerID,
		Label:    spec.Label,
		Attempts: attempts,
		Err:      lastErr,
	}
}

// awaitCompletion polls the monitor until every worker either reached a
// terminal state or never spawned. Workers outlive the orchestrator, so
// a canceled context abandons the wait without touching them.
func (o *Orchestrator) awaitCompletion(ctx context.Context, failedSpawns map[int]bool) (*monitor.Snapshot, error) {
	mon := monitor.New(o.dir, o.man, o.cfg.Workers.StallTimeout.Duration)
	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()

	for {
		snap, err := mon.Take()
		if err != nil {
			return nil, err
		}
		if settled(snap, failedSpawns) {
			return snap, nil
		}
		o.logger.Debug("run progress", map[string]any{
			"rows_processed": snap.RowsProcessed,
			"total_rows":     snap.TotalRows,
			"completed":      snap.Completed,
			"failed":         snap.Failed,
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func settled(snap *monitor.Snapshot, failedSpawns map[int]bool) bool {
	if len(snap.Workers) == 0 {
		return false
	}
	for i := range snap.Workers {
		w := &snap.Workers[i]
		if w.Terminal() || failedSpawns[w.WorkerID] {
			continue
		}
		return false
	}
	return true
}

// fileResult is the per-file merge outcome applied to the manifest.
type fileResult struct {
	status types.FileStatus
	merged string
	rows   int
}

// finish merges each file per the configured merge condition, updates
// the manifest, publishes events, archives artifacts, and builds the
// run report.
func (o *Orchestrator) finish(ctx context.Context, start time.Time, snap *monitor.Snapshot, failedSpawns map[int]bool) (*RunReport, error) {
	doc, err := o.man.Load()
	if err != nil {
		return nil, err
	}

	states := make(map[int]string, len(snap.Workers))
	for i := range snap.Workers {
		states[snap.Workers[i].WorkerID] = snap.Workers[i].State
	}

	results := make(map[string]fileResult, len(doc.Files))
	for i := range doc.Files {
		results[doc.Files[i].Label] = o.mergeFile(ctx, &doc.Files[i], states, failedSpawns)
	}

	doc, err = o.man.Update(func(m *types.Manifest) error {
		for i := range m.Files {
			file := &m.Files[i]
			res, ok := results[file.Label]
			if !ok {
				continue
			}
			file.Status = res.status
			file.MergedOutput = res.merged
			file.LastUpdated = time.Now().UTC()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := runOutcome(doc.Files)
	duration := time.Since(start)

	o.publish(ctx, &adapter.RunEvent{
		EventType:  adapter.EventRunCompleted,
		RunID:      o.run.RunID,
		Project:    o.run.Project,
		ModelName:  o.run.ModelName,
		Outcome:    outcome,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		DurationMs: duration.Milliseconds(),
	})

	o.archiveArtifacts(ctx, doc)

	o.logger.Info("run completed", map[string]any{
		"outcome":  outcome,
		"duration": duration.String(),
	})

	rowsMerged := make(map[string]int, len(results))
	for label, res := range results {
		rowsMerged[label] = res.rows
	}
	return BuildRunReport(doc, snap, rowsMerged, outcome, duration), nil
}

// mergeFile decides eligibility per the merge condition and merges the
// file's checkpoint parts into one sorted CSV.
func (o *Orchestrator) mergeFile(ctx context.Context, file *types.FileEntry, states map[int]string, failedSpawns map[int]bool) fileResult {
	var completedJobs, allJobs []string
	completed := 0
	for _, rng := range file.Ranges {
		jobID := types.JobID(o.run.RunID, file.Label, rng.WorkerID)
		allJobs = append(allJobs, jobID)
		if !failedSpawns[rng.WorkerID] && states[rng.WorkerID] == string(types.StateCompleted) {
			completedJobs = append(completedJobs, jobID)
			completed++
		}
	}

	var jobIDs []string
	switch o.cfg.Merge.Condition {
	case config.MergeAllSuccess:
		if completed == len(file.Ranges) {
			jobIDs = allJobs
		}
	case config.MergeAnySuccess:
		jobIDs = completedJobs
	case config.MergeAlways:
		jobIDs = allJobs
	}

	status := fileStatus(completed, len(file.Ranges))
	if len(jobIDs) == 0 {
		o.logger.Warn("merge skipped", map[string]any{
			"label":     file.Label,
			"condition": o.cfg.Merge.Condition,
			"completed": completed,
			"workers":   len(file.Ranges),
		})
		return fileResult{status: status}
	}

	dest := filepath.Join(o.layout.OutputsDir(), types.MergedOutputName(o.run.RunID, file.Label))
	rows, err := o.store.MergeJobs(jobIDs, dest)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			o.logger.Warn("no checkpoint parts to merge", map[string]any{"label": file.Label})
			return fileResult{status: types.FileStatusFailed}
		}
		o.logger.Error("merge failed", map[string]any{
			"label": file.Label,
			"error": err.Error(),
		})
		return fileResult{status: status}
	}

	o.logger.Info("file merged", map[string]any{
		"label":  file.Label,
		"output": dest,
		"rows":   rows,
	})

	if !o.cfg.Merge.KeepParts {
		for _, jobID := range jobIDs {
			if err := o.store.Cleanup(jobID); err != nil {
				o.logger.Warn("checkpoint cleanup failed", map[string]any{
					"job_id": jobID,
					"error":  err.Error(),
				})
			}
		}
	}

	o.publish(ctx, &adapter.RunEvent{
		EventType:    adapter.EventFileMerged,
		RunID:        o.run.RunID,
		Project:      o.run.Project,
		ModelName:    o.run.ModelName,
		Label:        file.Label,
		MergedOutput: dest,
		RowsMerged:   int64(rows),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})

	return fileResult{status: status, merged: dest, rows: rows}
}

func fileStatus(completed, total int) types.FileStatus {
	switch {
	case completed == total:
		return types.FileStatusCompleted
	case completed > 0:
		return types.FileStatusPartial
	default:
		return types.FileStatusFailed
	}
}

func runOutcome(files []types.FileEntry) string {
	completed, failed := 0, 0
	for _, f := range files {
		switch f.Status {
		case types.FileStatusCompleted:
			completed++
		case types.FileStatusFailed:
			failed++
		}
	}
	switch {
	case completed == len(files):
		return OutcomeSuccess
	case failed == len(files):
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// publish sends an event on a best-effort basis. A notification
// failure never fails the run.
func (o *Orchestrator) publish(ctx context.Context, event *adapter.RunEvent) {
	if o.notify == nil {
		return
	}
	if err := o.notify.Publish(ctx, event); err != nil {
		o.logger.Warn("event publish failed", map[string]any{
			"event": event.EventType,
			"error": err.Error(),
		})
	}
}

// archiveArtifacts uploads merged outputs and the final manifest. An
// upload failure never invalidates the local artifacts.
func (o *Orchestrator) archiveArtifacts(ctx context.Context, doc *types.Manifest) {
	if o.uploader == nil {
		return
	}

	var paths []string
	for _, file := range doc.Files {
		if file.MergedOutput != "" {
			paths = append(paths, file.MergedOutput)
		}
	}
	paths = append(paths, o.man.Path())

	if err := o.uploader.UploadAll(ctx, o.run.RunID, paths); err != nil {
		o.logger.Warn("archive upload failed", map[string]any{"error": err.Error()})
		return
	}
	o.logger.Info("artifacts archived", map[string]any{"count": len(paths)})
}
