package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/justapithecus/sluice/types"
)

// SpawnError reports a worker process that could not be started after
// all spawn retries.
type SpawnError struct {
	WorkerID int
	Label    string
	Attempts int
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker %d (%s) failed after %d attempts: %v",
		e.WorkerID, e.Label, e.Attempts, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// WorkerSpec identifies one worker process to launch. The worker
// rebuilds everything else (layout, processor, prompt) from the run's
// frozen config snapshot, which keeps the command line small and the
// snapshot the single source of truth.
type WorkerSpec struct {
	ConfigPath string
	RunID      string
	Label      string
	WorkerID   int
	Range      types.RowRange
}

// Spawner launches worker processes. Abstracted for testing.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) error
}

// ExecSpawner launches detached sluice-worker processes.
type ExecSpawner struct {
	// Binary is the worker executable, resolved via PATH when bare.
	Binary string
	// LogsDir receives one log file per worker.
	LogsDir string
}

var _ Spawner = (*ExecSpawner)(nil)

// Spawn starts one worker in a new session so it outlives the
// orchestrator. Worker stdout and stderr go to a per-worker log file.
//
// Uses exec.Command (not CommandContext): a worker must keep running if
// the orchestrator exits or is interrupted.
func (s *ExecSpawner) Spawn(_ context.Context, spec WorkerSpec) error {
	cmd := exec.Command(s.Binary,
		"--config", spec.ConfigPath,
		"--run-id", spec.RunID,
		"--label", spec.Label,
		"--worker-id", strconv.Itoa(spec.WorkerID),
		"--start-row", strconv.FormatInt(spec.Range.Start, 10),
		"--end-row", strconv.FormatInt(spec.Range.End, 10),
	)

	// Detach: new session so the worker survives the parent
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	logPath := filepath.Join(s.LogsDir, fmt.Sprintf("worker_%d.log", spec.WorkerID))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open worker log %s: %w", logPath, err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("start worker: %w", err)
	}
	_ = logFile.Close()

	// The monitor observes completion through status documents; the
	// orchestrator never waits on the child.
	return cmd.Process.Release()
}
