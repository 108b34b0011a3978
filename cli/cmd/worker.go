package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/checkpoint"
	"github.com/justapithecus/sluice/cli/config"
	"github.com/justapithecus/sluice/log"
	"github.com/justapithecus/sluice/processor"
	"github.com/justapithecus/sluice/runtime"
	"github.com/justapithecus/sluice/status"
	"github.com/justapithecus/sluice/types"
	"github.com/justapithecus/sluice/worker"
)

// WorkerFlags is the worker binary's flag set. It must stay in sync
// with the argument list the orchestrator's spawner builds.
func WorkerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "config",
			Usage:    "Path to job config YAML",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "run-id",
			Usage:    "Run ID",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "label",
			Usage:    "Input file label",
			Required: true,
		},
		&cli.IntFlag{
			Name:     "worker-id",
			Usage:    "Run-global worker ID",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "start-row",
			Usage:    "First row of the assigned range (1-based, inclusive)",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "end-row",
			Usage:    "Last row of the assigned range (inclusive)",
			Required: true,
		},
	}
}

// WorkerAction runs one worker to a terminal state. The config file is
// the single source of truth: everything beyond the assigned range and
// identity is rebuilt from it.
func WorkerAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	runID := c.String("run-id")
	label := c.String("label")
	workerID := c.Int("worker-id")

	input, err := findInput(cfg, label)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	rng := types.RowRange{
		Start:    c.Int64("start-row"),
		End:      c.Int64("end-row"),
		WorkerID: workerID,
	}
	if err := rng.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid range: %v", err), exitConfigError)
	}

	layout := runtime.NewLayout(cfg.BaseDir, cfg.Project, runID)
	dir, err := status.NewDir(layout.StatusDir())
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	store, err := checkpoint.NewStore(layout.CheckpointsDir())
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	logger := log.NewWorkerLogger(runID, label, workerID)
	proc := processor.NewHTTPProcessor(
		cfg.Model.Endpoint, cfg.Model.Name, &cfg.Prompt, cfg.Model.Timeout.Duration)

	w := worker.New(worker.Options{
		RunID:    runID,
		Label:    label,
		WorkerID: workerID,
		Range:    rng,

		InputPath:  input.Path,
		OutputFile: types.WorkerOutputName(runID, label, workerID),
		ModelName:  cfg.Model.Name,
		Prompt:     &cfg.Prompt,

		BatchSize:          cfg.Workers.BatchSize,
		CheckpointInterval: cfg.Workers.CheckpointInterval,
		MaxRetries:         *cfg.Workers.MaxRetries,
		RetryDelay:         cfg.Workers.RetryDelay.Duration,
		PausePoll:          cfg.Workers.PausePoll.Duration,
		FailureStrategy:    cfg.Workers.FailureStrategy,
	}, proc, store, dir, logger)

	ctx, cancel := signalContext()
	defer cancel()

	if err := w.Run(ctx); err != nil {
		// Already recorded in the status document; the exit code is for
		// the worker log only.
		return cli.Exit(err.Error(), exitFailed)
	}
	return nil
}

func findInput(cfg *config.JobConfig, label string) (*config.InputConfig, error) {
	for i := range cfg.Inputs {
		if cfg.Inputs[i].Label == label {
			return &cfg.Inputs[i], nil
		}
	}
	return nil, fmt.Errorf("label %q not found in config inputs", label)
}
