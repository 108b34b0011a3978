package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/adapter"
	"github.com/justapithecus/sluice/adapter/redis"
	"github.com/justapithecus/sluice/adapter/webhook"
	"github.com/justapithecus/sluice/archive"
	"github.com/justapithecus/sluice/cli/config"
	"github.com/justapithecus/sluice/cli/render"
	"github.com/justapithecus/sluice/runtime"
	"github.com/justapithecus/sluice/types"
)

// Exit codes by run outcome.
const (
	exitSuccess     = 0
	exitConfigError = 1
	exitPartial     = 2
	exitFailed      = 3
)

// RunCommand returns the run command: the only command that spawns
// workers and executes a fresh run.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute a classification run",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run ID override (default: derived from config and timestamp)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Override workers.count from the config",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Print the partition plan without spawning workers",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON run report to this path (\"-\" for stderr)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the final report on stdout",
			},
			FormatFlag,
			NoColorFlag,
		},
		Action: runAction,
	}
}

// ResumeCommand returns the resume command. Resume respawns only the
// incomplete ranges of an existing run; completed workers are left
// alone and respawned workers pick up from their checkpoints.
func ResumeCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Resume an interrupted run",
		Flags: []cli.Flag{
			ConfigFlag,
			RunIDFlag,
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON run report to this path (\"-\" for stderr)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the final report on stdout",
			},
			FormatFlag,
			NoColorFlag,
		},
		Action: resumeAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if n := c.Int("workers"); n > 0 {
		cfg.Workers.Count = n
	}

	run := buildRunMeta(cfg, c.String("run-id"))

	if c.Bool("dry-run") {
		return dryRun(c, cfg, run)
	}

	orch, cleanup, err := newOrchestrator(cfg, run)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	report, err := orch.Execute(ctx)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return finishRun(c, report)
}

func resumeAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	runID := c.String("run-id")
	if runID == "" {
		runID, err = runtime.LatestRun(cfg.BaseDir, cfg.Project)
		if err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
	}

	// The live config only locates the run. Settings come from the
	// snapshot frozen in the run directory, the same copy the workers
	// read, so a run resumes under the config it started with.
	layout := runtime.NewLayout(cfg.BaseDir, cfg.Project, runID)
	cfg, err = config.Load(layout.ConfigPath())
	if err != nil {
		return cli.Exit(fmt.Sprintf("load run config snapshot: %v", err), exitConfigError)
	}
	run := buildRunMeta(cfg, runID)

	orch, cleanup, err := newOrchestrator(cfg, run)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	report, err := orch.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}
	return finishRun(c, report)
}

// buildRunMeta derives run identity from the config. An explicit run ID
// wins over the derived one.
func buildRunMeta(cfg *config.JobConfig, runID string) types.RunMeta {
	tag := types.ResolveModelTag(cfg.Model.Name, cfg.Model.Tag)
	now := time.Now().UTC()
	if runID == "" {
		runID = types.BuildRunID(cfg.Project, cfg.Version, tag, now)
	}
	return types.RunMeta{
		RunID:     runID,
		Project:   cfg.Project,
		Version:   cfg.Version,
		ModelName: cfg.Model.Name,
		ModelTag:  tag,
		CreatedAt: now,
	}
}

// newOrchestrator assembles the orchestrator with the configured
// notifier and uploader. The cleanup closes the notifier.
func newOrchestrator(cfg *config.JobConfig, run types.RunMeta) (*runtime.Orchestrator, func(), error) {
	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if notifier != nil {
			_ = notifier.Close()
		}
	}

	var uploader *archive.Uploader
	if cfg.Archive != nil {
		uploader, err = archive.New(context.Background(), archive.Config{
			Bucket:       cfg.Archive.Bucket,
			Prefix:       cfg.Archive.Prefix,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			UsePathStyle: cfg.Archive.PathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("archive setup failed: %w", err)
		}
	}

	orch, err := runtime.New(runtime.Options{
		Config:   cfg,
		Run:      run,
		Notifier: notifier,
		Uploader: uploader,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}

// buildNotifier constructs the configured run event adapter, or nil
// when notifications are not configured.
func buildNotifier(cfg *config.NotifyConfig) (adapter.Adapter, error) {
	if cfg == nil {
		return nil, nil
	}

	switch cfg.Type {
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown notify type: %s", cfg.Type)
	}
}

// dryRun prints the partition plan. Nothing is written: no run
// directory, no manifest, no workers.
func dryRun(c *cli.Context, cfg *config.JobConfig, run types.RunMeta) error {
	plans, err := runtime.PlanFiles(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	type plannedRange struct {
		Label    string `json:"label"`
		WorkerID int    `json:"worker_id"`
		StartRow int64  `json:"start_row"`
		EndRow   int64  `json:"end_row"`
		Rows     int64  `json:"rows"`
	}
	var rows []plannedRange
	for _, plan := range plans {
		for _, rng := range plan.Ranges {
			rows = append(rows, plannedRange{
				Label:    plan.Label,
				WorkerID: rng.WorkerID,
				StartRow: rng.Start,
				EndRow:   rng.End,
				Rows:     rng.Rows(),
			})
		}
	}

	fmt.Fprintf(os.Stderr, "run %s: %d file(s), %d worker(s)\n",
		run.RunID, len(plans), len(rows))
	return r.Render(rows)
}

// finishRun renders the report, writes the --report artifact, and maps
// the outcome to the exit code.
func finishRun(c *cli.Context, report *runtime.RunReport) error {
	if path := c.String("report"); path != "" {
		if err := runtime.WriteRunReport(report, path); err != nil {
			return err
		}
	}

	if !c.Bool("quiet") {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		if err := r.Render(report); err != nil {
			return err
		}
	}

	return cli.Exit("", outcomeToExitCode(report.Outcome))
}

func outcomeToExitCode(outcome string) int {
	switch outcome {
	case runtime.OutcomeSuccess:
		return exitSuccess
	case runtime.OutcomePartial:
		return exitPartial
	case runtime.OutcomeFailed:
		return exitFailed
	default:
		return exitFailed
	}
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
// Cancellation abandons the completion wait; workers keep running.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
