package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/cli/config"
	"github.com/justapithecus/sluice/cli/render"
	"github.com/justapithecus/sluice/cli/tui"
	"github.com/justapithecus/sluice/manifest"
	"github.com/justapithecus/sluice/monitor"
	"github.com/justapithecus/sluice/runtime"
	"github.com/justapithecus/sluice/status"
)

// MonitorCommand returns the monitor command. Monitoring is read-only:
// it observes status documents and the manifest, never the worker
// processes themselves, so it can attach to any run from any process.
func MonitorCommand() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Observe a run's progress",
		Flags: append(ReadOnlyFlags(),
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "TUI poll interval",
				Value: 2 * time.Second,
			},
		),
		Action: monitorAction,
	}
}

func monitorAction(c *cli.Context) error {
	mon, err := openMonitor(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	if c.Bool("tui") {
		return tui.RunDashboard(mon.Take, c.Duration("interval"))
	}

	snap, err := mon.Take()
	if err != nil {
		return err
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(snap)
}

// openMonitor resolves the target run (latest when --run-id is absent)
// and builds a monitor over its status directory and manifest.
func openMonitor(c *cli.Context) (*monitor.Monitor, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	runID := c.String("run-id")
	if runID == "" {
		runID, err = runtime.LatestRun(cfg.BaseDir, cfg.Project)
		if err != nil {
			return nil, err
		}
	}

	layout := runtime.NewLayout(cfg.BaseDir, cfg.Project, runID)
	dir, err := status.NewDir(layout.StatusDir())
	if err != nil {
		return nil, err
	}
	man := manifest.NewStore(layout.ManifestPath())

	return monitor.New(dir, man, cfg.Workers.StallTimeout.Duration), nil
}
