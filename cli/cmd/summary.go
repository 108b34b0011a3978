package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/cli/config"
	"github.com/justapithecus/sluice/cli/render"
	"github.com/justapithecus/sluice/runtime"
)

// SummaryCommand returns the summary command: a one-shot run report
// built from the manifest and status documents of an existing run.
func SummaryCommand() *cli.Command {
	return &cli.Command{
		Name:   "summary",
		Usage:  "Show a run's final (or current) report",
		Flags:  ReadOnlyFlags(),
		Action: summaryAction,
	}
}

func summaryAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for summary; use monitor --tui", exitConfigError)
	}

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

	layout := runtime.NewLayout(cfg.BaseDir, cfg.Project, runID)
	report, err := runtime.Summarize(layout, cfg.Workers.StallTimeout.Duration)
	if err != nil {
		return err
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(report)
}
