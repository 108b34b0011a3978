package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/cli/config"
	"github.com/justapithecus/sluice/runtime"
	"github.com/justapithecus/sluice/status"
)

// PauseCommand returns the pause command. Pause is cooperative: the
// flag is observed by every worker of the run at its next batch
// boundary, so in-flight batches finish first.
func PauseCommand() *cli.Command {
	return &cli.Command{
		Name:   "pause",
		Usage:  "Pause a run's workers at their next batch boundary",
		Flags:  []cli.Flag{ConfigFlag, RunIDFlag},
		Action: pauseAction(true),
	}
}

// UnpauseCommand returns the unpause command.
func UnpauseCommand() *cli.Command {
	return &cli.Command{
		Name:   "unpause",
		Usage:  "Resume a paused run's workers",
		Flags:  []cli.Flag{ConfigFlag, RunIDFlag},
		Action: pauseAction(false),
	}
}

func pauseAction(pause bool) cli.ActionFunc {
	return func(c *cli.Context) error {
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
		dir, err := status.NewDir(layout.StatusDir())
		if err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}

		ctrl := dir.NewPauseController()
		if pause {
			if err := ctrl.Pause(); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "run %s paused\n", runID)
			return nil
		}
		if err := ctrl.Resume(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "run %s unpaused\n", runID)
		return nil
	}
}
