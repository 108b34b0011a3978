// Package main provides the sluice-worker entrypoint.
//
// The orchestrator spawns one detached sluice-worker process per row
// range. The worker rebuilds everything beyond its identity and range
// from the config file:
//
//	sluice-worker --config <path> --run-id <id> --label <label> \
//	    --worker-id <n> --start-row <n> --end-row <n>
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/cli/cmd"
	"github.com/justapithecus/sluice/types"
)

var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "sluice-worker",
		Usage:          "Process one row range of a sluice run",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:          cmd.WorkerFlags(),
		Action:         cmd.WorkerAction,
		ExitErrHandler: exitErrHandler,
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler mirrors the orchestrator binary's error handling.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
