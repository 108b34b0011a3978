package status

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PauseController signals a cooperative pause to every worker of a run
// through an existence-based sentinel file. Workers poll Paused at
// batch boundaries; the flag's content is irrelevant.
type PauseController struct {
	path string
}

// NewPauseController returns the controller for a status directory.
func (d *Dir) NewPauseController() *PauseController {
	return &PauseController{path: filepath.Join(d.path, PauseFlagName)}
}

// Pause creates the pause flag. Idempotent: pausing an already paused
// run succeeds.
func (c *PauseController) Pause() error {
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create pause flag: %w", err)
	}
	return f.Close()
}

// Resume removes the pause flag. Idempotent: resuming a run that is
// not paused succeeds.
func (c *PauseController) Resume() error {
	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pause flag: %w", err)
	}
	return nil
}

// Paused reports whether the pause flag exists.
func (c *PauseController) Paused() bool {
	_, err := os.Stat(c.path)
	return err == nil
}
