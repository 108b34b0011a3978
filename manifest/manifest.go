// Package manifest manages the run manifest document, the shared
// record of run identity, planned ranges, and per-file outcomes.
//
// The manifest has no single writer: the orchestrator and control
// commands all update it. Writers serialize on a lock file next to
// the manifest, so every read-mutate-replace cycle sees the previous
// writer's document and no update is lost. A holder that dies leaves
// a stale lock behind; waiters take it over after a grace period.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/justapithecus/sluice/iox"
	"github.com/justapithecus/sluice/types"
)

// Name is the manifest filename within a run directory.
const Name = "run_manifest.json"

// Lock acquisition tuning. An update holds the lock for one load,
// one mutate, and one write, so contention clears in milliseconds;
// a lock older than lockStaleAfter belongs to a dead process.
const (
	lockSuffix     = ".lock"
	lockRetryDelay = 10 * time.Millisecond
	lockStaleAfter = 10 * time.Second
	lockWaitLimit  = 30 * time.Second
)

// CorruptError indicates the manifest exists but cannot be parsed.
// There is no automatic repair: the operator decides.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("manifest %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store reads and writes one run's manifest.
type Store struct {
	path string
}

// NewStore returns a store for the manifest at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the manifest path.
func (s *Store) Path() string { return s.path }

// Create writes the initial manifest. Fails if one already exists;
// a run is created exactly once.
func (s *Store) Create(m *types.Manifest) error {
	if _, err := os.Stat(s.path); err == nil {
		return fmt.Errorf("manifest %s already exists", s.path)
	}
	m.Revision = 1
	m.UpdatedAt = time.Now().UTC()
	return s.write(m)
}

// Load reads and parses the manifest. A parse failure returns
// *CorruptError; a missing manifest returns fs.ErrNotExist wrapped.
func (s *Store) Load() (*types.Manifest, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m types.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &CorruptError{Path: s.path, Err: err}
	}
	return &m, nil
}

// Exists reports whether the manifest file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Update applies mutate to the current manifest and replaces the
// document, bumping the revision. The whole cycle runs under the
// lock file, so concurrent writers see each other's changes. The
// mutate func must not call back into the store.
func (s *Store) Update(mutate func(*types.Manifest) error) (*types.Manifest, error) {
	release, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer release()

	m, err := s.Load()
	if err != nil {
		return nil, err
	}
	if err := mutate(m); err != nil {
		return nil, err
	}
	m.Revision++
	m.UpdatedAt = time.Now().UTC()

	if err := s.write(m); err != nil {
		return nil, err
	}
	return m, nil
}

// lock acquires the manifest lock file, waiting out other writers.
// O_EXCL creation makes acquisition atomic on every local filesystem.
func (s *Store) lock() (release func(), err error) {
	lockPath := s.path + lockSuffix
	deadline := time.Now().Add(lockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("acquire manifest lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > lockStaleAfter {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("manifest lock %s not released within %s", lockPath, lockWaitLimit)
		}
		time.Sleep(lockRetryDelay)
	}
}

func (s *Store) write(m *types.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return iox.WriteFileAtomic(s.path, data, 0o644)
}

// IsNotExist reports whether err indicates a missing manifest.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
