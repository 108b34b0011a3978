// Package checkpoint persists worker progress as durable part files
// and merges them into deterministic CSV artifacts.
//
// This file defines sentinel errors and the error wrapper classifying
// checkpoint I/O failures. Callers use errors.Is/errors.As for typed
// assertions rather than string matching.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"
)

// Sentinel errors for checkpoint failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrDiskFull indicates storage is out of space (ENOSPC).
	ErrDiskFull = errors.New("no space left on device")

	// ErrPermissionDenied indicates a permission/access failure (EACCES).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the target path does not exist (ENOENT).
	ErrNotFound = errors.New("not found")

	// ErrCorrupt indicates a part file that cannot be decoded.
	ErrCorrupt = errors.New("corrupt checkpoint part")
)

// Error wraps an underlying error with checkpoint I/O classification.
// It preserves the original error in the chain for errors.As.
type Error struct {
	// Kind is the sentinel error for classification (e.g., ErrDiskFull).
	Kind error
	// Op is the operation that failed (e.g., "save", "read", "merge").
	Op string
	// Path is the file involved, if any.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("checkpoint %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("checkpoint %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapErr classifies and wraps an operation error. Returns nil if err
// is nil or already classified.
func wrapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Path: path, Err: err}
}

// classify determines the sentinel for a filesystem error. Typed
// checks first, message patterns as a fallback.
func classify(err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return ErrDiskFull
	case errors.Is(err, fs.ErrPermission), errors.Is(err, os.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, os.ErrNotExist):
		return ErrNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full"):
		return ErrDiskFull
	case strings.Contains(msg, "permission denied"):
		return ErrPermissionDenied
	case strings.Contains(msg, "no such file") || strings.Contains(msg, "not found"):
		return ErrNotFound
	default:
		return errors.New("checkpoint i/o error")
	}
}
