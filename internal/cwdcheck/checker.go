// Package cwdcheck compares a resolved working directory against the live
// current directory of the shell that spawned it.
package cwdcheck

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/procfs"
)

// ErrPathResolution is returned when either side of the comparison cannot be resolved.
var ErrPathResolution = errors.New("path resolution failed")

// Result describes one comparison.
type Result struct {
	// ShellCwd is the target of /proc/<shell>/cwd at check time.
	ShellCwd string
	// Canonical is the candidate with symlinks and relative segments resolved.
	Canonical string
	Match     bool
}

// Checker reads process current directories through procfs.
type Checker struct {
	fs procfs.FS
}

// New creates a Checker for the proc filesystem mounted at procRoot.
func New(procRoot string) (*Checker, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("opening procfs at %s: %w", procRoot, err)
	}
	return &Checker{fs: fs}, nil
}

// Alive reports an error unless pid has an entry under the proc root.
func (c *Checker) Alive(pid int) error {
	if _, err := c.fs.Proc(pid); err != nil {
		return fmt.Errorf("%w: pid %d: %w", ErrPathResolution, pid, err)
	}
	return nil
}

// ShellCwd returns the live current directory of pid. The value is read on
// every call and may change between calls.
func (c *Checker) ShellCwd(pid int) (string, error) {
	proc, err := c.fs.Proc(pid)
	if err != nil {
		return "", fmt.Errorf("%w: pid %d: %w", ErrPathResolution, pid, err)
	}

	cwd, err := proc.Cwd()
	if err != nil {
		return "", fmt.Errorf("%w: reading cwd of pid %d: %w", ErrPathResolution, pid, err)
	}
	// procfs reports a missing link as an empty path
	if cwd == "" {
		return "", fmt.Errorf("%w: pid %d has no cwd link", ErrPathResolution, pid)
	}

	return cwd, nil
}

// Check resolves candidate and compares it with the current directory of shellPID.
// A mismatch is reported in Result, not as an error.
func (c *Checker) Check(shellPID int, candidate string) (Result, error) {
	shellCwd, err := c.ShellCwd(shellPID)
	if err != nil {
		return Result{}, err
	}

	canonical, err := Canonicalize(candidate)
	if err != nil {
		return Result{ShellCwd: shellCwd}, err
	}

	return Result{
		ShellCwd:  shellCwd,
		Canonical: canonical,
		Match:     canonical == shellCwd,
	}, nil
}

// Canonicalize returns the absolute, symlink-free form of path. The path must exist.
func Canonicalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathResolution)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrPathResolution, path, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrPathResolution, path, err)
	}

	return resolved, nil
}
