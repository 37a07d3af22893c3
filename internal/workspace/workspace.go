// Package workspace manages the scratch directory a run writes its
// intermediate artifacts into.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ChildName is the directory created inside a user-supplied working
// directory.
const ChildName = "pdfocr"

var (
	ErrExists       = errors.New("workspace already exists")
	ErrNotDirectory = errors.New("working directory is not a directory")
)

// CleanupError reports paths that could not be removed.
type CleanupError struct {
	Dir    string
	Failed []string
	Err    error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup of %s failed for %d path(s): %s", e.Dir, len(e.Failed), strings.Join(e.Failed, ", "))
}

func (e *CleanupError) Unwrap() error { return e.Err }

// Workspace is a directory owned by a single run.
type Workspace struct {
	Dir string

	// Parent is the user-supplied working directory, empty for temporary
	// workspaces. It is never removed.
	Parent string
}

// Explicit reports whether the workspace lives in a user-supplied directory.
func (w *Workspace) Explicit() bool { return w.Parent != "" }

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Acquire creates a workspace. With an empty dir a fresh temporary
// directory is used; otherwise dir must exist and a "pdfocr" child is created
// inside it, which must not exist yet.
func Acquire(dir string) (*Workspace, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "pdfocr-")
		if err != nil {
			return nil, fmt.Errorf("create temp workspace: %w", err)
		}
		slog.Debug("created workspace", "dir", tmp)
		return &Workspace{Dir: tmp}, nil
	}

	parent, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	info, err := os.Stat(parent)
	if err != nil {
		return nil, fmt.Errorf("working directory %s: %w", parent, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", parent, ErrNotDirectory)
	}

	child := filepath.Join(parent, ChildName)
	if err := os.Mkdir(child, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w, remove it first", child, ErrExists)
		}
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	slog.Debug("created workspace", "dir", child)
	return &Workspace{Dir: child, Parent: parent}, nil
}

// Release removes the workspace unless keep is set.
func (w *Workspace) Release(keep bool) error {
	if keep {
		slog.Info("keeping workspace", "dir", w.Dir)
		return nil
	}
	slog.Debug("removing workspace", "dir", w.Dir)
	return RemoveTree(w.Dir)
}

// RemoveTree deletes dir and everything below it, deepest entries first.
// It keeps going after a failure and reports every path it could not remove.
func RemoveTree(dir string) error {
	var paths []string
	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, os.ErrNotExist) {
		return &CleanupError{Dir: dir, Failed: []string{dir}, Err: walkErr}
	}

	// Longer paths sort after their parents; removing in reverse lexical
	// order empties every directory before it is removed.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	var failed []string
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			failed = append(failed, p)
			errs = append(errs, err)
		}
	}
	if len(failed) > 0 {
		return &CleanupError{Dir: dir, Failed: failed, Err: errors.Join(errs...)}
	}
	return nil
}
