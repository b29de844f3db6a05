// Package security guards file access driven by request input.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideDir is returned when a path resolves outside its allowed directory.
var ErrOutsideDir = errors.New("path escapes allowed directory")

// WithinDir checks that path stays inside dir after resolving "..", the
// absolute form and any symlinks. A path that does not exist yet is checked
// through its nearest existing parent, so a symlinked parent cannot be used
// to escape either.
func WithinDir(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}

	rel, err := filepath.Rel(realDir, canonical(absPath))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutsideDir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is not under %s", ErrOutsideDir, path, dir)
	}
	return nil
}

// canonical resolves symlinks in p, or in its nearest existing ancestor
// when p itself does not exist.
func canonical(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	for check := p; ; {
		parent := filepath.Dir(check)
		if parent == check {
			return p
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, p)
			return filepath.Join(resolved, rest)
		}
		check = parent
	}
}

// ResolveIn joins a single file name onto dir and checks the result stays
// inside dir. Names containing a separator are rejected outright.
func ResolveIn(dir, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: invalid file name %q", ErrOutsideDir, name)
	}
	p := filepath.Join(dir, name)
	if err := WithinDir(p, dir); err != nil {
		return "", err
	}
	return p, nil
}
