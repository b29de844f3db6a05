// Package watch reports changes to a single file by watching its directory.
package watch

import (
	"errors"
	"path/filepath"
)

// ErrUnsupported is returned on platforms without inotify.
var ErrUnsupported = errors.New("file watching is not supported on this platform")

// Mask selects which directory events count as a change to the file.
type Mask uint32

// split returns the absolute directory and base name of path.
func split(path string) (dir, name string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	return filepath.Dir(abs), filepath.Base(abs), nil
}
