package vdisplay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/xrdesk/xrbridge/internal/fsutil"
)

// DefaultStorePath is where the display list is shared with other tools.
const DefaultStorePath = "/dev/shm/breezy_virtual_displays.json"

const maxStoreSize = 1 << 20

// Store persists the display list as JSON.
type Store struct {
	fs   fsutil.FileSystem
	path string
}

// NewStore returns a Store writing to path.
func NewStore(fsys fsutil.FileSystem, path string) *Store {
	if path == "" {
		path = DefaultStorePath
	}
	return &Store{fs: fsys, path: path}
}

// Path returns the file the store writes.
func (s *Store) Path() string { return s.path }

// Save replaces the stored list.
func (s *Store) Save(list []Info) error {
	if list == nil {
		list = []Info{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal display list: %w", err)
	}
	return s.fs.WriteFileAtomic(s.path, data, 0o644)
}

// Load reads the stored list. A missing file is an empty list.
func (s *Store) Load() ([]Info, error) {
	data, err := s.fs.ReadFileLimit(s.path, maxStoreSize)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []Info
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return list, nil
}
