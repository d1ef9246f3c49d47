package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EventsDir is the subdirectory that holds one JSON file per event record.
const EventsDir = "events"

// ErrUnavailable reports that the state directory is missing or not
// writable. Operations that hit it should be logged and skipped, never
// treated as fatal.
var ErrUnavailable = errors.New("storage unavailable")

// Dir is a key-value store rooted at a state directory. Values are whole
// files; keys are slash-separated paths relative to the root.
//
// Dir is safe for concurrent use from multiple goroutines and, via Lock,
// from multiple processes.
type Dir struct {
	root string
}

// Open returns a Dir rooted at root. It does not touch the filesystem;
// call Init to create the layout.
func Open(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the state directory path.
func (d *Dir) Root() string { return d.root }

// Init creates the state directory layout. It is idempotent.
func (d *Dir) Init() error {
	if err := os.MkdirAll(filepath.Join(d.root, EventsDir), 0o755); err != nil {
		return fmt.Errorf("%w: init %s: %v", ErrUnavailable, d.root, err)
	}
	return nil
}

// Write stores value under key atomically: the bytes are written to a
// temp file in the same directory and renamed over the target, so readers
// see either the old value or the new one, never a torn write.
func (d *Dir) Write(key string, value []byte) error {
	path := filepath.Join(d.root, key)

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Read returns the value stored under key. A missing key returns
// (nil, false, nil); other failures return ErrUnavailable.
func (d *Dir) Read(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(d.root, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
	}
	return data, true, nil
}

// Remove deletes the value stored under key along with its lock sidecar.
// Removing a key that does not exist is not an error.
func (d *Dir) Remove(key string) error {
	path := filepath.Join(d.root, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %v", ErrUnavailable, key, err)
	}
	os.Remove(path + lockSuffix)
	return nil
}

// List returns the keys under subdir (non-recursive), sorted, excluding
// temp and lock sidecar files. Pass "" for the root.
func (d *Dir) List(subdir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, subdir))
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, subdir, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, lockSuffix) || strings.Contains(name, ".tmp-") {
			continue
		}
		if subdir != "" {
			name = subdir + "/" + name
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}
