package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const lockSuffix = ".lock"

// Lock takes an exclusive advisory lock scoped to key and returns the
// function that releases it. The lock lives in a sidecar file next to the
// value, so independent keys never contend and two processes performing a
// read-modify-write on the same key serialize.
//
// Lock blocks until the lock is acquired. The caller must hold it for the
// whole read-modify-write sequence.
func (d *Dir) Lock(key string) (unlock func(), err error) {
	path := filepath.Join(d.root, key) + lockSuffix

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %v", ErrUnavailable, key, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: lock %s: %v", ErrUnavailable, key, err)
	}

	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}
