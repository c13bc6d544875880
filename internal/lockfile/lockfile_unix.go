//go:build unix

// Package lockfile provides the exclusive single-writer lock for an
// archive, backed by flock(2) on a sentinel file sitting next to the index.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Lock is a held exclusive lock on a sentinel file. Releasing it (Unlock)
// closes the underlying file descriptor, which drops the flock.
type Lock struct {
	f *os.File
}

// AcquireExclusive takes an exclusive, non-blocking flock on path, retrying
// with backoff until ctx is done. path is created if it doesn't exist.
func AcquireExclusive(ctx context.Context, path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	backoff := time.Millisecond
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{f: f}, nil
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("lockfile: %s is held by another writer: %w", path, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

// Unlock releases the lock and closes the sentinel file descriptor.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}
