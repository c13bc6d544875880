//go:build linux

package shardstore

import "golang.org/x/sys/unix"

// punchHole deallocates the underlying storage for [offset, offset+size)
// without changing the file's apparent length.
func punchHole(f fileLike, offset, size int64) error {
	if size <= 0 {
		return nil
	}
	return unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, size)
}

const punchHoleSupported = true
