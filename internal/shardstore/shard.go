package shardstore

import (
	"os"
	"sync"
)

// shard represents one on-disk shard file.
//
// mmap is non-nil only when the store was opened with mmap enabled; it
// accelerates Read but is never written through directly — writes always go
// through the *os.File so the append path stays crash-safe (see the package
// doc in store.go).
type shard struct {
	mu   sync.RWMutex
	file *os.File
	path string
	mmap []byte

	// length is the logical end of written data for this shard, as derived
	// from the index (max offset+size over live files), not the physical
	// file size. Appends extend it; Truncate resets it.
	length int64
}

func (s *shard) physicalSize() (int64, error) {
	fi, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *shard) close() error {
	var firstErr error
	if s.mmap != nil {
		if err := munmap(s.mmap); err != nil && firstErr == nil {
			firstErr = err
		}
		s.mmap = nil
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
