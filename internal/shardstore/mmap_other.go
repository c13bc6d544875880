//go:build !unix

package shardstore

import "fmt"

func mmapFile(f fileLike, size int64) ([]byte, error) {
	return nil, fmt.Errorf("shardstore: mmap is not supported on this platform")
}

func munmap(b []byte) error { return nil }
