//go:build !linux

package shardstore

// punchHole is a no-op on platforms without FALLOC_FL_PUNCH_HOLE; space
// reclamation for removed files then waits for defrag.
func punchHole(f fileLike, offset, size int64) error { return nil }

const punchHoleSupported = false
