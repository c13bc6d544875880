// Package shardstore owns the append-only shard files that hold an
// archive's raw bytes back-to-back. Metadata (which shard, offset, size,
// checksum a given path lives at) is the Index's job; shardstore only
// knows how to place, append, rotate, read and reclaim bytes.
//
// Naming: shard k of archive base path B is "B-shard-{k:05d}". Shards are
// numbered from 0; the "current" shard for appends is always the
// highest-numbered shard that exists on disk when opened for write.
//
// Writes never go through an mmap — mmap'd regions are only used to
// accelerate reads. An append-then-commit-index crash leaves orphan bytes
// at a shard's tail; barecat never trusts a shard's physical length as the
// logical length, it always derives that from the Index's
// max(offset+size), so orphan bytes are invisible until a later defrag
// reclaims them.
package shardstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/isarandi/barecat/internal/bcerr"
	"github.com/isarandi/barecat/internal/checksum"
)

// Mode selects how a Store may be used.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
	AppendOnly
)

// fileLike is the subset of *os.File that platform mmap/fallocate shims need.
type fileLike interface {
	Fd() uintptr
}

// Store owns every shard file for one archive.
type Store struct {
	mu             sync.Mutex
	base           string
	mode           Mode
	shardSizeLimit int64
	useMmap        bool

	shards  []*shard
	current int

	log zerolog.Logger
}

// Option configures Open.
type Option func(*Store)

// WithMmap enables mmap-accelerated reads (never used for writes).
func WithMmap(enabled bool) Option { return func(s *Store) { s.useMmap = enabled } }

// WithLogger attaches a logger; defaults to a disabled logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

// ShardPath returns the on-disk path for shard k of base.
func ShardPath(base string, k int) string {
	return fmt.Sprintf("%s-shard-%05d", base, k)
}

// DiscoverShards returns the shard indices that have a B-shard-NNNNN file
// on disk for base, regardless of whether any are currently open. Callers
// use this to find shard files an Open-ed Store doesn't know about, e.g.
// orphans left behind by a shrinking Reshard.
func DiscoverShards(base string) ([]int, error) {
	return discoverShards(base)
}

// Open opens (creating as needed, in write modes) every existing shard file
// for base and returns a Store ready for Append/Read. knownShardLengths, if
// non-nil, gives the logical (index-derived) length of each shard already on
// disk — Open uses it instead of trusting the physical file size, per the
// crash-safety contract in the package doc.
func Open(ctx context.Context, base string, mode Mode, shardSizeLimit int64, knownShardLengths map[int]int64, opts ...Option) (*Store, error) {
	s := &Store{
		base:           base,
		mode:           mode,
		shardSizeLimit: shardSizeLimit,
		log:            zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}

	existing, err := discoverShards(base)
	if err != nil {
		return nil, err
	}

	if len(existing) == 0 {
		if mode == ReadOnly {
			return s, nil
		}
		if err := s.openShard(0, true); err != nil {
			return nil, err
		}
		s.current = 0
		return s, nil
	}

	for _, k := range existing {
		if err := s.openShard(k, mode != ReadOnly); err != nil {
			return nil, err
		}
	}
	s.current = existing[len(existing)-1]

	for k, sh := range s.shards {
		if sh == nil {
			continue
		}
		if l, ok := knownShardLengths[k]; ok {
			sh.length = l
		} else {
			sh.length, _ = sh.physicalSize()
		}
		if s.useMmap {
			if err := s.mmapShard(sh); err != nil {
				return nil, err
			}
		}
	}

	s.log.Debug().Str("base", base).Int("shards", len(existing)).Msg("shard store opened")
	return s, nil
}

func discoverShards(base string) ([]int, error) {
	dir := filepath.Dir(base)
	prefix := filepath.Base(base) + "-shard-"

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var found []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		numStr := strings.TrimPrefix(name, prefix)
		k, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		found = append(found, k)
	}
	sort.Ints(found)
	return found, nil
}

func (s *Store) ensureSlice(k int) {
	for len(s.shards) <= k {
		s.shards = append(s.shards, nil)
	}
}

func (s *Store) openShard(k int, writable bool) error {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR | os.O_CREATE
	}
	path := ShardPath(s.base, k)
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("shardstore: open shard %d: %w", k, err)
	}
	s.ensureSlice(k)
	s.shards[k] = &shard{file: f, path: path}
	return nil
}

func (s *Store) mmapShard(sh *shard) error {
	if sh.length == 0 {
		return nil
	}
	m, err := mmapFile(sh.file, sh.length)
	if err != nil {
		// mmap is a best-effort acceleration; fall back to plain I/O.
		s.log.Debug().Err(err).Str("path", sh.path).Msg("mmap unavailable, falling back to file I/O")
		return nil
	}
	sh.mmap = m
	return nil
}

// CurrentShard returns the index of the shard appends currently target.
func (s *Store) CurrentShard() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ShardLength returns the logical length (as tracked by Append/Truncate) of
// shard k, or bcerr.ErrShardMissing if it doesn't exist.
func (s *Store) ShardLength(shard int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if shard < 0 || shard >= len(s.shards) || s.shards[shard] == nil {
		return 0, bcerr.ErrShardMissing
	}
	return s.shards[shard].length, nil
}

// ShardCount returns the number of shards known to the store (including any
// nil gaps, which should not occur in a healthy archive).
func (s *Store) ShardCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shards)
}

// Append writes data to the current shard, rotating to a new shard first if
// the write would exceed shardSizeLimit and the current shard is non-empty.
// A single file is never split across shards, even if it alone exceeds the
// limit.
func (s *Store) Append(ctx context.Context, data []byte) (shardIdx int, offset int64, size int64, crc uint32, err error) {
	if s.mode == ReadOnly {
		return 0, 0, 0, 0, bcerr.ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.shards[s.current]
	if cur.length > 0 && cur.length+int64(len(data)) > s.shardSizeLimit {
		if err := s.rotateLocked(); err != nil {
			return 0, 0, 0, 0, err
		}
		cur = s.shards[s.current]
	}

	cur.mu.Lock()
	defer cur.mu.Unlock()

	off := cur.length
	if _, err := cur.file.WriteAt(data, off); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("shardstore: append to shard %d: %w", s.current, err)
	}
	cur.length += int64(len(data))

	sum := checksum.Of(data)
	s.log.Debug().Int("shard", s.current).Int64("offset", off).Int("size", len(data)).Msg("appended")
	return s.current, off, int64(len(data)), sum, nil
}

// AppendStreamStart begins a multi-chunk append: it applies the same
// rotation check as Append (using firstChunk's size as the prospective
// write size), writes firstChunk, and returns the shard and offset the
// whole stream will be written to. Every following chunk of the same
// logical write must go through AppendStreamChunk targeting that shard —
// once chosen it is never revisited mid-stream, so a streamed write can run
// past shardSizeLimit but is never split across shards.
func (s *Store) AppendStreamStart(ctx context.Context, firstChunk []byte) (shardIdx int, offset int64, err error) {
	if s.mode == ReadOnly {
		return 0, 0, bcerr.ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.shards[s.current]
	if cur.length > 0 && cur.length+int64(len(firstChunk)) > s.shardSizeLimit {
		if err := s.rotateLocked(); err != nil {
			return 0, 0, err
		}
		cur = s.shards[s.current]
	}

	cur.mu.Lock()
	defer cur.mu.Unlock()

	off := cur.length
	if _, err := cur.file.WriteAt(firstChunk, off); err != nil {
		return 0, 0, fmt.Errorf("shardstore: append to shard %d: %w", s.current, err)
	}
	cur.length += int64(len(firstChunk))

	s.log.Debug().Int("shard", s.current).Int64("offset", off).Int("size", len(firstChunk)).Msg("appended (stream start)")
	return s.current, off, nil
}

// AppendStreamChunk appends data to shardIdx's tail with no rotation check,
// continuing a write started by AppendStreamStart.
func (s *Store) AppendStreamChunk(ctx context.Context, shardIdx int, data []byte) (offset int64, err error) {
	if s.mode == ReadOnly {
		return 0, bcerr.ErrReadOnly
	}

	s.mu.Lock()
	if shardIdx < 0 || shardIdx >= len(s.shards) || s.shards[shardIdx] == nil {
		s.mu.Unlock()
		return 0, bcerr.ErrShardMissing
	}
	sh := s.shards[shardIdx]
	s.mu.Unlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	off := sh.length
	if _, err := sh.file.WriteAt(data, off); err != nil {
		return 0, fmt.Errorf("shardstore: append to shard %d: %w", shardIdx, err)
	}
	sh.length += int64(len(data))
	return off, nil
}

// WriteAtForDefrag overwrites shardIdx's bytes at offset with data. Unlike
// Append this does not extend the shard's logical length and is only safe
// to call when offset+len(data) is already within the shard's tracked
// length (defrag/reshard moving a file into an already-reclaimed gap).
func (s *Store) WriteAtForDefrag(ctx context.Context, shardIdx int, offset int64, data []byte) (int, error) {
	s.mu.Lock()
	if shardIdx < 0 || shardIdx >= len(s.shards) || s.shards[shardIdx] == nil {
		s.mu.Unlock()
		return 0, bcerr.ErrShardMissing
	}
	sh := s.shards[shardIdx]
	s.mu.Unlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.mmap != nil && offset+int64(len(data)) <= int64(len(sh.mmap)) {
		if err := munmap(sh.mmap); err != nil {
			return 0, err
		}
		sh.mmap = nil
	}
	n, err := sh.file.WriteAt(data, offset)
	if err != nil {
		return n, fmt.Errorf("shardstore: write shard %d at %d: %w", shardIdx, offset, err)
	}
	return n, nil
}

func (s *Store) rotateLocked() error {
	next := s.current + 1
	if err := s.openShard(next, true); err != nil {
		return err
	}
	s.current = next
	s.log.Info().Int("shard", next).Msg("shard rotated")
	return nil
}

// Read returns the size bytes stored at (shard, offset). The read must not
// span shards. The returned slice is freshly owned by the caller even
// though its backing array may have come from an internal pool.
func (s *Store) Read(ctx context.Context, shardIdx int, offset, size int64) ([]byte, error) {
	buf := getReadBuf(size)
	n, err := s.ReadAt(ctx, shardIdx, offset, buf)
	if err != nil {
		putReadBuf(buf)
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	putReadBuf(buf)
	return out, nil
}

// ReadAt fills buf from (shard, offset), using the mmap fast path when
// available.
func (s *Store) ReadAt(ctx context.Context, shardIdx int, offset int64, buf []byte) (int, error) {
	s.mu.Lock()
	if shardIdx < 0 || shardIdx >= len(s.shards) || s.shards[shardIdx] == nil {
		s.mu.Unlock()
		return 0, bcerr.ErrShardMissing
	}
	sh := s.shards[shardIdx]
	s.mu.Unlock()

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if len(buf) == 0 {
		return 0, nil
	}

	if sh.mmap != nil && offset+int64(len(buf)) <= int64(len(sh.mmap)) {
		n := copy(buf, sh.mmap[offset:offset+int64(len(buf))])
		return n, nil
	}

	n, err := sh.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("shardstore: read shard %d at %d: %w", shardIdx, offset, err)
	}
	return n, nil
}

// PunchHole deallocates storage for a removed file's byte range without
// changing the shard's apparent length. It is a no-op where unsupported.
func (s *Store) PunchHole(ctx context.Context, shardIdx int, offset, size int64) error {
	s.mu.Lock()
	if shardIdx < 0 || shardIdx >= len(s.shards) || s.shards[shardIdx] == nil {
		s.mu.Unlock()
		return bcerr.ErrShardMissing
	}
	sh := s.shards[shardIdx]
	s.mu.Unlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	return punchHole(sh.file, offset, size)
}

// Truncate shrinks shard k to newLength, used by defrag/reshard once a
// shard's tail is known to be free of live data.
func (s *Store) Truncate(ctx context.Context, shardIdx int, newLength int64) error {
	s.mu.Lock()
	if shardIdx < 0 || shardIdx >= len(s.shards) || s.shards[shardIdx] == nil {
		s.mu.Unlock()
		return bcerr.ErrShardMissing
	}
	sh := s.shards[shardIdx]
	s.mu.Unlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.mmap != nil {
		if err := munmap(sh.mmap); err != nil {
			return err
		}
		sh.mmap = nil
	}
	if err := sh.file.Truncate(newLength); err != nil {
		return fmt.Errorf("shardstore: truncate shard %d: %w", shardIdx, err)
	}
	sh.length = newLength
	return nil
}

// Flush syncs every shard file to stable storage. Appends do not fsync by
// default (see barecat's write-ordering contract); Flush is the explicit
// opt-in.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for i, sh := range s.shards {
		if sh == nil {
			continue
		}
		if err := sh.file.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shardstore: sync shard %d: %w", i, err)
		}
	}
	return firstErr
}

// Close releases every open shard file and mmap region.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, sh := range s.shards {
		if sh == nil {
			continue
		}
		if err := sh.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
