package barecat

import (
	"context"
	"fmt"

	"github.com/isarandi/barecat/internal/bcerr"
	"github.com/isarandi/barecat/internal/index"
	"github.com/isarandi/barecat/internal/lockfile"
	"github.com/isarandi/barecat/internal/shardstore"
)

const lockFileSuffix = "-lock"
const indexFileSuffix = "-sqlite-index"

// Barecat is an open archive: an index.DB tracking placement and metadata,
// and a shardstore.Store holding the raw bytes.
type Barecat struct {
	basePath string
	mode     Mode
	cfg      config

	idx    *index.DB
	shards *shardstore.Store
	lock   *lockfile.Lock
}

func indexPath(basePath string) string { return basePath + indexFileSuffix }
func lockPath(basePath string) string  { return basePath + lockFileSuffix }

// Create makes a brand-new archive at basePath (an index file and shard 0
// are created there; basePath itself is never a file).
func Create(ctx context.Context, basePath string, opts ...Option) (*Barecat, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	lock, err := lockfile.AcquireExclusive(ctx, lockPath(basePath))
	if err != nil {
		return nil, fmt.Errorf("barecat: acquire writer lock: %w", err)
	}

	idx, err := index.Create(ctx, indexPath(basePath), index.WithLogger(cfg.log))
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("barecat: create index: %w", err)
	}
	if err := idx.SetShardSizeLimit(ctx, cfg.shardSizeLimit); err != nil {
		idx.Close()
		lock.Unlock()
		return nil, err
	}

	store, err := shardstore.Open(ctx, basePath, shardstore.ReadWrite, cfg.shardSizeLimit, nil,
		shardstore.WithMmap(cfg.useMmap), shardstore.WithLogger(cfg.log))
	if err != nil {
		idx.Close()
		lock.Unlock()
		return nil, fmt.Errorf("barecat: open shard store: %w", err)
	}

	b := &Barecat{basePath: basePath, mode: ReadWrite, cfg: cfg, idx: idx, shards: store, lock: lock}
	cfg.log.Info().Str("path", basePath).Msg("archive created")
	return b, nil
}

// Open opens an existing archive. In ReadWrite mode it takes the exclusive
// writer lock, bounded-retrying until ctx is done.
func Open(ctx context.Context, basePath string, mode Mode, opts ...Option) (*Barecat, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	var lock *lockfile.Lock
	if mode == ReadWrite {
		l, err := lockfile.AcquireExclusive(ctx, lockPath(basePath))
		if err != nil {
			return nil, fmt.Errorf("barecat: acquire writer lock: %w", err)
		}
		lock = l
	}

	idx, err := index.Open(ctx, indexPath(basePath), index.WithLogger(cfg.log))
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("barecat: open index: %w", err)
	}

	limit, err := idx.ShardSizeLimit(ctx)
	if err != nil {
		idx.Close()
		lock.Unlock()
		return nil, err
	}

	knownLengths, err := shardTailLengths(ctx, idx)
	if err != nil {
		idx.Close()
		lock.Unlock()
		return nil, err
	}

	storeMode := shardstore.ReadOnly
	if mode == ReadWrite {
		storeMode = shardstore.ReadWrite
	}
	store, err := shardstore.Open(ctx, basePath, storeMode, limit, knownLengths,
		shardstore.WithMmap(cfg.useMmap), shardstore.WithLogger(cfg.log))
	if err != nil {
		idx.Close()
		lock.Unlock()
		return nil, fmt.Errorf("barecat: open shard store: %w", err)
	}

	return &Barecat{basePath: basePath, mode: mode, cfg: cfg, idx: idx, shards: store, lock: lock}, nil
}

// ReaderHandle returns an independent read-only handle onto the same
// archive, for use from another goroutine: its own index.DB connection and
// its own shardstore.Store with its own shard file descriptors, rather than
// sharing b's. Requires WithThreadsafeReads(true) at open time. The
// returned handle must be closed independently of b and of any other
// handle obtained this way.
func (b *Barecat) ReaderHandle(ctx context.Context) (*Barecat, error) {
	if !b.cfg.threadsafeReads {
		return nil, fmt.Errorf("barecat: ReaderHandle requires WithThreadsafeReads(true)")
	}

	idx, err := index.Open(ctx, indexPath(b.basePath), index.WithLogger(b.cfg.log))
	if err != nil {
		return nil, fmt.Errorf("barecat: reader handle: open index: %w", err)
	}

	knownLengths, err := shardTailLengths(ctx, idx)
	if err != nil {
		idx.Close()
		return nil, err
	}

	store, err := shardstore.Open(ctx, b.basePath, shardstore.ReadOnly, b.cfg.shardSizeLimit, knownLengths,
		shardstore.WithMmap(b.cfg.useMmap), shardstore.WithLogger(b.cfg.log))
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("barecat: reader handle: open shard store: %w", err)
	}

	return &Barecat{basePath: b.basePath, mode: ReadOnly, cfg: b.cfg, idx: idx, shards: store}, nil
}

// shardTailLengths derives each shard's logical length from the index
// (max(offset+size) per shard), never trusting physical file size, per the
// crash-safety contract: an append that completed but whose index commit
// did not leaves orphan bytes that must stay invisible until defrag.
func shardTailLengths(ctx context.Context, idx *index.DB) (map[int]int64, error) {
	shards, err := idx.ShardsInUse(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int64, len(shards))
	for _, s := range shards {
		end, ok, err := idx.MaxOffsetEnd(ctx, s)
		if err != nil {
			return nil, err
		}
		if ok {
			out[s] = end
		}
	}
	return out, nil
}

// Close releases the shard store, index connection, and writer lock (if
// held).
func (b *Barecat) Close() error {
	var firstErr error
	if err := b.shards.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := b.idx.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if b.lock != nil {
		if err := b.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Barecat) requireWritable() error {
	if b.mode != ReadWrite {
		return bcerr.ErrReadOnly
	}
	return nil
}
