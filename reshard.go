package barecat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/isarandi/barecat/internal/index"
	"github.com/isarandi/barecat/internal/shardstore"
)

// Reshard rewrites every shard to respect newShardSizeLimit. It never
// splits a single file across shards, so a file larger than the new limit
// keeps a shard to itself (§9 Open Question (b)). Output is built under a
// uuid-suffixed sibling base path and atomically swapped in, so a reader
// concurrently open against the old layout is never disturbed mid-write.
func (b *Barecat) Reshard(ctx context.Context, newShardSizeLimit int64) (Report, error) {
	start := timeNow()
	if err := b.requireWritable(); err != nil {
		return Report{}, err
	}

	tmpBase := b.basePath + "-reshard-" + uuid.New().String()
	newStore, err := shardstore.Open(ctx, tmpBase, shardstore.ReadWrite, newShardSizeLimit, nil,
		shardstore.WithLogger(b.cfg.log))
	if err != nil {
		return Report{}, fmt.Errorf("barecat: reshard: open new shard store: %w", err)
	}

	it, err := b.idx.IterByAddress(ctx)
	if err != nil {
		newStore.Close()
		return Report{}, err
	}

	type relocation struct {
		path         string
		shard        int
		offset, size int64
	}
	var relocations []relocation

	for it.Next() {
		if err := ctx.Err(); err != nil {
			it.Close()
			newStore.Close()
			return Report{}, err
		}
		e := it.Entry()
		data, err := b.shards.Read(ctx, e.Shard, e.Offset, e.Size)
		if err != nil {
			it.Close()
			newStore.Close()
			return Report{}, err
		}
		shard, offset, size, _, err := newStore.Append(ctx, data)
		if err != nil {
			it.Close()
			newStore.Close()
			return Report{}, err
		}
		relocations = append(relocations, relocation{path: e.Path, shard: shard, offset: offset, size: size})
	}
	if err := it.Err(); err != nil {
		it.Close()
		newStore.Close()
		return Report{}, err
	}
	it.Close()

	shardsBefore := b.shards.ShardCount()
	shardsAfter := newStore.ShardCount()
	if err := newStore.Close(); err != nil {
		return Report{}, err
	}

	for _, r := range relocations {
		tx, err := b.idx.BeginTx(ctx)
		if err != nil {
			return Report{}, err
		}
		e, err := index.DeleteFileTx(ctx, tx, r.path)
		if err != nil {
			tx.Rollback()
			return Report{}, err
		}
		e.Shard, e.Offset, e.Size = r.shard, r.offset, r.size
		if err := index.InsertFileTx(ctx, tx, e); err != nil {
			tx.Rollback()
			return Report{}, err
		}
		if err := tx.Commit(); err != nil {
			return Report{}, err
		}
	}

	if err := b.idx.SetShardSizeLimit(ctx, newShardSizeLimit); err != nil {
		return Report{}, err
	}
	b.cfg.shardSizeLimit = newShardSizeLimit

	if err := b.swapShardFiles(ctx, tmpBase, shardsAfter); err != nil {
		return Report{}, err
	}

	return Report{
		FilesMoved:   len(relocations),
		ShardsBefore: shardsBefore,
		ShardsAfter:  shardsAfter,
		Duration:     timeNow().Sub(start),
	}, nil
}

// swapShardFiles renames every B-shard-NNNNN file under tmpBase over the
// corresponding original under b.basePath, then removes any original shard
// file at or beyond newShardCount: a shrinking reshard produces fewer
// shards than before, and those trailing originals hold no live data once
// every relocation above has committed. ShardsInUse (and therefore Defrag,
// which only ever iterates shards with live file rows) never visits a
// shard with zero rows, so nothing but this sweep will ever remove them.
func (b *Barecat) swapShardFiles(ctx context.Context, tmpBase string, newShardCount int) error {
	if err := b.shards.Close(); err != nil {
		return err
	}

	dir := filepath.Dir(tmpBase)
	prefix := filepath.Base(tmpBase) + "-shard-"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		suffix := name[len(prefix):]
		oldName := shardstore.ShardPath(b.basePath, mustAtoi(suffix))
		if err := os.Rename(filepath.Join(dir, name), oldName); err != nil {
			return err
		}
	}

	oldIndices, err := shardstore.DiscoverShards(b.basePath)
	if err != nil {
		return err
	}
	for _, k := range oldIndices {
		if k >= newShardCount {
			if err := os.Remove(shardstore.ShardPath(b.basePath, k)); err != nil {
				return err
			}
		}
	}

	knownLengths, err := shardTailLengths(ctx, b.idx)
	if err != nil {
		return err
	}
	store, err := shardstore.Open(ctx, b.basePath, shardstore.ReadWrite, b.cfg.shardSizeLimit, knownLengths,
		shardstore.WithMmap(b.cfg.useMmap), shardstore.WithLogger(b.cfg.log))
	if err != nil {
		return err
	}
	b.shards = store
	return nil
}

func mustAtoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
