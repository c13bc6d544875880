package barecat

import (
	"context"
	"fmt"
	"os"

	"github.com/isarandi/barecat/internal/bcerr"
	"github.com/isarandi/barecat/internal/index"
	"github.com/isarandi/barecat/internal/shardstore"
)

// DuplicatePolicy controls MergeCopy's behavior when the same path appears
// in more than one source archive.
type DuplicatePolicy int

const (
	DupFail DuplicatePolicy = iota
	DupIgnoreKeepFirst
	DupAppend
)

// MergeCopy combines sources into a new archive at outPath, reading every
// source's bytes and writing them again with Put (so the output's shard
// layout is independent of the inputs'). Only bytes are copied: the output
// files carry no mode, uid, gid or mtime from their sources. Under
// DupIgnoreKeepFirst, the earliest source to define a path wins — later
// duplicates are skipped entirely. Under DupAppend, a later duplicate
// overwrites the earlier one's bytes.
func MergeCopy(ctx context.Context, sources []string, outPath string, shardSizeLimit int64, dup DuplicatePolicy) (Report, error) {
	start := timeNow()

	out, err := Create(ctx, outPath, WithShardSizeLimit(shardSizeLimit))
	if err != nil {
		return Report{}, err
	}
	defer out.Close()

	seen := map[string]bool{}
	var filesMoved int
	var bytesMoved int64

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		in, err := Open(ctx, src, ReadOnly)
		if err != nil {
			return Report{}, fmt.Errorf("barecat: merge: open source %s: %w", src, err)
		}

		it, err := in.idx.IterByAddress(ctx)
		if err != nil {
			in.Close()
			return Report{}, err
		}
		for it.Next() {
			if err := ctx.Err(); err != nil {
				it.Close()
				in.Close()
				return Report{}, err
			}
			e := it.Entry()
			if seen[e.Path] {
				switch dup {
				case DupFail:
					it.Close()
					in.Close()
					return Report{}, bcerr.NewPathError("merge", e.Path, bcerr.ErrAlreadyExists)
				case DupIgnoreKeepFirst:
					continue
				case DupAppend:
					// fall through: still copy; Put below is called with overwrite=true.
				}
			}

			data, err := in.shards.Read(ctx, e.Shard, e.Offset, e.Size)
			if err != nil {
				it.Close()
				in.Close()
				return Report{}, err
			}
			if err := out.Put(ctx, e.Path, data, dup == DupAppend); err != nil {
				if dup != DupAppend {
					it.Close()
					in.Close()
					return Report{}, err
				}
			}
			seen[e.Path] = true
			filesMoved++
			bytesMoved += e.Size
		}
		if err := it.Err(); err != nil {
			it.Close()
			in.Close()
			return Report{}, err
		}
		it.Close()
		if err := in.Close(); err != nil {
			return Report{}, err
		}
	}

	return Report{FilesMoved: filesMoved, BytesMoved: bytesMoved, Duration: timeNow().Sub(start)}, nil
}

// MergeSymlink combines sources into a new archive at outPath without
// reading any file bytes: shards are renumbered with a monotonically
// increasing counter across sources and the output index cites them at
// their original offsets. Every source must itself be a barecat archive
// (not a foreign format) and DupAppend is not supported, since no bytes are
// actually appended anywhere.
func MergeSymlink(ctx context.Context, sources []string, outPath string) (Report, error) {
	start := timeNow()

	out, err := index.Create(ctx, outPath+indexFileSuffix)
	if err != nil {
		return Report{}, err
	}
	defer out.Close()

	nextShard := 0
	var filesMoved int
	var bytesMoved int64

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		srcIdx, err := index.Open(ctx, src+indexFileSuffix)
		if err != nil {
			return Report{}, fmt.Errorf("barecat: merge-symlink: %s is not a barecat archive: %w", src, err)
		}

		shardMap := map[int]int{}
		it, err := srcIdx.IterByAddress(ctx)
		if err != nil {
			srcIdx.Close()
			return Report{}, err
		}
		for it.Next() {
			e := it.Entry()
			newShard, ok := shardMap[e.Shard]
			if !ok {
				newShard = nextShard
				shardMap[e.Shard] = newShard
				nextShard++
				if err := linkShardFile(src, outPath, e.Shard, newShard); err != nil {
					it.Close()
					srcIdx.Close()
					return Report{}, err
				}
			}
			e.Shard = newShard
			tx, err := out.BeginTx(ctx)
			if err != nil {
				it.Close()
				srcIdx.Close()
				return Report{}, err
			}
			if err := index.InsertFileTx(ctx, tx, e); err != nil {
				tx.Rollback()
				it.Close()
				srcIdx.Close()
				if err == bcerr.ErrAlreadyExists {
					return Report{}, bcerr.NewPathError("merge-symlink", e.Path, bcerr.ErrAlreadyExists)
				}
				return Report{}, err
			}
			if err := tx.Commit(); err != nil {
				it.Close()
				srcIdx.Close()
				return Report{}, err
			}
			filesMoved++
			bytesMoved += e.Size
		}
		if err := it.Err(); err != nil {
			it.Close()
			srcIdx.Close()
			return Report{}, err
		}
		it.Close()
		if err := srcIdx.Close(); err != nil {
			return Report{}, err
		}
	}

	if err := out.RecomputeStats(ctx); err != nil {
		return Report{}, err
	}

	return Report{FilesMoved: filesMoved, BytesMoved: bytesMoved, Duration: timeNow().Sub(start)}, nil
}

// linkShardFile symlinks destination shard dstShard of dst to source shard
// srcShard of src, so MergeSymlink never copies bytes and the merge's
// provenance stays discoverable via readlink.
func linkShardFile(src, dst string, srcShard, dstShard int) error {
	from := shardstore.ShardPath(src, srcShard)
	to := shardstore.ShardPath(dst, dstShard)
	return os.Symlink(from, to)
}
