package barecat

import (
	"context"
	"time"

	"github.com/isarandi/barecat/internal/index"
)

func timeNow() time.Time { return time.Now() }

// Defrag performs a full defragmentation: every file is visited in address
// order and, if it sits after a gap, moved down to close the gap; each
// shard's tail is then truncated once its true end is known.
func (b *Barecat) Defrag(ctx context.Context) (Report, error) {
	start := timeNow()
	if err := b.requireWritable(); err != nil {
		return Report{}, err
	}

	shards, err := b.idx.ShardsInUse(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	report.ShardsBefore = b.shards.ShardCount()

	for _, shard := range shards {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		moved, reclaimed, err := b.compactShard(ctx, shard)
		if err != nil {
			return report, err
		}
		report.FilesMoved += moved
		report.BytesReclaimed += reclaimed
	}

	report.ShardsAfter = b.shards.ShardCount()
	report.Duration = timeNow().Sub(start)
	return report, nil
}

// compactShard repeatedly finds the first gap in shard and slides every
// file after it down by the gap's length, until no gap remains, then
// truncates the shard to its new (shorter) true length.
func (b *Barecat) compactShard(ctx context.Context, shard int) (filesMoved int, bytesReclaimed int64, err error) {
	originalEnd, _, err := b.idx.MaxOffsetEnd(ctx, shard)
	if err != nil {
		return 0, 0, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return filesMoved, bytesReclaimed, err
		}
		gaps, err := b.idx.GapsInShard(ctx, shard)
		if err != nil {
			return filesMoved, bytesReclaimed, err
		}
		if len(gaps) == 0 {
			break
		}
		gap := gaps[0]

		it, err := b.idx.IterByAddress(ctx)
		if err != nil {
			return filesMoved, bytesReclaimed, err
		}
		var toMove []index.FileEntry
		for it.Next() {
			e := it.Entry()
			if e.Shard == gap.Shard && e.Offset >= gap.Start+gap.Length {
				toMove = append(toMove, e)
			}
		}
		if err := it.Err(); err != nil {
			it.Close()
			return filesMoved, bytesReclaimed, err
		}
		it.Close()

		if len(toMove) == 0 {
			break
		}
		// Move only the nearest file after the gap; re-query gaps afterward
		// since closing this one may reveal or remove others.
		first := toMove[0]
		for _, e := range toMove {
			if e.Offset < first.Offset {
				first = e
			}
		}

		newOffset := gap.Start
		if err := b.relocateFile(ctx, first, newOffset); err != nil {
			return filesMoved, bytesReclaimed, err
		}
		filesMoved++
	}

	end, ok, err := b.idx.MaxOffsetEnd(ctx, shard)
	if err != nil {
		return filesMoved, bytesReclaimed, err
	}
	if ok {
		bytesReclaimed = originalEnd - end
		if err := b.shards.Truncate(ctx, shard, end); err != nil {
			return filesMoved, bytesReclaimed, err
		}
	}
	return filesMoved, bytesReclaimed, nil
}

// relocateFile copies e's bytes to newOffset within the same shard and
// updates its index row. newOffset is always less than e.Offset (files only
// slide backward into a gap); when the file is longer than the gap the two
// ranges overlap, which is safe because the whole file is read into memory
// before anything is written.
func (b *Barecat) relocateFile(ctx context.Context, e index.FileEntry, newOffset int64) error {
	data, err := b.shards.Read(ctx, e.Shard, e.Offset, e.Size)
	if err != nil {
		return err
	}
	if _, err := b.shards.WriteAtForDefrag(ctx, e.Shard, newOffset, data); err != nil {
		return err
	}

	tx, err := b.idx.BeginTx(ctx)
	if err != nil {
		return err
	}
	if _, err := index.DeleteFileTx(ctx, tx, e.Path); err != nil {
		tx.Rollback()
		return err
	}
	e.Offset = newOffset
	if err := index.InsertFileTx(ctx, tx, e); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// DefragQuick runs best-fit gap-fill moves within a time budget, checking
// ctx between each move, stopping early once the budget is spent.
func (b *Barecat) DefragQuick(ctx context.Context, budget time.Duration) (Report, error) {
	start := timeNow()
	if err := b.requireWritable(); err != nil {
		return Report{}, err
	}
	deadline := start.Add(budget)

	shards, err := b.idx.ShardsInUse(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, shard := range shards {
		for {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if timeNow().After(deadline) {
				report.Duration = timeNow().Sub(start)
				return report, nil
			}
			gaps, err := b.idx.GapsInShard(ctx, shard)
			if err != nil {
				return report, err
			}
			if len(gaps) == 0 {
				break
			}
			trailing, ok, err := b.idx.LargestTrailingFile(ctx, shard)
			if err != nil {
				return report, err
			}
			if !ok {
				break
			}
			// best-fit: the trailing file only needs moving if it sits after
			// some gap; find the first gap it can fill without overflow.
			var target *index.Gap
			for i := range gaps {
				if gaps[i].Length >= trailing.Size && gaps[i].Start < trailing.Offset {
					target = &gaps[i]
					break
				}
			}
			if target == nil {
				break
			}
			if err := b.relocateFile(ctx, trailing, target.Start); err != nil {
				return report, err
			}
			report.FilesMoved++
			report.BytesReclaimed += trailing.Size
		}
	}
	report.Duration = timeNow().Sub(start)
	return report, nil
}

// DefragSmart groups maximal contiguous runs of files (no gap between
// consecutive offsets) and moves each run with one read and one write,
// instead of relocateFile's one-syscall-pair-per-file.
func (b *Barecat) DefragSmart(ctx context.Context) (Report, error) {
	start := timeNow()
	if err := b.requireWritable(); err != nil {
		return Report{}, err
	}

	it, err := b.idx.IterByAddress(ctx)
	if err != nil {
		return Report{}, err
	}
	var shardOrder []int
	bucketsByShard := map[int][]index.FileEntry{}
	for it.Next() {
		e := it.Entry()
		if _, ok := bucketsByShard[e.Shard]; !ok {
			shardOrder = append(shardOrder, e.Shard)
		}
		bucketsByShard[e.Shard] = append(bucketsByShard[e.Shard], e)
	}
	if err := it.Err(); err != nil {
		it.Close()
		return Report{}, err
	}
	it.Close()

	var report Report
	report.ShardsBefore = b.shards.ShardCount()

	for _, shard := range shardOrder {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		moved, reclaimed, err := b.compactShardRuns(ctx, shard, bucketsByShard[shard])
		if err != nil {
			return report, err
		}
		report.FilesMoved += moved
		report.BytesReclaimed += reclaimed
	}

	report.ShardsAfter = b.shards.ShardCount()
	report.Duration = timeNow().Sub(start)
	return report, nil
}

// compactShardRuns slides every maximal contiguous run of files (entries
// are already ordered by offset within the shard) down to close gaps
// between runs, batching each run into a single read and a single write.
func (b *Barecat) compactShardRuns(ctx context.Context, shard int, entries []index.FileEntry) (filesMoved int, bytesReclaimed int64, err error) {
	if len(entries) == 0 {
		return 0, 0, nil
	}
	originalEnd := entries[len(entries)-1].Offset + entries[len(entries)-1].Size

	var writeCursor int64
	i := 0
	for i < len(entries) {
		runStart := i
		runBegin := entries[i].Offset
		runEnd := runBegin + entries[i].Size
		i++
		for i < len(entries) && entries[i].Offset == runEnd {
			runEnd += entries[i].Size
			i++
		}
		run := entries[runStart:i]
		runLen := runEnd - runBegin

		if runBegin != writeCursor {
			if err := ctx.Err(); err != nil {
				return filesMoved, bytesReclaimed, err
			}
			data, err := b.shards.Read(ctx, shard, runBegin, runLen)
			if err != nil {
				return filesMoved, bytesReclaimed, err
			}
			if _, err := b.shards.WriteAtForDefrag(ctx, shard, writeCursor, data); err != nil {
				return filesMoved, bytesReclaimed, err
			}

			shift := writeCursor - runBegin
			tx, err := b.idx.BeginTx(ctx)
			if err != nil {
				return filesMoved, bytesReclaimed, err
			}
			for _, e := range run {
				if _, err := index.DeleteFileTx(ctx, tx, e.Path); err != nil {
					tx.Rollback()
					return filesMoved, bytesReclaimed, err
				}
				e.Offset += shift
				if err := index.InsertFileTx(ctx, tx, e); err != nil {
					tx.Rollback()
					return filesMoved, bytesReclaimed, err
				}
			}
			if err := tx.Commit(); err != nil {
				return filesMoved, bytesReclaimed, err
			}
			filesMoved += len(run)
		}
		writeCursor += runLen
	}

	bytesReclaimed = originalEnd - writeCursor
	if err := b.shards.Truncate(ctx, shard, writeCursor); err != nil {
		return filesMoved, bytesReclaimed, err
	}
	return filesMoved, bytesReclaimed, nil
}
