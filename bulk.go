package barecat

import (
	"context"
	"fmt"

	"github.com/isarandi/barecat/internal/index"
	"github.com/isarandi/barecat/internal/pathkey"
)

// BulkSession is a fast-ingest window: stats triggers are disabled for its
// duration and recomputed once in bulk on Commit, matching §4.5's
// bulk-import finalization path.
type BulkSession struct {
	b *Barecat
}

// BeginBulk disables live stats propagation. Callers must call Commit (or
// re-enable triggers themselves) before using the archive normally again;
// an uncommitted session left open leaves num_files_tree/size_tree stale.
func (b *Barecat) BeginBulk(ctx context.Context) (*BulkSession, error) {
	if err := b.requireWritable(); err != nil {
		return nil, err
	}
	if err := b.idx.SetUseTriggers(ctx, false); err != nil {
		return nil, err
	}
	return &BulkSession{b: b}, nil
}

// Put appends data at path without running stats triggers.
func (bs *BulkSession) Put(ctx context.Context, path string, data []byte) error {
	clean, err := pathkey.Clean(path)
	if err != nil {
		return err
	}
	shard, offset, size, crc, err := bs.b.shards.Append(ctx, data)
	if err != nil {
		return fmt.Errorf("barecat: bulk put %s: %w", path, err)
	}
	tx, err := bs.b.idx.BeginTx(ctx)
	if err != nil {
		return err
	}
	entry := index.FileEntry{Path: clean, Parent: pathkey.Parent(clean), Shard: shard, Offset: offset, Size: size, CRC32C: &crc}
	if err := index.InsertFileTx(ctx, tx, entry); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Commit recomputes directory stats in bulk and re-enables live trigger
// propagation for subsequent normal operations.
func (bs *BulkSession) Commit(ctx context.Context) error {
	if err := bs.b.idx.RecomputeStats(ctx); err != nil {
		return err
	}
	return bs.b.idx.SetUseTriggers(ctx, true)
}
