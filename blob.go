package barecat

import (
	"context"
	"fmt"

	"github.com/isarandi/barecat/internal/bcerr"
	"github.com/isarandi/barecat/internal/checksum"
	"github.com/isarandi/barecat/internal/index"
	"github.com/isarandi/barecat/internal/pathkey"
)

// Get reads the whole of path into memory and verifies its stored CRC32C,
// returning *bcerr.IntegrityError on mismatch. FileHandle's streaming reads
// (OpenFile) skip this check; Get is the whole-file convenience path that
// pays for it.
func (b *Barecat) Get(ctx context.Context, path string) ([]byte, error) {
	clean, err := pathkey.Clean(path)
	if err != nil {
		return nil, bcerr.NewPathError("get", path, err)
	}
	e, err := b.idx.LookupFile(ctx, clean)
	if err != nil {
		return nil, bcerr.NewPathError("get", path, err)
	}
	data, err := b.shards.Read(ctx, e.Shard, e.Offset, e.Size)
	if err != nil {
		return nil, bcerr.NewPathError("get", path, err)
	}
	if e.CRC32C != nil {
		if actual := checksum.Of(data); actual != *e.CRC32C {
			return nil, &bcerr.IntegrityError{
				Path: clean, Shard: e.Shard, Offset: e.Offset,
				ExpectedCRC: *e.CRC32C, ActualCRC: actual,
			}
		}
	}
	return data, nil
}

// Put stores data at path. If overwrite is false and path already exists,
// it fails with bcerr.ErrAlreadyExists. Write ordering: append bytes to the
// shard first (not fsync'd by default), then a single transaction inserts
// the index row and runs stats propagation.
func (b *Barecat) Put(ctx context.Context, path string, data []byte, overwrite bool) error {
	if err := b.requireWritable(); err != nil {
		return err
	}
	clean, err := pathkey.Clean(path)
	if err != nil {
		return bcerr.NewPathError("put", path, err)
	}

	exists, err := b.Contains(ctx, clean)
	if err != nil {
		return err
	}
	if exists {
		if !overwrite {
			return bcerr.NewPathError("put", path, bcerr.ErrAlreadyExists)
		}
		if err := b.Delete(ctx, clean); err != nil {
			return err
		}
	}

	shard, offset, size, crc, err := b.shards.Append(ctx, data)
	if err != nil {
		return fmt.Errorf("barecat: put %s: %w", path, err)
	}

	tx, err := b.idx.BeginTx(ctx)
	if err != nil {
		return err
	}
	entry := index.FileEntry{Path: clean, Parent: pathkey.Parent(clean), Shard: shard, Offset: offset, Size: size, CRC32C: &crc}
	if err := index.InsertFileTx(ctx, tx, entry); err != nil {
		tx.Rollback()
		if truncErr := b.shards.Truncate(ctx, shard, offset); truncErr != nil {
			b.cfg.log.Warn().Err(truncErr).Msg("failed to roll back orphaned append after failed put")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// Delete removes path's index row. Its bytes remain in the shard (reclaimed
// later by Defrag); PunchHole is not called here to keep Delete a single
// fast transaction.
func (b *Barecat) Delete(ctx context.Context, path string) error {
	if err := b.requireWritable(); err != nil {
		return err
	}
	clean, err := pathkey.Clean(path)
	if err != nil {
		return bcerr.NewPathError("delete", path, err)
	}
	tx, err := b.idx.BeginTx(ctx)
	if err != nil {
		return err
	}
	if _, err := index.DeleteFileTx(ctx, tx, clean); err != nil {
		tx.Rollback()
		return bcerr.NewPathError("delete", path, err)
	}
	return tx.Commit()
}

// Contains reports whether path names a live file.
func (b *Barecat) Contains(ctx context.Context, path string) (bool, error) {
	clean, err := pathkey.Clean(path)
	if err != nil {
		return false, bcerr.NewPathError("contains", path, err)
	}
	_, err = b.idx.LookupFile(ctx, clean)
	if err == bcerr.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
