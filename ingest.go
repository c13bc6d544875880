package barecat

import (
	"context"
	"fmt"
	"io"

	"github.com/isarandi/barecat/internal/bcerr"
	"github.com/isarandi/barecat/internal/checksum"
	"github.com/isarandi/barecat/internal/index"
	"github.com/isarandi/barecat/internal/pathkey"
)

const ingestChunkSize = 32 * 1024

// Ingest streams r into the archive at path in bounded chunks, writing each
// one straight to the shard store as it's read and accumulating a running
// CRC32C, rather than buffering the whole input first. A mid-stream read
// failure truncates the shard back to its pre-call length and returns
// bcerr.ErrIngestFailed.
func (b *Barecat) Ingest(ctx context.Context, path string, mtimeNs int64, mode uint32, r io.Reader) (index.FileEntry, error) {
	if err := b.requireWritable(); err != nil {
		return index.FileEntry{}, err
	}
	clean, err := pathkey.Clean(path)
	if err != nil {
		return index.FileEntry{}, bcerr.NewPathError("ingest", path, err)
	}

	shardIdx := b.shards.CurrentShard()
	preLength, err := b.shards.ShardLength(shardIdx)
	if err != nil {
		return index.FileEntry{}, err
	}
	offset := preLength

	sum := checksum.NewStreaming()
	chunk := make([]byte, ingestChunkSize)
	var size int64
	first := true
	for {
		if err := ctx.Err(); err != nil {
			b.shards.Truncate(ctx, shardIdx, preLength)
			return index.FileEntry{}, err
		}
		n, readErr := r.Read(chunk)
		if n > 0 {
			sum.Update(chunk[:n])
			if first {
				shardIdx, offset, err = b.shards.AppendStreamStart(ctx, chunk[:n])
				if err != nil {
					return index.FileEntry{}, fmt.Errorf("%w: %v", bcerr.ErrIngestFailed, err)
				}
				preLength = offset
				first = false
			} else if _, err := b.shards.AppendStreamChunk(ctx, shardIdx, chunk[:n]); err != nil {
				b.shards.Truncate(ctx, shardIdx, preLength)
				return index.FileEntry{}, fmt.Errorf("%w: %v", bcerr.ErrIngestFailed, err)
			}
			size += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			b.shards.Truncate(ctx, shardIdx, preLength)
			return index.FileEntry{}, fmt.Errorf("%w: %v", bcerr.ErrIngestFailed, readErr)
		}
	}

	crc := sum.Sum32()

	tx, err := b.idx.BeginTx(ctx)
	if err != nil {
		return index.FileEntry{}, err
	}
	m := mode
	mt := mtimeNs
	entry := index.FileEntry{
		Path: clean, Parent: pathkey.Parent(clean), Shard: shardIdx, Offset: offset, Size: size,
		CRC32C: &crc, Mode: &m, MtimeNs: &mt,
	}
	if err := index.InsertFileTx(ctx, tx, entry); err != nil {
		tx.Rollback()
		return index.FileEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return index.FileEntry{}, err
	}
	return entry, nil
}

// Emit returns the size and a streaming reader for path's bytes. The
// returned ReadCloser's Close is a no-op; it exists to satisfy io.ReadCloser
// for callers that treat every source uniformly.
func (b *Barecat) Emit(ctx context.Context, path string) (int64, io.ReadCloser, error) {
	fh, err := b.OpenFile(ctx, path, OpenRead)
	if err != nil {
		return 0, nil, err
	}
	return fh.Size(), io.NopCloser(fh), nil
}
