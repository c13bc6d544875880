package barecat

import (
	"context"
	"io"

	"github.com/isarandi/barecat/internal/bcerr"
	"github.com/isarandi/barecat/internal/pathkey"
)

// FileHandle is a seekable read-only view of one archived file's bytes. It
// never verifies the stored checksum; that's VerifyFull's job, not the
// per-read hot path's.
type FileHandle struct {
	ctx    context.Context
	store  readerAt
	shard  int
	base   int64
	size   int64
	pos    int64
}

type readerAt interface {
	ReadAt(ctx context.Context, shard int, offset int64, buf []byte) (int, error)
}

// OpenFile returns a FileHandle over path's bytes.
func (b *Barecat) OpenFile(ctx context.Context, path string, flags OpenFlag) (*FileHandle, error) {
	clean, err := pathkey.Clean(path)
	if err != nil {
		return nil, bcerr.NewPathError("open", path, err)
	}
	e, err := b.idx.LookupFile(ctx, clean)
	if err != nil {
		return nil, bcerr.NewPathError("open", path, err)
	}
	return &FileHandle{ctx: ctx, store: b.shards, shard: e.Shard, base: e.Offset, size: e.Size}, nil
}

// Read implements io.Reader.
func (f *FileHandle) Read(p []byte) (int, error) {
	if f.pos >= f.size {
		return 0, io.EOF
	}
	remaining := f.size - f.pos
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := f.store.ReadAt(f.ctx, f.shard, f.base+f.pos, p)
	f.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (f *FileHandle) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = f.pos + offset
	case io.SeekEnd:
		newPos = f.size + offset
	default:
		return 0, bcerr.NewPathError("seek", "", io.ErrUnexpectedEOF)
	}
	if newPos < 0 {
		return 0, bcerr.NewPathError("seek", "", io.ErrUnexpectedEOF)
	}
	f.pos = newPos
	return f.pos, nil
}

// Tell returns the current read position.
func (f *FileHandle) Tell() int64 { return f.pos }

// Size returns the file's total byte length.
func (f *FileHandle) Size() int64 { return f.size }
