package barecat

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isarandi/barecat/internal/bcerr"
	"github.com/isarandi/barecat/internal/shardstore"
)

func TestRoundTripGetPutVariousPaths(t *testing.T) {
	bc := newTestArchive(t)
	ctx := context.Background()

	cases := map[string][]byte{
		"plain.txt":        []byte("just some bytes"),
		"dir/sub/file.bin": {0xde, 0xad, 0xbe, 0xef},
		"empty.bin":        {},
	}
	for path, data := range cases {
		require.NoError(t, bc.Put(ctx, path, data, false))
	}
	for path, want := range cases {
		got, err := bc.Get(ctx, path)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestRenameDirectoryMovesFilesAndStructure(t *testing.T) {
	bc := newTestArchive(t)
	ctx := context.Background()

	require.NoError(t, bc.Put(ctx, "old/a.txt", []byte("one"), false))
	require.NoError(t, bc.Put(ctx, "old/sub/b.txt", []byte("two"), false))
	require.NoError(t, bc.Mkdir(ctx, "old/empty", false))

	require.NoError(t, bc.Rename(ctx, "old", "new"))

	isDir, err := bc.IsDir(ctx, "old")
	require.NoError(t, err)
	require.False(t, isDir, "old should no longer exist after rename")

	isDir, err = bc.IsDir(ctx, "old/sub")
	require.NoError(t, err)
	require.False(t, isDir)

	isDir, err = bc.IsDir(ctx, "old/empty")
	require.NoError(t, err)
	require.False(t, isDir)

	got, err := bc.Get(ctx, "new/a.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got)

	got, err = bc.Get(ctx, "new/sub/b.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), got)

	isDir, err = bc.IsDir(ctx, "new/empty")
	require.NoError(t, err)
	require.True(t, isDir, "empty subdirectory structure should survive the rename")

	st, err := bc.Stat(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, int64(2), st.NumFilesTree)
	require.Equal(t, int64(2), st.NumSubdirs)
}

func TestDefragIsIdempotent(t *testing.T) {
	bc := newTestArchive(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, bc.Put(ctx, string(rune('a'+i))+".bin", make([]byte, 17*(i+1)), false))
	}
	for i := 0; i < 10; i += 2 {
		require.NoError(t, bc.Delete(ctx, string(rune('a'+i))+".bin"))
	}

	_, err := bc.Defrag(ctx)
	require.NoError(t, err)

	second, err := bc.Defrag(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, second.FilesMoved)
	require.Equal(t, int64(0), second.BytesReclaimed)

	it, err := bc.idx.IterByAddress(ctx)
	require.NoError(t, err)
	defer it.Close()
	var lastShard = -1
	var lastEnd int64
	for it.Next() {
		e := it.Entry()
		if e.Shard != lastShard {
			lastShard = e.Shard
			lastEnd = 0
		}
		require.Equal(t, lastEnd, e.Offset, "expected no gap before %s", e.Path)
		lastEnd = e.Offset + e.Size
	}
	require.NoError(t, it.Err())
}

func TestVerifyFullIsIdempotentOnHealthyArchive(t *testing.T) {
	bc := newTestArchive(t)
	ctx := context.Background()

	require.NoError(t, bc.Put(ctx, "a", []byte("one"), false))
	require.NoError(t, bc.Put(ctx, "b/c", []byte("two"), false))

	r1, err := bc.VerifyFull(ctx)
	require.NoError(t, err)
	require.True(t, r1.OK())

	r2, err := bc.VerifyFull(ctx)
	require.NoError(t, err)
	require.True(t, r2.OK())
	require.Equal(t, r1.FilesChecked, r2.FilesChecked)
}

func TestReshardRespectsNewLimitExceptOversizeFiles(t *testing.T) {
	bc := newTestArchive(t, WithShardSizeLimit(1<<20))
	ctx := context.Background()

	require.NoError(t, bc.Put(ctx, "small1", make([]byte, 10), false))
	require.NoError(t, bc.Put(ctx, "small2", make([]byte, 10), false))
	require.NoError(t, bc.Put(ctx, "big", make([]byte, 500), false))

	_, err := bc.Reshard(ctx, 20)
	require.NoError(t, err)

	shards, err := bc.idx.ShardsInUse(ctx)
	require.NoError(t, err)
	for _, s := range shards {
		length, err := bc.shards.ShardLength(s)
		require.NoError(t, err)
		require.True(t, length <= 20 || length == 500, "shard %d length %d violates limit", s, length)
	}

	got, err := bc.Get(ctx, "big")
	require.NoError(t, err)
	require.Len(t, got, 500)
}

func TestReshardRemovesOrphanedShardFilesWhenShrinking(t *testing.T) {
	bc := newTestArchive(t, WithShardSizeLimit(10))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, bc.Put(ctx, string(rune('a'+i)), make([]byte, 10), false))
	}
	require.Equal(t, 5, bc.shards.ShardCount())

	basePath := bc.basePath
	_, err := bc.Reshard(ctx, 1<<20)
	require.NoError(t, err)
	require.Equal(t, 1, bc.shards.ShardCount())

	for k := 1; k < 5; k++ {
		_, err := os.Stat(shardstore.ShardPath(basePath, k))
		require.True(t, os.IsNotExist(err), "orphaned shard file %d should be removed after a shrinking reshard", k)
	}
}

func TestReaderHandleIsIndependentOfTheOriginalBarecat(t *testing.T) {
	bc := newTestArchive(t, WithThreadsafeReads(true))
	ctx := context.Background()

	require.NoError(t, bc.Put(ctx, "a.txt", []byte("shared"), false))

	reader, err := bc.ReaderHandle(ctx)
	require.NoError(t, err)
	defer reader.Close()

	require.NotSame(t, bc.idx, reader.idx)
	require.NotSame(t, bc.shards, reader.shards)

	got, err := reader.Get(ctx, "a.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("shared"), got)

	err = reader.Put(ctx, "b.txt", []byte("nope"), false)
	require.ErrorIs(t, err, bcerr.ErrReadOnly)
}

func TestMergeSymlinkPreservesBytes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	src1, err := Create(ctx, filepath.Join(dir, "src1"))
	require.NoError(t, err)
	require.NoError(t, src1.Put(ctx, "one.txt", []byte("first archive"), false))
	require.NoError(t, src1.Close())

	src2, err := Create(ctx, filepath.Join(dir, "src2"))
	require.NoError(t, err)
	require.NoError(t, src2.Put(ctx, "two.txt", []byte("second archive"), false))
	require.NoError(t, src2.Close())

	outPath := filepath.Join(dir, "merged")
	_, err = MergeSymlink(ctx, []string{filepath.Join(dir, "src1"), filepath.Join(dir, "src2")}, outPath)
	require.NoError(t, err)

	out, err := Open(ctx, outPath, ReadOnly)
	require.NoError(t, err)
	defer out.Close()

	got1, err := out.Get(ctx, "one.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("first archive"), got1)

	got2, err := out.Get(ctx, "two.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("second archive"), got2)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	base := filepath.Join(dir, "archive")

	bc, err := Create(ctx, base)
	require.NoError(t, err)
	require.NoError(t, bc.Put(ctx, "x", []byte("y"), false))
	require.NoError(t, bc.Close())

	fromMaj1, fromMin1, toMaj1, toMin1, err := Migrate(ctx, base)
	require.NoError(t, err)
	require.Equal(t, toMaj1, fromMaj1)
	require.Equal(t, toMin1, fromMin1)

	fromMaj2, fromMin2, toMaj2, toMin2, err := Migrate(ctx, base)
	require.NoError(t, err)
	require.Equal(t, fromMaj1, fromMaj2)
	require.Equal(t, fromMin1, fromMin2)
	require.Equal(t, toMaj1, toMaj2)
	require.Equal(t, toMin1, toMin2)
}
