package barecat

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isarandi/barecat/internal/bcerr"
)

func newTestArchive(t *testing.T, opts ...Option) *Barecat {
	t.Helper()
	dir := t.TempDir()
	bc, err := Create(context.Background(), filepath.Join(dir, "archive"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { bc.Close() })
	return bc
}

func TestScenario1EmptyArchiveListing(t *testing.T) {
	bc := newTestArchive(t)
	ctx := context.Background()

	entries, err := bc.ListDir(ctx, "")
	require.NoError(t, err)
	require.Empty(t, entries)

	st, err := bc.Stat(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(0), st.NumFilesTree)
	require.Equal(t, int64(0), st.SizeTree)
}

func TestScenario2SingleFileRoundTrip(t *testing.T) {
	bc := newTestArchive(t)
	ctx := context.Background()

	require.NoError(t, bc.Put(ctx, "a.txt", []byte("hello"), false))

	data, err := bc.Get(ctx, "a.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	entries, err := bc.ListDir(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, entries)

	st, err := bc.Stat(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(5), st.SizeTree)
	require.Equal(t, int64(1), st.NumFilesTree)

	length, err := bc.shards.ShardLength(0)
	require.NoError(t, err)
	require.Equal(t, int64(5), length)
}

func TestScenario3NestedDirectoryPropagation(t *testing.T) {
	bc := newTestArchive(t)
	ctx := context.Background()

	data := make([]byte, 1000)
	require.NoError(t, bc.Put(ctx, "x/y/z.bin", data, false))

	root, err := bc.ListDir(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, root)

	x, err := bc.ListDir(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, []string{"x/y"}, x)

	xy, err := bc.ListDir(ctx, "x/y")
	require.NoError(t, err)
	require.Equal(t, []string{"x/y/z.bin"}, xy)

	rootSt, err := bc.Stat(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), rootSt.NumFilesTree)
	require.Equal(t, int64(1000), rootSt.SizeTree)
	require.Equal(t, int64(1), rootSt.NumSubdirs)

	xSt, err := bc.Stat(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, int64(1), xSt.NumSubdirs)

	xySt, err := bc.Stat(ctx, "x/y")
	require.NoError(t, err)
	require.Equal(t, int64(1), xySt.NumFiles)
}

func TestScenario4ShardRotation(t *testing.T) {
	bc := newTestArchive(t, WithShardSizeLimit(100))
	ctx := context.Background()

	require.NoError(t, bc.Put(ctx, "f1", make([]byte, 60), false))
	require.NoError(t, bc.Put(ctx, "f2", make([]byte, 50), false))
	require.NoError(t, bc.Put(ctx, "f3", make([]byte, 70), false))

	f1, err := bc.idx.LookupFile(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, 0, f1.Shard)
	require.Equal(t, int64(0), f1.Offset)

	f2, err := bc.idx.LookupFile(ctx, "f2")
	require.NoError(t, err)
	require.Equal(t, 1, f2.Shard)
	require.Equal(t, int64(0), f2.Offset)

	f3, err := bc.idx.LookupFile(ctx, "f3")
	require.NoError(t, err)
	require.Equal(t, 2, f3.Shard)
	require.Equal(t, int64(0), f3.Offset)
}

func TestScenario5DeletionLeavesHoleDefragCompacts(t *testing.T) {
	bc := newTestArchive(t)
	ctx := context.Background()

	aData := make([]byte, 100)
	for i := range aData {
		aData[i] = byte(i)
	}
	bData := make([]byte, 50)
	for i := range bData {
		bData[i] = byte(200 + i)
	}

	require.NoError(t, bc.Put(ctx, "a", aData, false))
	require.NoError(t, bc.Put(ctx, "b", bData, false))
	require.NoError(t, bc.Delete(ctx, "a"))

	got, err := bc.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, bData, got)

	length, err := bc.shards.ShardLength(0)
	require.NoError(t, err)
	require.Equal(t, int64(150), length)

	_, err = bc.Defrag(ctx)
	require.NoError(t, err)

	bEntry, err := bc.idx.LookupFile(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, int64(0), bEntry.Offset)

	length, err = bc.shards.ShardLength(0)
	require.NoError(t, err)
	require.Equal(t, int64(50), length)

	got, err = bc.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, bData, got)
}

func TestScenario6CRCMismatchDetected(t *testing.T) {
	bc := newTestArchive(t)
	ctx := context.Background()

	require.NoError(t, bc.Put(ctx, "c.bin", []byte("abcdef"), false))

	_, err := bc.shards.WriteAtForDefrag(ctx, 0, 0, []byte("X"))
	require.NoError(t, err)

	_, err = bc.Get(ctx, "c.bin")
	require.Error(t, err)
	var integrityErr *bcerr.IntegrityError
	require.ErrorAs(t, err, &integrityErr)

	report, err := bc.VerifyFull(ctx)
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 1)
	require.Equal(t, "c.bin", report.Mismatches[0].Path)
}
