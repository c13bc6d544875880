package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/isarandi/barecat/internal/bcerr"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	d, err := Create(context.Background(), filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func putFile(t *testing.T, d *DB, path string, size int64) {
	t.Helper()
	tx, err := d.BeginTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, InsertFileTx(context.Background(), tx, FileEntry{Path: path, Size: size}))
	require.NoError(t, tx.Commit())
}

func TestRootStartsEmpty(t *testing.T) {
	d := newTestDB(t)
	root, err := d.LookupDir(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, int64(0), root.NumFilesTree)
	require.Equal(t, int64(0), root.SizeTree)
}

func TestInsertFileMaterializesAncestorsAndPropagatesStats(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	putFile(t, d, "x/y/z.bin", 1000)

	x, err := d.LookupDir(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, int64(1), x.NumSubdirs)
	require.Equal(t, int64(1), x.NumFilesTree)
	require.Equal(t, int64(1000), x.SizeTree)

	xy, err := d.LookupDir(ctx, "x/y")
	require.NoError(t, err)
	require.Equal(t, int64(1), xy.NumFiles)
	require.Equal(t, int64(1), xy.NumFilesTree)
	require.Equal(t, int64(1000), xy.SizeTree)

	root, err := d.LookupDir(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), root.NumSubdirs)
	require.Equal(t, int64(1), root.NumFilesTree)
	require.Equal(t, int64(1000), root.SizeTree)

	names, err := d.ListChildFiles(ctx, "x/y")
	require.NoError(t, err)
	require.Equal(t, []string{"x/y/z.bin"}, names)
}

func TestDeleteFilePropagatesStatsDown(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	putFile(t, d, "a.txt", 100)
	putFile(t, d, "b.txt", 50)

	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	_, err = DeleteFileTx(ctx, tx, "a.txt")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	root, err := d.LookupDir(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), root.NumFiles)
	require.Equal(t, int64(1), root.NumFilesTree)
	require.Equal(t, int64(50), root.SizeTree)
}

func TestInsertFileDuplicateFails(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	putFile(t, d, "dup.txt", 1)

	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	err = InsertFileTx(ctx, tx, FileEntry{Path: "dup.txt", Size: 2})
	require.ErrorIs(t, err, bcerr.ErrAlreadyExists)
	tx.Rollback()
}

func TestRenameFilePropagatesBothSides(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	putFile(t, d, "src/a.bin", 10)

	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, RenameFileTx(ctx, tx, "src/a.bin", "dst/a.bin"))
	require.NoError(t, tx.Commit())

	src, err := d.LookupDir(ctx, "src")
	require.NoError(t, err)
	require.Equal(t, int64(0), src.NumFilesTree)

	dst, err := d.LookupDir(ctx, "dst")
	require.NoError(t, err)
	require.Equal(t, int64(1), dst.NumFilesTree)
	require.Equal(t, int64(10), dst.SizeTree)
}

func TestRmdirFailsWhenNotEmpty(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	putFile(t, d, "x/a.bin", 1)

	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	err = DeleteDirTx(ctx, tx, "x")
	require.Error(t, err)
	tx.Rollback()
}

func TestRecomputeStatsMatchesTriggerResult(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.SetUseTriggers(ctx, false))
	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, InsertFileTx(ctx, tx, FileEntry{Path: "a/b/c.bin", Size: 7}))
	require.NoError(t, InsertFileTx(ctx, tx, FileEntry{Path: "a/d.bin", Size: 3}))
	require.NoError(t, tx.Commit())

	// with triggers disabled, stats must still read zero until recompute.
	a, err := d.LookupDir(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(0), a.SizeTree)

	require.NoError(t, d.RecomputeStats(ctx))

	a, err = d.LookupDir(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(2), a.NumFilesTree)
	require.Equal(t, int64(10), a.SizeTree)
	require.Equal(t, int64(1), a.NumFiles)

	root, err := d.LookupDir(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(2), root.NumFilesTree)
	require.Equal(t, int64(10), root.SizeTree)
}

// TestRecomputeStatsProducesSameDirEntryAsTriggers builds the same tree two
// ways — trigger-propagated and bulk-recomputed — and diffs the resulting
// "a" DirEntry, to catch any field the bulk path forgets to fold.
func TestRecomputeStatsProducesSameDirEntryAsTriggers(t *testing.T) {
	ctx := context.Background()
	withTriggers := newTestDB(t)
	putFile(t, withTriggers, "a/b/c.bin", 7)
	putFile(t, withTriggers, "a/d.bin", 3)
	wantDir, err := withTriggers.LookupDir(ctx, "a")
	require.NoError(t, err)

	bulk := newTestDB(t)
	require.NoError(t, bulk.SetUseTriggers(ctx, false))
	tx, err := bulk.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, InsertFileTx(ctx, tx, FileEntry{Path: "a/b/c.bin", Size: 7}))
	require.NoError(t, InsertFileTx(ctx, tx, FileEntry{Path: "a/d.bin", Size: 3}))
	require.NoError(t, tx.Commit())
	require.NoError(t, bulk.RecomputeStats(ctx))
	gotDir, err := bulk.LookupDir(ctx, "a")
	require.NoError(t, err)

	if diff := cmp.Diff(wantDir, gotDir); diff != "" {
		t.Errorf("bulk-recomputed DirEntry differs from trigger-propagated one (-want +got):\n%s", diff)
	}
}

func TestIterByAddressOrdersByShardThenOffset(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, InsertFileTx(ctx, tx, FileEntry{Path: "a", Shard: 1, Offset: 50, Size: 1}))
	require.NoError(t, InsertFileTx(ctx, tx, FileEntry{Path: "b", Shard: 0, Offset: 100, Size: 1}))
	require.NoError(t, InsertFileTx(ctx, tx, FileEntry{Path: "c", Shard: 0, Offset: 0, Size: 1}))
	require.NoError(t, tx.Commit())

	it, err := d.IterByAddress(ctx)
	require.NoError(t, err)
	defer it.Close()

	var order []string
	for it.Next() {
		order = append(order, it.Entry().Path)
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"c", "b", "a"}, order)
}

func TestGapsInShardFindsHole(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, InsertFileTx(ctx, tx, FileEntry{Path: "a", Shard: 0, Offset: 0, Size: 100}))
	require.NoError(t, InsertFileTx(ctx, tx, FileEntry{Path: "b", Shard: 0, Offset: 150, Size: 50}))
	require.NoError(t, tx.Commit())

	gaps, err := d.GapsInShard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	require.Equal(t, int64(100), gaps[0].Start)
	require.Equal(t, int64(50), gaps[0].Length)
}
