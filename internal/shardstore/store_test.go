package shardstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, shardSizeLimit int64) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "archive")
	s, err := Open(context.Background(), base, ReadWrite, shardSizeLimit, nil)
	require.NoError(t, err)
	return s, base
}

func TestAppendReadRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, 1<<20)
	defer s.Close()

	payload := []byte("hello, barecat")
	shard, offset, size, crc, err := s.Append(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, 0, shard)
	require.Equal(t, int64(0), offset)
	require.Equal(t, int64(len(payload)), size)
	require.NotZero(t, crc)

	got, err := s.Read(context.Background(), shard, offset, size)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestRotationOnSizeLimit(t *testing.T) {
	s, _ := newTestStore(t, 100)
	defer s.Close()

	ctx := context.Background()
	sizes := []int{60, 50, 70}
	var shards []int
	for _, n := range sizes {
		shard, offset, _, _, err := s.Append(ctx, make([]byte, n))
		require.NoError(t, err)
		require.Equal(t, int64(0), offset)
		shards = append(shards, shard)
	}

	require.Equal(t, []int{0, 1, 2}, shards)
	require.Equal(t, 3, s.ShardCount())
}

func TestAppendNeverSplitsAFile(t *testing.T) {
	s, _ := newTestStore(t, 10)
	defer s.Close()

	ctx := context.Background()
	shard, offset, size, _, err := s.Append(ctx, make([]byte, 1000))
	require.NoError(t, err)
	require.Equal(t, 0, shard)
	require.Equal(t, int64(0), offset)
	require.Equal(t, int64(1000), size)

	// the next file must start in a fresh shard, not overlap the oversized one.
	shard2, offset2, _, _, err := s.Append(ctx, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, 1, shard2)
	require.Equal(t, int64(0), offset2)
}

func TestTruncateShrinksShard(t *testing.T) {
	s, _ := newTestStore(t, 1<<20)
	defer s.Close()

	ctx := context.Background()
	_, _, _, _, err := s.Append(ctx, make([]byte, 100))
	require.NoError(t, err)
	_, _, _, _, err = s.Append(ctx, make([]byte, 50))
	require.NoError(t, err)

	require.NoError(t, s.Truncate(ctx, 0, 50))
	l, err := s.ShardLength(0)
	require.NoError(t, err)
	require.Equal(t, int64(50), l)
}

func TestReadOnlyRejectsAppend(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "archive")
	ctx := context.Background()

	w, err := Open(ctx, base, ReadWrite, 1<<20, nil)
	require.NoError(t, err)
	_, _, _, _, err = w.Append(ctx, []byte("seed"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(ctx, base, ReadOnly, 1<<20, nil)
	require.NoError(t, err)
	defer r.Close()

	_, _, _, _, err = r.Append(ctx, []byte("nope"))
	require.Error(t, err)
}

func TestReopenDerivesLengthFromKnownShardLengths(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "archive")
	ctx := context.Background()

	w, err := Open(ctx, base, ReadWrite, 1<<20, nil)
	require.NoError(t, err)
	_, _, _, _, err = w.Append(ctx, make([]byte, 40))
	require.NoError(t, err)
	// simulate a crash: append 10 more bytes whose index commit never
	// happens, so the physical file is longer than the index knows.
	_, _, _, _, err = w.Append(ctx, make([]byte, 10))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	reopened, err := Open(ctx, base, ReadWrite, 1<<20, map[int]int64{0: 40})
	require.NoError(t, err)
	defer reopened.Close()

	l, err := reopened.ShardLength(0)
	require.NoError(t, err)
	require.Equal(t, int64(40), l)
}
