package barecat

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isarandi/barecat/internal/bcerr"
)

// failingReaderAt errors out after returning n bytes, so Ingest's mid-stream
// rollback path gets exercised with real partial writes behind it.
type failingReaderAt struct {
	data []byte
	n    int
	read int
}

func (r *failingReaderAt) Read(p []byte) (int, error) {
	if r.read >= r.n {
		return 0, errors.New("synthetic read failure")
	}
	remaining := r.n - r.read
	toCopy := len(p)
	if toCopy > remaining {
		toCopy = remaining
	}
	copy(p, r.data[r.read:r.read+toCopy])
	r.read += toCopy
	return toCopy, nil
}

func TestIngestStreamsInChunksWithoutSplittingAFileAcrossShards(t *testing.T) {
	bc := newTestArchive(t, WithShardSizeLimit(1<<12))
	ctx := context.Background()

	data := make([]byte, ingestChunkSize*5+17)
	for i := range data {
		data[i] = byte(i)
	}

	entry, err := bc.Ingest(ctx, "big.bin", 0, 0o644, bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), entry.Size)

	got, err := bc.Get(ctx, "big.bin")
	require.NoError(t, err)
	require.Equal(t, data, got)

	length, err := bc.shards.ShardLength(entry.Shard)
	require.NoError(t, err)
	require.GreaterOrEqual(t, length, entry.Offset+entry.Size, "the whole streamed file must land in one shard")
}

func TestIngestRollsBackShardOnMidStreamReadFailure(t *testing.T) {
	bc := newTestArchive(t)
	ctx := context.Background()

	require.NoError(t, bc.Put(ctx, "before", []byte("anchor"), false))
	preLength, err := bc.shards.ShardLength(bc.shards.CurrentShard())
	require.NoError(t, err)

	payload := make([]byte, ingestChunkSize*3)
	r := &failingReaderAt{data: payload, n: ingestChunkSize*2 + 5}

	_, err = bc.Ingest(ctx, "broken", 0, 0o644, r)
	require.ErrorIs(t, err, bcerr.ErrIngestFailed)

	length, err := bc.shards.ShardLength(bc.shards.CurrentShard())
	require.NoError(t, err)
	require.Equal(t, preLength, length, "failed ingest must leave no partial bytes behind")

	exists, err := bc.Contains(ctx, "broken")
	require.NoError(t, err)
	require.False(t, exists)
}
