//go:build unix

package lockfile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireExclusiveGrantsAndReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	lock, err := AcquireExclusive(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, lock.Unlock())
}

func TestAcquireExclusiveBlocksSecondHolderUntilRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	first, err := AcquireExclusive(context.Background(), path)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = AcquireExclusive(ctx, path)
	require.Error(t, err)

	require.NoError(t, first.Unlock())

	second, err := AcquireExclusive(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, second.Unlock())
}
