//go:build !unix

package lockfile

import (
	"context"
	"fmt"
)

// Lock is a no-op placeholder on platforms without flock.
type Lock struct{}

// AcquireExclusive is unsupported outside unix and always returns an
// error, so opening or creating an archive for write fails on such
// platforms.
func AcquireExclusive(ctx context.Context, path string) (*Lock, error) {
	return nil, fmt.Errorf("lockfile: exclusive locking is not supported on this platform")
}

// Unlock is a no-op.
func (l *Lock) Unlock() error { return nil }
