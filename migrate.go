package barecat

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/isarandi/barecat/internal/checksum"
	"github.com/isarandi/barecat/internal/index"
	"github.com/isarandi/barecat/internal/pathkey"
	"github.com/isarandi/barecat/internal/shardstore"
)

// Migrate brings the archive at basePath up to the current schema version,
// detecting its starting version from the index's config table (its
// absence means a pre-0.2, pre-versioned archive).
func Migrate(ctx context.Context, basePath string) (fromMajor, fromMinor, toMajor, toMinor int, err error) {
	toMajor, toMinor = index.CurrentSchemaVersion()
	idxPath := indexPath(basePath)

	raw, err := sql.Open("sqlite", "file:"+idxPath)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("barecat: migrate: open %s: %w", idxPath, err)
	}
	hasConfig, err := index.HasConfigTable(ctx, raw)
	if err != nil {
		raw.Close()
		return 0, 0, 0, 0, err
	}
	raw.Close()

	if !hasConfig {
		if err := migratePreVersioned(ctx, basePath); err != nil {
			return 0, 0, 0, 0, err
		}
		return 0, 0, toMajor, toMinor, nil
	}

	idx, err := index.Open(ctx, idxPath)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	defer idx.Close()

	fromMajor, fromMinor, err = idx.SchemaVersion(ctx)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if fromMajor == toMajor && fromMinor == toMinor {
		return fromMajor, fromMinor, toMajor, toMinor, nil
	}

	// The only known historical version is 0.2; its triggers double-counted
	// num_files through ancestor directories, so a straight retrigger +
	// recompute repairs stats as part of the bump to 0.3.
	if err := idx.InstallTriggersV3(ctx); err != nil {
		return 0, 0, 0, 0, err
	}
	if err := idx.RecomputeStats(ctx); err != nil {
		return 0, 0, 0, 0, err
	}
	if err := idx.SetConfig(ctx, "schema_version_major", index.ConfigValue{Int: int64(toMajor), HasInt: true}); err != nil {
		return 0, 0, 0, 0, err
	}
	if err := idx.SetConfig(ctx, "schema_version_minor", index.ConfigValue{Int: int64(toMinor), HasInt: true}); err != nil {
		return 0, 0, 0, 0, err
	}

	return fromMajor, fromMinor, toMajor, toMinor, nil
}

// legacyFileRow is the minimal shape a pre-0.2 files table is assumed to
// have: just enough to locate each file's bytes. No parent, crc32c or POSIX
// metadata columns exist yet.
type legacyFileRow struct {
	path   string
	shard  int
	offset int64
	size   int64
}

func migratePreVersioned(ctx context.Context, basePath string) error {
	idxPath := indexPath(basePath)
	raw, err := sql.Open("sqlite", "file:"+idxPath)
	if err != nil {
		return err
	}
	defer raw.Close()

	rows, err := raw.QueryContext(ctx, `SELECT path, shard, offset, size FROM files`)
	if err != nil {
		return fmt.Errorf("barecat: migrate: read legacy files table: %w", err)
	}
	var legacy []legacyFileRow
	for rows.Next() {
		var r legacyFileRow
		if err := rows.Scan(&r.path, &r.shard, &r.offset, &r.size); err != nil {
			rows.Close()
			return err
		}
		legacy = append(legacy, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	tmpIdxPath := idxPath + "-migrate-" + uuid.New().String()
	newIdx, err := index.Create(ctx, tmpIdxPath)
	if err != nil {
		return err
	}

	knownLengths, err := legacyShardTailLengths(legacy)
	if err != nil {
		newIdx.Close()
		return err
	}
	store, err := shardstore.Open(ctx, basePath, shardstore.ReadOnly, 1<<62, knownLengths)
	if err != nil {
		newIdx.Close()
		return err
	}
	defer store.Close()

	if err := newIdx.SetUseTriggers(ctx, false); err != nil {
		newIdx.Close()
		return err
	}

	crcs, err := computeCRCsParallel(ctx, store, legacy)
	if err != nil {
		newIdx.Close()
		return err
	}

	for i, r := range legacy {
		if err := ctx.Err(); err != nil {
			newIdx.Close()
			return err
		}
		clean, err := pathkey.Clean(r.path)
		if err != nil {
			newIdx.Close()
			return fmt.Errorf("barecat: migrate: legacy path %q: %w", r.path, err)
		}
		crc := crcs[i]
		tx, err := newIdx.BeginTx(ctx)
		if err != nil {
			newIdx.Close()
			return err
		}
		entry := index.FileEntry{Path: clean, Parent: pathkey.Parent(clean), Shard: r.shard, Offset: r.offset, Size: r.size, CRC32C: &crc}
		if err := index.InsertFileTx(ctx, tx, entry); err != nil {
			tx.Rollback()
			newIdx.Close()
			return err
		}
		if err := tx.Commit(); err != nil {
			newIdx.Close()
			return err
		}
	}

	if err := newIdx.RecomputeStats(ctx); err != nil {
		newIdx.Close()
		return err
	}
	if err := newIdx.SetUseTriggers(ctx, true); err != nil {
		newIdx.Close()
		return err
	}
	if err := newIdx.Close(); err != nil {
		return err
	}

	if err := os.Remove(idxPath); err != nil {
		return fmt.Errorf("barecat: migrate: remove old index: %w", err)
	}
	if err := os.Rename(tmpIdxPath, idxPath); err != nil {
		return fmt.Errorf("barecat: migrate: install new index: %w", err)
	}
	return nil
}

func legacyShardTailLengths(rows []legacyFileRow) (map[int]int64, error) {
	out := map[int]int64{}
	for _, r := range rows {
		end := r.offset + r.size
		if end > out[r.shard] {
			out[r.shard] = end
		}
	}
	return out, nil
}

// computeCRCsParallel computes CRC32C for every legacy row's bytes using a
// worker pool bounded to GOMAXPROCS, stopping early if ctx is cancelled.
func computeCRCsParallel(ctx context.Context, store *shardstore.Store, rows []legacyFileRow) ([]uint32, error) {
	out := make([]uint32, len(rows))
	errs := make([]error, len(rows))

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if workers > len(rows) {
		workers = len(rows)
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				r := rows[i]
				data, err := store.Read(ctx, r.shard, r.offset, r.size)
				if err != nil {
					errs[i] = err
					continue
				}
				out[i] = checksum.Of(data)
			}
		}()
	}
	for i := range rows {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return nil, e
		}
	}
	return out, nil
}
