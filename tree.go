package barecat

import (
	"context"
	"sort"
	"strings"

	"github.com/isarandi/barecat/internal/bcerr"
	"github.com/isarandi/barecat/internal/index"
	"github.com/isarandi/barecat/internal/pathkey"
)

// Exists reports whether path names either a live file or a directory.
func (b *Barecat) Exists(ctx context.Context, path string) (bool, error) {
	if ok, err := b.IsFile(ctx, path); err != nil || ok {
		return ok, err
	}
	return b.IsDir(ctx, path)
}

// IsFile reports whether path names a live file.
func (b *Barecat) IsFile(ctx context.Context, path string) (bool, error) {
	return b.Contains(ctx, path)
}

// IsDir reports whether path names a directory.
func (b *Barecat) IsDir(ctx context.Context, path string) (bool, error) {
	clean, err := pathkey.CleanDir(path)
	if err != nil {
		return false, bcerr.NewPathError("isdir", path, err)
	}
	_, err = b.idx.LookupDir(ctx, clean)
	if err == bcerr.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stat returns metadata for path, which may name a file or a directory.
func (b *Barecat) Stat(ctx context.Context, path string) (Stat, error) {
	clean, err := pathkey.CleanDir(path)
	if err != nil {
		return Stat{}, bcerr.NewPathError("stat", path, err)
	}
	if clean != "" {
		if fe, err := b.idx.LookupFile(ctx, clean); err == nil {
			return Stat{Path: fe.Path, Size: fe.Size, Mode: fe.Mode, UID: fe.UID, GID: fe.GID, MtimeNs: fe.MtimeNs}, nil
		} else if err != bcerr.ErrNotFound {
			return Stat{}, err
		}
	}

	de, err := b.idx.LookupDir(ctx, clean)
	if err != nil {
		return Stat{}, bcerr.NewPathError("stat", path, err)
	}
	return Stat{
		Path: de.Path, IsDir: true, Mode: de.Mode, UID: de.UID, GID: de.GID, MtimeNs: de.MtimeNs,
		NumSubdirs: de.NumSubdirs, NumFiles: de.NumFiles, NumFilesTree: de.NumFilesTree, SizeTree: de.SizeTree,
	}, nil
}

// ListDir returns the direct children of path (files and subdirectories),
// sorted.
func (b *Barecat) ListDir(ctx context.Context, path string) ([]string, error) {
	clean, err := pathkey.CleanDir(path)
	if err != nil {
		return nil, bcerr.NewPathError("listdir", path, err)
	}
	if _, err := b.idx.LookupDir(ctx, clean); err != nil {
		return nil, bcerr.NewPathError("listdir", path, err)
	}
	files, err := b.idx.ListChildFiles(ctx, clean)
	if err != nil {
		return nil, err
	}
	dirs, err := b.idx.ListChildDirs(ctx, clean)
	if err != nil {
		return nil, err
	}
	out := append(files, dirs...)
	sort.Strings(out)
	return out, nil
}

// Walk visits top and every path beneath it, files first within each
// directory then subdirectories, depth-first.
func (b *Barecat) Walk(ctx context.Context, top string, fn WalkFunc) error {
	clean, err := pathkey.CleanDir(top)
	if err != nil {
		return bcerr.NewPathError("walk", top, err)
	}
	return b.walkDir(ctx, clean, fn)
}

func (b *Barecat) walkDir(ctx context.Context, dir string, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := b.Stat(ctx, dir)
	if err != nil {
		return err
	}
	if err := fn(dir, st); err != nil {
		return err
	}

	files, err := b.idx.ListChildFiles(ctx, dir)
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		fst, err := b.Stat(ctx, f)
		if err != nil {
			return err
		}
		if err := fn(f, fst); err != nil {
			return err
		}
	}

	dirs, err := b.idx.ListChildDirs(ctx, dir)
	if err != nil {
		return err
	}
	sort.Strings(dirs)
	for _, d := range dirs {
		if err := b.walkDir(ctx, d, fn); err != nil {
			return err
		}
	}
	return nil
}

// Glob returns every live file path matching pattern. recursive enables
// "**" to span directory separators.
func (b *Barecat) Glob(ctx context.Context, pattern string, recursive bool) ([]string, error) {
	g, err := pathkey.CompileGlob(pattern, recursive)
	if err != nil {
		return nil, err
	}

	it, err := b.idx.IterByPath(ctx, true)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []string
	prefix := g.Prefix()
	for it.Next() {
		p := it.Entry().Path
		if prefix != "" && !strings.HasPrefix(p, prefix) {
			continue
		}
		if g.Match(p) {
			out = append(out, p)
		}
	}
	return out, it.Err()
}

// Rename moves src to dst, which may be a file or a directory tree. A file
// rename is one transaction. A directory rename moves each descendant file
// and directory row in its own transaction, so a failure partway through
// leaves the rename partially applied.
func (b *Barecat) Rename(ctx context.Context, src, dst string) error {
	if err := b.requireWritable(); err != nil {
		return err
	}
	srcFile, err := pathkey.Clean(src)
	if err != nil {
		return bcerr.NewPathError("rename", src, err)
	}
	dstFile, err := pathkey.Clean(dst)
	if err != nil {
		return bcerr.NewPathError("rename", dst, err)
	}

	if _, err := b.idx.LookupFile(ctx, srcFile); err == nil {
		tx, err := b.idx.BeginTx(ctx)
		if err != nil {
			return err
		}
		if err := index.RenameFileTx(ctx, tx, srcFile, dstFile); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	}

	return b.renameDir(ctx, srcFile, dstFile)
}

func (b *Barecat) renameDir(ctx context.Context, srcDir, dstDir string) error {
	if _, err := b.idx.LookupDir(ctx, srcDir); err != nil {
		return bcerr.NewPathError("rename", srcDir, err)
	}

	var files []string
	if err := b.walkDirPaths(ctx, srcDir, &files); err != nil {
		return err
	}

	for _, f := range files {
		rel := strings.TrimPrefix(f, srcDir)
		newPath := pathkey.Join(dstDir, strings.TrimPrefix(rel, "/"))
		tx, err := b.idx.BeginTx(ctx)
		if err != nil {
			return err
		}
		if err := index.RenameFileTx(ctx, tx, f, newPath); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	// srcDirs holds srcDir and every descendant directory, deepest
	// descendants first and srcDir itself last (collectDirsDeepestFirst's
	// order) — exactly the order DeleteDirTx below needs, and its reverse is
	// the order dst needs recreating in (parent before child).
	var srcDirs []string
	if err := b.collectDirsDeepestFirst(ctx, srcDir, &srcDirs); err != nil {
		return err
	}

	for i := len(srcDirs) - 1; i >= 0; i-- {
		d := srcDirs[i]
		e, err := b.idx.LookupDir(ctx, d)
		if err != nil {
			return err
		}
		newPath := dstDir
		if d != srcDir {
			rel := strings.TrimPrefix(d, srcDir)
			newPath = pathkey.Join(dstDir, strings.TrimPrefix(rel, "/"))
		}
		tx, err := b.idx.BeginTx(ctx)
		if err != nil {
			return err
		}
		// Moving the files above already created every dst directory that
		// holds a file; create the remaining ones, then copy the metadata.
		if err := index.EnsureDirChainTx(ctx, tx, newPath); err != nil {
			tx.Rollback()
			return err
		}
		if err := index.UpdateDirMetaTx(ctx, tx, newPath, e.Mode, e.UID, e.GID, e.MtimeNs); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	for _, d := range srcDirs {
		tx, err := b.idx.BeginTx(ctx)
		if err != nil {
			return err
		}
		if err := index.DeleteDirTx(ctx, tx, d); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Barecat) walkDirPaths(ctx context.Context, dir string, out *[]string) error {
	files, err := b.idx.ListChildFiles(ctx, dir)
	if err != nil {
		return err
	}
	*out = append(*out, files...)
	dirs, err := b.idx.ListChildDirs(ctx, dir)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := b.walkDirPaths(ctx, d, out); err != nil {
			return err
		}
	}
	return nil
}

// Rmtree removes path and everything beneath it.
func (b *Barecat) Rmtree(ctx context.Context, path string) error {
	if err := b.requireWritable(); err != nil {
		return err
	}
	clean, err := pathkey.CleanDir(path)
	if err != nil {
		return bcerr.NewPathError("rmtree", path, err)
	}

	var files []string
	if err := b.walkDirPaths(ctx, clean, &files); err != nil {
		return err
	}
	for _, f := range files {
		if err := b.Delete(ctx, f); err != nil {
			return err
		}
	}

	var dirs []string
	if err := b.collectDirsDeepestFirst(ctx, clean, &dirs); err != nil {
		return err
	}
	for _, d := range dirs {
		tx, err := b.idx.BeginTx(ctx)
		if err != nil {
			return err
		}
		if err := index.DeleteDirTx(ctx, tx, d); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Barecat) collectDirsDeepestFirst(ctx context.Context, dir string, out *[]string) error {
	dirs, err := b.idx.ListChildDirs(ctx, dir)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := b.collectDirsDeepestFirst(ctx, d, out); err != nil {
			return err
		}
	}
	*out = append(*out, dir)
	return nil
}

// Mkdir creates path (and any missing ancestors). With existOK, an already
// existing directory is not an error.
func (b *Barecat) Mkdir(ctx context.Context, path string, existOK bool) error {
	if err := b.requireWritable(); err != nil {
		return err
	}
	clean, err := pathkey.CleanDir(path)
	if err != nil {
		return bcerr.NewPathError("mkdir", path, err)
	}

	tx, err := b.idx.BeginTx(ctx)
	if err != nil {
		return err
	}
	exists, err := index.DirExistsTx(ctx, tx, clean)
	if err != nil {
		tx.Rollback()
		return err
	}
	if exists {
		tx.Rollback()
		if existOK {
			return nil
		}
		return bcerr.NewPathError("mkdir", path, bcerr.ErrAlreadyExists)
	}
	if err := index.EnsureDirChainTx(ctx, tx, clean); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Rmdir removes an empty directory.
func (b *Barecat) Rmdir(ctx context.Context, path string) error {
	if err := b.requireWritable(); err != nil {
		return err
	}
	clean, err := pathkey.CleanDir(path)
	if err != nil {
		return bcerr.NewPathError("rmdir", path, err)
	}
	tx, err := b.idx.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := index.DeleteDirTx(ctx, tx, clean); err != nil {
		tx.Rollback()
		return bcerr.NewPathError("rmdir", path, err)
	}
	return tx.Commit()
}
