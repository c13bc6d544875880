package index

import (
	"context"
	"database/sql"
	"sort"

	"github.com/isarandi/barecat/internal/pathkey"
)

// RecomputeStats rebuilds num_files, num_files_tree, size_tree (per
// directory) and num_subdirs from scratch, bottom-up by directory depth.
// It is the bulk-import finalization path (triggers disabled during the
// import window) and is also used by the 0.2->0.3 migration to repair
// stats left inconsistent by the buggy v2 triggers.
func (d *DB) RecomputeStats(ctx context.Context) error {
	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := recomputeStatsTx(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func recomputeStatsTx(ctx context.Context, tx *sql.Tx) error {
	// 1. direct num_files + direct size, per parent directory.
	if _, err := tx.ExecContext(ctx, `UPDATE dirs SET num_files = 0, num_files_tree = 0, size_tree = 0, num_subdirs = 0`); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT parent, COUNT(*), COALESCE(SUM(size), 0) FROM files GROUP BY parent`)
	if err != nil {
		return err
	}
	type directTotals struct {
		count int64
		size  int64
	}
	direct := map[string]directTotals{}
	for rows.Next() {
		var parent string
		var count, size int64
		if err := rows.Scan(&parent, &count, &size); err != nil {
			rows.Close()
			return err
		}
		direct[parent] = directTotals{count: count, size: size}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for parent, tot := range direct {
		if _, err := tx.ExecContext(ctx, `
			UPDATE dirs SET num_files = ?, num_files_tree = ?, size_tree = ? WHERE path = ?`,
			tot.count, tot.count, tot.size, parent); err != nil {
			return err
		}
	}

	// 2. num_subdirs, per parent directory.
	subRows, err := tx.QueryContext(ctx, `
		SELECT parent, COUNT(*) FROM dirs WHERE parent IS NOT NULL GROUP BY parent`)
	if err != nil {
		return err
	}
	subCounts := map[string]int64{}
	for subRows.Next() {
		var parent string
		var count int64
		if err := subRows.Scan(&parent, &count); err != nil {
			subRows.Close()
			return err
		}
		subCounts[parent] = count
	}
	if err := subRows.Err(); err != nil {
		return err
	}
	subRows.Close()

	for parent, count := range subCounts {
		if _, err := tx.ExecContext(ctx, `UPDATE dirs SET num_subdirs = ? WHERE path = ?`, count, parent); err != nil {
			return err
		}
	}

	// 3. fold num_files_tree/size_tree up from leaves to root, processing
	// directories in decreasing depth order so every child's total is final
	// before it is folded into its own parent.
	dirRows, err := tx.QueryContext(ctx, `SELECT path, num_files_tree, size_tree FROM dirs`)
	if err != nil {
		return err
	}
	type node struct {
		path               string
		filesTree, sizeTree int64
	}
	var nodes []node
	for dirRows.Next() {
		var n node
		if err := dirRows.Scan(&n.path, &n.filesTree, &n.sizeTree); err != nil {
			dirRows.Close()
			return err
		}
		nodes = append(nodes, n)
	}
	if err := dirRows.Err(); err != nil {
		return err
	}
	dirRows.Close()

	byPath := make(map[string]*node, len(nodes))
	for i := range nodes {
		byPath[nodes[i].path] = &nodes[i]
	}

	// Sort an index slice (not nodes itself) so byPath pointers stay valid.
	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return pathkey.Depth(nodes[order[i]].path) > pathkey.Depth(nodes[order[j]].path)
	})

	for _, idx := range order {
		n := &nodes[idx]
		if n.path == "" {
			continue
		}
		parent := pathkey.Parent(n.path)
		p := byPath[parent]
		if p == nil {
			continue
		}
		p.filesTree += n.filesTree
		p.sizeTree += n.sizeTree
	}

	for _, n := range nodes {
		if _, err := tx.ExecContext(ctx, `
			UPDATE dirs SET num_files_tree = ?, size_tree = ? WHERE path = ?`,
			byPath[n.path].filesTree, byPath[n.path].sizeTree, n.path); err != nil {
			return err
		}
	}

	return nil
}
