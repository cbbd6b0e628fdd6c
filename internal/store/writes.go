package store

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"strings"
	"time"

	"media-index/internal/metrics"
)

// BumpVersion increments the modification version counter inside the
// same transaction as the writes it tags, and returns the new value.
// The counter is monotonic and survives restarts; the read cache
// compares it by ordering only, never by subtraction.
func (s *Store) BumpVersion(tx *sql.Tx) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("bump_version", start, err) }()

	if _, err = tx.ExecContext(context.Background(),
		`UPDATE meta SET value = CAST(value AS INTEGER) + 1 WHERE key = 'version'`); err != nil {
		return 0, err
	}

	var version int64
	err = tx.QueryRowContext(context.Background(),
		`SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'version'`).Scan(&version)
	return version, err
}

// UpsertFile inserts or updates a file record within a transaction.
// created_at is preserved across updates; indexed_at always moves
// forward so completed scans can delete rows that were never touched.
func (s *Store) UpsertFile(tx *sql.Tx, rec *FileRecord) error {
	query := `
	INSERT INTO files (path, folder, name, kind, size, width, height, format,
		content_hash, asset_path, created_at, modified_at, indexed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		folder = excluded.folder,
		name = excluded.name,
		kind = excluded.kind,
		size = excluded.size,
		width = excluded.width,
		height = excluded.height,
		format = excluded.format,
		content_hash = excluded.content_hash,
		asset_path = excluded.asset_path,
		modified_at = excluded.modified_at,
		indexed_at = excluded.indexed_at
	`

	_, err := tx.ExecContext(context.Background(), query,
		rec.Path, rec.Folder, rec.Name, string(rec.Kind), rec.Size,
		rec.Width, rec.Height, rec.Format, rec.ContentHash, rec.AssetPath,
		rec.CreatedAt.Unix(), rec.ModifiedAt.Unix(), rec.IndexedAt.Unix(),
	)
	return err
}

// TouchFiles refreshes indexed_at for unchanged rows so they survive the
// stale-row cleanup at the end of a full scan.
func (s *Store) TouchFiles(tx *sql.Tx, paths []string, now time.Time) error {
	if len(paths) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(context.Background(),
		`UPDATE files SET indexed_at = ? WHERE path = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range paths {
		if _, err := stmt.ExecContext(context.Background(), now.Unix(), p); err != nil {
			return fmt.Errorf("failed to touch %s: %w", p, err)
		}
	}
	return nil
}

// DeleteFile removes one file row. Returns true when a row was deleted.
// The derived asset is deliberately left in place: it is keyed by
// content hash and may be shared with another row.
func (s *Store) DeleteFile(tx *sql.Tx, filePath string) (bool, error) {
	result, err := tx.ExecContext(context.Background(),
		`DELETE FROM files WHERE path = ?`, filePath)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// DeleteStale removes file rows not touched since cutoff. Called once at
// the end of a completed full scan; cutoff is the scan's startedAt, which
// persists across pause/resume so the cleanup stays correct.
func (s *Store) DeleteStale(tx *sql.Tx, cutoff time.Time) (int64, error) {
	result, err := tx.ExecContext(context.Background(),
		`DELETE FROM files WHERE indexed_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	if err == nil && rows > 0 {
		metrics.StoreQueryTotal.WithLabelValues("delete_stale", "success").Inc()
	}
	return rows, err
}

// DeleteUnderFolder removes every file and folder row whose path equals
// or nests under folderPath. Returns the number of file rows removed.
func (s *Store) DeleteUnderFolder(tx *sql.Tx, folderPath string) (int64, error) {
	escaped := escapeLike(folderPath)

	result, err := tx.ExecContext(context.Background(),
		`DELETE FROM files WHERE folder = ? OR folder LIKE ? ESCAPE '\' OR path = ?`,
		folderPath, escaped+`/%`, folderPath)
	if err != nil {
		return 0, err
	}
	removed, _ := result.RowsAffected()

	_, err = tx.ExecContext(context.Background(),
		`DELETE FROM folders WHERE path = ? OR path LIKE ? ESCAPE '\'`,
		folderPath, escaped+`/%`)
	return removed, err
}

// EnsureFolderChain materializes the folder row for folderPath and every
// ancestor up to the root row (path ""). Existing rows are left alone.
func (s *Store) EnsureFolderChain(tx *sql.Tx, folderPath string, now time.Time) error {
	stmt, err := tx.PrepareContext(context.Background(), `
		INSERT INTO folders (path, parent, name, image_count, last_scan)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(path) DO UPDATE SET last_scan = excluded.last_scan`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	// Root row anchors the tree even for top-level files.
	if _, err := stmt.ExecContext(context.Background(), "", "", "", now.Unix()); err != nil {
		return err
	}

	for _, p := range AncestorChain(folderPath) {
		if _, err := stmt.ExecContext(context.Background(),
			p, ParentFolder(p), path.Base(p), now.Unix()); err != nil {
			return fmt.Errorf("failed to ensure folder %s: %w", p, err)
		}
	}
	return nil
}

// RecountAllFolders recomputes the recursive image count for every
// folder row. Used after full scans; incremental reconciliations use
// RecountFolders on the touched ancestor chains only.
func (s *Store) RecountAllFolders(tx *sql.Tx) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("recount_folders", start, err) }()

	_, err = tx.ExecContext(context.Background(), `
		UPDATE folders SET image_count = (
			SELECT COUNT(*) FROM files
			WHERE folders.path = ''
			   OR files.folder = folders.path
			   OR files.folder LIKE replace(replace(replace(folders.path, '\', '\\'), '%', '\%'), '_', '\_') || '/%' ESCAPE '\'
		)`)
	return err
}

// RecountFolders recomputes the recursive image count for the given
// folder paths only.
func (s *Store) RecountFolders(tx *sql.Tx, folderPaths []string) error {
	if len(folderPaths) == 0 {
		return nil
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("recount_folders", start, err) }()

	stmt, prepErr := tx.PrepareContext(context.Background(), `
		UPDATE folders SET image_count = (
			SELECT COUNT(*) FROM files
			WHERE ? = '' OR files.folder = ? OR files.folder LIKE ? ESCAPE '\'
		) WHERE path = ?`)
	if prepErr != nil {
		err = prepErr
		return err
	}
	defer stmt.Close()

	for _, p := range folderPaths {
		if _, execErr := stmt.ExecContext(context.Background(),
			p, p, escapeLike(p)+`/%`, p); execErr != nil {
			err = fmt.Errorf("failed to recount folder %s: %w", p, execErr)
			return err
		}
	}
	return nil
}

// PruneEmptyFolders removes folder rows with no file rows at or under
// their path. The root row is kept as the tree anchor. Counts must be
// current before calling (see RecountAllFolders).
func (s *Store) PruneEmptyFolders(tx *sql.Tx) (int64, error) {
	result, err := tx.ExecContext(context.Background(),
		`DELETE FROM folders WHERE path != '' AND image_count = 0`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// escapeLike escapes LIKE wildcards so folder paths containing % or _
// match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
