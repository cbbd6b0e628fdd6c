package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"media-index/internal/mediatypes"
)

const fileColumns = `path, folder, name, kind, size, width, height, format,
	content_hash, asset_path, created_at, modified_at, indexed_at`

func scanFileRecord(scanner interface{ Scan(...any) error }) (*FileRecord, error) {
	var rec FileRecord
	var kind string
	var createdAt, modifiedAt, indexedAt int64

	err := scanner.Scan(&rec.Path, &rec.Folder, &rec.Name, &kind, &rec.Size,
		&rec.Width, &rec.Height, &rec.Format, &rec.ContentHash, &rec.AssetPath,
		&createdAt, &modifiedAt, &indexedAt)
	if err != nil {
		return nil, err
	}

	rec.Kind = mediatypes.FileType(kind)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.ModifiedAt = time.Unix(modifiedAt, 0)
	rec.IndexedAt = time.Unix(indexedAt, 0)
	return &rec, nil
}

// Version returns the current modification version counter.
func (s *Store) Version(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("version", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var version int64
	err = s.db.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'version'`).Scan(&version)
	return version, err
}

// GetFile returns the file row for a library-relative path, or
// ErrNotFound when no row exists.
func (s *Store) GetFile(ctx context.Context, filePath string) (*FileRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_file", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rec, err := scanFileRecord(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE path = ?`, filePath))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListFolderFiles returns the direct (non-recursive) file rows of one
// folder, ordered by name.
func (s *Store) ListFolderFiles(ctx context.Context, folder string) ([]FileRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_folder", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE folder = ? ORDER BY name COLLATE NOCASE`, folder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		rec, scanErr := scanFileRecord(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		records = append(records, *rec)
	}
	err = rows.Err()
	return records, err
}

// FolderFileSet returns the set of direct file paths recorded for one
// folder. Used by the polling detector to diff a changed directory
// against the index in a single lookup.
func (s *Store) FolderFileSet(ctx context.Context, folder string) (map[string]struct{}, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("folder_file_set", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM files WHERE folder = ?`, folder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var p string
		if scanErr := rows.Scan(&p); scanErr != nil {
			err = scanErr
			return nil, err
		}
		set[p] = struct{}{}
	}
	err = rows.Err()
	return set, err
}

// FileSizesAndTimes returns path → (size, mtime) for every file row.
// Used for the enumeration-vs-index diff on catch-up syncs.
func (s *Store) FileSizesAndTimes(ctx context.Context) (map[string][2]int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("file_sizes", start, err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT path, size, modified_at FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][2]int64)
	for rows.Next() {
		var p string
		var size, mtime int64
		if scanErr := rows.Scan(&p, &size, &mtime); scanErr != nil {
			err = scanErr
			return nil, err
		}
		result[p] = [2]int64{size, mtime}
	}
	err = rows.Err()
	return result, err
}

// FolderTree returns every folder row ordered by path. The "" row is the
// library root; callers rebuild the hierarchy through Parent links.
func (s *Store) FolderTree(ctx context.Context) ([]FolderRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("folder_tree", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, parent, name, image_count, last_scan FROM folders ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []FolderRecord
	for rows.Next() {
		var f FolderRecord
		var lastScan int64
		if scanErr := rows.Scan(&f.Path, &f.Parent, &f.Name, &f.ImageCount, &lastScan); scanErr != nil {
			err = scanErr
			return nil, err
		}
		if lastScan > 0 {
			f.LastScan = time.Unix(lastScan, 0)
		}
		folders = append(folders, f)
	}
	err = rows.Err()
	return folders, err
}

// FolderImageCount returns the stored recursive count for one folder, or
// ErrNotFound when the folder row is absent.
func (s *Store) FolderImageCount(ctx context.Context, folder string) (int, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("folder_count", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT image_count FROM folders WHERE path = ?`, folder).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return count, err
}

// CalculateStats counts indexed files and folders by kind.
func (s *Store) CalculateStats(ctx context.Context) (Stats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("calculate_stats", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stats Stats
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN kind = 'image' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'video' THEN 1 ELSE 0 END), 0)
		FROM files`).Scan(&stats.TotalFiles, &stats.TotalImages, &stats.TotalVideos)
	if err != nil {
		return stats, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM folders WHERE path != ''`).Scan(&stats.TotalFolders)
	return stats, err
}
