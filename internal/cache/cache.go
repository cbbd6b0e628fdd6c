package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"media-index/internal/logging"
	"media-index/internal/metrics"
	"media-index/internal/store"
)

// Scope identifies what a cache entry describes.
type Scope string

const (
	// ScopeLibrary entries hold a library's folder tree and total count.
	ScopeLibrary Scope = "library"
	// ScopeFolder entries hold one folder's direct image listing.
	ScopeFolder Scope = "folder"
)

const (
	cacheDirName   = "cache"
	foldersDirName = "folders"
	libraryFile    = "library.json"

	// rootFolderKey is the sentinel key for the empty ("no folder") path.
	rootFolderKey = "root"
)

// Entry is the on-disk envelope for a cached payload. An entry is valid
// only while Version is at least the index's current modification
// version; versions are compared by ordering, never subtracted.
type Entry struct {
	Scope    Scope           `json:"scope"`
	Key      string          `json:"key"`
	Version  int64           `json:"version"`
	CachedAt time.Time       `json:"cachedAt"`
	Payload  json.RawMessage `json:"payload"`
}

// LibraryPayload is the cached library-scope read: the full folder tree
// plus the total file count.
type LibraryPayload struct {
	Folders    []store.FolderRecord `json:"folders"`
	TotalFiles int                  `json:"totalFiles"`
}

// FolderPayload is the cached folder-scope read: one folder's direct
// file listing with metadata and derived asset paths.
type FolderPayload struct {
	Folder string             `json:"folder"`
	Files  []store.FileRecord `json:"files"`
}

// Cache is a freshness-checked read-through cache over the index store.
// Entries live as JSON files under the library's hidden index directory;
// deleting that directory is equivalent to Clear.
type Cache struct{}

// New creates a read cache.
func New() *Cache {
	return &Cache{}
}

// Dir returns the cache directory for a library root.
func Dir(rootPath string) string {
	return filepath.Join(store.IndexDir(rootPath), cacheDirName)
}

// FolderKey returns the stable content-derived key for a folder path.
func FolderKey(folder string) string {
	if folder == "" {
		return rootFolderKey
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(folder)))
}

func libraryEntryPath(rootPath string) string {
	return filepath.Join(Dir(rootPath), libraryFile)
}

func folderEntryPath(rootPath, folder string) string {
	return filepath.Join(Dir(rootPath), foldersDirName, FolderKey(folder)+".json")
}

// LibraryTree returns the folder tree and total count for a library,
// serving a cached entry when it is at least as fresh as the index's
// current modification version and recomputing otherwise.
func (c *Cache) LibraryTree(ctx context.Context, st *store.Store) (*LibraryPayload, error) {
	version, err := st.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index version: %w", err)
	}

	if payload := readEntry[LibraryPayload](libraryEntryPath(st.RootPath()), ScopeLibrary, version); payload != nil {
		return payload, nil
	}

	folders, err := st.FolderTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load folder tree: %w", err)
	}
	stats, err := st.CalculateStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}

	payload := &LibraryPayload{Folders: folders, TotalFiles: stats.TotalFiles}
	writeEntry(libraryEntryPath(st.RootPath()), ScopeLibrary, "tree", version, payload)
	return payload, nil
}

// FolderListing returns one folder's direct file listing, cached the
// same way as LibraryTree.
func (c *Cache) FolderListing(ctx context.Context, st *store.Store, folder string) (*FolderPayload, error) {
	version, err := st.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index version: %w", err)
	}

	path := folderEntryPath(st.RootPath(), folder)
	if payload := readEntry[FolderPayload](path, ScopeFolder, version); payload != nil {
		return payload, nil
	}

	files, err := st.ListFolderFiles(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %q: %w", folder, err)
	}

	payload := &FolderPayload{Folder: folder, Files: files}
	writeEntry(path, ScopeFolder, FolderKey(folder), version, payload)
	return payload, nil
}

// InvalidateFolder removes the cached listing for one folder.
func (c *Cache) InvalidateFolder(rootPath, folder string) {
	removeEntry(folderEntryPath(rootPath, folder))
	metrics.CacheInvalidationsTotal.WithLabelValues(string(ScopeFolder)).Inc()
}

// InvalidateLibrary removes the cached library tree.
func (c *Cache) InvalidateLibrary(rootPath string) {
	removeEntry(libraryEntryPath(rootPath))
	metrics.CacheInvalidationsTotal.WithLabelValues(string(ScopeLibrary)).Inc()
}

// Clear removes every cache entry for a library.
func (c *Cache) Clear(rootPath string) error {
	metrics.CacheInvalidationsTotal.WithLabelValues(string(ScopeLibrary)).Inc()
	return os.RemoveAll(Dir(rootPath))
}

// readEntry loads an entry and returns its payload when fresh. A missing
// entry, a decode failure or a stale version all resolve to nil (a miss)
// and are never surfaced to callers.
func readEntry[T any](path string, scope Scope, currentVersion int64) *T {
	data, err := os.ReadFile(path)
	if err != nil {
		metrics.CacheMissesTotal.WithLabelValues(string(scope)).Inc()
		return nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		logging.Warn("discarding unreadable cache entry %s: %v", path, err)
		metrics.CacheMissesTotal.WithLabelValues(string(scope)).Inc()
		return nil
	}

	if entry.Version < currentVersion {
		metrics.CacheStaleTotal.WithLabelValues(string(scope)).Inc()
		metrics.CacheMissesTotal.WithLabelValues(string(scope)).Inc()
		return nil
	}

	var payload T
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		logging.Warn("discarding undecodable cache payload %s: %v", path, err)
		metrics.CacheMissesTotal.WithLabelValues(string(scope)).Inc()
		return nil
	}

	metrics.CacheHitsTotal.WithLabelValues(string(scope)).Inc()
	return &payload
}

// writeEntry stores a payload tagged with the version it was computed
// at. Write failures are logged and swallowed; callers proceed as if
// uncached.
func writeEntry(path string, scope Scope, key string, version int64, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logging.Warn("failed to encode cache payload for %s: %v", path, err)
		metrics.CacheWritesTotal.WithLabelValues(string(scope), "error").Inc()
		return
	}

	entry := Entry{
		Scope:    scope,
		Key:      key,
		Version:  version,
		CachedAt: time.Now(),
		Payload:  raw,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		logging.Warn("failed to encode cache entry for %s: %v", path, err)
		metrics.CacheWritesTotal.WithLabelValues(string(scope), "error").Inc()
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logging.Warn("failed to create cache directory for %s: %v", path, err)
		metrics.CacheWritesTotal.WithLabelValues(string(scope), "error").Inc()
		return
	}

	// Entries are always fully overwritten, never partially mutated.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.Warn("failed to write cache entry %s: %v", path, err)
		metrics.CacheWritesTotal.WithLabelValues(string(scope), "error").Inc()
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logging.Warn("failed to replace cache entry %s: %v", path, err)
		metrics.CacheWritesTotal.WithLabelValues(string(scope), "error").Inc()
		return
	}

	metrics.CacheWritesTotal.WithLabelValues(string(scope), "success").Inc()
}

func removeEntry(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to remove cache entry %s: %v", path, err)
	}
}
