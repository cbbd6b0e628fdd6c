package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-index/internal/logging"
	"media-index/internal/metrics"
)

const (
	// IndexDirName is the hidden per-library directory holding the index
	// database, the read cache and derived assets. Every enumerator and
	// change detector must skip it.
	IndexDirName = ".mediaindex"

	dbFileName = "index.db"

	// Default timeout for store read operations.
	defaultTimeout = 5 * time.Second
)

// ErrNotFound is returned when a requested file or folder row is absent.
var ErrNotFound = errors.New("record not found")

// IndexDir returns the hidden index directory for a library root.
func IndexDir(rootPath string) string {
	return filepath.Join(rootPath, IndexDirName)
}

// DBPath returns the index database path for a library root.
func DBPath(rootPath string) string {
	return filepath.Join(IndexDir(rootPath), dbFileName)
}

// Store is the persistent index for one library.
type Store struct {
	db       *sql.DB
	rootPath string
	dbPath   string

	mu       sync.Mutex
	txStarts map[*sql.Tx]time.Time
}

// Open opens (creating if necessary) the index database for a library root.
// The connection is tuned for long-idle, low-memory operation: WAL
// journaling, a small bounded page cache and no memory-mapped I/O.
func Open(ctx context.Context, rootPath string) (*Store, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library root: %w", err)
	}

	if err := os.MkdirAll(IndexDir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	dbPath := DBPath(abs)
	logging.Debug("Opening index store: %s", dbPath)

	// busy_timeout helps prevent "database is locked" errors when a
	// detector flush and a read overlap.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-2000&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close store after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to index store: %w", err)
	}

	// Disable memory-mapped I/O; the page cache above is the only
	// memory budget this store gets.
	if _, err := db.ExecContext(ctx, "PRAGMA mmap_size=0"); err != nil {
		logging.Warn("failed to disable mmap for %s: %v", dbPath, err)
	}

	// A single writer plus a handful of cached readers is all the
	// engine ever runs against one library.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:       db,
		rootPath: abs,
		dbPath:   dbPath,
		txStarts: make(map[*sql.Tx]time.Time),
	}

	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close store after schema failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	start := time.Now()
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		folder TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'image',
		size INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		format TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		asset_path TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		modified_at INTEGER NOT NULL,
		indexed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_folder ON files(folder);
	CREATE INDEX IF NOT EXISTS idx_files_indexed_at ON files(indexed_at);
	CREATE INDEX IF NOT EXISTS idx_files_kind ON files(kind);

	CREATE TABLE IF NOT EXISTS folders (
		path TEXT PRIMARY KEY,
		parent TEXT NOT NULL,
		name TEXT NOT NULL,
		image_count INTEGER NOT NULL DEFAULT 0,
		last_scan INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta (key, value) VALUES ('version', '0');
	`

	_, err := s.db.ExecContext(ctx, schema)
	recordQuery("initialize_schema", start, err)
	return err
}

// RootPath returns the library root this store indexes.
func (s *Store) RootPath() string {
	return s.rootPath
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Checkpoint forces a WAL checkpoint, truncating the log. Used before a
// forced close so the main database file is complete on its own.
func (s *Store) Checkpoint() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// BeginBatch starts a transaction for batch writes. The caller is
// responsible for calling EndBatch when done.
func (s *Store) BeginBatch() (*sql.Tx, error) {
	txStart := time.Now()

	// Background context: the transaction lifetime is managed by
	// EndBatch, not a timeout.
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.txStarts[tx] = txStart
	s.mu.Unlock()
	return tx, nil
}

// EndBatch commits the transaction, or rolls it back when err is non-nil.
func (s *Store) EndBatch(tx *sql.Tx, err error) error {
	s.mu.Lock()
	txStart, ok := s.txStarts[tx]
	delete(s.txStarts, tx)
	s.mu.Unlock()
	if !ok {
		txStart = time.Now()
	}
	duration := time.Since(txStart).Seconds()

	if err != nil {
		metrics.StoreTxDuration.WithLabelValues("rollback").Observe(duration)
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.StoreTxDuration.WithLabelValues("commit").Observe(duration)
	return tx.Commit()
}

// UpdateSizeMetrics reports the on-disk size of the store files.
func (s *Store) UpdateSizeMetrics() {
	for suffix, label := range map[string]string{"": "main", "-wal": "wal", "-shm": "shm"} {
		if info, err := os.Stat(s.dbPath + suffix); err == nil {
			metrics.StoreSizeBytes.WithLabelValues(label).Set(float64(info.Size()))
		}
	}
}

// recordQuery records store query metrics.
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	metrics.StoreQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.StoreQueryDuration.WithLabelValues(operation).Observe(duration)
}
