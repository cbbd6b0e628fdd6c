package reconcile

import (
	"context"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"media-index/internal/extract"
	"media-index/internal/filesystem"
	"media-index/internal/library"
	"media-index/internal/logging"
	"media-index/internal/mediatypes"
	"media-index/internal/memory"
	"media-index/internal/metrics"
	"media-index/internal/store"
	"media-index/internal/workers"
)

// batchSize is the number of files reconciled per transaction. Small
// enough that pause requests take effect quickly, large enough to
// amortize commit cost.
const batchSize = 200

// CancelToken requests cooperative cancellation of a reconciliation.
// The reconciler checks it between batches, never mid-file.
type CancelToken struct {
	aborted atomic.Bool
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Abort requests cancellation at the next batch boundary.
func (t *CancelToken) Abort() {
	t.aborted.Store(true)
}

// Aborted reports whether cancellation was requested.
func (t *CancelToken) Aborted() bool {
	if t == nil {
		return false
	}
	return t.aborted.Load()
}

// Progress is a snapshot reported after every committed batch.
type Progress struct {
	Processed int
	Total     int
}

// ProgressFunc receives progress snapshots. Called from the
// reconciliation goroutine.
type ProgressFunc func(Progress)

// Result summarizes one reconciliation run.
type Result struct {
	Processed int
	Indexed   int
	Touched   int
	Skipped   int
	Removed   int64

	// Pending holds the unprocessed file paths when the run was
	// aborted mid-scan; the coordinator persists them for resume.
	Pending []string
	Aborted bool
}

// Reconciler drives index writes for one library: full scans, resumed
// scans, incremental change application, and catch-up syncs. All
// database writes happen on the calling goroutine; only metadata
// extraction fans out.
type Reconciler struct {
	st         *store.Store
	lib        *library.Library
	extractor  extract.Extractor
	workers    int
	onProgress ProgressFunc
	mem        *memory.Monitor
}

// New creates a reconciler for one library. onProgress may be nil.
func New(st *store.Store, lib *library.Library, ex extract.Extractor, onProgress ProgressFunc) *Reconciler {
	n := workers.ForIO(8)
	metrics.ScanWorkers.Set(float64(n))
	return &Reconciler{
		st:         st,
		lib:        lib,
		extractor:  ex,
		workers:    n,
		onProgress: onProgress,
	}
}

// SetMemoryMonitor installs a pressure monitor consulted between
// batches; extraction stalls while heap usage is critical.
func (r *Reconciler) SetMemoryMonitor(m *memory.Monitor) {
	r.mem = m
}

// fileEntry is one enumerated media file awaiting reconciliation.
type fileEntry struct {
	rel     string
	size    int64
	modTime time.Time
}

// FullScan enumerates the library and reconciles every media file.
// startedAt is the cutoff for the stale-row cleanup at completion; the
// coordinator persists it so the cutoff survives pause/resume.
func (r *Reconciler) FullScan(ctx context.Context, token *CancelToken, startedAt time.Time) (*Result, error) {
	files, err := r.enumerate(ctx)
	if err != nil {
		return nil, err
	}
	logging.Info("Full scan of %s: %d media files on disk", r.lib.RootPath, len(files))

	res, err := r.processFiles(ctx, token, files, len(files), false)
	if err != nil || res.Aborted {
		return res, err
	}
	return res, r.finish(startedAt, res)
}

// Resume continues a paused full scan over its persisted pending list.
// Files that vanished while paused are dropped silently; the stale-row
// cleanup at completion removes their rows.
func (r *Reconciler) Resume(ctx context.Context, token *CancelToken, pending []string, startedAt time.Time) (*Result, error) {
	files := r.statPaths(pending)
	logging.Info("Resuming scan of %s: %d of %d pending files still present",
		r.lib.RootPath, len(files), len(pending))

	res, err := r.processFiles(ctx, token, files, len(files), false)
	if err != nil || res.Aborted {
		return res, err
	}
	return res, r.finish(startedAt, res)
}

// finish runs the completion transaction of a full or resumed scan:
// stale-row cleanup, full folder recount, empty-folder pruning, version
// bump.
func (r *Reconciler) finish(startedAt time.Time, res *Result) error {
	tx, err := r.st.BeginBatch()
	if err != nil {
		return err
	}

	removed, err := r.st.DeleteStale(tx, startedAt)
	if err == nil {
		res.Removed = removed
		err = r.st.RecountAllFolders(tx)
	}
	if err == nil {
		_, err = r.st.PruneEmptyFolders(tx)
	}
	if err == nil {
		_, err = r.st.BumpVersion(tx)
	}
	if err = r.st.EndBatch(tx, err); err != nil {
		return err
	}

	metrics.ScanLastRunTimestamp.Set(float64(time.Now().Unix()))
	if res.Removed > 0 {
		logging.Info("Removed %d stale index rows under %s", res.Removed, r.lib.RootPath)
	}
	return nil
}

// processFiles reconciles entries in fixed-size batches. total is the
// denominator reported in progress snapshots; it may exceed
// len(entries) on resumed scans.
func (r *Reconciler) processFiles(ctx context.Context, token *CancelToken, entries []fileEntry, total int, recountAncestors bool) (*Result, error) {
	res := &Result{}

	for start := 0; start < len(entries); start += batchSize {
		if token.Aborted() || ctx.Err() != nil {
			res.Aborted = true
			for _, e := range entries[start:] {
				res.Pending = append(res.Pending, e.rel)
			}
			return res, nil
		}

		if r.mem != nil {
			r.mem.WaitIfPaused()
		}

		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}

		if err := r.processBatch(ctx, entries[start:end], res, recountAncestors); err != nil {
			return res, err
		}

		if r.onProgress != nil {
			r.onProgress(Progress{Processed: res.Processed, Total: total})
		}
	}

	return res, nil
}

// extractOutcome carries one file's extraction result into the write
// phase.
type extractOutcome struct {
	entry fileEntry
	meta  *extract.Metadata
	err   error
}

// processBatch runs one batch: partition changed vs unchanged against
// the index, extract changed files in parallel, then commit every write
// in a single transaction.
func (r *Reconciler) processBatch(ctx context.Context, batch []fileEntry, res *Result, recountAncestors bool) error {
	batchStart := time.Now()
	defer func() {
		metrics.ScanBatchDuration.Observe(time.Since(batchStart).Seconds())
	}()

	var toExtract []fileEntry
	var toTouch []string
	for _, e := range batch {
		if r.changed(ctx, e) {
			toExtract = append(toExtract, e)
		} else {
			toTouch = append(toTouch, e.rel)
		}
	}

	outcomes := make([]extractOutcome, len(toExtract))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, e := range toExtract {
		i, e := i, e
		g.Go(func() error {
			abs := filepath.Join(r.lib.RootPath, filepath.FromSlash(e.rel))
			meta, err := r.extractor.Extract(gctx, abs, r.lib.RootPath)
			outcomes[i] = extractOutcome{entry: e, meta: meta, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := time.Now()
	tx, err := r.st.BeginBatch()
	if err != nil {
		return err
	}

	folders := make(map[string]struct{})
	writeErr := func() error {
		for _, out := range outcomes {
			if out.err != nil {
				// Per-file fault policy: log, count, skip; the row (if
				// any) goes stale and falls to the completion cleanup.
				logging.Warn("Extraction failed for %s: %v", out.entry.rel, out.err)
				metrics.ScanErrorsTotal.Inc()
				res.Skipped++
				continue
			}

			folder := store.ParentFolder(out.entry.rel)
			rec := &store.FileRecord{
				Path:        out.entry.rel,
				Folder:      folder,
				Name:        path.Base(out.entry.rel),
				Kind:        out.meta.Kind,
				Size:        out.entry.size,
				Width:       out.meta.Width,
				Height:      out.meta.Height,
				Format:      out.meta.Format,
				ContentHash: out.meta.ContentHash,
				AssetPath:   out.meta.AssetPath,
				CreatedAt:   now,
				ModifiedAt:  out.entry.modTime,
				IndexedAt:   now,
			}
			if err := r.st.UpsertFile(tx, rec); err != nil {
				return err
			}
			if err := r.st.EnsureFolderChain(tx, folder, now); err != nil {
				return err
			}
			folders[folder] = struct{}{}
			res.Indexed++
		}

		if err := r.st.TouchFiles(tx, toTouch, now); err != nil {
			return err
		}
		res.Touched += len(toTouch)

		if recountAncestors {
			if err := r.st.RecountFolders(tx, ancestorsOf(folders)); err != nil {
				return err
			}
		}

		_, err := r.st.BumpVersion(tx)
		return err
	}()

	if err := r.st.EndBatch(tx, writeErr); err != nil {
		return err
	}

	res.Processed += len(batch)
	metrics.ScanFilesProcessed.Add(float64(len(batch)))
	return nil
}

// changed reports whether a file needs re-extraction: absent from the
// index, or size/mtime differ from the stored row.
func (r *Reconciler) changed(ctx context.Context, e fileEntry) bool {
	rec, err := r.st.GetFile(ctx, e.rel)
	if err != nil {
		return true
	}
	return rec.Size != e.size || rec.ModifiedAt.Unix() != e.modTime.Unix()
}

// enumerate walks the library root breadth-first and returns every
// media file, sorted by path for deterministic batching. Unreadable
// subdirectories are logged and skipped; an unreadable root fails the
// scan.
func (r *Reconciler) enumerate(ctx context.Context) ([]fileEntry, error) {
	var files []fileEntry
	queue := []string{""}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := queue[0]
		queue = queue[1:]
		absDir := filepath.Join(r.lib.RootPath, filepath.FromSlash(dir))

		entries, err := filesystem.ReadDirWithRetry(absDir, filesystem.DefaultRetryConfig())
		if err != nil {
			if dir == "" {
				return nil, err
			}
			logging.Warn("Skipping unreadable directory %s: %v", absDir, err)
			continue
		}

		for _, entry := range entries {
			if skipName(entry.Name()) {
				continue
			}
			rel := path.Join(dir, entry.Name())

			if entry.IsDir() {
				queue = append(queue, rel)
				continue
			}
			if !mediatypes.IsMediaFile(strings.ToLower(filepath.Ext(entry.Name()))) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				logging.Warn("Skipping unreadable file %s: %v", rel, err)
				continue
			}
			files = append(files, fileEntry{rel: rel, size: info.Size(), modTime: info.ModTime()})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

// statPaths converts relative paths into entries, dropping those that
// no longer exist or stopped being regular files.
func (r *Reconciler) statPaths(paths []string) []fileEntry {
	entries := make([]fileEntry, 0, len(paths))
	for _, rel := range paths {
		abs := filepath.Join(r.lib.RootPath, filepath.FromSlash(rel))
		info, err := filesystem.StatWithRetry(abs, filesystem.DefaultRetryConfig())
		if err != nil || info.IsDir() {
			continue
		}
		entries = append(entries, fileEntry{rel: rel, size: info.Size(), modTime: info.ModTime()})
	}
	return entries
}

// ancestorsOf expands a folder set into the union of its ancestor
// chains, root row included.
func ancestorsOf(folders map[string]struct{}) []string {
	set := map[string]struct{}{"": {}}
	for f := range folders {
		for _, p := range store.AncestorChain(f) {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// skipName reports whether a directory entry is excluded from
// reconciliation: hidden entries and the index directory.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || name == store.IndexDirName
}
