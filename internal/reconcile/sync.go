package reconcile

import (
	"context"
	"sort"
	"time"

	"media-index/internal/detect"
	"media-index/internal/logging"
	"media-index/internal/store"
)

// Sync applies an incremental ChangeSet to the index. A nil ChangeSet
// means the deltas are unknown (watcher restart, startup catch-up) and
// are derived by diffing a fresh enumeration against the index.
func (r *Reconciler) Sync(ctx context.Context, token *CancelToken, cs *detect.ChangeSet) (*Result, error) {
	if cs == nil {
		derived, err := r.deriveChanges(ctx)
		if err != nil {
			return nil, err
		}
		cs = derived
		logging.Info("Catch-up sync for %s derived %d changes", r.lib.RootPath, cs.Total())
	}
	return r.ApplyChangeSet(ctx, token, cs)
}

// ApplyChangeSet reconciles one batch of detected deltas: removals
// first in a single transaction, then added and changed files through
// the normal batch pipeline with ancestor-only recounting.
func (r *Reconciler) ApplyChangeSet(ctx context.Context, token *CancelToken, cs *detect.ChangeSet) (*Result, error) {
	if cs.Empty() {
		return &Result{}, nil
	}

	res := &Result{}
	if err := r.applyRemovals(cs, res); err != nil {
		return res, err
	}

	paths := make([]string, 0, len(cs.FilesAdded)+len(cs.FilesChanged))
	for p := range cs.FilesAdded {
		paths = append(paths, p)
	}
	for p := range cs.FilesChanged {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	entries := r.statPaths(paths)
	upserts, err := r.processFiles(ctx, token, entries, len(entries), true)
	if err != nil {
		return res, err
	}

	res.Processed += upserts.Processed
	res.Indexed += upserts.Indexed
	res.Touched += upserts.Touched
	res.Skipped += upserts.Skipped
	res.Pending = upserts.Pending
	res.Aborted = upserts.Aborted
	return res, nil
}

// applyRemovals deletes vanished directories and files in one
// transaction and recounts the surviving ancestors. Derived assets are
// left alone: thumbnails are keyed by content hash and may be shared.
func (r *Reconciler) applyRemovals(cs *detect.ChangeSet, res *Result) error {
	if len(cs.DirsRemoved) == 0 && len(cs.FilesRemoved) == 0 && len(cs.DirsAdded) == 0 {
		return nil
	}

	now := time.Now()
	tx, err := r.st.BeginBatch()
	if err != nil {
		return err
	}

	touched := make(map[string]struct{})
	writeErr := func() error {
		for dir := range cs.DirsRemoved {
			removed, err := r.st.DeleteUnderFolder(tx, dir)
			if err != nil {
				return err
			}
			res.Removed += removed
			if parent := store.ParentFolder(dir); parent != "" {
				touched[parent] = struct{}{}
			}
		}

		for p := range cs.FilesRemoved {
			deleted, err := r.st.DeleteFile(tx, p)
			if err != nil {
				return err
			}
			if deleted {
				res.Removed++
			}
			touched[store.ParentFolder(p)] = struct{}{}
		}

		// New directories get their folder chain up front so empty
		// ones still appear in the tree until the next prune.
		for dir := range cs.DirsAdded {
			if err := r.st.EnsureFolderChain(tx, dir, now); err != nil {
				return err
			}
			touched[dir] = struct{}{}
		}

		if err := r.st.RecountFolders(tx, ancestorsOf(touched)); err != nil {
			return err
		}
		_, err := r.st.BumpVersion(tx)
		return err
	}()

	return r.st.EndBatch(tx, writeErr)
}

// deriveChanges diffs the current filesystem state against the index:
// files on disk but not indexed are adds, files with differing size or
// mtime are changes, indexed files missing from disk are removals.
func (r *Reconciler) deriveChanges(ctx context.Context) (*detect.ChangeSet, error) {
	indexed, err := r.st.FileSizesAndTimes(ctx)
	if err != nil {
		return nil, err
	}

	files, err := r.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	cs := detect.NewChangeSet()
	for _, e := range files {
		stored, ok := indexed[e.rel]
		if !ok {
			cs.AddFile(e.rel)
			continue
		}
		if stored[0] != e.size || stored[1] != e.modTime.Unix() {
			cs.ChangeFile(e.rel)
		}
		delete(indexed, e.rel)
	}
	for p := range indexed {
		cs.RemoveFile(p)
	}
	return cs, nil
}
