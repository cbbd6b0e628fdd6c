package detect

// ChangeSet is one batch of detected filesystem deltas awaiting
// reconciliation. All paths are library-relative with forward slashes.
// Each field has set semantics: repeated events for the same path
// collapse, and contradictory ones resolve (a path added then removed
// within one batch ends up removed only).
type ChangeSet struct {
	FilesAdded   map[string]struct{}
	FilesChanged map[string]struct{}
	FilesRemoved map[string]struct{}
	DirsAdded    map[string]struct{}
	DirsRemoved  map[string]struct{}
}

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		FilesAdded:   make(map[string]struct{}),
		FilesChanged: make(map[string]struct{}),
		FilesRemoved: make(map[string]struct{}),
		DirsAdded:    make(map[string]struct{}),
		DirsRemoved:  make(map[string]struct{}),
	}
}

// AddFile records a newly created file, clearing any pending removal.
func (cs *ChangeSet) AddFile(path string) {
	delete(cs.FilesRemoved, path)
	if _, changed := cs.FilesChanged[path]; !changed {
		cs.FilesAdded[path] = struct{}{}
	}
}

// ChangeFile records a modified file. A path already pending as added
// stays added; the reconciler treats both identically.
func (cs *ChangeSet) ChangeFile(path string) {
	delete(cs.FilesRemoved, path)
	if _, added := cs.FilesAdded[path]; !added {
		cs.FilesChanged[path] = struct{}{}
	}
}

// RemoveFile records a deleted file, clearing any pending add or change.
func (cs *ChangeSet) RemoveFile(path string) {
	delete(cs.FilesAdded, path)
	delete(cs.FilesChanged, path)
	cs.FilesRemoved[path] = struct{}{}
}

// AddDir records a newly created directory.
func (cs *ChangeSet) AddDir(path string) {
	delete(cs.DirsRemoved, path)
	cs.DirsAdded[path] = struct{}{}
}

// RemoveDir records a deleted directory.
func (cs *ChangeSet) RemoveDir(path string) {
	delete(cs.DirsAdded, path)
	cs.DirsRemoved[path] = struct{}{}
}

// Merge folds other into cs, preserving set semantics.
func (cs *ChangeSet) Merge(other *ChangeSet) {
	if other == nil {
		return
	}
	for p := range other.FilesAdded {
		cs.AddFile(p)
	}
	for p := range other.FilesChanged {
		cs.ChangeFile(p)
	}
	for p := range other.FilesRemoved {
		cs.RemoveFile(p)
	}
	for p := range other.DirsAdded {
		cs.AddDir(p)
	}
	for p := range other.DirsRemoved {
		cs.RemoveDir(p)
	}
}

// Empty reports whether the ChangeSet carries no deltas.
func (cs *ChangeSet) Empty() bool {
	return cs.Total() == 0
}

// Total returns the number of pending paths across all categories.
func (cs *ChangeSet) Total() int {
	return len(cs.FilesAdded) + len(cs.FilesChanged) + len(cs.FilesRemoved) +
		len(cs.DirsAdded) + len(cs.DirsRemoved)
}
