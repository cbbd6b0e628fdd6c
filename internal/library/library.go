package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-index/internal/logging"
)

// ErrNotFound is returned when a library id is not registered.
var ErrNotFound = errors.New("library not found")

const registryFileName = "libraries.json"

// Library is a user-designated root directory indexed by the engine.
type Library struct {
	ID       string    `json:"id"`
	RootPath string    `json:"rootPath"`
	Name     string    `json:"name"`
	AddedAt  time.Time `json:"addedAt"`
}

// Registry holds the set of registered libraries, persisted as a JSON
// file in the application data directory.
type Registry struct {
	path      string
	mu        sync.RWMutex
	libraries map[string]*Library
}

// NewRegistry loads (or creates) the registry file under dataDir.
func NewRegistry(dataDir string) (*Registry, error) {
	r := &Registry{
		path:      filepath.Join(dataDir, registryFileName),
		libraries: make(map[string]*Library),
	}

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read library registry: %w", err)
	}

	var list []*Library
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse library registry: %w", err)
	}
	for _, lib := range list {
		r.libraries[lib.ID] = lib
	}

	logging.Info("Library registry loaded: %d libraries", len(r.libraries))
	return r, nil
}

// Add registers a new library rooted at rootPath. The root must exist
// and be a directory.
func (r *Registry) Add(rootPath, name string) (*Library, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library root: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("library root not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library root is not a directory: %s", abs)
	}

	if name == "" {
		name = filepath.Base(abs)
	}

	lib := &Library{
		ID:       uuid.NewString(),
		RootPath: abs,
		Name:     name,
		AddedAt:  time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.libraries {
		if existing.RootPath == abs {
			return nil, fmt.Errorf("library root already registered: %s", abs)
		}
	}

	r.libraries[lib.ID] = lib
	if err := r.save(); err != nil {
		delete(r.libraries, lib.ID)
		return nil, err
	}

	logging.Info("Library registered: %s (%s)", lib.Name, lib.RootPath)
	return lib, nil
}

// Remove unregisters a library by id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lib, ok := r.libraries[id]
	if !ok {
		return ErrNotFound
	}

	delete(r.libraries, id)
	if err := r.save(); err != nil {
		r.libraries[id] = lib
		return err
	}

	logging.Info("Library removed: %s (%s)", lib.Name, lib.RootPath)
	return nil
}

// Get returns the library with the given id.
func (r *Registry) Get(id string) (*Library, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lib, ok := r.libraries[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *lib
	return &copied, nil
}

// List returns all registered libraries sorted by name.
func (r *Registry) List() []*Library {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Library, 0, len(r.libraries))
	for _, lib := range r.libraries {
		copied := *lib
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Count returns the number of registered libraries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.libraries)
}

// save writes the registry to disk. Caller must hold the write lock.
func (r *Registry) save() error {
	list := make([]*Library, 0, len(r.libraries))
	for _, lib := range r.libraries {
		list = append(list, lib)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].AddedAt.Before(list[j].AddedAt) })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode library registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write library registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace library registry: %w", err)
	}
	return nil
}
