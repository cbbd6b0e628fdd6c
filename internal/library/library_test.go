package library

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAddAndGet(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	root := t.TempDir()
	lib, err := r.Add(root, "Holiday Photos")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if lib.ID == "" {
		t.Error("Expected non-empty library id")
	}
	if lib.Name != "Holiday Photos" {
		t.Errorf("Name = %q, want 'Holiday Photos'", lib.Name)
	}
	if !filepath.IsAbs(lib.RootPath) {
		t.Errorf("Expected absolute root path, got %q", lib.RootPath)
	}

	got, err := r.Get(lib.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RootPath != lib.RootPath {
		t.Errorf("RootPath = %q, want %q", got.RootPath, lib.RootPath)
	}
}

func TestAddDefaultsNameToBase(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	root := filepath.Join(t.TempDir(), "vacation")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	lib, err := r.Add(root, "")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if lib.Name != "vacation" {
		t.Errorf("Name = %q, want 'vacation'", lib.Name)
	}
}

func TestAddRejectsMissingRoot(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if _, err := r.Add(filepath.Join(t.TempDir(), "does-not-exist"), ""); err == nil {
		t.Error("Expected error for missing root")
	}
}

func TestAddRejectsFileRoot(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := r.Add(file, ""); err == nil {
		t.Error("Expected error for file root")
	}
}

func TestAddRejectsDuplicateRoot(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	root := t.TempDir()
	if _, err := r.Add(root, "first"); err != nil {
		t.Fatalf("First add failed: %v", err)
	}
	if _, err := r.Add(root, "second"); err == nil {
		t.Error("Expected error for duplicate root")
	}
}

func TestRemove(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	lib, err := r.Add(t.TempDir(), "temp")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := r.Remove(lib.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := r.Get(lib.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after remove, got %v", err)
	}

	if err := r.Remove(lib.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for double remove, got %v", err)
	}
}

func TestRegistryPersistsAcrossReload(t *testing.T) {
	dataDir := t.TempDir()

	r1, err := NewRegistry(dataDir)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	lib, err := r1.Add(t.TempDir(), "persisted")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r2, err := NewRegistry(dataDir)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	got, err := r2.Get(lib.ID)
	if err != nil {
		t.Fatalf("Get after reload failed: %v", err)
	}
	if got.Name != "persisted" {
		t.Errorf("Name = %q, want 'persisted'", got.Name)
	}
	if r2.Count() != 1 {
		t.Errorf("Count = %d, want 1", r2.Count())
	}
}

func TestListSortedByName(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	for _, name := range []string{"zulu", "alpha", "mike"} {
		if _, err := r.Add(t.TempDir(), name); err != nil {
			t.Fatalf("Add(%s) failed: %v", name, err)
		}
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("Expected 3 libraries, got %d", len(list))
	}
	want := []string{"alpha", "mike", "zulu"}
	for i, name := range want {
		if list[i].Name != name {
			t.Errorf("list[%d].Name = %q, want %q", i, list[i].Name, name)
		}
	}
}
