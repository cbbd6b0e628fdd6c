package store

import (
	"path"
	"time"

	"media-index/internal/mediatypes"
)

// FileRecord is one indexed media file. Paths are library-relative with
// forward slashes; Folder is the parent folder path ("" for the root).
type FileRecord struct {
	Path        string             `json:"path"`
	Folder      string             `json:"folder"`
	Name        string             `json:"name"`
	Kind        mediatypes.FileType `json:"kind"`
	Size        int64              `json:"size"`
	Width       int                `json:"width,omitempty"`
	Height      int                `json:"height,omitempty"`
	Format      string             `json:"format,omitempty"`
	ContentHash string             `json:"contentHash,omitempty"`
	AssetPath   string             `json:"assetPath,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	ModifiedAt  time.Time          `json:"modifiedAt"`
	IndexedAt   time.Time          `json:"indexedAt"`
}

// FolderRecord is one indexed folder. ImageCount is the recursive count
// of file rows at or under Path.
type FolderRecord struct {
	Path       string    `json:"path"`
	Parent     string    `json:"parent"`
	Name       string    `json:"name"`
	ImageCount int       `json:"imageCount"`
	LastScan   time.Time `json:"lastScan,omitempty"`
}

// Stats summarizes the index contents for one library.
type Stats struct {
	TotalFiles   int `json:"totalFiles"`
	TotalFolders int `json:"totalFolders"`
	TotalImages  int `json:"totalImages"`
	TotalVideos  int `json:"totalVideos"`
}

// ParentFolder returns the folder path containing p ("" for top-level
// entries). Paths use forward slashes.
func ParentFolder(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// AncestorChain returns every ancestor folder of folderPath from the
// immediate parent up to (excluding) the root, plus folderPath itself.
// AncestorChain("a/b/c") = ["a/b/c", "a/b", "a"].
func AncestorChain(folderPath string) []string {
	var chain []string
	for p := folderPath; p != ""; p = ParentFolder(p) {
		chain = append(chain, p)
	}
	return chain
}
