package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"media-index/internal/logging"
	"media-index/internal/mediatypes"
	"media-index/internal/metrics"
	"media-index/internal/store"
)

const (
	thumbsDirName = "thumbs"

	thumbnailSize    = 200
	thumbnailQuality = 80
)

// Metadata is the result of extracting one media file.
type Metadata struct {
	Kind        mediatypes.FileType
	Format      string
	Width       int
	Height      int
	ContentHash string

	// AssetPath is the derived thumbnail, relative to the library's
	// hidden index directory; empty when no thumbnail was produced.
	AssetPath string
}

// Extractor produces metadata and a derived asset for one source file.
// Implementations may fail per file without affecting the batch.
type Extractor interface {
	Extract(ctx context.Context, absPath, libraryRoot string) (*Metadata, error)
}

// MediaExtractor extracts media metadata and generates content-hash
// addressed thumbnails under <root>/.mediaindex/thumbs/.
type MediaExtractor struct {
	// genMu serializes thumbnail generation; decoding two large images
	// at once is the main memory spike in the whole engine.
	genMu sync.Mutex
}

// New creates a MediaExtractor.
func New() *MediaExtractor {
	return &MediaExtractor{}
}

// ThumbsDir returns the derived-asset directory for a library root.
func ThumbsDir(libraryRoot string) string {
	return filepath.Join(store.IndexDir(libraryRoot), thumbsDirName)
}

// Extract hashes the file, reads image dimensions where the format
// allows it, and generates (or reuses) the thumbnail keyed by content
// hash.
func (e *MediaExtractor) Extract(ctx context.Context, absPath, libraryRoot string) (*Metadata, error) {
	ext := strings.ToLower(filepath.Ext(absPath))
	kind := mediatypes.GetFileType(ext)
	if kind == mediatypes.FileTypeOther {
		metrics.ExtractionsTotal.WithLabelValues("other", "skipped").Inc()
		return nil, fmt.Errorf("unsupported media type: %s", ext)
	}

	start := time.Now()
	var err error
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.ExtractionsTotal.WithLabelValues(string(kind), status).Inc()
		metrics.ExtractionDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	meta := &Metadata{
		Kind:   kind,
		Format: mediatypes.FormatName(ext),
	}

	meta.ContentHash, err = ContentHash(absPath)
	if err != nil {
		return nil, err
	}

	if kind == mediatypes.FileTypeImage && mediatypes.CanDecodeDimensions(ext) {
		if dims, dimErr := ReadDimensions(absPath); dimErr != nil {
			// Dimensions are best-effort; the row is still indexed.
			logging.Debug("Could not read dimensions for %s: %v", absPath, dimErr)
		} else {
			meta.Width = dims.Width
			meta.Height = dims.Height
		}

		meta.AssetPath, err = e.ensureThumbnail(absPath, libraryRoot, meta.ContentHash)
		if err != nil {
			return nil, err
		}
	}

	return meta, nil
}

// ensureThumbnail generates the thumbnail for a source image unless one
// with the same content hash already exists. Returns the asset path
// relative to the hidden index directory.
func (e *MediaExtractor) ensureThumbnail(absPath, libraryRoot, contentHash string) (string, error) {
	relPath := filepath.Join(thumbsDirName, contentHash+".jpg")
	thumbPath := filepath.Join(store.IndexDir(libraryRoot), thumbsDirName, contentHash+".jpg")

	if _, err := os.Stat(thumbPath); err == nil {
		metrics.ThumbnailCacheHits.Inc()
		return relPath, nil
	}
	metrics.ThumbnailCacheMisses.Inc()

	e.genMu.Lock()
	defer e.genMu.Unlock()

	// Another batch worker may have produced it while we waited.
	if _, err := os.Stat(thumbPath); err == nil {
		metrics.ThumbnailCacheHits.Inc()
		return relPath, nil
	}

	img, err := e.loadForThumbnail(absPath)
	if err != nil {
		return "", fmt.Errorf("thumbnail decode failed for %s: %w", absPath, err)
	}

	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return "", fmt.Errorf("thumbnail encode failed for %s: %w", absPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(thumbPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	if err := os.WriteFile(thumbPath, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write thumbnail %s: %w", thumbPath, err)
	}

	logging.Debug("Thumbnail generated: %s", thumbPath)
	return relPath, nil
}

// loadForThumbnail prefers the vips decode-time-shrink path and falls
// back to the pure-Go constrained loader.
func (e *MediaExtractor) loadForThumbnail(absPath string) (image.Image, error) {
	if IsVipsAvailable() {
		if img, err := loadImageWithVips(absPath, thumbnailSize, thumbnailSize); err == nil {
			return img, nil
		} else {
			logging.Debug("vips load failed for %s: %v, falling back", absPath, err)
		}
	}
	return loadImageConstrained(absPath)
}
