package extract

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/blake2b"

	"media-index/internal/filesystem"
	"media-index/internal/logging"
	"media-index/internal/metrics"
)

// ContentHash computes the BLAKE2b-256 hash of a file's contents. The
// hash keys derived assets, so identical files share one thumbnail.
func ContentHash(path string) (string, error) {
	start := time.Now()
	defer func() {
		metrics.FileHashComputeDuration.Observe(time.Since(start).Seconds())
	}()

	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close %s after hashing: %v", path, err)
		}
	}()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
