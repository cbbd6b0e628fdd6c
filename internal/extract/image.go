package extract

import (
	"fmt"
	"image"
	"os"

	"media-index/internal/logging"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP format support
)

const (
	// maxImageDimension is the maximum width or height loaded for
	// thumbnail generation; larger images are downscaled at load time.
	maxImageDimension = 4096

	// maxImagePixels caps total decoded pixels (~20MP is ~80MB RGBA).
	maxImagePixels = 20_000_000
)

// Dimensions holds image width and height.
type Dimensions struct {
	Width  int
	Height int
}

// ReadDimensions returns image dimensions without fully decoding the
// image.
func ReadDimensions(path string) (*Dimensions, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.Warn("failed to close image file %s: %v", path, err)
		}
	}()

	config, _, err := image.DecodeConfig(file)
	if err != nil {
		return nil, err
	}
	return &Dimensions{Width: config.Width, Height: config.Height}, nil
}

// loadImageConstrained loads an image, downscaling at load when it
// exceeds the dimension or pixel limits, to bound memory use on very
// large sources.
func loadImageConstrained(path string) (image.Image, error) {
	dims, err := ReadDimensions(path)
	if err != nil {
		logging.Debug("Could not read dimensions for %s: %v, loading directly", path, err)
		return imaging.Open(path, imaging.AutoOrientation(true))
	}

	width, height := dims.Width, dims.Height
	pixels := width * height

	if width <= maxImageDimension && height <= maxImageDimension && pixels <= maxImagePixels {
		return imaging.Open(path, imaging.AutoOrientation(true))
	}

	targetWidth, targetHeight := width, height
	if width > maxImageDimension || height > maxImageDimension {
		if width > height {
			targetWidth = maxImageDimension
			targetHeight = height * maxImageDimension / width
		} else {
			targetHeight = maxImageDimension
			targetWidth = width * maxImageDimension / height
		}
	}

	if targetWidth*targetHeight > maxImagePixels {
		scale := float64(maxImagePixels) / float64(targetWidth*targetHeight)
		targetWidth = int(float64(targetWidth) * scale)
		targetHeight = int(float64(targetHeight) * scale)
	}

	logging.Debug("Constraining large image %s from %dx%d to %dx%d",
		path, width, height, targetWidth, targetHeight)

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return imaging.Resize(img, targetWidth, targetHeight, imaging.Lanczos), nil
}
