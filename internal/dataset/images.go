// Package dataset scans, validates and splits YOLO-format image datasets.
package dataset

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageExtensions lists the supported image file extensions.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tiff"}

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// stem returns the file name without its extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// decodeImage fully decodes the image at path and returns its dimensions.
func decodeImage(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode: %w", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}
