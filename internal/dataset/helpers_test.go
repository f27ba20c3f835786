package dataset

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writePNG writes a w×h PNG whose first pixel encodes seed so that images
// with different seeds have different bytes.
func writePNG(t *testing.T, path string, w, h, seed int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: 7, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// makeDataset creates n paired images under dataDir/raw and
// dataDir/annotations, assigning classes round-robin over classes.
func makeDataset(t *testing.T, dataDir string, n, classes int) {
	t.Helper()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("img_%03d", i)
		writePNG(t, filepath.Join(dataDir, "raw", name+".png"), 640, 480, i)
		writeFile(t, filepath.Join(dataDir, "annotations", name+".txt"),
			fmt.Sprintf("%d 0.5 0.5 0.2 0.2\n", i%classes))
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}
