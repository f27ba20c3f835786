package dataset

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ImageInfo is a decodable image and its dimensions.
type ImageInfo struct {
	Path   string `json:"path" yaml:"path"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
}

// CorruptImage is an image file that failed to decode.
type CorruptImage struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

// Size is a width/height pair.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// SizeStats summarizes image dimensions. Min and Max take each axis
// independently; Median is the upper median of each axis.
type SizeStats struct {
	Min    Size `json:"min" yaml:"min"`
	Max    Size `json:"max" yaml:"max"`
	Median Size `json:"median" yaml:"median"`
}

// ScanResult describes the images found under a directory.
type ScanResult struct {
	TotalImages      int            `json:"total_images" yaml:"total_images"`
	Formats          map[string]int `json:"formats" yaml:"formats"`
	Images           []ImageInfo    `json:"-" yaml:"-"`
	Corrupt          []CorruptImage `json:"corrupt,omitempty" yaml:"corrupt,omitempty"`
	SizeStats        *SizeStats     `json:"size_stats,omitempty" yaml:"size_stats,omitempty"`
	HasAnnotations   bool           `json:"has_annotations" yaml:"has_annotations"`
	AnnotationFormat string         `json:"annotation_format,omitempty" yaml:"annotation_format,omitempty"`
}

// Scan walks dir recursively, decodes every supported image and detects any
// annotation format present. Files are visited in lexical order.
func Scan(ctx context.Context, dir string) (*ScanResult, error) {
	res := &ScanResult{Formats: map[string]int{}}

	paths, err := walkFiles(dir, IsImage)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, h, err := decodeImage(path)
		if err != nil {
			res.Corrupt = append(res.Corrupt, CorruptImage{Path: path, Error: err.Error()})
			continue
		}
		res.Images = append(res.Images, ImageInfo{Path: path, Width: w, Height: h})
		res.Formats[strings.ToLower(filepath.Ext(path))]++
		res.TotalImages++
	}

	res.SizeStats = sizeStats(res.Images)
	res.AnnotationFormat, err = detectAnnotations(dir, res.Images)
	if err != nil {
		return nil, err
	}
	res.HasAnnotations = res.AnnotationFormat != ""
	return res, nil
}

// walkFiles returns every regular file under dir accepted by keep.
func walkFiles(dir string, keep func(string) bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && keep(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return out, nil
}

func sizeStats(images []ImageInfo) *SizeStats {
	if len(images) == 0 {
		return nil
	}
	widths := make([]int, len(images))
	heights := make([]int, len(images))
	for i, img := range images {
		widths[i], heights[i] = img.Width, img.Height
	}
	slices.Sort(widths)
	slices.Sort(heights)
	mid := len(images) / 2
	return &SizeStats{
		Min:    Size{widths[0], heights[0]},
		Max:    Size{widths[len(widths)-1], heights[len(heights)-1]},
		Median: Size{widths[mid], heights[mid]},
	}
}

// detectAnnotations guesses the annotation format present in dir: yolo when
// most images have a sibling .txt, coco when a COCO json file exists, voc
// when .xml files outnumber half the images. It returns "" when none match.
func detectAnnotations(dir string, images []ImageInfo) (string, error) {
	yolo := 0
	for _, img := range images {
		txt := strings.TrimSuffix(img.Path, filepath.Ext(img.Path)) + ".txt"
		if _, err := os.Stat(txt); err == nil {
			yolo++
		}
	}
	if float64(yolo) > float64(len(images))*0.5 {
		return "yolo", nil
	}

	coco, err := walkFiles(dir, func(p string) bool {
		base := strings.ToLower(filepath.Base(p))
		return base == "annotations.json" ||
			strings.HasPrefix(base, "instances_") && strings.HasSuffix(base, ".json") ||
			strings.HasSuffix(base, "_annotations.json")
	})
	if err != nil {
		return "", err
	}
	if len(coco) > 0 {
		return "coco", nil
	}

	xml, err := walkFiles(dir, func(p string) bool {
		return strings.EqualFold(filepath.Ext(p), ".xml")
	})
	if err != nil {
		return "", err
	}
	if len(xml) > 0 && float64(len(xml)) > float64(len(images))*0.5 {
		return "voc", nil
	}
	return "", nil
}
