package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Thresholds controls when validation findings are raised.
type Thresholds struct {
	MinImages            int
	MinInstancesPerClass int
	MaxImbalanceRatio    float64
	MinImageSize         int
	MaxImageSize         int
	MinAspectRatio       float64
	MaxAspectRatio       float64
	MinCoverage          float64
	MaxCorruptFraction   float64
	FormatSampleSize     int
	MaxDuplicateCheck    int
}

// DefaultThresholds returns the standard validation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinImages:            100,
		MinInstancesPerClass: 50,
		MaxImbalanceRatio:    10,
		MinImageSize:         320,
		MaxImageSize:         4096,
		MinAspectRatio:       0.25,
		MaxAspectRatio:       4.0,
		MinCoverage:          0.9,
		MaxCorruptFraction:   0.1,
		FormatSampleSize:     100,
		MaxDuplicateCheck:    10000,
	}
}

// Layout names the image and label directories to validate.
type Layout struct {
	ImagesDir string
	LabelsDir string
}

// RawLayout is the unsplit dataset under dataDir: raw/ and annotations/.
func RawLayout(dataDir string) Layout {
	return Layout{
		ImagesDir: filepath.Join(dataDir, "raw"),
		LabelsDir: filepath.Join(dataDir, "annotations"),
	}
}

// ProcessedLayout is the split dataset under processedDir: images/ and labels/.
func ProcessedLayout(processedDir string) Layout {
	return Layout{
		ImagesDir: filepath.Join(processedDir, "images"),
		LabelsDir: filepath.Join(processedDir, "labels"),
	}
}

// Validator checks a dataset for training readiness. It never modifies the dataset.
type Validator struct {
	layout     Layout
	thresholds Thresholds
	logger     *slog.Logger
}

// NewValidator creates a Validator. A nil logger discards log output.
func NewValidator(layout Layout, thresholds Thresholds, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validator{layout: layout, thresholds: thresholds, logger: logger}
}

// Validate runs every check. Annotation checks run only when images were
// found, class balance only when some image is annotated.
func (v *Validator) Validate(ctx context.Context) (*ValidationResult, error) {
	result := &ValidationResult{}

	scan, err := v.validateImages(ctx, result)
	if err != nil {
		return nil, err
	}
	if scan != nil && scan.TotalImages > 0 {
		if err := v.validateAnnotations(result, scan); err != nil {
			return nil, err
		}
		if result.Statistics.AnnotationCoverage > 0 {
			if err := v.validateClassBalance(result); err != nil {
				return nil, err
			}
		}
		if err := v.checkDuplicates(ctx, result, scan); err != nil {
			return nil, err
		}
	}

	v.logger.Debug("dataset validated",
		"images", result.Statistics.TotalImages,
		"errors", len(result.Errors),
		"warnings", len(result.Warnings))
	return result, nil
}

func (v *Validator) validateImages(ctx context.Context, result *ValidationResult) (*ScanResult, error) {
	t := v.thresholds
	if _, err := os.Stat(v.layout.ImagesDir); err != nil {
		result.AddError(fmt.Sprintf("Images directory not found: %s", v.layout.ImagesDir))
		return nil, nil
	}

	scan, err := Scan(ctx, v.layout.ImagesDir)
	if err != nil {
		return nil, err
	}
	stats := &result.Statistics
	stats.TotalImages = scan.TotalImages
	stats.Formats = scan.Formats
	stats.CorruptImages = len(scan.Corrupt)
	stats.SizeStats = scan.SizeStats

	if scan.TotalImages == 0 && len(scan.Corrupt) == 0 {
		result.AddError(fmt.Sprintf("No images found in %s", v.layout.ImagesDir))
		return scan, nil
	}

	if n := len(scan.Corrupt); n > 0 {
		total := scan.TotalImages + n
		if float64(n) > float64(total)*t.MaxCorruptFraction {
			result.AddError(fmt.Sprintf(
				"%d corrupt images found (%.0f%%). Please remove or fix corrupt files.",
				n, float64(n)/float64(total)*100))
		} else {
			var sample []string
			for _, c := range scan.Corrupt[:min(3, n)] {
				sample = append(sample, filepath.Base(c.Path))
			}
			result.AddWarning(fmt.Sprintf("%d corrupt images found. Examples: %s", n, strings.Join(sample, ", ")))
		}
	}
	if scan.TotalImages == 0 {
		result.AddError(fmt.Sprintf("No readable images found in %s", v.layout.ImagesDir))
		return scan, nil
	}

	if scan.TotalImages < t.MinImages {
		result.AddWarning(fmt.Sprintf(
			"Only %d images found. Recommend %d+ for reliable training.", scan.TotalImages, t.MinImages))
	}

	if s := scan.SizeStats; s != nil {
		minDim := min(s.Min.Width, s.Min.Height)
		maxDim := max(s.Max.Width, s.Max.Height)
		if minDim < t.MinImageSize {
			result.AddWarning(fmt.Sprintf(
				"Some images smaller than %dpx. Minimum found: %dpx. Small images may hurt detection accuracy.",
				t.MinImageSize, minDim))
		}
		if maxDim > t.MaxImageSize {
			result.AddWarning(fmt.Sprintf(
				"Some images larger than %dpx. Maximum found: %dpx. Consider resizing for faster training.",
				t.MaxImageSize, maxDim))
		}
	}

	minAR, maxAR, seen := 0.0, 0.0, false
	for _, img := range scan.Images {
		if img.Height == 0 {
			continue
		}
		ar := float64(img.Width) / float64(img.Height)
		if !seen || ar < minAR {
			minAR = ar
		}
		if !seen || ar > maxAR {
			maxAR = ar
		}
		seen = true
	}
	if seen && (minAR < t.MinAspectRatio || maxAR > t.MaxAspectRatio) {
		result.AddWarning(fmt.Sprintf(
			"Extreme aspect ratios detected (%.2f to %.2f). Very tall or wide images may affect detection quality.",
			minAR, maxAR))
	}
	return scan, nil
}

// labelFiles returns every .txt label file under the labels directory,
// sorted, excluding classes.txt.
func (v *Validator) labelFiles() ([]string, error) {
	return walkFiles(v.layout.LabelsDir, func(p string) bool {
		return strings.EqualFold(filepath.Ext(p), ".txt") && !strings.EqualFold(filepath.Base(p), "classes.txt")
	})
}

func (v *Validator) validateAnnotations(result *ValidationResult, scan *ScanResult) error {
	stats := &result.Statistics
	if _, err := os.Stat(v.layout.LabelsDir); err != nil {
		result.AddWarning(fmt.Sprintf(
			"No annotations directory found at %s. Run 'croak annotate' to label your images.", v.layout.LabelsDir))
		stats.AnnotationCoverage = 0
		return nil
	}

	labels, err := v.labelFiles()
	if err != nil {
		return err
	}

	imageStems := make(map[string]bool, len(scan.Images))
	for _, img := range scan.Images {
		imageStems[stem(img.Path)] = true
	}
	labelStems := make(map[string]bool, len(labels))
	for _, l := range labels {
		labelStems[stem(l)] = true
	}

	matched, orphans := 0, 0
	for s := range imageStems {
		if labelStems[s] {
			matched++
		}
	}
	for s := range labelStems {
		if !imageStems[s] {
			orphans++
		}
	}
	missing := len(imageStems) - matched

	coverage := float64(matched) / float64(len(imageStems))
	stats.AnnotationCoverage = coverage
	stats.ImagesWithLabels = matched
	stats.ImagesWithoutLabels = missing
	stats.OrphanLabels = orphans

	switch {
	case matched == 0:
		result.AddWarning("No annotations found for any images. Run 'croak annotate' first.")
	case coverage < v.thresholds.MinCoverage:
		result.AddWarning(fmt.Sprintf(
			"%d images without annotations (%.0f%% coverage). Recommend %.0f%%+ coverage.",
			missing, coverage*100, v.thresholds.MinCoverage*100))
	}
	if orphans > 0 {
		result.AddWarning(fmt.Sprintf("%d annotation files without matching images. These will be ignored.", orphans))
	}

	sample := labels[:min(v.thresholds.FormatSampleSize, len(labels))]
	v.validateFormat(result, sample)
	return nil
}

func (v *Validator) validateFormat(result *ValidationResult, labels []string) {
	stats := &result.Statistics
	var invalid []string
	empty, total := 0, 0

	for _, path := range labels {
		data, err := os.ReadFile(path)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("%s: file error: %v", filepath.Base(path), err))
			continue
		}
		if len(data) == 0 {
			empty++
			continue
		}
		for n, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			_, problems := checkLabelLine(line)
			if len(problems) == 0 {
				total++
				continue
			}
			for _, p := range problems {
				invalid = append(invalid, fmt.Sprintf("%s:%d: %s", filepath.Base(path), n+1, p))
			}
		}
	}

	stats.SampledLabelFiles = len(labels)
	stats.TotalAnnotations = total
	stats.EmptyLabelFiles = empty
	stats.InvalidAnnotations = len(invalid)

	if len(invalid) > 0 {
		result.AddError(fmt.Sprintf("%d annotation format errors found. First few: %s",
			len(invalid), strings.Join(invalid[:min(3, len(invalid))], "; ")))
	}
	if len(labels) > 0 && float64(empty) > float64(len(labels))*0.5 {
		result.AddWarning(fmt.Sprintf(
			"%d empty label files (%.0f%%). These images have no objects - verify this is intentional.",
			empty, float64(empty)/float64(len(labels))*100))
	}
}

func (v *Validator) validateClassBalance(result *ValidationResult) error {
	labels, err := v.labelFiles()
	if err != nil {
		return err
	}

	counts := map[int]int{}
	for _, path := range labels {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if id, err := strconv.Atoi(fields[0]); err == nil {
				counts[id]++
			}
		}
	}
	if len(counts) == 0 {
		return nil
	}

	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	minCount, maxCount := counts[ids[0]], counts[ids[0]]
	for _, id := range ids {
		minCount = min(minCount, counts[id])
		maxCount = max(maxCount, counts[id])
	}

	stats := &result.Statistics
	stats.ClassDistribution = counts
	stats.NumClasses = len(counts)
	stats.MinClassCount = minCount
	stats.MaxClassCount = maxCount

	for _, id := range ids {
		if counts[id] < v.thresholds.MinInstancesPerClass {
			result.AddWarning(fmt.Sprintf("Class %d has only %d instances. Recommend %d+ per class.",
				id, counts[id], v.thresholds.MinInstancesPerClass))
		}
	}

	ratio := float64(maxCount) / float64(minCount)
	stats.ImbalanceRatio = ratio
	if ratio > v.thresholds.MaxImbalanceRatio {
		result.AddWarning(fmt.Sprintf(
			"Class imbalance ratio is %.1f:1. Consider collecting more minority class samples or using class weights.",
			ratio))
	}
	return nil
}

func (v *Validator) checkDuplicates(ctx context.Context, result *ValidationResult, scan *ScanResult) error {
	if len(scan.Images) < 2 {
		return nil
	}
	if len(scan.Images) > v.thresholds.MaxDuplicateCheck {
		result.Statistics.DuplicateCheckSkipped = true
		result.AddWarning(fmt.Sprintf("Skipping duplicate check for %d images (too many).", len(scan.Images)))
		return nil
	}

	seen := make(map[string]string, len(scan.Images))
	dups := 0
	for _, img := range scan.Images {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum, err := fileHash(img.Path)
		if err != nil {
			continue
		}
		if _, ok := seen[sum]; ok {
			dups++
			continue
		}
		seen[sum] = img.Path
	}

	result.Statistics.Duplicates = dups
	if dups > 0 {
		result.AddWarning(fmt.Sprintf(
			"%d duplicate images found. Remove before training to avoid data leakage.", dups))
	}
	return nil
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Summary renders a human-readable summary of result.
func Summary(result *ValidationResult) string {
	var b strings.Builder
	stats := result.Statistics

	if result.Passed() {
		b.WriteString("Validation PASSED\n\n")
	} else {
		b.WriteString("Validation FAILED\n\n")
	}

	fmt.Fprintf(&b, "Images: %d\n", stats.TotalImages)
	if len(stats.Formats) > 0 {
		exts := make([]string, 0, len(stats.Formats))
		for ext := range stats.Formats {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		parts := make([]string, len(exts))
		for i, ext := range exts {
			parts[i] = fmt.Sprintf("%s: %d", ext, stats.Formats[ext])
		}
		fmt.Fprintf(&b, "  Formats: %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "Annotation Coverage: %.0f%%\n", stats.AnnotationCoverage*100)
	if stats.NumClasses > 0 {
		fmt.Fprintf(&b, "Classes: %d\n", stats.NumClasses)
		if stats.ImbalanceRatio > 0 {
			fmt.Fprintf(&b, "  Imbalance Ratio: %.1f:1\n", stats.ImbalanceRatio)
		}
	}
	if stats.Duplicates > 0 {
		fmt.Fprintf(&b, "Duplicates: %d\n", stats.Duplicates)
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintf(&b, "\nWarnings (%d):\n", len(result.Warnings))
		for _, w := range result.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}
	return b.String()
}
