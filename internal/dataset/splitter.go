package dataset

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Split names.
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// Splits lists the split names in order.
var Splits = []string{SplitTrain, SplitVal, SplitTest}

var (
	// ErrInvalidRatios is returned when split ratios do not sum to 1.
	ErrInvalidRatios = errors.New("split ratios must sum to 1.0")
	// ErrNoPairs is returned when no image has a matching label file.
	ErrNoPairs = errors.New("no image-label pairs found")
)

// ratioTolerance is the allowed deviation of the ratio sum from 1.
const ratioTolerance = 0.001

// stratifyMinPairs is the smallest dataset that is stratified.
const stratifyMinPairs = 10

// SplitOptions controls a split.
type SplitOptions struct {
	TrainRatio float64
	ValRatio   float64
	TestRatio  float64
	Seed       int64
	Stratify   bool
	ClassNames []string
}

// DefaultSplitOptions returns an 80/15/5 stratified split with seed 42.
func DefaultSplitOptions() SplitOptions {
	return SplitOptions{TrainRatio: 0.8, ValRatio: 0.15, TestRatio: 0.05, Seed: 42, Stratify: true}
}

// Validate checks the ratios.
func (o SplitOptions) Validate() error {
	for _, r := range []float64{o.TrainRatio, o.ValRatio, o.TestRatio} {
		if r < 0 || r > 1 || math.IsNaN(r) {
			return fmt.Errorf("%w: ratio %g out of [0,1]", ErrInvalidRatios, r)
		}
	}
	if sum := o.TrainRatio + o.ValRatio + o.TestRatio; math.Abs(sum-1) > ratioTolerance {
		return fmt.Errorf("%w, got %.3f", ErrInvalidRatios, sum)
	}
	return nil
}

// Pair is an image and its label file.
type Pair struct {
	Image string `json:"image" yaml:"image"`
	Label string `json:"label" yaml:"label"`
}

// Assignment holds the pairs placed in each split.
type Assignment struct {
	Train []Pair `json:"train" yaml:"train"`
	Val   []Pair `json:"val" yaml:"val"`
	Test  []Pair `json:"test" yaml:"test"`
}

// SplitResult summarizes a completed split.
type SplitResult struct {
	Train      int        `json:"train" yaml:"train"`
	Val        int        `json:"val" yaml:"val"`
	Test       int        `json:"test" yaml:"test"`
	Total      int        `json:"total" yaml:"total"`
	Classes    []string   `json:"classes" yaml:"classes"`
	DataYAML   string     `json:"data_yaml" yaml:"data_yaml"`
	OutputDir  string     `json:"output_dir" yaml:"output_dir"`
	Seed       int64      `json:"seed" yaml:"seed"`
	Stratified bool       `json:"stratified" yaml:"stratified"`
	Hash       string     `json:"dataset_hash" yaml:"dataset_hash"`
	Assignment Assignment `json:"-" yaml:"-"`
}

// Splitter partitions data/raw + data/annotations into data/processed.
type Splitter struct {
	imagesDir string
	labelsDir string
	outputDir string
	logger    *slog.Logger
}

// NewSplitter creates a Splitter for the data directory dataDir. A nil
// logger discards log output.
func NewSplitter(dataDir string, logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Splitter{
		imagesDir: filepath.Join(dataDir, "raw"),
		labelsDir: filepath.Join(dataDir, "annotations"),
		outputDir: filepath.Join(dataDir, "processed"),
		logger:    logger,
	}
}

// OutputDir returns the directory splits are written to.
func (s *Splitter) OutputDir() string {
	return s.outputDir
}

// ManifestPath returns the location of the generated data.yaml.
func (s *Splitter) ManifestPath() string {
	return filepath.Join(s.outputDir, "data.yaml")
}

// Split assigns every paired image to a split, copies the pairs into the
// output tree and writes the manifest. Nothing is written when the ratios
// are invalid or no pairs exist.
func (s *Splitter) Split(opts SplitOptions) (*SplitResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	pairs, err := s.findPairs()
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: check %s and %s", ErrNoPairs, s.imagesDir, s.labelsDir)
	}

	classes := opts.ClassNames
	if len(classes) == 0 {
		classes = s.inferClassNames(pairs)
	}

	stratified := opts.Stratify && len(pairs) > stratifyMinPairs
	rng := rand.New(rand.NewPCG(uint64(opts.Seed), uint64(opts.Seed)))
	var a Assignment
	if stratified {
		a = stratifiedSplit(pairs, opts, rng)
	} else {
		a = randomSplit(pairs, opts, rng)
	}

	if err := s.copySplits(a); err != nil {
		return nil, err
	}

	absOut, err := filepath.Abs(s.outputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", s.outputDir, err)
	}
	res := &SplitResult{
		Train:      len(a.Train),
		Val:        len(a.Val),
		Test:       len(a.Test),
		Total:      len(pairs),
		Classes:    classes,
		DataYAML:   s.ManifestPath(),
		OutputDir:  s.outputDir,
		Seed:       opts.Seed,
		Stratified: stratified,
		Hash:       datasetHash(pairs),
		Assignment: a,
	}
	if err := WriteManifest(s.ManifestPath(), NewManifest(absOut, classes), res); err != nil {
		return nil, fmt.Errorf("write data.yaml: %w", err)
	}

	s.logger.Info("dataset split",
		"train", res.Train, "val", res.Val, "test", res.Test,
		"stratified", stratified, "hash", res.Hash)
	return res, nil
}

// findPairs returns images in the raw directory with a same-stem label file
// in the annotations directory, sorted by image name.
func (s *Splitter) findPairs() ([]Pair, error) {
	entries, err := os.ReadDir(s.imagesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.imagesDir, err)
	}

	var pairs []Pair
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		label := filepath.Join(s.labelsDir, stem(e.Name())+".txt")
		if _, err := os.Stat(label); err != nil {
			continue
		}
		pairs = append(pairs, Pair{Image: filepath.Join(s.imagesDir, e.Name()), Label: label})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Image < pairs[j].Image })
	return pairs, nil
}

// inferClassNames reuses the names from an existing manifest, or otherwise
// synthesizes class_{id} names from the first line of up to 100 label files.
func (s *Splitter) inferClassNames(pairs []Pair) []string {
	m, err := ReadManifest(s.ManifestPath())
	switch {
	case err == nil && len(m.Names) > 0:
		return m.ClassNames()
	case err != nil && !errors.Is(err, os.ErrNotExist):
		s.logger.Warn("ignoring unreadable data.yaml", "path", s.ManifestPath(), "err", err)
	}

	seen := map[int]bool{}
	for _, p := range pairs[:min(100, len(pairs))] {
		if k := primaryClass(p.Label); k.Known && k.ID >= 0 {
			seen[k.ID] = true
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = fmt.Sprintf("class_%d", id)
	}
	return names
}

// targets returns the train and val counts for n items.
func targets(n int, opts SplitOptions) (train, val int) {
	const eps = 1e-9
	train = int(math.Floor(float64(n)*opts.TrainRatio + eps))
	val = int(math.Floor(float64(n)*opts.ValRatio + eps))
	if train+val > n {
		val = n - train
	}
	return train, val
}

func randomSplit(pairs []Pair, opts SplitOptions, rng *rand.Rand) Assignment {
	shuffled := append([]Pair(nil), pairs...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	train, val := targets(len(shuffled), opts)
	return Assignment{
		Train: shuffled[:train],
		Val:   shuffled[train : train+val],
		Test:  shuffled[train+val:],
	}
}

// stratifiedSplit groups pairs by the class of their first annotation and
// gives every split a proportional share of each group. Per-group shares are
// apportioned by largest remainder so the split totals equal those of an
// unstratified split of the same size.
func stratifiedSplit(pairs []Pair, opts SplitOptions, rng *rand.Rand) Assignment {
	groups := map[ClassKey][]Pair{}
	for _, p := range pairs {
		k := primaryClass(p.Label)
		groups[k] = append(groups[k], p)
	}
	keys := make([]ClassKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	sizes := make([]int, len(keys))
	for i, k := range keys {
		sizes[i] = len(groups[k])
	}
	trainTotal, valTotal := targets(len(pairs), opts)
	trainShare := apportion(sizes, sizes, trainTotal)
	room := make([]int, len(keys))
	for i := range keys {
		room[i] = sizes[i] - trainShare[i]
	}
	valShare := apportion(sizes, room, valTotal)

	var a Assignment
	for i, k := range keys {
		g := groups[k]
		rng.Shuffle(len(g), func(x, y int) { g[x], g[y] = g[y], g[x] })
		t, v := trainShare[i], valShare[i]
		a.Train = append(a.Train, g[:t]...)
		a.Val = append(a.Val, g[t:t+v]...)
		a.Test = append(a.Test, g[t+v:]...)
	}
	for _, split := range [][]Pair{a.Train, a.Val, a.Test} {
		rng.Shuffle(len(split), func(x, y int) { split[x], split[y] = split[y], split[x] })
	}
	return a
}

// apportion distributes total across groups in proportion to weights, never
// giving a group more than its capacity. Leftover units go to the groups with
// the largest fractional remainders, earlier groups first on ties.
func apportion(weights, capacity []int, total int) []int {
	out := make([]int, len(weights))
	sum := 0
	for _, w := range weights {
		sum += w
	}
	if sum == 0 || total <= 0 {
		return out
	}

	rem := make([]float64, len(weights))
	assigned := 0
	for i, w := range weights {
		ideal := float64(total) * float64(w) / float64(sum)
		out[i] = min(int(math.Floor(ideal+1e-9)), capacity[i])
		rem[i] = ideal - float64(out[i])
		assigned += out[i]
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return rem[order[a]] > rem[order[b]] })

	for assigned < total {
		progressed := false
		for _, i := range order {
			if assigned == total {
				break
			}
			if out[i] < capacity[i] {
				out[i]++
				assigned++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

// copySplits replaces the images/ and labels/ trees with the assigned pairs.
func (s *Splitter) copySplits(a Assignment) error {
	for _, sub := range []string{"images", "labels"} {
		if err := os.RemoveAll(filepath.Join(s.outputDir, sub)); err != nil {
			return fmt.Errorf("clear %s: %w", sub, err)
		}
	}

	for split, pairs := range map[string][]Pair{SplitTrain: a.Train, SplitVal: a.Val, SplitTest: a.Test} {
		imgDir := filepath.Join(s.outputDir, "images", split)
		lblDir := filepath.Join(s.outputDir, "labels", split)
		for _, d := range []string{imgDir, lblDir} {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", d, err)
			}
		}
		for _, p := range pairs {
			if err := copyFile(p.Image, filepath.Join(imgDir, filepath.Base(p.Image))); err != nil {
				return err
			}
			if err := copyFile(p.Label, filepath.Join(lblDir, stem(p.Image)+".txt")); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyFile copies src to dst, preserving permissions and modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// datasetHash fingerprints the set of image file names.
func datasetHash(pairs []Pair) string {
	names := make([]string, len(pairs))
	for i, p := range pairs {
		names[i] = filepath.Base(p.Image)
	}
	sort.Strings(names)
	sum := md5.Sum([]byte(strings.Join(names, "\n")))
	return hex.EncodeToString(sum[:])[:12]
}

// SplitStats describes an existing processed tree.
type SplitStats struct {
	Counts         map[string]int `json:"counts" yaml:"counts"`
	Total          int            `json:"total" yaml:"total"`
	ManifestExists bool           `json:"data_yaml_exists" yaml:"data_yaml_exists"`
	NumClasses     int            `json:"num_classes" yaml:"num_classes"`
	ClassNames     []string       `json:"class_names,omitempty" yaml:"class_names,omitempty"`
}

// Stats counts the images in each split of the processed tree.
func (s *Splitter) Stats() (*SplitStats, error) {
	st := &SplitStats{Counts: map[string]int{}}
	for _, split := range Splits {
		entries, err := os.ReadDir(filepath.Join(s.outputDir, "images", split))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read split %s: %w", split, err)
		}
		n := 0
		for _, e := range entries {
			if !e.IsDir() && IsImage(e.Name()) {
				n++
			}
		}
		st.Counts[split] = n
		st.Total += n
	}

	m, err := ReadManifest(s.ManifestPath())
	switch {
	case err == nil:
		st.ManifestExists = true
		st.NumClasses = m.NC
		st.ClassNames = m.ClassNames()
	case errors.Is(err, os.ErrNotExist):
	default:
		st.ManifestExists = true
	}
	return st, nil
}

// Reset removes the processed tree.
func (s *Splitter) Reset() error {
	if err := os.RemoveAll(s.outputDir); err != nil {
		return fmt.Errorf("reset splits: %w", err)
	}
	return nil
}
