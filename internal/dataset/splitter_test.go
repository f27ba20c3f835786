package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imageNames(pairs []Pair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = filepath.Base(p.Image)
	}
	sort.Strings(out)
	return out
}

func TestSplitEndToEnd(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	makeDataset(t, dataDir, 100, 3)

	s := NewSplitter(dataDir, nil)
	res, err := s.Split(DefaultSplitOptions())
	require.NoError(t, err)

	assert.Equal(t, 80, res.Train)
	assert.Equal(t, 15, res.Val)
	assert.Equal(t, 5, res.Test)
	assert.Equal(t, 100, res.Total)
	assert.True(t, res.Stratified)
	assert.Equal(t, []string{"class_0", "class_1", "class_2"}, res.Classes)
	assert.Len(t, res.Hash, 12)

	assert.Len(t, listDir(t, filepath.Join(dataDir, "processed", "images", "train")), 80)
	assert.Len(t, listDir(t, filepath.Join(dataDir, "processed", "labels", "val")), 15)
	assert.Len(t, listDir(t, filepath.Join(dataDir, "processed", "images", "test")), 5)
	assert.Len(t, listDir(t, filepath.Join(dataDir, "raw")), 100, "raw images must be copied, not moved")

	m, err := ReadManifest(s.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, 3, m.NC)
	assert.Equal(t, "images/train", m.Train)
	assert.Equal(t, "images/val", m.Val)
	assert.Equal(t, "images/test", m.Test)
	assert.True(t, filepath.IsAbs(m.Path))
	assert.Equal(t, "class_1", m.Names[1])

	v := NewValidator(ProcessedLayout(s.OutputDir()), DefaultThresholds(), nil)
	result, err := v.Validate(t.Context())
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.True(t, result.Passed())
	assert.Equal(t, 100, result.Statistics.TotalImages)
	assert.Equal(t, 1.0, result.Statistics.AnnotationCoverage)
	assert.Equal(t, 3, result.Statistics.NumClasses)
}

func TestSplitSizesSumToTotal(t *testing.T) {
	ratios := []SplitOptions{
		{TrainRatio: 0.8, ValRatio: 0.15, TestRatio: 0.05},
		{TrainRatio: 0.7, ValRatio: 0.2, TestRatio: 0.1},
		{TrainRatio: 0.6, ValRatio: 0.2, TestRatio: 0.2},
		{TrainRatio: 1, ValRatio: 0, TestRatio: 0},
		{TrainRatio: 0.34, ValRatio: 0.33, TestRatio: 0.33},
	}
	for _, n := range []int{7, 23, 61} {
		dataDir := filepath.Join(t.TempDir(), "data")
		makeDataset(t, dataDir, n, 4)
		for _, stratify := range []bool{true, false} {
			for _, opts := range ratios {
				opts.Seed = 3
				opts.Stratify = stratify
				res, err := NewSplitter(dataDir, nil).Split(opts)
				require.NoError(t, err)
				assert.Equal(t, n, res.Train+res.Val+res.Test, "n=%d stratify=%v opts=%+v", n, stratify, opts)

				all := append(append(imageNames(res.Assignment.Train), imageNames(res.Assignment.Val)...), imageNames(res.Assignment.Test)...)
				sort.Strings(all)
				for i := 1; i < len(all); i++ {
					assert.NotEqual(t, all[i-1], all[i], "image assigned twice")
				}
			}
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	makeDataset(t, dataDir, 40, 3)
	opts := DefaultSplitOptions()
	opts.Seed = 7

	first, err := NewSplitter(dataDir, nil).Split(opts)
	require.NoError(t, err)
	second, err := NewSplitter(dataDir, nil).Split(opts)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, imageNames(first.Assignment.Train), imageNames(second.Assignment.Train))
	assert.Equal(t, imageNames(first.Assignment.Val), imageNames(second.Assignment.Val))
	assert.Equal(t, imageNames(first.Assignment.Test), imageNames(second.Assignment.Test))

	opts.Seed = 8
	third, err := NewSplitter(dataDir, nil).Split(opts)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, third.Hash, "hash depends only on file names")
}

func TestSplitStratifiesEveryClass(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	makeDataset(t, dataDir, 60, 3)
	opts := SplitOptions{TrainRatio: 0.5, ValRatio: 0.25, TestRatio: 0.25, Seed: 1, Stratify: true}

	res, err := NewSplitter(dataDir, nil).Split(opts)
	require.NoError(t, err)
	for name, split := range map[string][]Pair{"train": res.Assignment.Train, "val": res.Assignment.Val, "test": res.Assignment.Test} {
		counts := map[ClassKey]int{}
		for _, p := range split {
			counts[primaryClass(p.Label)]++
		}
		assert.Len(t, counts, 3, "split %s should contain every class", name)
	}
	assert.Equal(t, 30, res.Train)
	assert.Equal(t, 15, res.Val)
	assert.Equal(t, 15, res.Test)
}

func TestSplitUnknownGroupIsKept(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	makeDataset(t, dataDir, 20, 2)
	for i := 0; i < 5; i++ {
		name := filepath.Join(dataDir, "annotations", "blank_"+string(rune('a'+i))+".txt")
		writeFile(t, name, "")
		writePNG(t, filepath.Join(dataDir, "raw", "blank_"+string(rune('a'+i))+".png"), 32, 32, 500+i)
	}

	res, err := NewSplitter(dataDir, nil).Split(DefaultSplitOptions())
	require.NoError(t, err)
	assert.Equal(t, 25, res.Total)
	assert.Equal(t, 25, res.Train+res.Val+res.Test)
}

func TestSplitRejectsBadRatiosBeforeWriting(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	makeDataset(t, dataDir, 20, 2)

	_, err := NewSplitter(dataDir, nil).Split(SplitOptions{TrainRatio: 0.5, ValRatio: 0.5, TestRatio: 0.5, Seed: 42, Stratify: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRatios))

	_, statErr := os.Stat(filepath.Join(dataDir, "processed"))
	assert.True(t, os.IsNotExist(statErr), "processed dir must not be created")
}

func TestSplitNoPairs(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	writePNG(t, filepath.Join(dataDir, "raw", "lonely.png"), 64, 64, 1)
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "annotations"), 0o755))

	_, err := NewSplitter(dataDir, nil).Split(DefaultSplitOptions())
	assert.ErrorIs(t, err, ErrNoPairs)
	_, statErr := os.Stat(filepath.Join(dataDir, "processed"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSplitExcludesUnpairedImages(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	makeDataset(t, dataDir, 12, 2)
	writePNG(t, filepath.Join(dataDir, "raw", "unlabeled.png"), 64, 64, 99)
	writeFile(t, filepath.Join(dataDir, "raw", "notes.md"), "not an image")

	res, err := NewSplitter(dataDir, nil).Split(DefaultSplitOptions())
	require.NoError(t, err)
	assert.Equal(t, 12, res.Total)
}

func TestSplitClassNamesPrecedence(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	makeDataset(t, dataDir, 12, 2)
	s := NewSplitter(dataDir, nil)

	opts := DefaultSplitOptions()
	opts.ClassNames = []string{"frog", "toad"}
	res, err := s.Split(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"frog", "toad"}, res.Classes)

	res, err = s.Split(DefaultSplitOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"frog", "toad"}, res.Classes, "names from existing data.yaml are reused")

	require.NoError(t, s.Reset())
	res, err = s.Split(DefaultSplitOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"class_0", "class_1"}, res.Classes)
}

func TestSplitReusesListFormManifestNames(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	makeDataset(t, dataDir, 12, 2)
	s := NewSplitter(dataDir, nil)
	writeFile(t, s.ManifestPath(), "path: .\ntrain: images/train\nval: images/val\nnames: [cat, dog]\n")

	res, err := s.Split(DefaultSplitOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog"}, res.Classes)

	m, err := ReadManifest(s.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, NameTable{0: "cat", 1: "dog"}, m.Names)
}

func TestManifestNamesMappingForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.yaml")
	writeFile(t, path, "names:\n  1: dog\n  0: cat\nnc: 2\n")

	m, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog"}, m.ClassNames())

	writeFile(t, path, "names: cat\n")
	_, err = ReadManifest(path)
	assert.Error(t, err)
}

func TestSplitReplacesStaleFiles(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	makeDataset(t, dataDir, 12, 2)
	stale := filepath.Join(dataDir, "processed", "images", "train", "stale.png")
	writePNG(t, stale, 8, 8, 1)

	_, err := NewSplitter(dataDir, nil).Split(DefaultSplitOptions())
	require.NoError(t, err)
	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSplitStatsAndReset(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	makeDataset(t, dataDir, 20, 2)
	s := NewSplitter(dataDir, nil)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Total)
	assert.False(t, st.ManifestExists)

	_, err = s.Split(DefaultSplitOptions())
	require.NoError(t, err)
	st, err = s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 20, st.Total)
	assert.Equal(t, 16, st.Counts[SplitTrain])
	assert.Equal(t, 3, st.Counts[SplitVal])
	assert.Equal(t, 1, st.Counts[SplitTest])
	assert.True(t, st.ManifestExists)
	assert.Equal(t, 2, st.NumClasses)

	require.NoError(t, s.Reset())
	_, statErr := os.Stat(s.OutputDir())
	assert.True(t, os.IsNotExist(statErr))
}

func TestApportion(t *testing.T) {
	assert.Equal(t, []int{27, 27, 26}, apportion([]int{34, 33, 33}, []int{34, 33, 33}, 80))
	assert.Equal(t, []int{2, 0}, apportion([]int{5, 5}, []int{2, 0}, 2))
	assert.Equal(t, []int{0, 0}, apportion([]int{0, 0}, []int{0, 0}, 3))
	got := apportion([]int{10, 1, 1}, []int{10, 1, 1}, 6)
	assert.Equal(t, 6, got[0]+got[1]+got[2])
}
