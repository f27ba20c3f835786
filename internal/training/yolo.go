package training

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucasnoah/croak/internal/runner"
)

// YOLO is an Engine backed by the Ultralytics yolo CLI.
type YOLO struct {
	runner *runner.Runner
	dir    string
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewYOLO creates a YOLO engine running in dir. A nil clock uses the real
// clock and a nil logger discards output.
func NewYOLO(r *runner.Runner, dir string, clock clockwork.Clock, logger *slog.Logger) *YOLO {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &YOLO{runner: r, dir: dir, clock: clock, logger: logger}
}

// Train runs yolo detect train and reads the final metrics from the run's
// results.csv.
func (y *YOLO) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	if req.DataManifest == "" || req.Architecture == "" || req.ExperimentID == "" {
		return nil, errors.New("data manifest, architecture and experiment id are required")
	}
	args := []string{
		"yolo", "detect", "train",
		"data=" + req.DataManifest,
		"model=" + req.Architecture + ".pt",
		"epochs=" + strconv.Itoa(req.Epochs),
		"batch=" + strconv.Itoa(req.BatchSize),
		"imgsz=" + strconv.Itoa(req.ImageSize),
		"seed=" + strconv.FormatInt(req.Seed, 10),
		"patience=" + strconv.Itoa(req.Patience),
		"project=" + req.OutputDir,
		"name=" + req.ExperimentID,
		"exist_ok=True",
	}

	start := y.clock.Now()
	if _, err := y.runner.Run(ctx, runner.Request{Args: args, Dir: y.dir, Timeout: req.Timeout}); err != nil {
		return nil, fmt.Errorf("train %s: %w", req.ExperimentID, err)
	}

	runDir := filepath.Join(req.OutputDir, req.ExperimentID)
	metrics, err := ReadResultsCSV(filepath.Join(runDir, "results.csv"))
	if err != nil {
		return nil, err
	}
	res := &TrainResult{
		ExperimentID: req.ExperimentID,
		ModelPath:    filepath.Join(runDir, "weights", "best.pt"),
		Checkpoints:  checkpoints(filepath.Join(runDir, "weights")),
		Metrics:      metrics,
		Duration:     y.clock.Since(start),
	}
	y.logger.Info("training finished", "experiment", req.ExperimentID, "mAP50", metrics.MAP50)
	return res, nil
}

// Export runs yolo export and returns the exported artifact path.
func (y *YOLO) Export(ctx context.Context, req ExportRequest) (string, error) {
	if err := CheckFormat(req.Format); err != nil {
		return "", err
	}
	if _, err := os.Stat(req.ModelPath); err != nil {
		return "", fmt.Errorf("model not found: %s", req.ModelPath)
	}
	args := []string{"yolo", "export", "model=" + req.ModelPath, "format=" + req.Format}
	if req.ImageSize > 0 {
		args = append(args, "imgsz="+strconv.Itoa(req.ImageSize))
	}
	if req.Half {
		args = append(args, "half=True")
	}
	if _, err := y.runner.Run(ctx, runner.Request{Args: args, Dir: y.dir, Timeout: req.Timeout}); err != nil {
		return "", fmt.Errorf("export %s: %w", req.Format, err)
	}
	out := ExportedPath(req.ModelPath, req.Format)
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("export produced no file at %s", out)
	}
	return out, nil
}

// Evaluate runs yolo detect val and parses its summary table.
func (y *YOLO) Evaluate(ctx context.Context, req EvalRequest) (*EvalResult, error) {
	if req.Split == "" {
		req.Split = "test"
	}
	args := []string{
		"yolo", "detect", "val",
		"model=" + req.ModelPath,
		"data=" + req.DataManifest,
		"conf=" + strconv.FormatFloat(req.Confidence, 'f', -1, 64),
		"iou=" + strconv.FormatFloat(req.IoU, 'f', -1, 64),
		"split=" + req.Split,
	}
	res, err := y.runner.Run(ctx, runner.Request{Args: args, Dir: y.dir, Timeout: req.Timeout})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	// The validator prints its table on stderr in recent releases.
	overall, perClass, ok := ParseValTable(res.Stdout + "\n" + res.Stderr)
	if !ok {
		return nil, errors.New("evaluate: no metrics table in yolo output")
	}
	return &EvalResult{
		ModelPath:            req.ModelPath,
		DataManifest:         req.DataManifest,
		Split:                req.Split,
		Confidence:           req.Confidence,
		IoU:                  req.IoU,
		Metrics:              overall,
		PerClass:             perClass,
		RecommendedThreshold: req.Confidence,
		EvaluatedAt:          y.clock.Now().UTC().Format(time.RFC3339),
	}, nil
}

var resultColumns = map[string]func(*Metrics, float64){
	"metrics/mAP50(B)":     func(m *Metrics, v float64) { m.MAP50 = v },
	"metrics/mAP50-95(B)":  func(m *Metrics, v float64) { m.MAP5095 = v },
	"metrics/precision(B)": func(m *Metrics, v float64) { m.Precision = v },
	"metrics/recall(B)":    func(m *Metrics, v float64) { m.Recall = v },
}

// ReadResultsCSV returns the metrics of the last epoch in an Ultralytics
// results.csv.
func ReadResultsCSV(path string) (Metrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metrics{}, fmt.Errorf("open results: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return Metrics{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rows) < 2 {
		return Metrics{}, fmt.Errorf("parse %s: no epochs recorded", path)
	}

	var m Metrics
	header, last := rows[0], rows[len(rows)-1]
	for i, col := range header {
		set, ok := resultColumns[strings.TrimSpace(col)]
		if !ok || i >= len(last) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(last[i]), 64)
		if err != nil {
			continue
		}
		set(&m, v)
	}
	m.F1 = F1(m.Precision, m.Recall)
	return m, nil
}

// ParseValTable extracts overall and per-class rows from yolo val output.
// Rows look like "<class> <images> <instances> <P> <R> <mAP50> <mAP50-95>";
// the class "all" holds the overall metrics.
func ParseValTable(out string) (Metrics, []ClassMetrics, bool) {
	var overall Metrics
	var found bool
	var perClass []ClassMetrics
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}
		n := len(fields)
		nums := make([]float64, 6)
		ok := true
		for i, f := range fields[n-6:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				ok = false
				break
			}
			nums[i] = v
		}
		if !ok {
			continue
		}
		row := ClassMetrics{
			Class:     strings.Join(fields[:n-6], " "),
			Images:    int(nums[0]),
			Instances: int(nums[1]),
			Precision: nums[2],
			Recall:    nums[3],
			AP50:      nums[4],
			AP:        nums[5],
		}
		if row.Class == "all" {
			overall = Metrics{MAP50: row.AP50, MAP5095: row.AP, Precision: row.Precision, Recall: row.Recall}
			overall.F1 = F1(overall.Precision, overall.Recall)
			found = true
			continue
		}
		perClass = append(perClass, row)
	}
	return overall, perClass, found
}

func checkpoints(dir string) []string {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.pt"))
	sort.Strings(matches)
	return matches
}
