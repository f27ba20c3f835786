package config

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	recognizedProviders = []string{"local", "modal", "vfrog"}
	recognizedGPUs      = []string{"T4", "A10G", "A100", "A100-80GB", "H100"}
	recognizedFormats   = []string{"onnx", "torchscript", "coreml", "tflite", "engine", "openvino"}
	recognizedBackends  = []string{"none", "postgres"}
	recognizedPrecision = []string{"fp32", "fp16", "int8"}
)

// RatioTolerance is the allowed deviation of the split ratio sum from 1.
const RatioTolerance = 0.001

// Validate checks a ProjectConfig for semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *ProjectConfig) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.ProjectName == "" {
		add("project_name", "is required")
	}
	if !slices.Contains(recognizedProviders, cfg.Compute.Provider) {
		add("compute.provider", "unrecognized provider %q", cfg.Compute.Provider)
	}
	if !slices.Contains(recognizedGPUs, cfg.Compute.GPUType) {
		add("compute.gpu_type", "unrecognized GPU type %q", cfg.Compute.GPUType)
	}
	if cfg.Compute.TimeoutHours <= 0 {
		add("compute.timeout_hours", "must be positive")
	}

	t := cfg.Training
	for _, f := range []struct {
		name  string
		value int
	}{
		{"training.epochs", t.Epochs},
		{"training.batch_size", t.BatchSize},
		{"training.image_size", t.ImageSize},
	} {
		if f.value <= 0 {
			add(f.name, "must be positive, got %d", f.value)
		}
	}

	d := cfg.Data
	for _, r := range []struct {
		name  string
		value float64
	}{
		{"data.train_split", d.TrainSplit},
		{"data.val_split", d.ValSplit},
		{"data.test_split", d.TestSplit},
	} {
		if r.value < 0 || r.value > 1 {
			add(r.name, "must be between 0 and 1, got %g", r.value)
		}
	}
	if sum := d.TrainSplit + d.ValSplit + d.TestSplit; math.Abs(sum-1) > RatioTolerance {
		add("data", "split ratios must sum to 1.0, got %.3f", sum)
	}

	if !slices.Contains(recognizedFormats, cfg.Deployment.EdgeFormat) {
		add("deployment.edge_format", "unrecognized export format %q", cfg.Deployment.EdgeFormat)
	}
	if !slices.Contains(recognizedPrecision, cfg.Deployment.Precision) {
		add("deployment.precision", "unrecognized precision %q", cfg.Deployment.Precision)
	}
	if !slices.Contains(recognizedBackends, cfg.Tracking.Backend) {
		add("tracking.backend", "unrecognized backend %q", cfg.Tracking.Backend)
	}

	e := cfg.Evaluation
	for _, th := range []struct {
		name  string
		value float64
	}{
		{"evaluation.min_map50", e.MinMAP50},
		{"evaluation.min_precision", e.MinPrecision},
		{"evaluation.min_recall", e.MinRecall},
		{"evaluation.confidence", e.Confidence},
		{"evaluation.iou", e.IoU},
	} {
		if th.value < 0 || th.value > 1 {
			add(th.name, "must be between 0 and 1, got %g", th.value)
		}
	}

	def, derr := time.ParseDuration(cfg.Runner.DefaultTimeout)
	if derr != nil {
		add("runner.default_timeout", "invalid duration %q", cfg.Runner.DefaultTimeout)
	}
	ceiling, merr := time.ParseDuration(cfg.Runner.MaxTimeout)
	if merr != nil {
		add("runner.max_timeout", "invalid duration %q", cfg.Runner.MaxTimeout)
	}
	if derr == nil && merr == nil && def > ceiling {
		add("runner.default_timeout", "exceeds max_timeout %s", cfg.Runner.MaxTimeout)
	}

	return errs
}
