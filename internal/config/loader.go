package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns the configuration written by `croak init`.
func Default(projectName string, now time.Time) *ProjectConfig {
	stratify := true
	return &ProjectConfig{
		Version:     "1.0",
		ProjectName: projectName,
		TaskType:    "detection",
		CreatedAt:   now.UTC().Format(time.RFC3339),
		Platform:    PlatformConfig{APIKeyEnv: "VFROG_API_KEY"},
		Compute:     ComputeConfig{Provider: "modal", GPUType: "T4", TimeoutHours: 4},
		Training: TrainingConfig{
			Framework:    "ultralytics",
			Architecture: "yolov8s",
			Epochs:       100,
			BatchSize:    16,
			ImageSize:    640,
			Patience:     20,
			Seed:         42,
		},
		Tracking: TrackingConfig{Backend: "none", DatabaseURLEnv: "CROAK_DATABASE_URL"},
		Data: DataConfig{
			Format:     "yolo",
			TrainSplit: 0.8,
			ValSplit:   0.15,
			TestSplit:  0.05,
			Seed:       42,
			Stratify:   &stratify,
		},
		Validation: ValidationConfig{
			MinImages:            100,
			MinInstancesPerClass: 50,
			MaxImbalanceRatio:    10,
			MinImageSize:         320,
			MaxImageSize:         4096,
		},
		Evaluation: EvaluationConfig{
			MinMAP50:     0.5,
			MinPrecision: 0.5,
			MinRecall:    0.5,
			Confidence:   0.25,
			IoU:          0.45,
		},
		Deployment: DeploymentConfig{CloudProvider: "vfrog", EdgeFormat: "engine", Precision: "fp16"},
		Runner:     RunnerConfig{DefaultTimeout: "5m", MaxTimeout: "4h"},
	}
}

// Load reads and parses a project configuration from the given YAML file path.
// Fields left unset in the file take their values from Default.
func Load(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *ProjectConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyDefaults fills zero-valued fields from Default. Split ratios are
// filled only when all three are unset so a deliberate 0 test split survives.
func applyDefaults(cfg *ProjectConfig) {
	d := Default(cfg.ProjectName, time.Now())

	setString(&cfg.Version, d.Version)
	setString(&cfg.TaskType, d.TaskType)
	setString(&cfg.Platform.APIKeyEnv, d.Platform.APIKeyEnv)

	setString(&cfg.Compute.Provider, d.Compute.Provider)
	setString(&cfg.Compute.GPUType, d.Compute.GPUType)
	setInt(&cfg.Compute.TimeoutHours, d.Compute.TimeoutHours)

	t := &cfg.Training
	setString(&t.Framework, d.Training.Framework)
	setString(&t.Architecture, d.Training.Architecture)
	setInt(&t.Epochs, d.Training.Epochs)
	setInt(&t.BatchSize, d.Training.BatchSize)
	setInt(&t.ImageSize, d.Training.ImageSize)
	setInt(&t.Patience, d.Training.Patience)
	setInt(&t.Seed, d.Training.Seed)

	setString(&cfg.Tracking.Backend, d.Tracking.Backend)
	setString(&cfg.Tracking.DatabaseURLEnv, d.Tracking.DatabaseURLEnv)

	data := &cfg.Data
	setString(&data.Format, d.Data.Format)
	if data.TrainSplit == 0 && data.ValSplit == 0 && data.TestSplit == 0 {
		data.TrainSplit, data.ValSplit, data.TestSplit = d.Data.TrainSplit, d.Data.ValSplit, d.Data.TestSplit
	}
	setInt(&data.Seed, d.Data.Seed)
	if data.Stratify == nil {
		data.Stratify = d.Data.Stratify
	}

	v := &cfg.Validation
	setInt(&v.MinImages, d.Validation.MinImages)
	setInt(&v.MinInstancesPerClass, d.Validation.MinInstancesPerClass)
	setFloat(&v.MaxImbalanceRatio, d.Validation.MaxImbalanceRatio)
	setInt(&v.MinImageSize, d.Validation.MinImageSize)
	setInt(&v.MaxImageSize, d.Validation.MaxImageSize)

	e := &cfg.Evaluation
	setFloat(&e.MinMAP50, d.Evaluation.MinMAP50)
	setFloat(&e.MinPrecision, d.Evaluation.MinPrecision)
	setFloat(&e.MinRecall, d.Evaluation.MinRecall)
	setFloat(&e.Confidence, d.Evaluation.Confidence)
	setFloat(&e.IoU, d.Evaluation.IoU)

	setString(&cfg.Deployment.CloudProvider, d.Deployment.CloudProvider)
	setString(&cfg.Deployment.EdgeFormat, d.Deployment.EdgeFormat)
	setString(&cfg.Deployment.Precision, d.Deployment.Precision)

	setString(&cfg.Runner.DefaultTimeout, d.Runner.DefaultTimeout)
	setString(&cfg.Runner.MaxTimeout, d.Runner.MaxTimeout)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setFloat(dst *float64, def float64) {
	if *dst == 0 {
		*dst = def
	}
}

// StratifyEnabled reports whether stratified splitting is requested.
func (c *ProjectConfig) StratifyEnabled() bool {
	return c.Data.Stratify == nil || *c.Data.Stratify
}

// RunnerTimeouts parses the runner timeout strings.
func (c *ProjectConfig) RunnerTimeouts() (def, ceiling time.Duration, err error) {
	def, err = time.ParseDuration(c.Runner.DefaultTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("runner.default_timeout: %w", err)
	}
	ceiling, err = time.ParseDuration(c.Runner.MaxTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("runner.max_timeout: %w", err)
	}
	return def, ceiling, nil
}
