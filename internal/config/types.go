package config

// ProjectConfig is the top-level configuration parsed from .croak/config.yaml.
type ProjectConfig struct {
	Version     string           `yaml:"version"`
	ProjectName string           `yaml:"project_name"`
	TaskType    string           `yaml:"task_type"`
	CreatedAt   string           `yaml:"created_at,omitempty"`
	Platform    PlatformConfig   `yaml:"vfrog"`
	Compute     ComputeConfig    `yaml:"compute"`
	Training    TrainingConfig   `yaml:"training"`
	Tracking    TrackingConfig   `yaml:"tracking"`
	Data        DataConfig       `yaml:"data"`
	Validation  ValidationConfig `yaml:"validation"`
	Evaluation  EvaluationConfig `yaml:"evaluation"`
	Deployment  DeploymentConfig `yaml:"deployment"`
	Runner      RunnerConfig     `yaml:"runner"`
}

// PlatformConfig configures the annotation/training platform CLI.
type PlatformConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	ProjectID string `yaml:"project_id,omitempty"`
}

// ComputeConfig selects where training runs.
type ComputeConfig struct {
	Provider     string `yaml:"provider"` // local, modal, vfrog
	GPUType      string `yaml:"gpu_type"`
	TimeoutHours int    `yaml:"timeout_hours"`
}

// TrainingConfig holds training defaults.
type TrainingConfig struct {
	Framework    string `yaml:"framework"`
	Architecture string `yaml:"architecture"`
	Epochs       int    `yaml:"epochs"`
	BatchSize    int    `yaml:"batch_size"`
	ImageSize    int    `yaml:"image_size"`
	Patience     int    `yaml:"patience"`
	Seed         int    `yaml:"seed"`
}

// TrackingConfig configures the optional event ledger.
type TrackingConfig struct {
	Backend        string `yaml:"backend"` // none, postgres
	DatabaseURLEnv string `yaml:"database_url_env"`
}

// DataConfig holds dataset layout and split defaults.
type DataConfig struct {
	Format     string   `yaml:"format"`
	TrainSplit float64  `yaml:"train_split"`
	ValSplit   float64  `yaml:"val_split"`
	TestSplit  float64  `yaml:"test_split"`
	Seed       int      `yaml:"seed"`
	Stratify   *bool    `yaml:"stratify,omitempty"`
	Classes    []string `yaml:"classes,omitempty"`
}

// ValidationConfig holds dataset quality thresholds.
type ValidationConfig struct {
	MinImages            int     `yaml:"min_images"`
	MinInstancesPerClass int     `yaml:"min_instances_per_class"`
	MaxImbalanceRatio    float64 `yaml:"max_imbalance_ratio"`
	MinImageSize         int     `yaml:"min_image_size"`
	MaxImageSize         int     `yaml:"max_image_size"`
}

// EvaluationConfig holds deployment-readiness thresholds.
type EvaluationConfig struct {
	MinMAP50     float64 `yaml:"min_map50"`
	MinPrecision float64 `yaml:"min_precision"`
	MinRecall    float64 `yaml:"min_recall"`
	Confidence   float64 `yaml:"confidence"`
	IoU          float64 `yaml:"iou"`
}

// DeploymentConfig holds deployment defaults.
type DeploymentConfig struct {
	CloudProvider string `yaml:"cloud_provider"`
	EdgeFormat    string `yaml:"edge_format"`
	Precision     string `yaml:"precision"`
}

// RunnerConfig bounds external command timeouts.
type RunnerConfig struct {
	DefaultTimeout string `yaml:"default_timeout"`
	MaxTimeout     string `yaml:"max_timeout"`
}
