package pipeline

// Pipeline stages, in execution order.
const (
	StageUninitialized   = "uninitialized"
	StageDataPreparation = "data_preparation"
	StageTraining        = "training"
	StageEvaluation      = "evaluation"
	StageDeployment      = "deployment"
	StageComplete        = "complete"
)

// stageOrder lists the working stages; StageComplete follows the last one.
var stageOrder = []string{StageDataPreparation, StageTraining, StageEvaluation, StageDeployment}

// Experiment statuses.
const (
	ExperimentPending   = "pending"
	ExperimentRunning   = "running"
	ExperimentCompleted = "completed"
	ExperimentFailed    = "failed"
)

// Annotation sources and training providers checked by ProviderAnnotationIssues.
const (
	SourcePlatform = "vfrog"
	SourceClassic  = "classic"

	ProviderLocal    = "local"
	ProviderModal    = "modal"
	ProviderPlatform = "vfrog"
)

// StateVersion is written into every new state document.
const StateVersion = "1.0"

// Metrics maps metric names to values. A nil value is a metric that was
// requested but not produced.
type Metrics map[string]*float64

// PipelineState is the persisted record of a project's progress through the pipeline.
type PipelineState struct {
	Version           string                               `yaml:"version"`
	InitializedAt     string                               `yaml:"initialized_at,omitempty"`
	LastUpdated       string                               `yaml:"last_updated,omitempty"`
	CurrentStage      string                               `yaml:"current_stage"`
	StagesCompleted   []string                             `yaml:"stages_completed"`
	StageHistory      []StageHistoryEntry                  `yaml:"stage_history"`
	DataYAMLPath      string                               `yaml:"data_yaml_path,omitempty"`
	Annotation        AnnotationState                      `yaml:"annotation"`
	Training          TrainingState                        `yaml:"training_state"`
	Deployment        DeploymentState                      `yaml:"deployment_state"`
	Artifacts         Artifacts                            `yaml:"artifacts"`
	Experiments       []Experiment                         `yaml:"experiments"`
	Warnings          []string                             `yaml:"warnings"`
	Errors            []string                             `yaml:"errors"`
	WorkflowProgress  map[string][]string                  `yaml:"workflow_progress"`
	WorkflowArtifacts map[string]map[string]map[string]any `yaml:"workflow_artifacts"`
}

// StageHistoryEntry records one completed stage.
type StageHistoryEntry struct {
	Stage           string            `yaml:"stage"`
	CompletedAt     string            `yaml:"completed_at"`
	DurationSeconds float64           `yaml:"duration_seconds"`
	Artifacts       map[string]string `yaml:"artifacts,omitempty"`
}

// AnnotationState describes where the dataset's annotations came from.
type AnnotationState struct {
	Source              string `yaml:"source,omitempty"` // "vfrog" or "classic"
	Method              string `yaml:"method,omitempty"`
	Format              string `yaml:"format,omitempty"`
	PlatformIterationID string `yaml:"platform_iteration_id,omitempty"`
	PlatformObjectID    string `yaml:"platform_object_id,omitempty"`
}

// TrainingState describes the selected training provider.
type TrainingState struct {
	Provider            string `yaml:"provider,omitempty"` // "local", "modal" or "vfrog"
	Architecture        string `yaml:"architecture,omitempty"`
	ExperimentID        string `yaml:"experiment_id,omitempty"`
	PlatformIterationID string `yaml:"platform_iteration_id,omitempty"`
}

// DeploymentState describes the selected deployment target.
type DeploymentState struct {
	Target    string `yaml:"target,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// Artifacts groups the outputs of each stage.
type Artifacts struct {
	Dataset    DatasetArtifact    `yaml:"dataset"`
	Model      ModelArtifact      `yaml:"model"`
	Evaluation EvaluationArtifact `yaml:"evaluation"`
	Deployment DeploymentArtifact `yaml:"deployment"`
}

// DatasetArtifact is the prepared dataset.
type DatasetArtifact struct {
	Path              string         `yaml:"path,omitempty"`
	Format            string         `yaml:"format,omitempty"`
	Version           string         `yaml:"version,omitempty"`
	Checksum          string         `yaml:"checksum,omitempty"`
	Classes           []string       `yaml:"classes,omitempty"`
	Splits            map[string]int `yaml:"splits,omitempty"`
	QualityReportPath string         `yaml:"quality_report_path,omitempty"`
	PlatformProjectID string         `yaml:"platform_project_id,omitempty"`
}

// ModelArtifact is the trained model.
type ModelArtifact struct {
	Path              string   `yaml:"path,omitempty"`
	Architecture      string   `yaml:"architecture,omitempty"`
	Framework         string   `yaml:"framework,omitempty"`
	ExperimentID      string   `yaml:"experiment_id,omitempty"`
	Checkpoints       []string `yaml:"checkpoints,omitempty"`
	Metrics           Metrics  `yaml:"metrics,omitempty"`
	TrainingTimeHours *float64 `yaml:"training_time_hours,omitempty"`
	CostUSD           *float64 `yaml:"cost_usd,omitempty"`
	HandoffPath       string   `yaml:"handoff_path,omitempty"`
}

// EvaluationArtifact is the evaluation report.
type EvaluationArtifact struct {
	ReportPath           string   `yaml:"report_path,omitempty"`
	Metrics              Metrics  `yaml:"metrics,omitempty"`
	DeploymentReady      bool     `yaml:"deployment_ready"`
	RecommendedThreshold *float64 `yaml:"recommended_threshold,omitempty"`
	HandoffPath          string   `yaml:"handoff_path,omitempty"`
}

// DeploymentArtifact is the deployed endpoint or edge package.
type DeploymentArtifact struct {
	CloudEndpoint  string  `yaml:"cloud_endpoint,omitempty"`
	CloudAPIKeyEnv string  `yaml:"cloud_api_key_env,omitempty"`
	CloudDashboard string  `yaml:"cloud_dashboard,omitempty"`
	EdgeModelPath  string  `yaml:"edge_model_path,omitempty"`
	EdgeFormat     string  `yaml:"edge_format,omitempty"`
	Benchmark      Metrics `yaml:"benchmark,omitempty"`
}

// Experiment is a single training run.
type Experiment struct {
	ID           string  `yaml:"id"`
	Status       string  `yaml:"status"`
	Started      string  `yaml:"started,omitempty"`
	Completed    string  `yaml:"completed,omitempty"`
	Architecture string  `yaml:"architecture,omitempty"`
	Metrics      Metrics `yaml:"metrics,omitempty"`
	ModelPath    string  `yaml:"model_path,omitempty"`
}
