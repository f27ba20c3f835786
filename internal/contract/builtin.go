package contract

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Builtin contract names and the stages they connect.
const (
	DataHandoffContract       = "data-handoff"
	TrainingHandoffContract   = "training-handoff"
	EvaluationHandoffContract = "evaluation-handoff"

	AgentData       = "data"
	AgentTraining   = "training"
	AgentEvaluation = "evaluation"
	AgentDeployment = "deployment"
)

//go:embed schemas/*.schema.yaml
var builtinSchemas embed.FS

// InstallSchemas writes the builtin schemas into dir, leaving existing files alone.
func InstallSchemas(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	entries, err := fs.ReadDir(builtinSchemas, "schemas")
	if err != nil {
		return err
	}
	for _, e := range entries {
		dst := filepath.Join(dir, e.Name())
		if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		data, err := builtinSchemas.ReadFile("schemas/" + e.Name())
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", dst, err)
		}
	}
	return nil
}

// DataHandoff is the payload handed from data preparation to training.
type DataHandoff struct {
	DatasetPath       string         `json:"dataset_path"`
	Format            string         `json:"format"`
	DataYAMLPath      string         `json:"data_yaml_path"`
	Splits            map[string]int `json:"splits"`
	Classes           []string       `json:"classes"`
	Statistics        any            `json:"statistics,omitempty"`
	ValidationPassed  bool           `json:"validation_passed"`
	DatasetHash       string         `json:"dataset_hash,omitempty"`
	PlatformProjectID string         `json:"platform_project_id,omitempty"`
}

// TrainingHandoff is the payload handed from training to evaluation.
type TrainingHandoff struct {
	ModelPath       string              `json:"model_path"`
	Architecture    string              `json:"architecture"`
	Config          map[string]any      `json:"config,omitempty"`
	Experiment      map[string]any      `json:"experiment,omitempty"`
	TrainingMetrics map[string]*float64 `json:"training_metrics"`
	Checkpoints     []string            `json:"checkpoints,omitempty"`
	Compute         map[string]any      `json:"compute,omitempty"`
	DatasetHash     string              `json:"dataset_hash"`
	RandomSeed      int64               `json:"random_seed"`
}

// EvaluationHandoff is the payload handed from evaluation to deployment.
type EvaluationHandoff struct {
	ModelPath            string              `json:"model_path"`
	EvaluationReportPath string              `json:"evaluation_report_path"`
	Metrics              map[string]*float64 `json:"metrics"`
	DeploymentReady      bool                `json:"deployment_ready"`
	RecommendedThreshold float64             `json:"recommended_threshold"`
	FailureAnalysis      map[string]any      `json:"failure_analysis,omitempty"`
}

// CreateData writes a data → training handoff.
func (h *Handoffs) CreateData(p DataHandoff) (string, error) {
	return h.Create(DataHandoffContract, AgentData, AgentTraining, p)
}

// CreateTraining writes a training → evaluation handoff.
func (h *Handoffs) CreateTraining(p TrainingHandoff) (string, error) {
	return h.Create(TrainingHandoffContract, AgentTraining, AgentEvaluation, p)
}

// CreateEvaluation writes an evaluation → deployment handoff.
func (h *Handoffs) CreateEvaluation(p EvaluationHandoff) (string, error) {
	return h.Create(EvaluationHandoffContract, AgentEvaluation, AgentDeployment, p)
}
